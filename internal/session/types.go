package session

import "time"

// CallStatus tracks the lifecycle of the client's connection to the
// agent.
type CallStatus string

const (
	CallIdle       CallStatus = "idle"
	CallConnecting CallStatus = "connecting"
	CallActive     CallStatus = "active"
	CallEnded      CallStatus = "ended"
)

// AgentStatus mirrors the agent's reported activity.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentListening AgentStatus = "listening"
	AgentThinking  AgentStatus = "thinking"
	AgentSpeaking  AgentStatus = "speaking"
	AgentError     AgentStatus = "error"
)

type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

type TranscriptMessage struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationState is the client's view of where the agent believes
// the conversation stands.
type ConversationState struct {
	Intent              string `json:"intent"`
	Authenticated       bool   `json:"authenticated"`
	FlowStage           string `json:"flow_stage"`
	EscalationRequested bool   `json:"escalation_requested"`
}

// StateDelta is a partial conversation-state update. Nil fields leave
// the current value unchanged.
type StateDelta struct {
	Intent              *string
	Authenticated       *bool
	FlowStage           *string
	EscalationRequested *bool
}

// Snapshot is a deep copy of the store safe to hand across goroutines.
type Snapshot struct {
	SessionID    string              `json:"session_id"`
	CallStatus   CallStatus          `json:"call_status"`
	AgentStatus  AgentStatus         `json:"agent_status"`
	Transcript   []TranscriptMessage `json:"transcript"`
	Conversation ConversationState   `json:"conversation"`
}
