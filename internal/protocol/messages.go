package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies websocket payload variants. Outbound audio is
// not enveloped: voice-mode microphone frames travel as raw binary
// PCM16LE websocket messages.
type MessageType string

const (
	// Server to client.
	TypeSession     MessageType = "session"
	TypeTranscript  MessageType = "transcript"
	TypeStatus      MessageType = "status"
	TypeStateUpdate MessageType = "state_update"
	TypeAudio       MessageType = "audio"
	TypeAudioEnd    MessageType = "audio_end"
	TypeError       MessageType = "error"

	// Client to server.
	TypeText MessageType = "text"
	TypeStop MessageType = "stop"
)

// Agent status values carried by status messages.
const (
	StatusIdle      = "idle"
	StatusListening = "listening"
	StatusThinking  = "thinking"
	StatusSpeaking  = "speaking"
	StatusError     = "error"
)

// Speaker values carried by transcript messages.
const (
	SpeakerUser  = "user"
	SpeakerAgent = "agent"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type Session struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type Transcript struct {
	Type      MessageType `json:"type"`
	Speaker   string      `json:"speaker"`
	Text      string      `json:"text"`
	IsFinal   bool        `json:"is_final"`
	Timestamp string      `json:"timestamp"`
}

// Time parses the transcript timestamp. The server emits ISO-8601 with
// microseconds and no zone designator; RFC3339 is accepted as well.
// Unparseable or missing timestamps fall back to the current UTC time.
func (t Transcript) Time() time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if ts, err := time.Parse(layout, t.Timestamp); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}

type Status struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

// StateUpdate carries a partial view of the agent's conversation state.
// Pointer fields distinguish "unchanged" from zero values so updates
// merge field by field.
type StateUpdate struct {
	Type                MessageType `json:"type"`
	Intent              *string     `json:"intent"`
	Authenticated       *bool       `json:"authenticated"`
	FlowStage           *string     `json:"flow_stage"`
	EscalationRequested *bool       `json:"escalation_requested"`
}

type Audio struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

type AudioEnd struct {
	Type MessageType `json:"type"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type TextMessage struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

type StopMessage struct {
	Type MessageType `json:"type"`
}

func NewTextMessage(content string) (TextMessage, error) {
	if content == "" {
		return TextMessage{}, errors.New("empty text content")
	}
	return TextMessage{Type: TypeText, Content: content}, nil
}

func NewStopMessage() StopMessage {
	return StopMessage{Type: TypeStop}
}

func validStatus(s string) bool {
	switch s {
	case StatusIdle, StatusListening, StatusThinking, StatusSpeaking, StatusError:
		return true
	}
	return false
}

func validSpeaker(s string) bool {
	return s == SpeakerUser || s == SpeakerAgent
}

// ParseServerMessage decodes one inbound text frame into its typed
// form. Unknown types return ErrUnsupportedType so callers can skip
// them without treating the connection as broken.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSession:
		var msg Session
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid session: missing session_id")
		}
		return msg, nil
	case TypeTranscript:
		var msg Transcript
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if !validSpeaker(msg.Speaker) {
			return nil, fmt.Errorf("invalid transcript speaker %q", msg.Speaker)
		}
		return msg, nil
	case TypeStatus:
		var msg Status
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if !validStatus(msg.Status) {
			return nil, fmt.Errorf("invalid status %q", msg.Status)
		}
		return msg, nil
	case TypeStateUpdate:
		var msg StateUpdate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAudio:
		var msg Audio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Data == "" {
			return nil, errors.New("invalid audio: missing data")
		}
		return msg, nil
	case TypeAudioEnd:
		return AudioEnd{Type: TypeAudioEnd}, nil
	case TypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
