package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds the single call-state model the rest of the client reads
// from. It is constructor-injected wherever it is consumed; mutations
// are serialized by the store itself, so writers never coordinate.
type Store struct {
	mu           sync.RWMutex
	sessionID    string
	callStatus   CallStatus
	agentStatus  AgentStatus
	transcript   []TranscriptMessage
	conversation ConversationState
}

func NewStore() *Store {
	return &Store{
		callStatus:  CallIdle,
		agentStatus: AgentIdle,
	}
}

func (s *Store) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *Store) SetCallStatus(status CallStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callStatus = status
}

func (s *Store) CallStatus() CallStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callStatus
}

func (s *Store) SetAgentStatus(status AgentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentStatus = status
}

func (s *Store) AgentStatus() AgentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentStatus
}

// ApplyTranscript folds one transcript event into the ordered log.
// User speech streams as interim revisions: a non-final user message is
// corrected in place (position preserved) by the next user event, and a
// final user event finalizes it. Once final, a message is never touched
// again. Agent messages always append. The resulting message is
// returned by value for rendering.
func (s *Store) ApplyTranscript(speaker Speaker, text string, final bool, ts time.Time) TranscriptMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if speaker == SpeakerUser {
		for i := len(s.transcript) - 1; i >= 0; i-- {
			m := &s.transcript[i]
			if m.Speaker != SpeakerUser || m.Final {
				continue
			}
			m.Text = text
			m.Timestamp = ts
			if final {
				m.Final = true
			}
			return *m
		}
	}

	msg := TranscriptMessage{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Text:      text,
		Final:     final,
		Timestamp: ts,
	}
	s.transcript = append(s.transcript, msg)
	return msg
}

// ApplyStateDelta merges the fields present in the delta,
// last-write-wins.
func (s *Store) ApplyStateDelta(d StateDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Intent != nil {
		s.conversation.Intent = *d.Intent
	}
	if d.Authenticated != nil {
		s.conversation.Authenticated = *d.Authenticated
	}
	if d.FlowStage != nil {
		s.conversation.FlowStage = *d.FlowStage
	}
	if d.EscalationRequested != nil {
		s.conversation.EscalationRequested = *d.EscalationRequested
	}
}

func (s *Store) Conversation() ConversationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversation
}

// Transcript returns a copy of the ordered transcript.
func (s *Store) Transcript() []TranscriptMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TranscriptMessage, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// TurnCounts reports how many final messages each side has contributed.
func (s *Store) TurnCounts() (user, agent int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.transcript {
		if !m.Final {
			continue
		}
		switch m.Speaker {
		case SpeakerUser:
			user++
		case SpeakerAgent:
			agent++
		}
	}
	return user, agent
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	transcript := make([]TranscriptMessage, len(s.transcript))
	copy(transcript, s.transcript)
	return Snapshot{
		SessionID:    s.sessionID,
		CallStatus:   s.callStatus,
		AgentStatus:  s.agentStatus,
		Transcript:   transcript,
		Conversation: s.conversation,
	}
}

// Reset restores every field to its initial value for a fresh call.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = ""
	s.callStatus = CallIdle
	s.agentStatus = AgentIdle
	s.transcript = nil
	s.conversation = ConversationState{}
}
