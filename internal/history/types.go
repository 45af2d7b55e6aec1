package history

import (
	"context"
	"time"
)

// CallRecord is the archived summary of one finished call. Only shape
// and outcome are persisted, never transcript text.
type CallRecord struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"session_id"`
	Mode                string    `json:"mode"`
	StartedAt           time.Time `json:"started_at"`
	EndedAt             time.Time `json:"ended_at"`
	DurationSeconds     float64   `json:"duration_seconds"`
	Intent              string    `json:"intent"`
	Authenticated       bool      `json:"authenticated"`
	EscalationRequested bool      `json:"escalation_requested"`
	UserTurns           int       `json:"user_turns"`
	AgentTurns          int       `json:"agent_turns"`
	Disconnects         int       `json:"disconnects"`
}

// Store persists and retrieves call summaries.
type Store interface {
	SaveCall(ctx context.Context, record CallRecord) error
	RecentCalls(ctx context.Context, limit int) ([]CallRecord, error)
	Close() error
}
