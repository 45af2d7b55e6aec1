package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists call summaries in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_history (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			duration_seconds DOUBLE PRECISION NOT NULL,
			intent TEXT NOT NULL DEFAULT '',
			authenticated BOOLEAN NOT NULL DEFAULT FALSE,
			escalation_requested BOOLEAN NOT NULL DEFAULT FALSE,
			user_turns INTEGER NOT NULL DEFAULT 0,
			agent_turns INTEGER NOT NULL DEFAULT 0,
			disconnects INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_history_started ON call_history (started_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveCall(ctx context.Context, record CallRecord) error {
	record = withDefaults(record)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_history (id, session_id, mode, started_at, ended_at, duration_seconds,
			intent, authenticated, escalation_requested, user_turns, agent_turns, disconnects)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.ID,
		record.SessionID,
		record.Mode,
		record.StartedAt,
		record.EndedAt,
		record.DurationSeconds,
		record.Intent,
		record.Authenticated,
		record.EscalationRequested,
		record.UserTurns,
		record.AgentTurns,
		record.Disconnects,
	)
	if err != nil {
		return fmt.Errorf("save call: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentCalls(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, mode, started_at, ended_at, duration_seconds,
			intent, authenticated, escalation_requested, user_turns, agent_turns, disconnects
		 FROM call_history ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent calls: %w", err)
	}
	defer rows.Close()

	items := make([]CallRecord, 0, limit)
	for rows.Next() {
		var r CallRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Mode, &r.StartedAt, &r.EndedAt, &r.DurationSeconds,
			&r.Intent, &r.Authenticated, &r.EscalationRequested, &r.UserTurns, &r.AgentTurns, &r.Disconnects); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call rows: %w", err)
	}

	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func withDefaults(record CallRecord) CallRecord {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}
	if record.DurationSeconds == 0 && !record.StartedAt.IsZero() {
		record.DurationSeconds = record.EndedAt.Sub(record.StartedAt).Seconds()
	}
	return record
}
