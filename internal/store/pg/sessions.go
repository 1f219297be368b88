package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parleyhq/parley/internal/providers"
)

// SessionStore persists conversation history as a JSONB array column,
// keyed by room session key.
type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

func (s *SessionStore) GetOrCreate(key string) []providers.Message {
	var data []byte
	err := s.pool.QueryRow(context.Background(),
		`SELECT messages FROM sessions WHERE key = $1`, key,
	).Scan(&data)
	if err != nil {
		s.pool.Exec(context.Background(), `
			INSERT INTO sessions (key, messages, summary)
			VALUES ($1, '[]'::jsonb, '')
			ON CONFLICT (key) DO NOTHING
		`, key)
		return nil
	}
	var msgs []providers.Message
	json.Unmarshal(data, &msgs)
	return msgs
}

func (s *SessionStore) AddMessage(key string, msg providers.Message) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("pg: marshal message: %w", err)
	}
	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO sessions (key, messages, summary)
		VALUES ($1, jsonb_build_array($2::jsonb), '')
		ON CONFLICT (key) DO UPDATE SET messages = sessions.messages || $2::jsonb, updated_at = now()
	`, key, encoded)
	if err != nil {
		return fmt.Errorf("pg: add message to %s: %w", key, err)
	}
	return nil
}

func (s *SessionStore) GetSummary(key string) string {
	var summary string
	s.pool.QueryRow(context.Background(), `SELECT summary FROM sessions WHERE key = $1`, key).Scan(&summary)
	return summary
}

func (s *SessionStore) SetSummary(key, summary string) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO sessions (key, messages, summary)
		VALUES ($1, '[]'::jsonb, $2)
		ON CONFLICT (key) DO UPDATE SET summary = EXCLUDED.summary, updated_at = now()
	`, key, summary)
	if err != nil {
		return fmt.Errorf("pg: set summary for %s: %w", key, err)
	}
	return nil
}

func (s *SessionStore) TruncateHistory(key string, keepLast int) error {
	messages := s.GetOrCreate(key)
	if len(messages) <= keepLast {
		return nil
	}
	kept := messages[len(messages)-keepLast:]
	encoded, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("pg: marshal truncated history for %s: %w", key, err)
	}
	_, err = s.pool.Exec(context.Background(),
		`UPDATE sessions SET messages = $2::jsonb, updated_at = now() WHERE key = $1`, key, encoded)
	if err != nil {
		return fmt.Errorf("pg: truncate history for %s: %w", key, err)
	}
	return nil
}
