package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parleyhq/parley/internal/store"
)

// AuditStore persists the secret-pipeline audit trail durably in managed
// mode, supplementing the local JSONL file internal/secrets.AuditLog
// always writes regardless of mode.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) Log(entry store.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("pg: marshal audit detail: %w", err)
	}
	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO audit_log (timestamp, operation, session_key, detail)
		VALUES ($1, $2, $3, $4::jsonb)
	`, entry.Timestamp, entry.Operation, entry.SessionKey, detail)
	if err != nil {
		return fmt.Errorf("pg: write audit entry: %w", err)
	}
	return nil
}

func (s *AuditStore) Recent(n int) ([]store.AuditEntry, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT timestamp, operation, session_key, detail
		FROM audit_log ORDER BY timestamp DESC LIMIT $1
	`, n)
	if err != nil {
		return nil, fmt.Errorf("pg: read audit log: %w", err)
	}
	defer rows.Close()

	var out []store.AuditEntry
	for rows.Next() {
		var e store.AuditEntry
		var detail []byte
		if err := rows.Scan(&e.Timestamp, &e.Operation, &e.SessionKey, &detail); err != nil {
			continue
		}
		json.Unmarshal(detail, &e.Detail)
		out = append(out, e)
	}
	return out, rows.Err()
}
