package file

import (
	"github.com/parleyhq/parley/internal/secrets"
	"github.com/parleyhq/parley/internal/store"
)

// AuditStore adapts internal/secrets.AuditLog's append-only JSONL file to
// the store.AuditStore interface, so callers that only need "log an
// operation" / "read recent entries" can depend on the interface instead
// of importing secrets directly.
type AuditStore struct {
	log *secrets.AuditLog
}

func NewAuditStore(log *secrets.AuditLog) *AuditStore {
	return &AuditStore{log: log}
}

func (s *AuditStore) Log(entry store.AuditEntry) error {
	s.log.LogKeyOperation(entry.Operation, entry.SessionKey, true, "", entry.Detail)
	return nil
}

func (s *AuditStore) Recent(n int) ([]store.AuditEntry, error) {
	raw := s.log.Entries(n)
	out := make([]store.AuditEntry, 0, len(raw))
	for _, r := range raw {
		out = append(out, store.AuditEntry{
			Operation: r.Operation,
			SessionKey: r.KeyRef,
			Detail: r.Details,
		})
	}
	return out, nil
}
