package file

import (
	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/sessions"
)

// SessionStore adapts sessions.Manager to implement store.SessionStore,
// the same wrapper shape uses in internal/store/file/sessions.go
// to let the agent loop depend on an interface instead of the concrete
// manager.
type SessionStore struct {
	mgr *sessions.Manager
}

func NewSessionStore(mgr *sessions.Manager) *SessionStore {
	return &SessionStore{mgr: mgr}
}

func (s *SessionStore) GetOrCreate(key string) []providers.Message {
	s.mgr.GetOrCreate(key)
	return s.mgr.GetHistory(key)
}

func (s *SessionStore) AddMessage(key string, msg providers.Message) error {
	s.mgr.AddMessage(key, msg)
	return s.mgr.Save(key)
}

func (s *SessionStore) GetSummary(key string) string {
	return s.mgr.GetSummary(key)
}

func (s *SessionStore) SetSummary(key, summary string) error {
	s.mgr.SetSummary(key, summary)
	return s.mgr.Save(key)
}

func (s *SessionStore) TruncateHistory(key string, keepLast int) error {
	s.mgr.TruncateHistory(key, keepLast)
	return s.mgr.Save(key)
}
