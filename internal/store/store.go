// Package store defines the persistence interfaces the gateway depends on
// in managed (Postgres) mode — RoomStore, SessionStore, and AuditStore —
// mirroring a prior store.Stores / IsManagedMode selection in
// internal/store/stores.go and internal/config/config.go, narrowed from
// its dozen multi-tenant stores down to the three this gateway's domain
// needs. In standalone mode the gateway uses
// internal/rooms.Manager, internal/sessions.Manager, and
// internal/secrets.AuditLog directly; the file package here only adapts
// sessions.Manager and secrets.AuditLog to these interfaces for callers
// that want backend-agnostic access regardless of mode.
package store

import (
	"time"

	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/rooms"
)

// RoomStore persists Room/RoomTask/ChannelMapping state.
type RoomStore interface {
	Get(roomID string) (*rooms.Room, bool)
	Save(room *rooms.Room) error
	Delete(roomID string) error
	All() ([]*rooms.Room, error)
	ResolveChannelMapping(channel, chatID string) (roomID string, ok bool)
	SetChannelMapping(channel, chatID, roomID string) error
}

// SessionStore persists provider-formatted conversation history, matching
// the operations internal/sessions.Manager already exposes in-process —
// this interface lets the agent loop depend on either the in-process
// manager directly (standalone) or a Postgres-backed equivalent (managed)
// without caring which.
type SessionStore interface {
	GetOrCreate(key string) []providers.Message
	AddMessage(key string, msg providers.Message) error
	GetSummary(key string) string
	SetSummary(key, summary string) error
	TruncateHistory(key string, keepLast int) error
}

// AuditEntry mirrors internal/secrets.AuditEntry's shape so AuditStore
// implementations don't need to import the secrets package.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string `json:"operation"`
	SessionKey string `json:"session_key,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// AuditStore persists the secret-pipeline audit trail durably
// when running in managed mode, supplementing the local append-only JSONL
// file that internal/secrets.AuditLog always writes regardless of mode.
type AuditStore interface {
	Log(entry AuditEntry) error
	Recent(n int) ([]AuditEntry, error)
}
