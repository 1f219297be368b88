package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/providers"
)

// Session stores the provider-formatted conversation history for one room
//. Compaction happens in place: the message slice shrinks
// and Summary grows, but the Key and room identity never change.
type Session struct {
	Key string `json:"key"`
	Messages []providers.Message `json:"messages"`
	Summary string `json:"summary,omitempty"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`

	Model string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
	Channel string `json:"channel,omitempty"`
	InputTokens int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`

	CompactionCount int `json:"compaction_count,omitempty"`
	MemoryFlushCompactionCount int `json:"memory_flush_compaction_count,omitempty"`
	MemoryFlushAt int64 `json:"memory_flush_at,omitempty"` // unix ms

	Label string `json:"label,omitempty"`
	SpawnedBy string `json:"spawned_by,omitempty"`
	SpawnDepth int `json:"spawn_depth,omitempty"`

	// Onboarded records whether this session's chat-onboarding step has
	// already run, so it fires at most once per room.
	Onboarded bool `json:"onboarded,omitempty"`

	ContextWindow int `json:"context_window,omitempty"`
	LastPromptTokens int `json:"last_prompt_tokens,omitempty"`
	LastMessageCount int `json:"last_message_count,omitempty"`
}

// Manager handles session lifecycle, persistence, and lookup. Grounded on
// a prior sessions.Manager, generalized from per-channel-peer keys to
// room keys.
type Manager struct {
	sessions map[string]*Session
	mu sync.RWMutex
	storage string
}

// NewManager builds a Manager, loading any sessions already persisted under
// storage. An empty storage path means in-memory only (used by tests).
func NewManager(storage string) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		storage: storage,
	}
	if storage != "" {
		os.MkdirAll(storage, 0o755)
		m.loadAll()
	}
	return m
}

// GetOrCreate returns an existing session or creates a new empty one.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s
	}
	s := &Session{
		Key: key,
		Messages: []providers.Message{},
		Created: time.Now(),
		Updated: time.Now(),
	}
	m.sessions[key] = s
	return s
}

// AddMessage appends a message to a session, creating it if necessary.
func (m *Manager) AddMessage(key string, msg providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		s = &Session{Key: key, Messages: []providers.Message{}, Created: time.Now()}
		m.sessions[key] = s
	}
	s.Messages = append(s.Messages, msg)
	s.Updated = time.Now()
}

// GetHistory returns a defensive copy of the message history.
func (m *Manager) GetHistory(key string) []providers.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	msgs := make([]providers.Message, len(s.Messages))
	copy(msgs, s.Messages)
	return msgs
}

// GetSummary returns the session's running summary.
func (m *Manager) GetSummary(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.Summary
	}
	return ""
}

// SetSummary replaces the session's summary.
func (m *Manager) SetSummary(key, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.Summary = summary
		s.Updated = time.Now()
	}
}

// SetLabel tags a session with a human-readable label, e.g. a subagent task
// description.
func (m *Manager) SetLabel(key, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.Label = label
		s.Updated = time.Now()
	}
}

// UpdateMetadata records the model/provider/channel last used on a session.
func (m *Manager) UpdateMetadata(key, model, provider, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		if model != "" {
			s.Model = model
		}
		if provider != "" {
			s.Provider = provider
		}
		if channel != "" {
			s.Channel = channel
		}
	}
}

// AccumulateTokens adds token counts from one completed LLM call.
func (m *Manager) AccumulateTokens(key string, inputTokens, outputTokens int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.InputTokens += inputTokens
		s.OutputTokens += outputTokens
	}
}

// IncrementCompaction bumps the compaction counter after the
// SessionCompactor summarizes a session.
func (m *Manager) IncrementCompaction(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.CompactionCount++
	}
}

// GetCompactionCount returns how many times a session has been compacted.
func (m *Manager) GetCompactionCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.CompactionCount
	}
	return 0
}

// GetMemoryFlushCompactionCount returns the compaction count at which memory
// flush last ran (0 if it never has), or -1 if the session does not exist.
func (m *Manager) GetMemoryFlushCompactionCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.MemoryFlushCompactionCount
	}
	return -1
}

// SetMemoryFlushDone records that a memory flush completed at the current
// compaction count.
func (m *Manager) SetMemoryFlushDone(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.MemoryFlushCompactionCount = s.CompactionCount
		s.MemoryFlushAt = time.Now().UnixMilli()
	}
}

// IsOnboarded reports whether a session's chat-onboarding step already ran.
func (m *Manager) IsOnboarded(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.Onboarded
	}
	return false
}

// MarkOnboarded records that a session's chat-onboarding step has run,
// creating the session if this is its first contact.
func (m *Manager) MarkOnboarded(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		s = &Session{Key: key, Messages: []providers.Message{}, Created: time.Now()}
		m.sessions[key] = s
	}
	s.Onboarded = true
}

// SetSpawnInfo records subagent origin metadata on a spawned session.
func (m *Manager) SetSpawnInfo(key, spawnedBy string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.SpawnedBy = spawnedBy
		s.SpawnDepth = depth
	}
}

// SetContextWindow caches the resolved model's context window on a session.
func (m *Manager) SetContextWindow(key string, cw int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.ContextWindow = cw
	}
}

// GetContextWindow returns the cached context window, 0 if never set.
func (m *Manager) GetContextWindow(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.ContextWindow
	}
	return 0
}

// SetLastPromptTokens records actual prompt tokens from the last LLM
// response, used by the token-limit compaction trigger.
func (m *Manager) SetLastPromptTokens(key string, tokens, msgCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.LastPromptTokens = tokens
		s.LastMessageCount = msgCount
	}
}

// GetLastPromptTokens returns the last known prompt tokens and message count.
func (m *Manager) GetLastPromptTokens(key string) (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.LastPromptTokens, s.LastMessageCount
	}
	return 0, 0
}

// TruncateHistory keeps only the last keepLast messages, used by the
// SessionCompactor's safe-boundary trim.
func (m *Manager) TruncateHistory(key string, keepLast int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return
	}
	if keepLast <= 0 {
		s.Messages = []providers.Message{}
	} else if len(s.Messages) > keepLast {
		s.Messages = s.Messages[len(s.Messages)-keepLast:]
	}
	s.Updated = time.Now()
}

// Reset clears a session's history and summary but keeps its metadata.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.Messages = []providers.Message{}
		s.Summary = ""
		s.Updated = time.Now()
	}
}

// Delete removes a session entirely, including its persisted file.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()

	if m.storage == "" {
		return nil
	}
	path := filepath.Join(m.storage, sanitizeFilename(key)+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SessionInfo is a lightweight session descriptor for listing.
type SessionInfo struct {
	Key string `json:"key"`
	MessageCount int `json:"message_count"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// List returns metadata for every session, optionally filtered to those
// whose key starts with roomPrefix (e.g. "room:" + roomID to include its
// subagents).
func (m *Manager) List(roomPrefix string) []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []SessionInfo
	for key, s := range m.sessions {
		if roomPrefix != "" && !strings.HasPrefix(key, roomPrefix) {
			continue
		}
		result = append(result, SessionInfo{
			Key: key,
			MessageCount: len(s.Messages),
			Created: s.Created,
			Updated: s.Updated,
		})
	}
	return result
}

// Save persists a session to disk atomically (temp file + rename).
func (m *Manager) Save(key string) error {
	if m.storage == "" {
		return nil
	}

	m.mu.RLock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	snapshot := *s
	snapshot.Messages = make([]providers.Message, len(s.Messages))
	copy(snapshot.Messages, s.Messages)
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", " ")
	if err != nil {
		return err
	}

	filename := sanitizeFilename(key)
	if filename == "." || !filepath.IsLocal(filename) || strings.ContainsAny(filename, `/\`) {
		return os.ErrInvalid
	}
	sessionPath := filepath.Join(m.storage, filename+".json")

	tmpFile, err := os.CreateTemp(m.storage, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, sessionPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (m *Manager) loadAll() {
	files, err := os.ReadDir(m.storage)
	if err != nil {
		return
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.storage, f.Name()))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		m.sessions[s.Key] = &s
	}
}

func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}
