package secrets

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEntry is one line of the append-only audit log. It never contains a
// concrete secret — key_ref is always symbolic.
type AuditEntry struct {
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	KeyRef string `json:"key_ref"`
	Success bool `json:"success"`
	DurationMs int64 `json:"duration_ms"`
	RoomID string `json:"room_id,omitempty"`
	Error string `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// AuditLog is an append-only JSONL sink for AuditEntry. Writes are serialized with a mutex since multiple room
// brokers may log concurrently.
type AuditLog struct {
	mu sync.Mutex
	path string
}

// NewAuditLog opens (creating if needed) a JSONL audit log at path.
func NewAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("secrets: create audit log directory: %w", err)
	}
	return &AuditLog{path: path}, nil
}

func (a *AuditLog) write(entry AuditEntry) {
	entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	w := bufio.NewWriter(f)
	w.Write(data)
	w.WriteByte('\n')
	w.Flush()
}

// Log records a generic audit entry. keyRef must already be symbolic.
func (a *AuditLog) Log(operation, keyRef string, success bool, durationMs int64, roomID, errText string, details map[string]any) {
	a.write(AuditEntry{
		Operation: operation,
		KeyRef: keyRef,
		Success: success,
		DurationMs: durationMs,
		RoomID: roomID,
		Error: errText,
		Details: details,
	})
}

// LogToolExecution records a tool call under operation "tool.<name>".
func (a *AuditLog) LogToolExecution(toolName, keyRef string, success bool, duration time.Duration, roomID, errText string) {
	a.Log("tool."+toolName, keyRef, success, duration.Milliseconds(), roomID, errText, nil)
}

// LogAPICall records a provider call under operation "api.<provider>".
func (a *AuditLog) LogAPICall(provider, keyRef string, success bool, duration time.Duration, roomID, errText string, tokensUsed int) {
	var details map[string]any
	if tokensUsed > 0 {
		details = map[string]any{"tokens_used": tokensUsed}
	}
	a.Log("api."+provider, keyRef, success, duration.Milliseconds(), roomID, errText, details)
}

// LogKeyOperation records a key-management operation, e.g. "key.store".
func (a *AuditLog) LogKeyOperation(operation, keyRef string, success bool, roomID string, details map[string]any) {
	a.Log(operation, keyRef, success, 0, roomID, "", details)
}

// Entries returns the most recent n audit entries (most recent first).
func (a *AuditLog) Entries(n int) []AuditEntry {
	a.mu.Lock()
	data, err := os.ReadFile(a.path)
	a.mu.Unlock()
	if err != nil {
		return nil
	}

	lines := splitNonEmptyLines(string(data))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	entries := make([]AuditEntry, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		var e AuditEntry
		if err := json.Unmarshal([]byte(lines[i]), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
