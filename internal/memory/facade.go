// Package memory implements MemoryFacade: a best-effort, never-fatal layer
// over each room's SharedContext that the AgentLoop and the tool
// registry's memory tool both call into. Grounded on the category/retention
// model of neoz-picoclaw's memory_store tool, adapted from a standalone
// knowledge-graph DB to in-process room-scoped state backed by
// JSON-on-disk snapshots.
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/rooms"
)

// Category controls how long an event or fact is retained before a
// housekeeping sweep may drop it (mirrors a prior memory_store
// categories, generalized to room-scoped facts).
type Category string

const (
	CategoryCore Category = "core" // permanent
	CategoryDaily Category = "daily" // 30 days
	CategoryConversation Category = "conversation" // 7 days
	CategoryCustom Category = "custom" // 90 days
)

func retentionFor(c Category) time.Duration {
	switch c {
	case CategoryDaily:
		return 30 * 24 * time.Hour
	case CategoryConversation:
		return 7 * 24 * time.Hour
	case CategoryCustom:
		return 90 * 24 * time.Hour
	default:
		return 0 // core: never expires
	}
}

// Facade is the single entry point the agent loop and tools use to read
// and write room memory. Every method is best-effort: a storage failure is
// logged and swallowed rather than propagated, since memory is an
// enrichment layer and must never abort a turn.
type Facade struct {
	mu sync.Mutex
	logger *slog.Logger
	storage string // directory for per-room memory snapshot files, empty = in-memory only
}

// New builds a Facade. storage may be empty for in-memory-only use (tests).
func New(storage string, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	if storage != "" {
		os.MkdirAll(storage, 0o755)
	}
	return &Facade{logger: logger, storage: storage}
}

// AppendEvent records one timestamped fact into a room's SharedContext.
// Failure is logged, not returned, so callers can fire-and-forget it.
func (f *Facade) AppendEvent(room *rooms.Room, kind string, payload map[string]any, category Category) {
	f.mu.Lock()
	defer f.mu.Unlock()

	event := map[string]any{
		"kind": kind,
		"payload": payload,
		"category": string(category),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	room.SharedContext.Events = append(room.SharedContext.Events, event)
	f.sweep(room)

	if err := f.persist(room); err != nil {
		f.logger.Warn("memory: failed to persist event, continuing without durability", "room_id", room.ID, "error", err)
	}
}

// AssembleContext returns the subset of a room's memory worth injecting
// into the next prompt: the last maxEvents events in the order they were
// recorded (oldest first), then every fact. Expired events are not
// filtered here; they are swept when a new event is appended.
func (f *Facade) AssembleContext(room *rooms.Room, maxEvents int) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if maxEvents <= 0 {
		maxEvents = 20
	}
	events := room.SharedContext.Events
	start := 0
	if len(events) > maxEvents {
		start = len(events) - maxEvents
	}

	var b []byte
	b = append(b, "Room memory:\n"...)
	for _, e := range events[start:] {
		line, err := json.Marshal(e)
		if err != nil {
			continue
		}
		b = append(b, "- "...)
		b = append(b, line...)
		b = append(b, '\n')
	}
	for _, fact := range room.SharedContext.Facts {
		line, err := json.Marshal(fact)
		if err != nil {
			continue
		}
		b = append(b, "- fact: "...)
		b = append(b, line...)
		b = append(b, '\n')
	}
	return string(b)
}

// RecordLearning appends a durable fact independent of the rolling event
// log — used when a bot explicitly concludes something worth keeping past
// the event window.
func (f *Facade) RecordLearning(room *rooms.Room, fact map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fact["recorded_at"] = time.Now().UTC().Format(time.RFC3339)
	room.SharedContext.Facts = append(room.SharedContext.Facts, fact)

	if err := f.persist(room); err != nil {
		f.logger.Warn("memory: failed to persist learning, continuing without durability", "room_id", room.ID, "error", err)
	}
}

// sweep drops expired non-core events in place. Called under f.mu.
func (f *Facade) sweep(room *rooms.Room) {
	kept := room.SharedContext.Events[:0]
	now := time.Now().UTC()
	for _, e := range room.SharedContext.Events {
		category, _ := e["category"].(string)
		ttl := retentionFor(Category(category))
		if ttl == 0 {
			kept = append(kept, e)
			continue
		}
		tsStr, _ := e["timestamp"].(string)
		ts, err := time.Parse(time.RFC3339, tsStr)
		if err != nil || now.Sub(ts) < ttl {
			kept = append(kept, e)
		}
	}
	room.SharedContext.Events = kept
}

// persist writes the room's SharedContext to its snapshot file. Called
// under f.mu; a no-op when storage is unset.
func (f *Facade) persist(room *rooms.Room) error {
	if f.storage == "" {
		return nil
	}
	data, err := json.MarshalIndent(room.SharedContext, "", " ")
	if err != nil {
		return fmt.Errorf("memory: marshal shared context for %s: %w", room.ID, err)
	}
	path := filepath.Join(f.storage, room.ID+".json")
	return os.WriteFile(path, data, 0o600)
}

// Restore loads a room's SharedContext from its snapshot file, if one
// exists. Failure is logged and the room's SharedContext is left as-is.
func (f *Facade) Restore(room *rooms.Room) {
	if f.storage == "" {
		return
	}
	path := filepath.Join(f.storage, room.ID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var sc rooms.SharedContext
	if err := json.Unmarshal(data, &sc); err != nil {
		f.logger.Warn("memory: corrupt snapshot, ignoring", "room_id", room.ID, "error", err)
		return
	}
	room.SharedContext = sc
}
