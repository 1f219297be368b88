package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/parleyhq/parley/internal/providers"
)

func fillHistory(m *Manager, key string, n int) {
	for i := 0; i < n; i++ {
		m.AddMessage(key, providers.Message{Role: "user", Content: "message"})
	}
}

func TestCompactorOffModeNeverCompacts(t *testing.T) {
	m := NewManager(t.TempDir())
	c := NewCompactor(m, nil, CompactionOff, 5, 1000)
	key := "room-1"
	fillHistory(m, key, 50)

	if c.ShouldCompact(key) {
		t.Fatalf("expected CompactionOff to never report ShouldCompact")
	}
	if err := c.Compact(context.Background(), key); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(m.GetHistory(key)) != 50 {
		t.Fatalf("expected history to be untouched, got %d messages", len(m.GetHistory(key)))
	}
}

func TestCompactorTokenLimitTruncatesToKeepLast(t *testing.T) {
	m := NewManager(t.TempDir())
	c := NewCompactor(m, nil, CompactionTokenLimit, 5, 1000)
	key := "room-1"
	fillHistory(m, key, 20)

	if err := c.Compact(context.Background(), key); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(m.GetHistory(key)) != 5 {
		t.Fatalf("expected 5 messages kept, got %d", len(m.GetHistory(key)))
	}
	if m.GetCompactionCount(key) != 1 {
		t.Fatalf("expected compaction count to increment")
	}
}

func TestCompactorTokenLimitPreservesToolResultBoundary(t *testing.T) {
	m := NewManager(t.TempDir())
	c := NewCompactor(m, nil, CompactionTokenLimit, 2, 1000)
	key := "room-1"
	m.AddMessage(key, providers.Message{Role: "user", Content: "a"})
	m.AddMessage(key, providers.Message{Role: "assistant", Content: "calling a tool"})
	m.AddMessage(key, providers.Message{Role: "tool", Content: "tool result"})
	m.AddMessage(key, providers.Message{Role: "user", Content: "b"})

	if err := c.Compact(context.Background(), key); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	history := m.GetHistory(key)
	if len(history) > 0 && history[0].Role == "tool" {
		t.Fatalf("expected a dangling tool result to never lead the kept window, got %+v", history)
	}
}

type fakeSummarizer struct {
	summary string
	err error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, previousSummary string, messages []providers.Message) (string, error) {
	return f.summary, f.err
}

func TestCompactorSummaryModeReplacesOldestWithSummary(t *testing.T) {
	m := NewManager(t.TempDir())
	summarizer := &fakeSummarizer{summary: "condensed summary"}
	c := NewCompactor(m, summarizer, CompactionSummary, 3, 1000)
	key := "room-1"
	fillHistory(m, key, 10)

	if err := c.Compact(context.Background(), key); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if m.GetSummary(key) != "condensed summary" {
		t.Fatalf("expected summary to be set, got %q", m.GetSummary(key))
	}
	if len(m.GetHistory(key)) != 3 {
		t.Fatalf("expected 3 messages kept after summary compaction, got %d", len(m.GetHistory(key)))
	}
}

func TestCompactorSummaryModeFallsBackToExtractiveOnFailure(t *testing.T) {
	m := NewManager(t.TempDir())
	summarizer := &fakeSummarizer{err: errors.New("provider down")}
	c := NewCompactor(m, summarizer, CompactionSummary, 3, 1000)
	key := "room-1"
	fillHistory(m, key, 10)

	if err := c.Compact(context.Background(), key); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if m.GetSummary(key) == "" {
		t.Fatalf("expected an extractive fallback summary when the LLM call fails")
	}
}

func TestCompactorShouldCompactByTokenThreshold(t *testing.T) {
	m := NewManager(t.TempDir())
	c := NewCompactor(m, nil, CompactionTokenLimit, 5, 1000)
	key := "room-1"

	m.SetLastPromptTokens(key, 500, 10)
	if c.ShouldCompact(key) {
		t.Fatalf("expected not to compact below threshold")
	}
	m.SetLastPromptTokens(key, 1500, 10)
	if !c.ShouldCompact(key) {
		t.Fatalf("expected to compact above threshold")
	}
}
