package sessions

import (
	"testing"

	"github.com/parleyhq/parley/internal/providers"
)

func TestManagerAddMessageAndGetHistory(t *testing.T) {
	m := NewManager(t.TempDir())
	key := Key("room-1")

	m.AddMessage(key, providers.Message{Role: "user", Content: "hello"})
	m.AddMessage(key, providers.Message{Role: "assistant", Content: "hi there"})

	history := m.GetHistory(key)
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Content != "hello" || history[1].Content != "hi there" {
		t.Fatalf("unexpected history order/content: %+v", history)
	}
}

func TestManagerPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	key := Key("room-1")
	m.AddMessage(key, providers.Message{Role: "user", Content: "remember this"})
	m.SetSummary(key, "a running summary")
	if err := m.Save(key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := NewManager(dir)
	history := reloaded.GetHistory(key)
	if len(history) != 1 || history[0].Content != "remember this" {
		t.Fatalf("expected message to survive reload, got %+v", history)
	}
	if reloaded.GetSummary(key) != "a running summary" {
		t.Fatalf("expected summary to survive reload, got %q", reloaded.GetSummary(key))
	}
}

func TestManagerAccumulateTokens(t *testing.T) {
	m := NewManager(t.TempDir())
	key := Key("room-1")
	m.AccumulateTokens(key, 100, 50)
	m.AccumulateTokens(key, 20, 10)

	sess := m.GetOrCreate(key)
	if sess.InputTokens != 120 || sess.OutputTokens != 60 {
		t.Fatalf("expected accumulated tokens 120/60, got %d/%d", sess.InputTokens, sess.OutputTokens)
	}
}

func TestManagerTruncateHistoryKeepsTrailingMessages(t *testing.T) {
	m := NewManager(t.TempDir())
	key := Key("room-1")
	for i := 0; i < 10; i++ {
		m.AddMessage(key, providers.Message{Role: "user", Content: "m"})
	}
	m.TruncateHistory(key, 3)
	if len(m.GetHistory(key)) != 3 {
		t.Fatalf("expected 3 messages after truncate, got %d", len(m.GetHistory(key)))
	}
}

func TestManagerOnboardingMarksOnceAndSticks(t *testing.T) {
	m := NewManager(t.TempDir())
	key := Key("room-1")
	if m.IsOnboarded(key) {
		t.Fatalf("expected new session to not be onboarded")
	}
	m.MarkOnboarded(key)
	if !m.IsOnboarded(key) {
		t.Fatalf("expected session to be onboarded after MarkOnboarded")
	}
}

func TestManagerResetClearsHistoryButKeepsSession(t *testing.T) {
	m := NewManager(t.TempDir())
	key := Key("room-1")
	m.AddMessage(key, providers.Message{Role: "user", Content: "hi"})
	m.SetSummary(key, "summary")

	m.Reset(key)

	if len(m.GetHistory(key)) != 0 {
		t.Fatalf("expected history to be cleared by Reset")
	}
}

func TestKeyIsDeterministicPerRoom(t *testing.T) {
	if Key("room-1") != Key("room-1") {
		t.Fatalf("expected Key to be deterministic for the same room ID")
	}
	if Key("room-1") == Key("room-2") {
		t.Fatalf("expected different rooms to produce different keys")
	}
}
