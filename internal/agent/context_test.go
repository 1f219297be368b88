package agent

import (
	"strings"
	"testing"

	"github.com/parleyhq/parley/internal/identity"
	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/rooms"
)

func TestSystemPromptIncludesPersonaAndRoom(t *testing.T) {
	b := NewContextBuilder(20)
	persona := &identity.Persona{SystemText: "You are Scout, a helpful teammate."}
	room := &rooms.Room{Name: "General", Type: rooms.TypeOpen, Participants: []string{"leader", "scout"}}

	prompt := b.SystemPrompt(persona, room, "")
	if !strings.Contains(prompt, "You are Scout") {
		t.Fatalf("expected persona text in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "General") || !strings.Contains(prompt, "scout") {
		t.Fatalf("expected room name and participants in prompt, got %q", prompt)
	}
}

func TestSystemPromptHandlesNilRoom(t *testing.T) {
	b := NewContextBuilder(20)
	persona := &identity.Persona{SystemText: "Persona only."}
	prompt := b.SystemPrompt(persona, nil, "")
	if prompt != "Persona only." {
		t.Fatalf("expected persona text alone with no room, got %q", prompt)
	}
}

func TestSystemPromptAppendsMemoryContext(t *testing.T) {
	b := NewContextBuilder(20)
	persona := &identity.Persona{SystemText: "Persona."}
	prompt := b.SystemPrompt(persona, nil, "Known facts:\n- the deploy window is Tuesdays")
	if !strings.Contains(prompt, "deploy window is Tuesdays") {
		t.Fatalf("expected memory context appended, got %q", prompt)
	}
}

func TestMessagesOrdersSystemSummaryHistoryThenUser(t *testing.T) {
	b := NewContextBuilder(20)
	history := []providers.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	msgs := b.Messages("system prompt", "a prior summary", history, "the new question")

	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages (system + summary + 2 history + user), got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "system prompt" {
		t.Fatalf("expected first message to be the system prompt, got %+v", msgs[0])
	}
	if msgs[1].Role != "system" || !strings.Contains(msgs[1].Content, "a prior summary") {
		t.Fatalf("expected second message to carry the summary, got %+v", msgs[1])
	}
	if msgs[4].Role != "user" || msgs[4].Content != "the new question" {
		t.Fatalf("expected final message to be the new user content, got %+v", msgs[4])
	}
}

func TestMessagesOmitsSummaryMessageWhenEmpty(t *testing.T) {
	b := NewContextBuilder(20)
	msgs := b.Messages("system prompt", "", nil, "hello")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (system + user) with no summary or history, got %d", len(msgs))
	}
}
