package agent

import (
	"fmt"
	"strings"

	"github.com/parleyhq/parley/internal/identity"
	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/rooms"
)

// ContextBuilder composes a bot's system prompt and the provider-ready
// message list for one turn.
type ContextBuilder struct {
	MaxMemoryEvents int
}

// NewContextBuilder builds a ContextBuilder. maxMemoryEvents caps how many
// room memory events are injected into the system prompt per turn.
func NewContextBuilder(maxMemoryEvents int) *ContextBuilder {
	if maxMemoryEvents <= 0 {
		maxMemoryEvents = 20
	}
	return &ContextBuilder{MaxMemoryEvents: maxMemoryEvents}
}

// SystemPrompt assembles a bot's persona text, the room it's answering in,
// and the assembled memory context into the system message sent ahead of
// history on every turn.
func (b *ContextBuilder) SystemPrompt(persona *identity.Persona, room *rooms.Room, memoryContext string) string {
	var sb strings.Builder
	sb.WriteString(persona.SystemText)
	if room != nil {
		fmt.Fprintf(&sb, "\n## Room\n\nName: %s\nType: %s\nParticipants: %s\n",
			room.Name, room.Type, strings.Join(room.Participants, ", "))
	}
	if memoryContext != "" {
		sb.WriteString("\n")
		sb.WriteString(memoryContext)
	}
	return sb.String()
}

// Messages assembles the full provider-ready message list: system prompt,
// running summary (if any), history, and the current turn's content.
func (b *ContextBuilder) Messages(systemPrompt, summary string, history []providers.Message, userContent string) []providers.Message {
	msgs := make([]providers.Message, 0, len(history)+3)
	msgs = append(msgs, providers.Message{Role: "system", Content: systemPrompt})
	if summary != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: "Conversation summary so far:\n" + summary})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, providers.Message{Role: "user", Content: userContent})
	return msgs
}
