// Package bus defines the message envelope and the inbound/outbound queues
// that connect channel adapters to room brokers.
package bus

import (
	"context"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem Role = "system"
)

// Direction marks an envelope as flowing into or out of the gateway.
type Direction string

const (
	Inbound Direction = "inbound"
	Outbound Direction = "outbound"
)

// MediaAttachment is a single media item carried alongside an envelope.
type MediaAttachment struct {
	URL string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// MessageEnvelope is the single inbound-or-outbound unit that flows between
// channel adapters, the bus, room brokers and the agent loop.
type MessageEnvelope struct {
	TraceID string `json:"trace_id,omitempty"`
	Channel string `json:"channel"`
	ChatID string `json:"chat_id"`
	RoomID string `json:"room_id,omitempty"`
	SenderID string `json:"sender_id"`
	SenderRole Role `json:"sender_role"`
	Direction Direction `json:"direction"`
	Content string `json:"content"`
	Media []MediaAttachment `json:"media,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewTraceID mints a fresh correlation ID for one inbound envelope, carried
// through every span internal/tracing opens for that message's turn.
func NewTraceID() string {
	return uuid.NewString()
}

// SessionKey is the composite "<channel>:<chat_id>" key used throughout the
// gateway before a room_id has been resolved.
func (e MessageEnvelope) SessionKey() string {
	return e.Channel + ":" + e.ChatID
}

// MetaString returns a string metadata value, or "" if absent/not a string.
func (e MessageEnvelope) MetaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// WithMeta returns a copy of the envelope with the given metadata key set.
func (e MessageEnvelope) WithMeta(key string, value any) MessageEnvelope {
	out := e
	out.Metadata = make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata[key] = value
	return out
}

// Bus exposes the inbound/outbound queues channel adapters and the gateway
// exchange envelopes over. Per-room queues (RoomBroker) are the primary
// consumption path; ConsumeInbound exists for callers that bypass per-room
// brokers entirely (tests, tools).
type Bus interface {
	PublishInbound(env MessageEnvelope)
	PublishOutbound(env MessageEnvelope)
	ConsumeInbound(ctx context.Context) (MessageEnvelope, bool)
	SubscribeOutbound(ctx context.Context) (MessageEnvelope, bool)
}

// memoryBus is a simple channel-backed Bus implementation, grounded on a
// prior bus.MessageBus shape but generalized to the single MessageEnvelope
// type used here instead of split Inbound/Outbound structs.
type memoryBus struct {
	inbound chan MessageEnvelope
	outbound chan MessageEnvelope
}

// New creates a buffered in-process Bus.
func New(bufferSize int) Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &memoryBus{
		inbound: make(chan MessageEnvelope, bufferSize),
		outbound: make(chan MessageEnvelope, bufferSize),
	}
}

func (b *memoryBus) PublishInbound(env MessageEnvelope) {
	env.Direction = Inbound
	if env.TraceID == "" {
		env.TraceID = NewTraceID()
	}
	b.inbound <- env
}

func (b *memoryBus) PublishOutbound(env MessageEnvelope) {
	env.Direction = Outbound
	b.outbound <- env
}

func (b *memoryBus) ConsumeInbound(ctx context.Context) (MessageEnvelope, bool) {
	select {
	case env := <-b.inbound:
		return env, true
	case <-ctx.Done():
		return MessageEnvelope{}, false
	}
}

func (b *memoryBus) SubscribeOutbound(ctx context.Context) (MessageEnvelope, bool) {
	select {
	case env := <-b.outbound:
		return env, true
	case <-ctx.Done():
		return MessageEnvelope{}, false
	}
}
