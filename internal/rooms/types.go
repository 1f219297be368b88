// Package rooms implements the durable Room/RoomTask model
// and the per-room broker that serializes envelope processing.
package rooms

import (
	"time"

	"github.com/parleyhq/parley/internal/bus"
)

// RoomType is one of four room kinds.
type RoomType string

const (
	TypeOpen RoomType = "open"
	TypeProject RoomType = "project"
	TypeDirect RoomType = "direct"
	TypeCoordination RoomType = "coordination"
)

// GeneralRoomID is the process-wide room guaranteed to exist at all times.
const GeneralRoomID = "general"

// Handoff is an immutable record of a RoomTask changing owner.
type Handoff struct {
	From string `json:"from"`
	To string `json:"to"`
	Reason string `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskStatus is one of the four RoomTask lifecycle states.
type TaskStatus string

const (
	TaskTodo TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone TaskStatus = "done"
	TaskBlocked TaskStatus = "blocked"
)

// RoomTask is a unit of work owned by a user or a bot inside a room.
type RoomTask struct {
	ID string `json:"id"`
	Title string `json:"title"`
	Owner string `json:"owner"`
	Status TaskStatus `json:"status"`
	Priority string `json:"priority,omitempty"`
	DueDate string `json:"due_date,omitempty"`
	Handoffs []Handoff `json:"handoffs"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetOwner reassigns the task, appending exactly one handoff record whenever
// the owner actually changes.
func (t *RoomTask) SetOwner(newOwner, reason string) {
	if t.Owner != newOwner {
		t.Handoffs = append(t.Handoffs, Handoff{
			From: t.Owner,
			To: newOwner,
			Reason: reason,
			Timestamp: time.Now(),
		})
		t.Owner = newOwner
	}
	t.UpdatedAt = time.Now()
}

// ChannelMapping ties one (channel, chat_id) pair to a room.
type ChannelMapping struct {
	Channel string `json:"channel"`
	ChatID string `json:"chat_id"`
	RoomID string `json:"room_id"`
}

// Room is the durable conversation context shared by every bot and channel
// joined to it.
type Room struct {
	ID string `json:"id"`
	Name string `json:"name"`
	Type RoomType `json:"type"`
	Owner string `json:"owner"`
	Participants []string `json:"participants"`
	Tasks []*RoomTask `json:"tasks"`
	SharedContext SharedContext `json:"shared_context"`
	History []HistoryEntry `json:"history"`
	ChannelMappings []ChannelMapping `json:"channel_mappings"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SharedContext is the room-visible memory slice mediated by MemoryFacade.
type SharedContext struct {
	Events []map[string]any `json:"events,omitempty"`
	Entities map[string]any `json:"entities,omitempty"`
	Facts []map[string]any `json:"facts,omitempty"`
}

// HistoryEntry is one logical turn kept for room-level bookkeeping,
// independent of the provider-formatted Session messages.
type HistoryEntry struct {
	Sender string `json:"sender"`
	Content string `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HasParticipant reports whether botName is currently in the room.
func (r *Room) HasParticipant(botName string) bool {
	for _, p := range r.Participants {
		if p == botName {
			return true
		}
	}
	return false
}

// AddParticipant adds botName if not already present.
func (r *Room) AddParticipant(botName string) {
	if !r.HasParticipant(botName) {
		r.Participants = append(r.Participants, botName)
		r.UpdatedAt = time.Now()
	}
}

// RemoveParticipant removes botName unless it is the room's last
// participant.
func (r *Room) RemoveParticipant(botName string) bool {
	if len(r.Participants) <= 1 {
		return false
	}
	for i, p := range r.Participants {
		if p == botName {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			r.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// FindTask looks up a task by exact ID, or by unique ID prefix if no exact
// match exists.
func (r *Room) FindTask(idOrPrefix string) *RoomTask {
	for _, t := range r.Tasks {
		if t.ID == idOrPrefix {
			return t
		}
	}
	var match *RoomTask
	for _, t := range r.Tasks {
		if len(t.ID) >= len(idOrPrefix) && t.ID[:len(idOrPrefix)] == idOrPrefix {
			if match != nil {
				return nil // ambiguous prefix
			}
			match = t
		}
	}
	return match
}

// NormalizeEnvelope ensures env carries the room's ID.
func NormalizeEnvelope(env bus.MessageEnvelope, roomID string) bus.MessageEnvelope {
	if env.RoomID == "" {
		env.RoomID = roomID
	}
	return env
}
