package tools

import (
	"context"
	"fmt"

	"github.com/parleyhq/parley/internal/memory"
	"github.com/parleyhq/parley/internal/rooms"
)

// MemoryTool exposes MemoryFacade's operations to the LLM directly.
type MemoryTool struct {
	Memory *memory.Facade
	Rooms RoomAccessor
	RoomID string
}

func (t *MemoryTool) Name() string { return "memory" }
func (t *MemoryTool) Description() string { return "Record a durable fact about this room, worth remembering past the current conversation." }
func (t *MemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"fact": map[string]interface{}{"type": "string", "description": "The fact to remember."},
		},
		"required": []string{"fact"},
	}
}

func (t *MemoryTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	fact, _ := args["fact"].(string)
	if fact == "" {
		return ErrorResult("fact is required")
	}
	room, ok := t.Rooms.Get(t.RoomID)
	if !ok {
		room = &rooms.Room{ID: t.RoomID}
	}
	t.Memory.RecordLearning(room, map[string]any{"text": fact})
	if err := t.Rooms.Save(room); err != nil {
		return ErrorResult(fmt.Sprintf("fact recorded but failed to persist room: %v", err))
	}
	return SilentResult("remembered")
}
