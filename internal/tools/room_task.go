package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/parleyhq/parley/internal/rooms"
)

// RoomAccessor is the narrow slice of rooms.Manager the room_task tool
// needs: look a room up, mutate it, then persist it. Kept as an interface
// so this package never imports the concrete rooms.Manager's storage
// concerns.
type RoomAccessor interface {
	Get(roomID string) (*rooms.Room, bool)
	Save(room *rooms.Room) error
}

// RoomTaskTool creates, reassigns, and completes RoomTasks.
type RoomTaskTool struct {
	Rooms RoomAccessor
	Actor string // bot name performing the mutation, used for handoff "from"
}

func (t *RoomTaskTool) Name() string { return "room_task" }
func (t *RoomTaskTool) Description() string {
	return "Create, reassign, or update the status of a task tracked in a room."
}
func (t *RoomTaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"room_id": map[string]interface{}{"type": "string"},
			"action": map[string]interface{}{"type": "string", "enum": []string{"create", "reassign", "set_status"}},
			"task_id": map[string]interface{}{"type": "string", "description": "Required for reassign/set_status; accepts a unique ID prefix."},
			"title": map[string]interface{}{"type": "string", "description": "Required for create."},
			"owner": map[string]interface{}{"type": "string", "description": "Required for create/reassign."},
			"status": map[string]interface{}{"type": "string", "enum": []string{"todo", "in_progress", "done", "blocked"}},
			"reason": map[string]interface{}{"type": "string", "description": "Why ownership changed, recorded in the handoff."},
		},
		"required": []string{"room_id", "action"},
	}
}

func (t *RoomTaskTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	roomID, _ := args["room_id"].(string)
	action, _ := args["action"].(string)
	room, ok := t.Rooms.Get(roomID)
	if !ok {
		return ErrorResult(fmt.Sprintf("room %s not found", roomID))
	}

	switch action {
	case "create":
		title, _ := args["title"].(string)
		owner, _ := args["owner"].(string)
		if title == "" || owner == "" {
			return ErrorResult("title and owner are required to create a task")
		}
		task := &rooms.RoomTask{
			ID: rooms.NewShortID(),
			Title: title,
			Owner: owner,
			Status: rooms.TaskTodo,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		room.Tasks = append(room.Tasks, task)
		if err := t.Rooms.Save(room); err != nil {
			return ErrorResult(fmt.Sprintf("failed to save room: %v", err))
		}
		return NewResult(fmt.Sprintf("created task %s: %q owned by %s", task.ID, task.Title, task.Owner))

	case "reassign":
		taskID, _ := args["task_id"].(string)
		owner, _ := args["owner"].(string)
		reason, _ := args["reason"].(string)
		task := room.FindTask(taskID)
		if task == nil {
			return ErrorResult(fmt.Sprintf("no task matching %q", taskID))
		}
		task.SetOwner(owner, reason)
		if err := t.Rooms.Save(room); err != nil {
			return ErrorResult(fmt.Sprintf("failed to save room: %v", err))
		}
		return NewResult(fmt.Sprintf("task %s reassigned to %s", task.ID, owner))

	case "set_status":
		taskID, _ := args["task_id"].(string)
		status, _ := args["status"].(string)
		task := room.FindTask(taskID)
		if task == nil {
			return ErrorResult(fmt.Sprintf("no task matching %q", taskID))
		}
		task.Status = rooms.TaskStatus(status)
		task.UpdatedAt = time.Now()
		if err := t.Rooms.Save(room); err != nil {
			return ErrorResult(fmt.Sprintf("failed to save room: %v", err))
		}
		return NewResult(fmt.Sprintf("task %s status set to %s", task.ID, status))

	default:
		return ErrorResult(fmt.Sprintf("unknown action %q", action))
	}
}
