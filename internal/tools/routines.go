package tools

import (
	"context"
	"fmt"
)

// RoutineScheduler is the narrow interface the routine tool needs from
// RoutineService, kept separate to avoid tools importing
// internal/routines, which depends on tools to run a bot's heartbeat turn.
type RoutineScheduler interface {
	Schedule(bot, name, cronExpr, roomID, prompt string) error
	Cancel(bot, name string) error
	TriggerNow(bot, name, reason string) error
}

// RoutineTool lets a bot manage its own scheduled heartbeat jobs.
type RoutineTool struct {
	Scheduler RoutineScheduler
	Actor string
}

func (t *RoutineTool) Name() string { return "routine" }
func (t *RoutineTool) Description() string { return "Schedule, cancel, or immediately trigger one of your own periodic routines." }
func (t *RoutineTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{"type": "string", "enum": []string{"schedule", "cancel", "trigger_now"}},
			"name": map[string]interface{}{"type": "string"},
			"cron": map[string]interface{}{"type": "string", "description": "Cron expression, required for schedule."},
			"room_id": map[string]interface{}{"type": "string", "description": "Room to post the tick into, required for schedule."},
			"prompt": map[string]interface{}{"type": "string", "description": "Instruction to run on each tick, required for schedule."},
			"reason": map[string]interface{}{"type": "string", "description": "Why trigger_now bypassed the schedule."},
		},
		"required": []string{"action", "name"},
	}
}

func (t *RoutineTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	name, _ := args["name"].(string)
	if name == "" {
		return ErrorResult("name is required")
	}

	switch action {
	case "schedule":
		cron, _ := args["cron"].(string)
		roomID, _ := args["room_id"].(string)
		prompt, _ := args["prompt"].(string)
		if cron == "" || roomID == "" || prompt == "" {
			return ErrorResult("cron, room_id, and prompt are required to schedule a routine")
		}
		if err := t.Scheduler.Schedule(t.Actor, name, cron, roomID, prompt); err != nil {
			return ErrorResult(fmt.Sprintf("failed to schedule: %v", err))
		}
		return NewResult(fmt.Sprintf("scheduled routine %q (%s)", name, cron))

	case "cancel":
		if err := t.Scheduler.Cancel(t.Actor, name); err != nil {
			return ErrorResult(fmt.Sprintf("failed to cancel: %v", err))
		}
		return NewResult(fmt.Sprintf("routine %q disabled", name))

	case "trigger_now":
		reason, _ := args["reason"].(string)
		if err := t.Scheduler.TriggerNow(t.Actor, name, reason); err != nil {
			return ErrorResult(fmt.Sprintf("failed to trigger: %v", err))
		}
		return NewResult(fmt.Sprintf("routine %q triggered manually", name))

	default:
		return ErrorResult(fmt.Sprintf("unknown action %q", action))
	}
}
