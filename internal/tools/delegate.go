package tools

import (
	"context"
	"fmt"
)

// Invoker is the narrow interface the invoke tool needs from BotInvoker
//. Kept as an interface so this package doesn't import
// internal/dispatch, which itself depends on tools to build a bot's
// AgentLoop — importing the concrete type both ways would cycle.
type Invoker interface {
	Invoke(ctx context.Context, fromBot, toBot, task, originRoomID string) error
}

// InvokeTool lets a bot delegate a task to another bot asynchronously
//. It never blocks on the delegate's reply; the
// reply, when ready, is announced back into originRoomID by the invoker.
type InvokeTool struct {
	Invoker Invoker
	Actor string
	OriginRoomID string
}

func (t *InvokeTool) Name() string { return "invoke" }
func (t *InvokeTool) Description() string { return "Delegate a task to another bot, asynchronously." }
func (t *InvokeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"bot": map[string]interface{}{"type": "string", "description": "Name of the bot to delegate to."},
			"task": map[string]interface{}{"type": "string", "description": "Description of the task to delegate."},
		},
		"required": []string{"bot", "task"},
	}
}

func (t *InvokeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	bot, _ := args["bot"].(string)
	task, _ := args["task"].(string)
	if bot == "" || task == "" {
		return ErrorResult("bot and task are required")
	}
	if bot == t.Actor {
		return ErrorResult("cannot delegate a task to yourself")
	}
	if err := t.Invoker.Invoke(ctx, t.Actor, bot, task, t.OriginRoomID); err != nil {
		return ErrorResult(fmt.Sprintf("failed to delegate to %s: %v", bot, err))
	}
	return NewResult(fmt.Sprintf("delegated to %s, will report back in this room when done", bot))
}
