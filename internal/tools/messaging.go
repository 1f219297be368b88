package tools

import (
	"context"
	"fmt"

	"github.com/parleyhq/parley/internal/bus"
)

// MessageTool publishes an outbound envelope back through the bus,
// letting a bot send a message into its own room on demand rather than
// only as the final reply of a turn.
type MessageTool struct {
	Bus bus.Bus
	Sender string // bot name sending the message
}

func (t *MessageTool) Name() string { return "message" }
func (t *MessageTool) Description() string { return "Send a message into the current room without ending your turn." }
func (t *MessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"room_id": map[string]interface{}{"type": "string", "description": "Target room ID."},
			"text": map[string]interface{}{"type": "string", "description": "Message text."},
		},
		"required": []string{"room_id", "text"},
	}
}

func (t *MessageTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	roomID, _ := args["room_id"].(string)
	text, _ := args["text"].(string)
	if roomID == "" || text == "" {
		return ErrorResult("room_id and text are required")
	}
	env := bus.MessageEnvelope{
		RoomID: roomID,
		Channel: "system",
		SenderRole: bus.RoleAssistant,
		SenderID: t.Sender,
		Content: text,
	}
	t.Bus.PublishOutbound(env)
	return SilentResult(fmt.Sprintf("message sent to room %s", roomID))
}
