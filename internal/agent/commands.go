package agent

import (
	"fmt"
	"strings"

	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/sessions"
)

const helpText = `Available commands:
/new - start a fresh conversation in this room (room state and tasks are kept)
/help - show this message
/stop - cancel in-progress work and block in-flight tasks in this room`

// handleSlashCommand resolves /new, /help and /stop locally, before a
// message ever reaches the model.
func (e *Engine) handleSlashCommand(env bus.MessageEnvelope) (bus.MessageEnvelope, bool) {
	cmd := strings.ToLower(strings.TrimSpace(env.Content))
	if env.RoomID == "" {
		if roomID, ok := e.Rooms.GetRoomForChannel(env.Channel, env.ChatID); ok {
			env.RoomID = roomID
		}
	}

	switch cmd {
	case "/new":
		if env.RoomID != "" {
			e.Sessions.Reset(sessions.Key(env.RoomID))
		}
		return e.reply(env, "Started a fresh conversation. Room history and tasks are unchanged.", nil), true

	case "/help":
		return e.reply(env, helpText, nil), true

	case "/stop":
		if env.RoomID == "" {
			return e.reply(env, "Nothing to stop here yet.", nil), true
		}
		blocked, err := e.Rooms.BlockAllInProgress(env.RoomID)
		if err != nil {
			e.Logger.Warn("failed to block in-progress tasks on /stop", "room_id", env.RoomID, "error", err)
		}
		cancelled := 0
		if canceller, ok := e.Dispatch.(RoomCanceller); ok {
			cancelled = canceller.CancelRoom(env.RoomID)
		}
		return e.reply(env, fmt.Sprintf("Stopped. %d invocation(s) cancelled, %d task(s) blocked.", cancelled, blocked), map[string]any{
			"cancelled_invocations": cancelled,
			"blocked_tasks": blocked,
		}), true

	default:
		return bus.MessageEnvelope{}, false
	}
}
