// Package invoke implements BotInvoker: one bot asynchronously handing a
// subtask to another and announcing the result back into the room that
// asked for it. Grounded on a prior background-job dispatch pattern,
// generalized from a single worker to a named bot running its own bounded
// AgentLoop.
package invoke

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/rooms"
)

// maxIterations bounds a delegated bot's tool-calling loop tighter than a
// normal turn.
const maxIterations = 10

type invocation struct {
	roomID string
	cancel context.CancelFunc
}

// BotInvoker implements tools.Invoker.
type BotInvoker struct {
	Engine *agent.Engine
	Rooms *rooms.Manager
	Bus bus.Bus
	Leader string

	mu sync.Mutex
	seq int
	byID map[string]*invocation
}

// New builds a BotInvoker wired against the shared AgentLoop.
func New(engine *agent.Engine, roomsManager *rooms.Manager, b bus.Bus, leader string) *BotInvoker {
	return &BotInvoker{Engine: engine, Rooms: roomsManager, Bus: b, Leader: leader, byID: make(map[string]*invocation)}
}

// Invoke validates toBot, fires its delegated task in the background, and
// returns immediately.
func (inv *BotInvoker) Invoke(ctx context.Context, fromBot, toBot, task, originRoomID string) error {
	if toBot == inv.Leader {
		return fmt.Errorf("invoke: cannot delegate to the leader")
	}
	botSet, ok := inv.Engine.Bots[toBot]
	if !ok {
		return fmt.Errorf("invoke: unknown bot %q", toBot)
	}
	if _, ok := inv.Rooms.Get(originRoomID); !ok {
		return fmt.Errorf("invoke: unknown origin room %q", originRoomID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	id := inv.register(originRoomID, cancel)

	inv.Engine.Audit.Log("delegate.handoff", "", true, 0, originRoomID, "", map[string]any{
		"from": fromBot, "to": toBot, "task": task,
	})

	go inv.run(runCtx, id, fromBot, toBot, task, originRoomID, botSet)
	return nil
}

// run builds the delegate's system prompt, filters its tools, runs a
// narrow bounded loop on an isolated message list, then announces the
// outcome back to the origin room.
func (inv *BotInvoker) run(ctx context.Context, id, fromBot, toBot, task, originRoomID string, botSet *agent.BotSet) {
	defer inv.forget(id)

	room, ok := inv.Rooms.Get(originRoomID)
	if !ok {
		inv.Engine.Logger.Warn("invoke: origin room vanished before delegation ran", "room_id", originRoomID)
		return
	}

	memoryContext := inv.Engine.Memory.AssembleContext(room, inv.Engine.Context.MaxMemoryEvents)
	systemPrompt := inv.Engine.Context.SystemPrompt(botSet.Persona, room, memoryContext)
	systemPrompt += fmt.Sprintf("\n## Delegated Task\n\n%s asked you to handle this:\n\n%s\n\nWork the task, then give a short final summary.", fromBot, task)

	tier := inv.Engine.Router.DefaultTier
	pair := inv.Engine.Registry.Tier(tier)
	model := pair.Primary
	if model == "" {
		model = inv.Engine.Provider.DefaultModel()
	}

	messages := []providers.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: task},
	}

	start := time.Now()
	result, err := inv.Engine.RunConversation(ctx, originRoomID, botSet.Persona.RoleCard, botSet.ResolveTools(inv.Engine.ToolReg), model, pair.Secondary, messages, maxIterations)

	resultText := ""
	if err != nil {
		resultText = fmt.Sprintf("%s hit an error working on this task: %v", toBot, err)
		inv.Engine.Logger.Error("delegated task failed", "bot", toBot, "room_id", originRoomID, "error", err)
	} else {
		resultText = result.Content
	}

	inv.Engine.Audit.Log("delegate.complete", "", err == nil, time.Since(start).Milliseconds(), originRoomID, errText(err), map[string]any{
		"from": fromBot, "to": toBot,
	})

	originChannel, originChatID := originForRoom(room)
	announcement := fmt.Sprintf("@%s finished the task you delegated (%q):\n\n%s\n\nPlease summarize this for the user.", toBot, task, resultText)

	inv.Bus.PublishInbound(bus.MessageEnvelope{
		Channel: "system",
		ChatID: originChannel + ":" + originChatID,
		RoomID: originRoomID,
		SenderID: toBot,
		SenderRole: bus.RoleSystem,
		Content: announcement,
	})
}

// originForRoom resolves the (channel, chat_id) BotInvoker should route its
// completion announcement to: the room's first known channel mapping, or a
// cli fallback for rooms created without one, since the announcement still
// needs somewhere to go rather than being silently dropped.
func originForRoom(room *rooms.Room) (channel, chatID string) {
	if len(room.ChannelMappings) > 0 {
		cm := room.ChannelMappings[0]
		return cm.Channel, cm.ChatID
	}
	return "cli", room.ID
}

func (inv *BotInvoker) register(roomID string, cancel context.CancelFunc) string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.seq++
	id := fmt.Sprintf("inv-%d", inv.seq)
	inv.byID[id] = &invocation{roomID: roomID, cancel: cancel}
	return id
}

func (inv *BotInvoker) forget(id string) {
	inv.mu.Lock()
	delete(inv.byID, id)
	inv.mu.Unlock()
}

// CancelRoom cancels every in-flight delegation whose origin room is
// roomID, backing the /stop slash command.
func (inv *BotInvoker) CancelRoom(roomID string) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	n := 0
	for id, v := range inv.byID {
		if v.roomID == roomID {
			v.cancel()
			delete(inv.byID, id)
			n++
		}
	}
	return n
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
