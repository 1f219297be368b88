package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/identity"
	"github.com/parleyhq/parley/internal/memory"
	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/rooms"
	"github.com/parleyhq/parley/internal/router"
	"github.com/parleyhq/parley/internal/secrets"
	"github.com/parleyhq/parley/internal/sessions"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/internal/tracing"
)

// onboardingMessage answers any message when no provider has a usable
// credential yet.
const onboardingMessage = "I don't have a working model provider configured yet. Add a provider API key to get started, then say hello again."

// iterationLimitMessage is the reply sent when a conversation exhausts its
// bounded tool-calling budget without the model producing a final answer.
const iterationLimitMessage = "I've hit my step limit working on this — here's where things stand; ask me to continue if you'd like me to keep going."

const emptyReplyFallback = "..."

// Dispatcher is the narrow interface the loop needs from BotDispatch and
// MultiBotGenerator. Kept as an interface, not a direct import of
// internal/dispatch, since dispatch itself drives bots through Engine's
// RunConversation — importing the concrete type both ways would cycle.
type Dispatcher interface {
	// Handle fully processes env when dispatch decides more than one bot (or
	// a non-default bot) must answer, returning the combined outbound
	// envelope. ok is false when env should fall through to the default
	// single-bot loop instead.
	Handle(ctx context.Context, env bus.MessageEnvelope, room *rooms.Room) (bus.MessageEnvelope, bool)
}

// RoomCanceller is an optional capability a Dispatcher may also implement,
// used by the /stop slash command to cancel in-flight bot invocations.
type RoomCanceller interface {
	CancelRoom(roomID string) int
}

// RoutineObserver lets a routine scheduler track each heartbeat tick's
// outcome for its own success-rate bookkeeping, without the loop importing
// the scheduler package directly.
type RoutineObserver interface {
	RecordTickResult(bot, name string, success bool)
}

// BotSet is everything the loop needs to run one bot's turn: its persona and
// the tools it may call. Extra holds tools fixed to this bot at construction
// (message, room_task, memory, invoke, routine) that aren't governed by the
// shared registry's allow/deny filtering.
type BotSet struct {
	Persona *identity.Persona
	Extra []tools.Tool
}

// ResolveTools recomputes this bot's full tool list against reg, so a tool
// an MCP connect registers mid-session becomes callable on the bot's very
// next turn without restarting the process.
func (b *BotSet) ResolveTools(reg *tools.Registry) []tools.Tool {
	out := reg.ForBot(b.Persona.Permissions)
	return append(out, b.Extra...)
}

// Engine is the per-process AgentLoop: it owns every shared collaborator
// and is invoked once per inbound envelope, after a room's broker has
// serialized it onto that room's single goroutine. Grounded on a prior
// internal/agent Engine/conversation-loop split, generalized
// from one fixed agent identity to many named bots sharing rooms.
type Engine struct {
	Config *config.Config
	Rooms *rooms.Manager
	Sessions *sessions.Manager
	Compactor *sessions.Compactor
	Memory *memory.Facade
	Router *router.Router
	Provider providers.Provider
	Registry *providers.Registry
	ToolReg *tools.Registry
	Secrets *secrets.Manager
	Audit *secrets.AuditLog
	Vault *secrets.KeyVault
	Bus bus.Bus
	Context *ContextBuilder
	Bots map[string]*BotSet
	Leader string
	Dispatch Dispatcher // nil disables multi-bot dispatch; every turn uses the primary bot
	RoutineObserver RoutineObserver // nil if no routine scheduler is wired
	Tracer tracing.Tracer // set by New; a no-op provider if telemetry is disabled
	Logger *slog.Logger
}

// ConversationResult is what RunConversation returns once the bounded
// tool-calling loop terminates.
type ConversationResult struct {
	Content string
	Iterations int
	ToolCalls int
	SentMessage bool // true if the "message" tool fired during this run
	Usage providers.Usage
	HitIterationLimit bool
	PromptMessageCount int // length of the message list sent on the final provider call
}

// GenerateReply runs one bot's full turn in room against userContent,
// without touching session or room-memory state: callers own persistence,
// since MultiBotGenerator runs several bots against the same shared room
// session and session writes must land as one exchange rather than one pair
// per bot.
func (e *Engine) GenerateReply(ctx context.Context, room *rooms.Room, botName, userContent string, skipClassification bool) (*ConversationResult, providers.Tier, string, error) {
	botSet, ok := e.Bots[botName]
	if !ok {
		return nil, "", "", fmt.Errorf("agent: unknown bot %q", botName)
	}

	sessionKey := sessions.Key(room.ID)
	memoryContext := e.Memory.AssembleContext(room, e.Context.MaxMemoryEvents)

	tier := e.Router.DefaultTier
	if !skipClassification {
		tier = e.Router.Route(ctx, room.ID, userContent)
	}
	pair := e.Registry.Tier(tier)
	model := pair.Primary
	if model == "" {
		model = e.Provider.DefaultModel()
	}

	systemPrompt := e.Context.SystemPrompt(botSet.Persona, room, memoryContext)
	history := e.Sessions.GetHistory(sessionKey)
	summary := e.Sessions.GetSummary(sessionKey)
	messages := e.Context.Messages(systemPrompt, summary, history, userContent)

	result, err := e.RunConversation(ctx, room.ID, botSet.Persona.RoleCard, botSet.ResolveTools(e.ToolReg), model, pair.Secondary, messages, e.Config.Gateway.MaxIterations)
	if err != nil {
		return nil, tier, model, err
	}
	result.Content = SanitizeAssistantContent(result.Content)
	result.PromptMessageCount = len(messages)
	return result, tier, model, nil
}

// RunConversation drives the bounded iterative provider<->tool loop,
// reusable at a narrower max_iterations by BotInvoker and by
// MultiBotGenerator's per-bot calls. roleCard gates each tool call against
// the bot's hard bans before dispatch.
func (e *Engine) RunConversation(ctx context.Context, roomID string, roleCard identity.RoleCard, botTools []tools.Tool, model, secondaryModel string, messages []providers.Message, maxIterations int) (*ConversationResult, error) {
	if maxIterations <= 0 {
		maxIterations = 20
	}
	defs := tools.ProviderDefs(botTools)
	allowed := make(map[string]bool, len(botTools))
	for _, t := range botTools {
		allowed[t.Name()] = true
	}
	result := &ConversationResult{}

	current := model
	for iter := 0; iter < maxIterations; iter++ {
		result.Iterations++
		req := providers.ChatRequest{Messages: messages, Tools: defs, Model: current}

		callCtx, finishSpan := e.tracer().StartProviderCall(ctx, e.Provider.Name(), current, iter)
		resp, err := e.Provider.Chat(callCtx, req)
		if err != nil && current == model && secondaryModel != "" && secondaryModel != model {
			e.Logger.Warn("primary model failed, retrying once with secondary", "room_id", roomID, "model", model, "error", err)
			current = secondaryModel
			req.Model = current
			resp, err = e.Provider.Chat(callCtx, req)
		}
		finishSpan(err)
		if err != nil {
			return nil, fmt.Errorf("agent: provider call failed: %w", err)
		}

		if resp.Usage != nil {
			result.Usage.PromptTokens += resp.Usage.PromptTokens
			result.Usage.CompletionTokens += resp.Usage.CompletionTokens
			result.Usage.TotalTokens += resp.Usage.TotalTokens
		}

		if len(resp.ToolCalls) == 0 {
			result.Content = resp.Content
			return result, nil
		}

		messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, call := range resp.ToolCalls {
			result.ToolCalls++
			var toolResult *tools.Result
			start := time.Now()
			if !allowed[call.Name] {
				toolResult = tools.ErrorResult(fmt.Sprintf("tool %q is not permitted for this bot", call.Name))
			} else if violated, ban := roleCard.ViolatesHardBan(hardBanActionText(call.Name, call.Arguments)); violated {
				toolResult = tools.ErrorResult(fmt.Sprintf("refused: this action conflicts with a hard ban (%q)", ban))
			} else {
				toolCtx, finishToolSpan := e.tracer().StartToolCall(ctx, call.Name)
				args := e.resolveToolArgs(call.Arguments)
				toolResult = e.ToolReg.Execute(toolCtx, call.Name, args)
				var toolErr error
				if toolResult.IsError {
					toolErr = fmt.Errorf("%s", toolResult.ForLLM)
				}
				finishToolSpan(toolErr)
			}
			e.Audit.LogToolExecution(call.Name, auditKeyRef(call.Arguments), !toolResult.IsError, time.Since(start), roomID, toolErrorText(toolResult))
			if call.Name == "message" && !toolResult.IsError {
				result.SentMessage = true
			}
			messages = append(messages, providers.Message{Role: "tool", Content: toolResult.ForLLM, ToolCallID: call.ID})
		}
	}

	result.HitIterationLimit = true
	result.Content = iterationLimitMessage
	return result, nil
}

// resolveToolArgs resolves any symbolic secret references in args to their
// concrete values, scoped to this single tool call. Unresolvable refs are passed through unchanged so the tool itself
// can surface a clear error to the LLM.
func (e *Engine) resolveToolArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && e.Vault.IsSymbolicRef(s) {
			if secret, err := e.Vault.GetForExecution(s); err == nil {
				out[k] = secret
				continue
			}
		}
		out[k] = v
	}
	return out
}

// auditKeyRef returns the symbolic ref (if any) among a tool call's original
// arguments, for the audit log's key_ref column.
func auditKeyRef(args map[string]interface{}) string {
	for _, v := range args {
		if s, ok := v.(string); ok && secrets.IsSymbolicRef(s) {
			return s
		}
	}
	return ""
}

func toolErrorText(r *tools.Result) string {
	if r.IsError {
		return r.ForLLM
	}
	return ""
}

// hardBanActionText renders a tool call as the plain-text action description
// RoleCard.ViolatesHardBan matches its bans against: the tool name followed
// by each argument value, space-separated.
func hardBanActionText(name string, args map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(name)
	for _, v := range args {
		if s, ok := v.(string); ok {
			b.WriteByte(' ')
			b.WriteString(s)
		}
	}
	return b.String()
}

// ProcessInbound implements the full process_inbound(env)
// sequence for one envelope already assigned a room ID by its broker.
func (e *Engine) ProcessInbound(ctx context.Context, env bus.MessageEnvelope) bus.MessageEnvelope {
	if env.Channel == "system" {
		return e.processSystemAnnouncement(ctx, env)
	}

	if !e.Config.HasAnyProvider() {
		return e.reply(env, onboardingMessage, nil)
	}

	if out, handled := e.handleSlashCommand(env); handled {
		return out
	}

	room, ok := e.Rooms.Get(env.RoomID)
	if !ok {
		var err error
		room, err = e.Rooms.GetOrCreateDefault(e.Leader)
		if err != nil {
			e.Logger.Error("failed to resolve default room", "error", err)
			return e.reply(env, "Something went wrong routing that message.", nil)
		}
		env.RoomID = room.ID
	}

	sessionKey := sessions.Key(room.ID)
	e.Sessions.MarkOnboarded(sessionKey) // chat onboarding is a data-model no-op here: no onboarding flow intercepts the turn

	if e.Dispatch != nil {
		if out, handled := e.Dispatch.Handle(ctx, env, room); handled {
			return out
		}
	}

	return e.runBotTurn(ctx, env, room, sessionKey, e.primaryBotFor(room), false)
}

// processSystemAnnouncement handles a synthetic envelope (routine tick,
// BotInvoker delivery) that skips the configuration gate, slash commands,
// onboarding and dispatch, and runs the same turn shape directly against
// the room it already names, routing the reply back to the origin
// channel/chat_id encoded in ChatID as "<channel>:<chat_id>". A routine
// tick names its own bot via the "routine_bot" metadata key instead of
// falling back to the room's default bot.
func (e *Engine) processSystemAnnouncement(ctx context.Context, env bus.MessageEnvelope) bus.MessageEnvelope {
	originChannel, originChatID, ok := strings.Cut(env.ChatID, ":")
	if !ok {
		originChannel, originChatID = env.Channel, env.ChatID
	}

	room, ok := e.Rooms.Get(env.RoomID)
	if !ok {
		e.Logger.Warn("system announcement for unknown room, dropping", "room_id", env.RoomID)
		return bus.MessageEnvelope{}
	}
	sessionKey := sessions.Key(room.ID)

	botName := env.MetaString("routine_bot")
	if botName == "" {
		botName = e.primaryBotFor(room)
	}

	out := e.runBotTurn(ctx, env, room, sessionKey, botName, true)
	if out.RoomID == "" {
		return out
	}
	out.Channel = originChannel
	out.ChatID = originChatID
	return out
}

// runBotTurn implements steps 6-14 for one bot answering in room.
// skipClassification forces the default tier instead of running the router,
// used for system announcements.
func (e *Engine) runBotTurn(ctx context.Context, env bus.MessageEnvelope, room *rooms.Room, sessionKey, botName string, skipClassification bool) bus.MessageEnvelope {
	ctx, finishTurn := e.tracer().StartTurn(ctx, env.TraceID, room.ID, botName)
	var turnErr error
	defer func() { finishTurn(turnErr) }()

	botSet, ok := e.Bots[botName]
	if !ok {
		return e.reply(env, fmt.Sprintf("no bot configured to answer in room %s", room.ID), nil)
	}

	content := env.Content
	if strings.TrimSpace(content) == "" {
		return e.reply(env, emptyReplyFallback, nil)
	}

	symbolic, err := e.Secrets.ToSymbolic(content, sessionKey)
	if err != nil {
		e.Logger.Warn("secret conversion failed, sanitizing original instead", "room_id", room.ID, "error", err)
		symbolic = content
	}
	symbolic = e.Secrets.SanitizeForTransit(symbolic)

	e.Memory.AppendEvent(room, "message", map[string]any{
		"direction": "inbound", "channel": env.Channel, "sender": env.SenderID, "content": symbolic,
	}, memory.CategoryConversation)

	if e.Compactor != nil && e.Compactor.ShouldCompact(sessionKey) {
		if cerr := e.Compactor.Compact(ctx, sessionKey); cerr != nil {
			e.Logger.Error("session compaction failed, continuing uncompacted", "room_id", room.ID, "error", cerr)
		}
	}

	routineName := env.MetaString("routine_name")

	result, tier, model, err := e.GenerateReply(ctx, room, botName, symbolic, skipClassification)
	if err != nil {
		turnErr = err
		e.Logger.Error("conversation failed", "room_id", room.ID, "bot", botName, "error", err)
		if routineName != "" && e.RoutineObserver != nil {
			e.RoutineObserver.RecordTickResult(botName, routineName, false)
		}
		return e.reply(env, "Something went wrong answering that — please try again.", nil)
	}
	if routineName != "" && e.RoutineObserver != nil {
		e.RoutineObserver.RecordTickResult(botName, routineName, !result.HitIterationLimit)
	}

	final := result.Content
	if final == "" && !result.SentMessage {
		final = emptyReplyFallback
	}
	sanitizedFinal := e.Secrets.SanitizeForTransit(final)

	e.Sessions.AddMessage(sessionKey, providers.Message{Role: "user", Content: symbolic})
	if !IsSilentReply(sanitizedFinal) {
		e.Sessions.AddMessage(sessionKey, providers.Message{Role: "assistant", Content: sanitizedFinal})
	}
	e.Sessions.UpdateMetadata(sessionKey, model, e.Provider.Name(), env.Channel)
	e.Sessions.AccumulateTokens(sessionKey, int64(result.Usage.PromptTokens), int64(result.Usage.CompletionTokens))
	e.Sessions.SetLastPromptTokens(sessionKey, result.Usage.PromptTokens, result.PromptMessageCount)
	if serr := e.Sessions.Save(sessionKey); serr != nil {
		e.Logger.Warn("failed to persist session, continuing with in-memory copy", "room_id", room.ID, "error", serr)
	}

	e.Memory.AppendEvent(room, "message", map[string]any{
		"direction": "outbound", "channel": env.Channel, "sender": botName, "content": sanitizedFinal,
	}, memory.CategoryConversation)
	if herr := e.Rooms.AppendHistory(room.ID, botName, sanitizedFinal); herr != nil {
		e.Logger.Warn("failed to append room history", "room_id", room.ID, "error", herr)
	}

	if result.SentMessage {
		// A tool already delivered the user-facing reply this turn; suppress
		// the duplicate auto-reply.
		return bus.MessageEnvelope{}
	}

	meta := map[string]any{
		"context_usage": map[string]any{
			"prompt_tokens": result.Usage.PromptTokens,
			"tier": string(tier),
			"iterations": result.Iterations,
		},
	}
	if result.HitIterationLimit {
		meta["iteration_limit_hit"] = true
	}
	return e.reply(env, sanitizedFinal, meta)
}

// AnswerAs runs botName's turn against env in room, for Dispatcher
// implementations that have already decided which single bot should answer.
func (e *Engine) AnswerAs(ctx context.Context, env bus.MessageEnvelope, room *rooms.Room, botName string) bus.MessageEnvelope {
	return e.runBotTurn(ctx, env, room, sessions.Key(room.ID), botName, false)
}

// PersistExchange records one (user, combined-assistant) exchange for a
// multi-bot turn. GenerateReply was split out of
// runBotTurn specifically so a Dispatcher can call it once per bot and then
// call PersistExchange exactly once for the whole turn, since every bot in a
// room shares the one session keyed by room ID.
func (e *Engine) PersistExchange(room *rooms.Room, env bus.MessageEnvelope, userContent, combinedReply, model, botName string, usage providers.Usage) {
	sessionKey := sessions.Key(room.ID)
	e.Sessions.AddMessage(sessionKey, providers.Message{Role: "user", Content: userContent})
	if !IsSilentReply(combinedReply) {
		e.Sessions.AddMessage(sessionKey, providers.Message{Role: "assistant", Content: combinedReply})
	}
	e.Sessions.UpdateMetadata(sessionKey, model, e.Provider.Name(), env.Channel)
	e.Sessions.AccumulateTokens(sessionKey, int64(usage.PromptTokens), int64(usage.CompletionTokens))
	if serr := e.Sessions.Save(sessionKey); serr != nil {
		e.Logger.Warn("failed to persist session, continuing with in-memory copy", "room_id", room.ID, "error", serr)
	}
	e.Memory.AppendEvent(room, "message", map[string]any{
		"direction": "outbound", "channel": env.Channel, "sender": botName, "content": combinedReply,
	}, memory.CategoryConversation)
	if herr := e.Rooms.AppendHistory(room.ID, botName, combinedReply); herr != nil {
		e.Logger.Warn("failed to append room history", "room_id", room.ID, "error", herr)
	}
}

// PrepareInbound converts content to its symbolic form and applies transit
// sanitization, the same preprocessing runBotTurn applies before generation,
// exported so Dispatcher implementations apply it once per inbound message
// rather than duplicating it per bot.
func (e *Engine) PrepareInbound(content, sessionKey string) string {
	symbolic, err := e.Secrets.ToSymbolic(content, sessionKey)
	if err != nil {
		e.Logger.Warn("secret conversion failed, sanitizing original instead", "session_key", sessionKey, "error", err)
		symbolic = content
	}
	return e.Secrets.SanitizeForTransit(symbolic)
}

// primaryBotFor picks which bot answers by default in a room: the leader if
// present, else the room's first participant.
func (e *Engine) primaryBotFor(room *rooms.Room) string {
	if e.Leader != "" && room.HasParticipant(e.Leader) {
		return e.Leader
	}
	if len(room.Participants) > 0 {
		return room.Participants[0]
	}
	return e.Leader
}

// tracer returns e.Tracer, falling back to a no-op so an Engine built
// without explicit telemetry wiring (e.g. in tests) still works.
func (e *Engine) tracer() tracing.Tracer {
	if e.Tracer == nil {
		return tracing.Noop()
	}
	return e.Tracer
}

func (e *Engine) reply(env bus.MessageEnvelope, content string, metadata map[string]any) bus.MessageEnvelope {
	return bus.MessageEnvelope{
		Channel: env.Channel,
		ChatID: env.ChatID,
		RoomID: env.RoomID,
		SenderID: "assistant",
		SenderRole: bus.RoleAssistant,
		Content: content,
		Metadata: metadata,
	}
}
