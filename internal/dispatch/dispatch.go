// Package dispatch decides which bot or bots answer an inbound message and
// drives multi-bot fan-out, so the AgentLoop itself stays a single-bot
// primitive. Grounded on a prior internal/agent command-routing split,
// generalized from one agent identity to a participant list per room.
package dispatch

import (
	"context"
	"regexp"
	"strings"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/identity"
	"github.com/parleyhq/parley/internal/rooms"
)

// Target is one of the four dispatch outcomes a room can route to.
type Target string

const (
	TargetDirectBot Target = "DIRECT_BOT"
	TargetMultiBot Target = "MULTI_BOT"
	TargetCrewContext Target = "CREW_CONTEXT"
	TargetLeaderFirst Target = "LEADER_FIRST"
)

// Decision is the outcome of routing one inbound message to a bot or bots.
type Decision struct {
	Target Target
	PrimaryBot string
	SecondaryBots []string
	Reason string
}

var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)

// ExtractMentions returns the lowercase @mentions in text, in first-seen
// order, deduplicated.
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// roomCreationPattern matches a small phrase family:
// "create/make/start/set up (a) (new) room/workspace/project [for] X".
var roomCreationPattern = regexp.MustCompile(`(?i)^(?:please\s+)?(?:create|make|start|set up)\s+(?:a\s+)?(?:new\s+)?(?:room|workspace|project)\s*(?:for|called|named)?\s*(.+)$`)

var projectKeywords = map[string]string{
	"web": "web", "website": "web", "frontend": "web", "backend": "web",
	"mobile": "mobile", "ios": "mobile", "android": "mobile",
	"research": "research", "analysis": "research",
	"audit": "audit", "security": "audit", "compliance": "audit",
	"marketing": "marketing", "campaign": "marketing",
	"social": "social", "community": "social",
	"content": "content", "writing": "content", "blog": "content",
}

// DetectRoomCreation recognizes room-creation intent in free text. ok is
// false when text doesn't match the phrase family at all.
func DetectRoomCreation(text string) (ok bool, roomName, projectType string) {
	m := roomCreationPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return false, "", ""
	}
	roomName = strings.Trim(strings.TrimSpace(m[1]), "\"'.!?")
	if roomName == "" {
		return false, "", ""
	}
	lower := strings.ToLower(roomName)
	projectType = "general"
	for kw, pt := range projectKeywords {
		if strings.Contains(lower, kw) {
			projectType = pt
			break
		}
	}
	return true, roomName, projectType
}

// SuggestBotsForProject returns the canonical initial participant set for a
// project type, falling back to just the leader for unrecognized types.
// Leader is always first and always included.
func SuggestBotsForProject(leader, projectType string) []string {
	suggestions := map[string][]string{
		"web": {"researcher", "coder", "reviewer"},
		"mobile": {"researcher", "coder", "reviewer"},
		"research": {"researcher", "writer"},
		"audit": {"researcher", "reviewer"},
		"marketing": {"writer", "researcher"},
		"social": {"writer"},
		"content": {"writer", "researcher"},
		"general": {"researcher"},
	}
	out := []string{leader}
	for _, name := range suggestions[projectType] {
		if name != leader {
			out = append(out, name)
		}
	}
	return out
}

// BotDispatch implements agent.Dispatcher: for each inbound envelope it
// decides whether the default single-bot AgentLoop suffices or whether
// multi-bot dispatch must run instead.
type BotDispatch struct {
	Engine *agent.Engine
	MultiBot *MultiBotGenerator
	TeamStyle string
	Leader string

	// Invoker, if set, backs CancelRoom for the /stop command.
	Invoker interface{ CancelRoom(roomID string) int }
}

// Handle implements agent.Dispatcher.
func (d *BotDispatch) Handle(ctx context.Context, env bus.MessageEnvelope, room *rooms.Room) (bus.MessageEnvelope, bool) {
	if ok, name, projectType := DetectRoomCreation(env.Content); ok {
		if out, handled := d.handleRoomCreation(env, name, projectType); handled {
			return out, true
		}
	}

	decision := d.decide(room, env.Content)
	switch decision.Target {
	case TargetDirectBot:
		if decision.PrimaryBot == "" || !d.knownBot(decision.PrimaryBot) {
			return bus.MessageEnvelope{}, false
		}
		return d.Engine.AnswerAs(ctx, env, room, decision.PrimaryBot), true

	case TargetMultiBot, TargetCrewContext:
		bots := append([]string{decision.PrimaryBot}, decision.SecondaryBots...)
		bots = dedupeKnown(d, bots)
		if len(bots) < 2 {
			return bus.MessageEnvelope{}, false
		}
		out, err := d.MultiBot.Run(ctx, env, room, bots, decision.Target == TargetCrewContext)
		if err != nil {
			d.Engine.Logger.Error("multi-bot dispatch failed", "room_id", room.ID, "error", err)
			return bus.MessageEnvelope{}, false
		}
		return out, true

	default: // LEADER_FIRST
		return bus.MessageEnvelope{}, false
	}
}

// CancelRoom implements agent.RoomCanceller by delegating to the configured
// invoker, if any.
func (d *BotDispatch) CancelRoom(roomID string) int {
	if d.Invoker == nil {
		return 0
	}
	return d.Invoker.CancelRoom(roomID)
}

func (d *BotDispatch) handleRoomCreation(env bus.MessageEnvelope, name, projectType string) (bus.MessageEnvelope, bool) {
	participants := SuggestBotsForProject(d.Leader, projectType)
	room, err := d.Engine.Rooms.CreateRoom(name, rooms.TypeProject, participants, true)
	if err != nil {
		d.Engine.Logger.Warn("room creation intent failed", "name", name, "error", err)
		return bus.MessageEnvelope{}, false
	}
	content := "Created room " + room.ID + " (" + room.Name + ") for a " + projectType + " project with " + strings.Join(participants, ", ") + "."
	return bus.MessageEnvelope{
		Channel: env.Channel,
		ChatID: env.ChatID,
		RoomID: env.RoomID,
		SenderID: "assistant",
		SenderRole: bus.RoleAssistant,
		Content: content,
		Metadata: map[string]any{"room_created": room.ID, "project_type": projectType},
	}, true
}

// decide applies the ordered dispatch rules: DM, then @all/@everyone, then
// @team/@crew, then explicit single/multi bot mentions, then the default
// leader-first fallthrough.
func (d *BotDispatch) decide(room *rooms.Room, text string) Decision {
	if room.Type == rooms.TypeDirect {
		return Decision{Target: TargetDirectBot, PrimaryBot: d.dmTarget(room), Reason: "direct message"}
	}

	mentions := ExtractMentions(text)
	for _, m := range mentions {
		if m == "all" || m == "everyone" {
			return Decision{Target: TargetMultiBot, PrimaryBot: d.Leader, SecondaryBots: otherParticipants(room, d.Leader), Reason: "@all mention"}
		}
	}
	for _, m := range mentions {
		if m == "team" || m == "crew" {
			return Decision{Target: TargetCrewContext, PrimaryBot: d.Leader, SecondaryBots: d.crewMatch(room, text), Reason: "@team mention"}
		}
	}

	botMentions := matchingParticipants(room, mentions)
	switch {
	case len(botMentions) == 1:
		return Decision{Target: TargetDirectBot, PrimaryBot: botMentions[0], Reason: "single bot mention"}
	case len(botMentions) > 1:
		return Decision{Target: TargetMultiBot, PrimaryBot: d.Leader, SecondaryBots: botMentions, Reason: "multiple bot mentions"}
	}

	return Decision{Target: TargetLeaderFirst, PrimaryBot: d.Leader, SecondaryBots: otherParticipants(room, d.Leader), Reason: "default"}
}

// dmTarget picks the non-leader participant to address in a direct-message
// room, ignoring any @mentions in the text; unknown DM shapes fall back to
// the leader.
func (d *BotDispatch) dmTarget(room *rooms.Room) string {
	for _, p := range room.Participants {
		if p != d.Leader && d.knownBot(p) {
			return p
		}
	}
	return d.Leader
}

// crewMatch picks non-leader bots whose RoleCard vocabulary best matches
// text, falling back to the first three non-leader participants.
func (d *BotDispatch) crewMatch(room *rooms.Room, text string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, p := range room.Participants {
		if p == d.Leader {
			continue
		}
		botSet, ok := d.Engine.Bots[p]
		if !ok {
			continue
		}
		if keywordsOverlap(lower, botSet.Persona.RoleCard) {
			matched = append(matched, p)
		}

	}
	if len(matched) > 0 {
		return matched
	}
	var fallback []string
	for _, p := range room.Participants {
		if p == d.Leader {
			continue
		}
		if len(fallback) == 3 {
			break
		}
		fallback = append(fallback, p)
	}
	return fallback
}

// keywordsOverlap reports whether any word drawn from a bot's RoleCard
// (its domain, declared inputs and outputs) appears in lowerText.
func keywordsOverlap(lowerText string, card identity.RoleCard) bool {
	for _, phrase := range append(append([]string{card.Domain}, card.Inputs...), card.Outputs...) {
		for _, word := range strings.Fields(strings.ToLower(phrase)) {
			word = strings.Trim(word, ".,;:()")
			if len(word) >= 4 && strings.Contains(lowerText, word) {
				return true
			}
		}
	}
	return false
}

func otherParticipants(room *rooms.Room, leader string) []string {
	var out []string
	for _, p := range room.Participants {
		if p != leader {
			out = append(out, p)
		}
	}
	return out
}

func matchingParticipants(room *rooms.Room, mentions []string) []string {
	wanted := make(map[string]bool, len(mentions))
	for _, m := range mentions {
		wanted[m] = true
	}
	var out []string
	for _, p := range room.Participants {
		if wanted[strings.ToLower(p)] {
			out = append(out, p)
		}
	}
	return out
}

func (d *BotDispatch) knownBot(name string) bool {
	_, ok := d.Engine.Bots[name]
	return ok
}

func dedupeKnown(d *BotDispatch, bots []string) []string {
	seen := make(map[string]bool, len(bots))
	var out []string
	for _, b := range bots {
		if b == "" || seen[b] || !d.knownBot(b) {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}
