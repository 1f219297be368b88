package dispatch

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/identity"
	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/rooms"
	"github.com/parleyhq/parley/internal/sessions"
)

// multiBotErrorPlaceholder substitutes for one bot's response when its
// provider call fails, so a single bot's outage doesn't sink the whole
// combined reply.
const multiBotErrorPlaceholder = "(couldn't get a response in time)"

// botReply is one bot's contribution to a combined multi-bot reply.
type botReply struct {
	bot string
	content string
	usage providers.Usage
	model string
}

// MultiBotGenerator runs N bots in parallel against one inbound message and
// combines their answers into a single labeled reply. Grounded on a prior
// worker-pool fan-out pattern, generalized from homogeneous workers to
// named bots with distinct personas.
type MultiBotGenerator struct {
	Engine *agent.Engine
	TeamStyle string
}

// Run executes bots in parallel against env in room and returns the combined
// outbound envelope. crewMode tightens each bot's per-call instructions to a
// terser, cross-reference-aware crew-context style; both modes otherwise
// share the same fan-out/combine/persist shape.
func (g *MultiBotGenerator) Run(ctx context.Context, env bus.MessageEnvelope, room *rooms.Room, bots []string, crewMode bool) (bus.MessageEnvelope, error) {
	sessionKey := sessions.Key(room.ID)
	symbolic := g.Engine.PrepareInbound(env.Content, sessionKey)

	prompt := symbolic
	if crewMode {
		prompt = symbolic + "\n\n(Answer briefly — 2 to 3 sentences, and note how this connects to your teammates' work.)"
	} else {
		prompt = symbolic + "\n\n(Several teammates are answering together here — keep your reply to 2 or 3 sentences.)"
	}

	replies := make([]botReply, len(bots))
	group, gctx := errgroup.WithContext(ctx)
	for i, botName := range bots {
		i, botName := i, botName
		group.Go(func() error {
			result, _, model, err := g.Engine.GenerateReply(gctx, room, botName, prompt, true)
			if err != nil {
				g.Engine.Logger.Warn("multi-bot generation failed for bot", "room_id", room.ID, "bot", botName, "error", err)
				replies[i] = botReply{bot: botName, content: multiBotErrorPlaceholder}
				return nil
			}
			replies[i] = botReply{bot: botName, content: result.Content, usage: result.Usage, model: model}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return bus.MessageEnvelope{}, fmt.Errorf("dispatch: multi-bot fan-out: %w", err)
	}

	combined, total, lastModel := g.combine(replies, bots)

	g.Engine.PersistExchange(room, env, symbolic, combined, lastModel, bots[0], total)

	return bus.MessageEnvelope{
		Channel: env.Channel,
		ChatID: env.ChatID,
		RoomID: env.RoomID,
		SenderID: "assistant",
		SenderRole: bus.RoleAssistant,
		Content: combined,
		Metadata: map[string]any{
			"multi_bot": true,
			"mode": "multi_bot",
			"responding_bots": bots,
		},
	}, nil
}

// combine formats each bot's reply as a labeled block with an optional
// cross-reference prefix, deterministically choosing which replies get a
// cross-reference and which teammate they point at from each reply's
// position, since this package avoids importing math/rand for the same
// reason identity.CrossReferenceLine does.
func (g *MultiBotGenerator) combine(replies []botReply, bots []string) (string, providers.Usage, string) {
	var sb strings.Builder
	var total providers.Usage
	lastModel := ""

	for i, r := range replies {
		total.PromptTokens += r.usage.PromptTokens
		total.CompletionTokens += r.usage.CompletionTokens
		total.TotalTokens += r.usage.TotalTokens
		if r.model != "" {
			lastModel = r.model
		}

		content := r.content
		if shouldCrossReference(i) && len(bots) > 1 {
			other := bots[(i+1)%len(bots)]
			if other == r.bot {
				other = bots[(i+2)%len(bots)]
			}
			line := identity.CrossReferenceLine(g.TeamStyle, other, i)
			content = line + " " + content
		}

		emoji := identity.EmojiFor(g.TeamStyle)
		fmt.Fprintf(&sb, "%s @%s: %s\n\n", emoji, r.bot, content)
	}
	return strings.TrimSpace(sb.String()), total, lastModel
}

// shouldCrossReference deterministically approximates a ~0.4 cross-reference
// injection rate: 2 out of every 5 reply positions get one, namely the
// first two of each group of five (positions 0, 1, 5, 6, ...).
func shouldCrossReference(index int) bool {
	return index%5 < 2
}
