package sessions

import (
	"context"
	"strings"

	"github.com/parleyhq/parley/internal/providers"
)

// CompactionMode selects how a Session is trimmed once it grows large
//.
type CompactionMode string

const (
	// CompactionOff never compacts; the session grows until the provider
	// itself rejects the request.
	CompactionOff CompactionMode = "off"
	// CompactionSummary replaces the oldest messages with an LLM-written
	// running summary.
	CompactionSummary CompactionMode = "summary"
	// CompactionTokenLimit truncates the oldest messages once the last
	// observed prompt token count crosses a configured threshold.
	CompactionTokenLimit CompactionMode = "token_limit"
)

// Summarizer produces a natural-language summary of a message run, normally
// backed by an LLM call through a router.Tier classification. It is an
// interface so the Compactor never imports the provider/router stack
// directly, avoiding an import cycle.
type Summarizer interface {
	Summarize(ctx context.Context, previousSummary string, messages []providers.Message) (string, error)
}

// Compactor decides when and how to shrink a Session's history, preserving
// the safe-boundary invariant: a tool_use message is never separated from
// its tool_result without both moving together.
type Compactor struct {
	manager *Manager
	summarizer Summarizer
	mode CompactionMode
	keepLastOnTrim int
	tokenThreshold int
}

// NewCompactor builds a Compactor. summarizer may be nil when mode is not
// CompactionSummary.
func NewCompactor(manager *Manager, summarizer Summarizer, mode CompactionMode, keepLastOnTrim, tokenThreshold int) *Compactor {
	if keepLastOnTrim <= 0 {
		keepLastOnTrim = 20
	}
	if tokenThreshold <= 0 {
		tokenThreshold = 100_000
	}
	return &Compactor{
		manager: manager,
		summarizer: summarizer,
		mode: mode,
		keepLastOnTrim: keepLastOnTrim,
		tokenThreshold: tokenThreshold,
	}
}

// ShouldCompact reports whether a session's last observed prompt token
// count (or message count, if tokens were never recorded) warrants
// compaction.
func (c *Compactor) ShouldCompact(key string) bool {
	if c.mode == CompactionOff {
		return false
	}
	tokens, msgCount := c.manager.GetLastPromptTokens(key)
	if tokens > 0 {
		return tokens >= c.tokenThreshold
	}
	return msgCount >= c.keepLastOnTrim*3
}

// Compact shrinks a session's history in place according to the configured
// mode, then bumps the compaction counter. It is a no-op for
// CompactionOff.
func (c *Compactor) Compact(ctx context.Context, key string) error {
	switch c.mode {
	case CompactionOff:
		return nil
	case CompactionTokenLimit:
		c.manager.TruncateHistory(key, safeBoundary(c.manager.GetHistory(key), c.keepLastOnTrim))
		c.manager.IncrementCompaction(key)
		return nil
	case CompactionSummary:
		return c.compactWithSummary(ctx, key)
	default:
		return nil
	}
}

func (c *Compactor) compactWithSummary(ctx context.Context, key string) error {
	history := c.manager.GetHistory(key)
	if len(history) <= c.keepLastOnTrim {
		return nil
	}

	keep := safeBoundary(history, c.keepLastOnTrim)
	toSummarize := history[:len(history)-keep]
	if len(toSummarize) == 0 {
		return nil
	}

	previous := c.manager.GetSummary(key)
	var summary string
	var err error
	if c.summarizer != nil {
		summary, err = c.summarizer.Summarize(ctx, previous, toSummarize)
	}
	if err != nil || c.summarizer == nil {
		// Extractive fallback: no LLM available or the call failed, so
		// preserve a rough record rather than silently dropping the range.
		summary = extractiveSummary(previous, toSummarize)
	}

	c.manager.SetSummary(key, summary)
	c.manager.TruncateHistory(key, keep)
	c.manager.IncrementCompaction(key)
	return nil
}

// safeBoundary returns the number of trailing messages to keep such that a
// tool_use/tool_result pair is never split: it walks backward from
// wanted and extends the window leftward until it lands on a message that
// is not a dangling tool result waiting on a prior tool_use.
func safeBoundary(history []providers.Message, wanted int) int {
	if wanted >= len(history) {
		return len(history)
	}
	cut := len(history) - wanted
	for cut > 0 && isToolResult(history[cut]) {
		cut--
	}
	return len(history) - cut
}

func isToolResult(msg providers.Message) bool {
	return strings.EqualFold(msg.Role, "tool")
}

// extractiveSummary builds a deterministic, non-LLM fallback summary by
// concatenating a truncated preview of each summarized message.
func extractiveSummary(previous string, messages []providers.Message) string {
	var b strings.Builder
	if previous != "" {
		b.WriteString(previous)
		b.WriteString("\n")
	}
	b.WriteString("Earlier in this conversation:\n")
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if len(content) > 160 {
			content = content[:160] + "…"
		}
		b.WriteString("- ")
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String()
}
