package sessions

import (
	"context"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/internal/providers"
)

// summarizePrompt instructs the model to produce a compact running summary
// suitable for replacing the messages it describes in a future prompt.
const summarizePrompt = "Summarize the conversation so far in a few dense sentences, preserving names, decisions, and open tasks. Fold in the previous summary if one is given rather than repeating it verbatim."

// LLMSummarizer implements Compactor's Summarizer by asking a provider for
// a plain-text summary on a single, tool-free call. Grounded on the same
// Provider.Chat surface the AgentLoop itself drives, at a fixed low-cost
// tier rather than whatever tier the conversation was routed to.
type LLMSummarizer struct {
	Provider providers.Provider
	Model    string
}

// NewLLMSummarizer builds a Summarizer bound to provider and model.
func NewLLMSummarizer(provider providers.Provider, model string) *LLMSummarizer {
	return &LLMSummarizer{Provider: provider, Model: model}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, previousSummary string, messages []providers.Message) (string, error) {
	var transcript strings.Builder
	if previousSummary != "" {
		fmt.Fprintf(&transcript, "Previous summary:\n%s\n\n", previousSummary)
	}
	transcript.WriteString("Messages to fold in:\n")
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := s.Provider.Chat(ctx, providers.ChatRequest{
		Model: s.Model,
		Messages: []providers.Message{
			{Role: "system", Content: summarizePrompt},
			{Role: "user", Content: transcript.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("sessions: summarize call failed: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
