package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/internal/providers"
)

// classifyPrompt asks the model to name exactly one tier for a message,
// used as the Router's confidence-gated fallback stage.
const classifyPrompt = `Classify the following user message into exactly one of these tiers, and reply with only the tier name on its own line:
simple - a greeting, a trivial factual lookup, or a one-line request
medium - a normal conversational request needing some reasoning
complex - a multi-step request needing planning or multiple tool calls
reasoning - a request needing careful analytical or mathematical reasoning
coding - a request to write, review, or debug code

Message:
%s`

// LLMClassifier implements Classifier against a Provider, used as the
// Router's confidence-gated fallback stage when the cheaper heuristic
// stages land below MinConfidence. Grounded on the same single-call
// Provider.Chat shape LLMSummarizer uses for compaction.
type LLMClassifier struct {
	Provider providers.Provider
	Model    string
}

// NewLLMClassifier builds a Classifier bound to provider and model.
func NewLLMClassifier(provider providers.Provider, model string) *LLMClassifier {
	return &LLMClassifier{Provider: provider, Model: model}
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) (providers.Tier, float64, error) {
	resp, err := c.Provider.Chat(ctx, providers.ChatRequest{
		Model: c.Model,
		Messages: []providers.Message{
			{Role: "user", Content: fmt.Sprintf(classifyPrompt, text)},
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("router: classify call failed: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Content))
	for _, tier := range providers.ValidTiers {
		if strings.Contains(answer, string(tier)) {
			return tier, 0.9, nil
		}
	}
	return providers.TierMedium, 0.5, nil
}
