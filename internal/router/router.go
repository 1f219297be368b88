// Package router implements a layered model-tier classifier: a fast local
// heuristic, sticky-tier retention across a room's recent turns, an
// optional LLM-assisted fallback, and a hard default. Grounded on a prior
// implementation's provider-selection heuristics in
// internal/agent/resolver.go, rebuilt around the Tier/Registry types in
// internal/providers instead of a single-agent model field.
package router

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/providers"
)

// Classifier assigns a Tier to a short piece of text with a confidence in
// [0, 1], used by the LLM-assisted fallback stage.
type Classifier interface {
	Classify(ctx context.Context, text string) (providers.Tier, float64, error)
}

// Router implements the decision chain:
// 1. local heuristic classification with a confidence score
// 2. if confidence >= MinConfidence, use it
// 3. else if a room has a sticky tier from recent turns and local confidence
// doesn't clear DowngradeConfidence, keep the sticky tier
// 4. else, if an LLM classifier is configured, try it with a bounded
// timeout; if that call fails, fall back to DefaultTier
// 5. else keep the local heuristic's tier
//
// Failure at any stage is never fatal: the chain always terminates in a
// valid Tier.
type Router struct {
	MinConfidence float64
	DowngradeConfidence float64
	StickyWindow int
	DefaultTier providers.Tier
	ClassifierTimeout time.Duration
	LLM Classifier
	Logger *slog.Logger

	mu sync.Mutex
	sticky map[string]stickyState // keyed by room ID
}

type stickyState struct {
	tier providers.Tier
	turnsLeft int
}

// New builds a Router. llm may be nil, disabling the LLM-assisted stage.
func New(minConfidence, downgradeConfidence float64, stickyWindow int, defaultTier providers.Tier, classifierTimeout time.Duration, llm Classifier, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTier == "" {
		defaultTier = providers.TierMedium
	}
	return &Router{
		MinConfidence: minConfidence,
		DowngradeConfidence: downgradeConfidence,
		StickyWindow: stickyWindow,
		DefaultTier: defaultTier,
		ClassifierTimeout: classifierTimeout,
		LLM: llm,
		Logger: logger,
		sticky: make(map[string]stickyState),
	}
}

// Route classifies text for roomID, applying sticky retention and the
// bounded LLM fallback.
func (r *Router) Route(ctx context.Context, roomID, text string) providers.Tier {
	tier, confidence := localClassify(text)

	if confidence >= r.MinConfidence {
		r.setSticky(roomID, tier)
		return tier
	}

	if sticky, ok := r.getSticky(roomID); ok && confidence < r.DowngradeConfidence {
		return sticky
	}

	if r.LLM != nil {
		timeout := r.ClassifierTimeout
		if timeout <= 0 {
			timeout = 500 * time.Millisecond
		}
		llmCtx, cancel := context.WithTimeout(ctx, timeout)
		llmTier, llmConfidence, err := r.LLM.Classify(llmCtx, text)
		cancel()
		if err == nil && llmConfidence >= r.MinConfidence && providers.IsValidTier(llmTier) {
			r.setSticky(roomID, llmTier)
			return llmTier
		}
		if err != nil {
			r.Logger.Debug("router: llm classifier failed, falling back to default tier", "error", err)
			return r.DefaultTier
		}
	}

	if tier != "" {
		r.setSticky(roomID, tier)
		return tier
	}
	return r.DefaultTier
}

func (r *Router) setSticky(roomID string, tier providers.Tier) {
	if r.StickyWindow <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sticky[roomID] = stickyState{tier: tier, turnsLeft: r.StickyWindow}
}

func (r *Router) getSticky(roomID string) (providers.Tier, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sticky[roomID]
	if !ok || s.turnsLeft <= 0 {
		return "", false
	}
	s.turnsLeft--
	r.sticky[roomID] = s
	return s.tier, true
}

var (
	codingPattern = regexp.MustCompile(`(?i)\b(function|class|bug|stack trace|compile|refactor|unit test|regex|exception|goroutine|sql query|diff|pull request)\b`)
	reasoningPattern = regexp.MustCompile(`(?i)\b(prove|step by step|derive|optimi[sz]e|trade-?off|architecture|design doc|why does)\b`)
	complexPattern = regexp.MustCompile(`(?i)\b(plan|strategy|multi-step|compare|evaluate options|long-term)\b`)
)

// localClassify is the fast, dependency-free first stage. It returns a
// tier and a rough confidence based on keyword density and message length,
// never an error — its whole purpose is to be cheap and always available.
func localClassify(text string) (providers.Tier, float64) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return providers.TierSimple, 0.95
	}

	words := len(strings.Fields(trimmed))

	switch {
	case codingPattern.MatchString(trimmed):
		return providers.TierCoding, 0.9
	case reasoningPattern.MatchString(trimmed):
		return providers.TierReasoning, 0.88
	case complexPattern.MatchString(trimmed) || words > 120:
		return providers.TierComplex, 0.82
	case words <= 12:
		return providers.TierSimple, 0.9
	default:
		return providers.TierMedium, 0.7
	}
}
