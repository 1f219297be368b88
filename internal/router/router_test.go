package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/providers"
)

// ambiguousLong is long enough to miss the short-message heuristic (<=12
// words) and carries none of the coding/reasoning/complex keywords, so
// localClassify lands on TierMedium at confidence 0.7.
const ambiguousLong = "ok thanks that sounds fine let's go with whatever you think is best here"

func TestRouteLocalHeuristicHighConfidence(t *testing.T) {
	r := New(0.8, 0.75, 4, providers.TierMedium, 0, nil, nil)

	tier := r.Route(context.Background(), "room-1", "please refactor this function, there's a bug in the stack trace")
	if tier != providers.TierCoding {
		t.Fatalf("expected coding tier, got %s", tier)
	}
}

func TestRouteStickyRetentionAcrossTurns(t *testing.T) {
	r := New(0.8, 0.75, 2, providers.TierMedium, 0, nil, nil)

	if tier := r.Route(context.Background(), "room-1", "refactor this function, it has a bug"); tier != providers.TierCoding {
		t.Fatalf("setup: expected coding, got %s", tier)
	}

	// The ambiguous follow-up classifies locally at confidence 0.7, below
	// both MinConfidence and DowngradeConfidence, so the sticky tier holds.
	tier := r.Route(context.Background(), "room-1", ambiguousLong)
	if tier != providers.TierCoding {
		t.Fatalf("expected sticky coding tier to hold, got %s", tier)
	}
}

func TestRouteStickyWindowExpires(t *testing.T) {
	r := New(0.8, 0.75, 1, providers.TierMedium, 0, nil, nil)

	r.Route(context.Background(), "room-1", "refactor this function, it has a bug")
	r.Route(context.Background(), "room-1", ambiguousLong) // consumes the one sticky turn

	tier := r.Route(context.Background(), "room-1", ambiguousLong)
	if tier == providers.TierCoding {
		t.Fatalf("expected sticky tier to have expired")
	}
}

type fakeClassifier struct {
	tier providers.Tier
	confidence float64
	err error
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (providers.Tier, float64, error) {
	return f.tier, f.confidence, f.err
}

func TestRouteLLMFallbackUsedWhenLocalUnconfident(t *testing.T) {
	llm := &fakeClassifier{tier: providers.TierReasoning, confidence: 0.95}
	r := New(0.8, 0.75, 4, providers.TierMedium, 50*time.Millisecond, llm, nil)

	tier := r.Route(context.Background(), "room-2", ambiguousLong)
	if tier != providers.TierReasoning {
		t.Fatalf("expected llm-classified reasoning tier, got %s", tier)
	}
}

func TestRouteLLMFailureFallsBackToDefaultTier(t *testing.T) {
	llm := &fakeClassifier{err: errors.New("provider unavailable")}
	r := New(0.8, 0.75, 4, providers.TierMedium, 50*time.Millisecond, llm, nil)

	// With no sticky state and a failed LLM call, Route falls back to
	// DefaultTier.
	tier := r.Route(context.Background(), "room-3", ambiguousLong)
	if tier != providers.TierMedium {
		t.Fatalf("expected fallback to the default tier, got %s", tier)
	}
}

func TestRouteEmptyTextIsSimple(t *testing.T) {
	r := New(0.8, 0.75, 4, providers.TierMedium, 0, nil, nil)
	if tier := r.Route(context.Background(), "room-4", "   "); tier != providers.TierSimple {
		t.Fatalf("expected simple tier for blank text, got %s", tier)
	}
}
