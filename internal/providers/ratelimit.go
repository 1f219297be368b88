package providers

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider wraps a Provider with a token-bucket limiter shared
// across every model and tier that provider serves, so one room's burst of
// tool-calling iterations can't exhaust a shared API key's rate limit for
// every other room. Grounded on the teacher's per-provider config shape
// (one credential per provider, many rooms behind it), generalized here
// with x/time/rate rather than a hand-rolled bucket.
type RateLimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps p with a limiter allowing ratePerSecond steady-state
// requests and burst concurrent requests before blocking.
func NewRateLimited(p Provider, ratePerSecond float64, burst int) *RateLimitedProvider {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{Provider: p, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (p *RateLimitedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.Provider.Chat(ctx, req)
}

func (p *RateLimitedProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.Provider.ChatStream(ctx, req, onChunk)
}
