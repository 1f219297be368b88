package providers

import (
	"fmt"
	"strings"
	"sync"
)

// Tier is one of the five routing buckets the Router classifies a message
// into. Each tier resolves to exactly one active model pair.
type Tier string

const (
	TierSimple Tier = "simple"
	TierMedium Tier = "medium"
	TierComplex Tier = "complex"
	TierReasoning Tier = "reasoning"
	TierCoding Tier = "coding"
)

// ValidTiers lists every tier the router is allowed to produce.
var ValidTiers = []Tier{TierSimple, TierMedium, TierComplex, TierReasoning, TierCoding}

// IsValidTier reports whether t is one of the five known tiers.
func IsValidTier(t Tier) bool {
	for _, v := range ValidTiers {
		if v == t {
			return true
		}
	}
	return false
}

// ModelPair is the primary/secondary model configured for one tier.
type ModelPair struct {
	Primary string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
	CostPerMTok float64 `json:"cost_per_mtok,omitempty"`
}

// ModelOverride is a pattern-matched per-model parameter adjustment, applied
// by the adapter before a request leaves the process.
type ModelOverride struct {
	ModelPrefix string `json:"model_prefix"`
	DropParams []string `json:"drop_params,omitempty"`
	MaxTemperature float64 `json:"max_temperature,omitempty"`
	ForceTemp *float64 `json:"force_temperature,omitempty"`
}

// RegistryEntry describes how to reach one provider: its HTTP endpoint, the
// env var / KeyVault ref that holds its credential, and any model-specific
// overrides. Model- and provider-specific idiosyncrasies live here as data,
// per ("Dynamic dispatch over channels and providers becomes a small
// set of interfaces with a registry keyed by string").
type RegistryEntry struct {
	Name string `json:"name"`
	BaseURL string `json:"base_url"`
	KeyRef string `json:"key_ref"` // symbolic ref, e.g. "{{openrouter_key}}"
	ModelPrefix string `json:"model_prefix"` // stripped/added to model name on the wire
	AuthHeader string `json:"auth_header"` // e.g. "Authorization", "x-api-key"
	AuthScheme string `json:"auth_scheme"` // e.g. "Bearer ", "" for raw
	Overrides []ModelOverride `json:"overrides,omitempty"`
}

// Registry maps tiers to model pairs and model name prefixes to provider
// registry entries.
type Registry struct {
	mu sync.RWMutex
	tiers map[Tier]ModelPair
	entries map[string]RegistryEntry // keyed by provider name
	byPrefix []RegistryEntry // ordered, longest-prefix-first
}

// NewRegistry builds an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		tiers: make(map[Tier]ModelPair),
		entries: make(map[string]RegistryEntry),
	}
}

// SetTier assigns the active model pair for a tier. Each tier has exactly
// one active pair at a time — a later call replaces the former.
func (r *Registry) SetTier(tier Tier, pair ModelPair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers[tier] = pair
}

// Tier returns the configured model pair, falling back to TierMedium's pair
// (or a zero pair) if the tier was never configured — this is the registry's
// half of the router's "default" fallback policy.
func (r *Registry) Tier(tier Tier) ModelPair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.tiers[tier]; ok {
		return p
	}
	return r.tiers[TierMedium]
}

// RegisterProvider adds or replaces a provider entry, keeping byPrefix sorted
// so the longest (most specific) model prefix matches first.
func (r *Registry) RegisterProvider(entry RegistryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.Name] = entry
	r.byPrefix = r.byPrefix[:0]
	for _, e := range r.entries {
		r.byPrefix = append(r.byPrefix, e)
	}
	for i := 0; i < len(r.byPrefix); i++ {
		for j := i + 1; j < len(r.byPrefix); j++ {
			if len(r.byPrefix[j].ModelPrefix) > len(r.byPrefix[i].ModelPrefix) {
				r.byPrefix[i], r.byPrefix[j] = r.byPrefix[j], r.byPrefix[i]
			}
		}
	}
}

// Resolve finds the registry entry whose ModelPrefix matches the given model
// string, e.g. "anthropic/claude-3-5-sonnet" -> the "anthropic" entry.
func (r *Registry) Resolve(model string) (RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.byPrefix {
		if e.ModelPrefix != "" && strings.HasPrefix(model, e.ModelPrefix) {
			return e, nil
		}
	}
	if len(r.byPrefix) > 0 {
		return r.byPrefix[0], nil
	}
	return RegistryEntry{}, fmt.Errorf("providers: no registry entry matches model %q", model)
}

// WireModel strips the registry's prefix, leaving the model name the
// provider's own API expects on the wire.
func (e RegistryEntry) WireModel(model string) string {
	return strings.TrimPrefix(strings.TrimPrefix(model, e.ModelPrefix), "/")
}

// ApplyOverrides mutates req in place according to any override matching
// req.Model's prefix, implementing pattern-matched per-model overrides.
func (e RegistryEntry) ApplyOverrides(req *ChatRequest) {
	for _, ov := range e.Overrides {
		if !strings.HasPrefix(req.Model, ov.ModelPrefix) {
			continue
		}
		for _, p := range ov.DropParams {
			delete(req.Options, p)
		}
		if ov.ForceTemp != nil {
			if req.Options == nil {
				req.Options = map[string]interface{}{}
			}
			req.Options["temperature"] = *ov.ForceTemp
		} else if ov.MaxTemperature > 0 {
			if t, ok := req.Options["temperature"].(float64); ok && t > ov.MaxTemperature {
				req.Options["temperature"] = ov.MaxTemperature
			}
		}
	}
}
