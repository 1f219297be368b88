package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/parleyhq/parley/internal/identity"
)

// Registry holds every tool the gateway knows how to execute, independent
// of which bot is allowed to call which. Per-bot filtering happens at
// ForBot time via the bot's identity.ToolPermissions, matching the
// allow/deny/profile layering of a prior internal/tools/policy.go. Guarded
// by a mutex because MCPManager registers bridged tools at runtime, from whichever room's broker goroutine triggered the connect,
// while other rooms keep calling Execute concurrently.
type Registry struct {
	mu sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name. A no-op if it isn't registered.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// All returns every registered tool, sorted by name for deterministic
// prompt ordering.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// ForBot returns the subset of tools a bot's ToolPermissions allow, recomputed
// fresh each call so a tool an MCP connect adds mid-session becomes visible to
// every bot permitted to use it on their very next turn.
func (r *Registry) ForBot(perms identity.ToolPermissions) []Tool {
	var out []Tool
	for _, t := range r.All() {
		if perms.Allows(t.Name()) {
			out = append(out, t)
		}
	}
	return out
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs a named tool, returning an error Result rather than a Go
// error when the tool is unknown, since that response is meant for the
// LLM to see and recover from, not to abort the AgentLoop.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	return t.Execute(ctx, args)
}
