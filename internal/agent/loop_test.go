package agent

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/parleyhq/parley/internal/identity"
	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/secrets"
	"github.com/parleyhq/parley/internal/tools"
)

func newTestVault(t *testing.T) *secrets.KeyVault {
	t.Helper()
	dir := t.TempDir()
	local, err := secrets.NewLocalVault(dir+"/key", dir+"/store.json")
	if err != nil {
		t.Fatalf("NewLocalVault: %v", err)
	}
	return secrets.NewKeyVault(local)
}

// scriptedProvider returns one scripted ChatResponse per call, in order.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	calls int
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}
func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}
func (p *scriptedProvider) DefaultModel() string { return "model-a" }
func (p *scriptedProvider) Name() string { return "fake" }

// countingTool records whether it was ever actually invoked.
type countingTool struct {
	name string
	calls int
}

func (t *countingTool) Name() string { return t.name }
func (t *countingTool) Description() string { return "test tool" }
func (t *countingTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *countingTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	t.calls++
	return tools.NewResult("done")
}

func newTestEngine(t *testing.T, provider providers.Provider) *Engine {
	t.Helper()
	audit, err := secrets.NewAuditLog(t.TempDir() + "/audit.jsonl")
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}
	return &Engine{Provider: provider, Audit: audit, ToolReg: tools.NewRegistry(), Vault: newTestVault(t), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestRunConversationRefusesHardBannedToolCall(t *testing.T) {
	dangerous := &countingTool{name: "shell_exec"}
	e := newTestEngine(t, &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "shell_exec", Arguments: map[string]interface{}{"cmd": "delete production data now"}}}},
		{Content: "can't do that, here's what I can do instead"},
	}})
	e.ToolReg.Register(dangerous)

	card := identity.RoleCard{HardBans: []string{"delete production data"}}
	messages := []providers.Message{{Role: "user", Content: "please wipe prod"}}

	result, err := e.RunConversation(context.Background(), "room-1", card, []tools.Tool{dangerous}, "model-a", "", messages, 5)
	if err != nil {
		t.Fatalf("RunConversation: %v", err)
	}
	if dangerous.calls != 0 {
		t.Fatalf("expected the hard-banned tool to never actually execute, got %d calls", dangerous.calls)
	}
	if result.Content != "can't do that, here's what I can do instead" {
		t.Fatalf("expected the loop to continue to a final reply, got %q", result.Content)
	}
}

func TestRunConversationExecutesAllowedToolCall(t *testing.T) {
	benign := &countingTool{name: "shell_exec"}
	e := newTestEngine(t, &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "shell_exec", Arguments: map[string]interface{}{"cmd": "ls"}}}},
		{Content: "here are the files"},
	}})
	e.ToolReg.Register(benign)

	card := identity.RoleCard{HardBans: []string{"delete production data"}}
	messages := []providers.Message{{Role: "user", Content: "list files"}}

	result, err := e.RunConversation(context.Background(), "room-1", card, []tools.Tool{benign}, "model-a", "", messages, 5)
	if err != nil {
		t.Fatalf("RunConversation: %v", err)
	}
	if benign.calls != 1 {
		t.Fatalf("expected the allowed tool to execute exactly once, got %d calls", benign.calls)
	}
	if result.Content != "here are the files" {
		t.Fatalf("unexpected final content: %q", result.Content)
	}
}

func TestRunConversationRejectsToolNotInBotsAllowedSet(t *testing.T) {
	e := newTestEngine(t, &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "not_granted", Arguments: nil}}},
		{Content: "ok, skipping that"},
	}})

	messages := []providers.Message{{Role: "user", Content: "do a thing"}}
	result, err := e.RunConversation(context.Background(), "room-1", identity.RoleCard{}, nil, "model-a", "", messages, 5)
	if err != nil {
		t.Fatalf("RunConversation: %v", err)
	}
	if result.Content != "ok, skipping that" {
		t.Fatalf("unexpected final content: %q", result.Content)
	}
}
