package tools

import (
	"context"
	"testing"
)

type fakeMCPClient struct {
	defs []MCPToolDef
	calls int
	closed bool
}

func (c *fakeMCPClient) ListTools(ctx context.Context) ([]MCPToolDef, error) { return c.defs, nil }
func (c *fakeMCPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	c.calls++
	return "ok:" + name, nil
}
func (c *fakeMCPClient) Close() error { c.closed = true; return nil }

type fakeMCPFactory struct {
	client *fakeMCPClient
}

func (f *fakeMCPFactory) Connect(ctx context.Context, cfg MCPServerConfig) (MCPClient, error) {
	return f.client, nil
}

func TestMCPManagerConnectRegistersBridgedTools(t *testing.T) {
	reg := NewRegistry()
	client := &fakeMCPClient{defs: []MCPToolDef{{Name: "search", Description: "search docs"}}}
	mgr := NewMCPManager(reg, &fakeMCPFactory{client: client}, map[string]MCPServerConfig{
		"docs": {Transport: "stdio", Command: "docs-server"},
	})

	count, err := mgr.Connect(context.Background(), "docs")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 tool registered, got %d", count)
	}
	if _, ok := reg.Get("search"); !ok {
		t.Fatalf("expected bridged tool 'search' registered")
	}
	if got := mgr.ConnectedServers(); len(got) != 1 || got[0] != "docs" {
		t.Fatalf("expected connected_servers=[docs], got %v", got)
	}
}

func TestMCPManagerConnectIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	client := &fakeMCPClient{defs: []MCPToolDef{{Name: "search"}}}
	mgr := NewMCPManager(reg, &fakeMCPFactory{client: client}, map[string]MCPServerConfig{
		"docs": {Transport: "stdio"},
	})

	if _, err := mgr.Connect(context.Background(), "docs"); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	count, err := mgr.Connect(context.Background(), "docs")
	if err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no newly-registered tools on a repeat connect, got %d", count)
	}
}

func TestMCPManagerConnectUsesToolPrefix(t *testing.T) {
	reg := NewRegistry()
	client := &fakeMCPClient{defs: []MCPToolDef{{Name: "search"}}}
	mgr := NewMCPManager(reg, &fakeMCPFactory{client: client}, map[string]MCPServerConfig{
		"docs": {Transport: "stdio", ToolPrefix: "docs"},
	})
	if _, err := mgr.Connect(context.Background(), "docs"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, ok := reg.Get("docs_search"); !ok {
		t.Fatalf("expected prefixed tool name docs_search")
	}
}

func TestMCPManagerConnectUnknownServerErrors(t *testing.T) {
	mgr := NewMCPManager(NewRegistry(), nil, nil)
	if _, err := mgr.Connect(context.Background(), "missing"); err == nil {
		t.Fatalf("expected an error connecting to an unconfigured server")
	}
}

func TestMCPManagerConnectNoFactoryErrors(t *testing.T) {
	mgr := NewMCPManager(NewRegistry(), nil, map[string]MCPServerConfig{"docs": {}})
	if _, err := mgr.Connect(context.Background(), "docs"); err == nil {
		t.Fatalf("expected an error when no MCP client factory is wired")
	}
}

func TestMCPManagerDisconnectClosesClientAndDropsFromSet(t *testing.T) {
	reg := NewRegistry()
	client := &fakeMCPClient{defs: []MCPToolDef{{Name: "search"}}}
	mgr := NewMCPManager(reg, &fakeMCPFactory{client: client}, map[string]MCPServerConfig{"docs": {}})
	if _, err := mgr.Connect(context.Background(), "docs"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := mgr.Disconnect("docs"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !client.closed {
		t.Fatalf("expected underlying client closed on disconnect")
	}
	if len(mgr.ConnectedServers()) != 0 {
		t.Fatalf("expected connected_servers empty after disconnect")
	}
	if _, ok := reg.Get("search"); !ok {
		t.Fatalf("expected already-registered bridged tool to remain registered after disconnect")
	}
}

func TestBridgeToolExecuteCallsUnderlyingClient(t *testing.T) {
	reg := NewRegistry()
	client := &fakeMCPClient{defs: []MCPToolDef{{Name: "search"}}}
	mgr := NewMCPManager(reg, &fakeMCPFactory{client: client}, map[string]MCPServerConfig{"docs": {}})
	if _, err := mgr.Connect(context.Background(), "docs"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tool, ok := reg.Get("search")
	if !ok {
		t.Fatalf("expected bridged tool registered")
	}
	result := tool.Execute(context.Background(), map[string]interface{}{"q": "x"})
	if result.IsError || result.ForLLM != "ok:search" {
		t.Fatalf("expected successful bridged call, got %+v", result)
	}
	if client.calls != 1 {
		t.Fatalf("expected exactly one underlying call, got %d", client.calls)
	}
}

func TestMCPConnectToolRequiresServerName(t *testing.T) {
	tool := &MCPConnectTool{Manager: NewMCPManager(NewRegistry(), nil, nil)}
	result := tool.Execute(context.Background(), map[string]interface{}{})
	if !result.IsError {
		t.Fatalf("expected an error when server_name is missing")
	}
}

func TestMCPConnectToolReportsToolCount(t *testing.T) {
	reg := NewRegistry()
	client := &fakeMCPClient{defs: []MCPToolDef{{Name: "search"}, {Name: "fetch"}}}
	mgr := NewMCPManager(reg, &fakeMCPFactory{client: client}, map[string]MCPServerConfig{"docs": {}})
	tool := &MCPConnectTool{Manager: mgr}

	result := tool.Execute(context.Background(), map[string]interface{}{"server_name": "docs"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", result.ForLLM)
	}
	if result.ForLLM == "" {
		t.Fatalf("expected a non-empty confirmation message")
	}
}
