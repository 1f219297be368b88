package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MCPServerConfig describes one configured MCP tool server a bot may
// connect to on demand. Grounded on a prior implementation's
// internal/mcp.Manager's config shape, narrowed to the fields a
// transport-agnostic client needs.
type MCPServerConfig struct {
	Transport string // "stdio", "sse", "streamable-http"
	Command string
	Args []string
	Env map[string]string
	URL string
	Headers map[string]string
	ToolPrefix string
	TimeoutSec int
}

// MCPToolDef is one tool an MCP server advertises during discovery.
type MCPToolDef struct {
	Name string
	Description string
	Parameters map[string]interface{}
}

// MCPClient is the narrow surface this gateway needs from a live MCP
// server connection: list what it offers, call one of its tools, and
// close cleanly. A concrete implementation — backed by a real MCP wire
// client — is provided externally, the same way channels.Adapter and
// providers.Provider implementations are; the protocol library itself is out of scope here.
type MCPClient interface {
	ListTools(ctx context.Context) ([]MCPToolDef, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
	Close() error
}

// MCPClientFactory performs the handshake for one configured server and
// returns a live MCPClient. Supplied externally; see MCPClient.
type MCPClientFactory interface {
	Connect(ctx context.Context, cfg MCPServerConfig) (MCPClient, error)
}

// mcpConnection tracks one connected server's client and bridged tool
// names. Disconnect closes the client and leaves those tools registered.
type mcpConnection struct {
	client MCPClient
	toolNames []string
}

// MCPManager connects to configured MCP tool servers on demand and bridges
// each server's advertised tools into a Registry as ordinary Tool
// instances. It owns the connected_servers set the MCP-connect tool
// reports against. Grounded on a prior implementation's internal/mcp.Manager,
// narrowed from its eager multi-tenant store-backed loading to the
// lazy single-tenant connect this gateway's Tool surface calls into.
type MCPManager struct {
	mu sync.RWMutex
	registry *Registry
	factory MCPClientFactory
	configs map[string]MCPServerConfig
	connected map[string]*mcpConnection
}

// NewMCPManager builds a manager over the given configured servers. factory
// may be nil if no concrete MCP client is wired yet; Connect then fails with
// a clear "not configured" error instead of panicking.
func NewMCPManager(registry *Registry, factory MCPClientFactory, configs map[string]MCPServerConfig) *MCPManager {
	return &MCPManager{
		registry: registry,
		factory: factory,
		configs: configs,
		connected: make(map[string]*mcpConnection),
	}
}

// ConnectedServers returns the names of currently connected servers, sorted
// for deterministic reporting.
func (m *MCPManager) ConnectedServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.connected))
	for name := range m.connected {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connect establishes a connection to the named configured server, if not
// already connected, discovers its tools, and registers each as a bridged
// Tool. Returns the number of newly registered tools.
func (m *MCPManager) Connect(ctx context.Context, name string) (int, error) {
	m.mu.RLock()
	if _, ok := m.connected[name]; ok {
		m.mu.RUnlock()
		return 0, nil
	}
	cfg, ok := m.configs[name]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("mcp: unknown server %q", name)
	}
	if m.factory == nil {
		return 0, fmt.Errorf("mcp: no client configured to connect to %q", name)
	}

	client, err := m.factory.Connect(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("mcp: connect %s: %w", name, err)
	}

	defs, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return 0, fmt.Errorf("mcp: list tools for %s: %w", name, err)
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var registered []string
	for _, def := range defs {
		toolName := def.Name
		if cfg.ToolPrefix != "" {
			toolName = cfg.ToolPrefix + "_" + toolName
		}
		if _, exists := m.registry.Get(toolName); exists {
			continue // name collision with an existing tool: skip, don't shadow it
		}
		m.registry.Register(&mcpBridgeTool{
			name: toolName,
			description: def.Description,
			parameters: def.Parameters,
			remoteName: def.Name,
			client: client,
			timeout: timeout,
		})
		registered = append(registered, toolName)
	}

	m.mu.Lock()
	m.connected[name] = &mcpConnection{client: client, toolNames: registered}
	m.mu.Unlock()

	return len(registered), nil
}

// Disconnect closes the named server's connection and drops it from
// connected_servers. Best-effort: already-bridged tools stay registered so a
// call already in flight against one of them still completes; they simply
// start failing on their next invocation once the client is closed.
func (m *MCPManager) Disconnect(name string) error {
	m.mu.Lock()
	conn, ok := m.connected[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mcp: %q is not connected", name)
	}
	delete(m.connected, name)
	m.mu.Unlock()

	return conn.client.Close()
}

// mcpBridgeTool exposes one tool advertised by a connected MCP server as an
// ordinary Tool, so it flows through Registry/ForBot/Execute exactly like a
// built-in tool once registered.
type mcpBridgeTool struct {
	name string
	description string
	parameters map[string]interface{}
	remoteName string
	client MCPClient
	timeout time.Duration
}

func (t *mcpBridgeTool) Name() string { return t.name }
func (t *mcpBridgeTool) Description() string { return t.description }
func (t *mcpBridgeTool) Parameters() map[string]interface{} {
	if t.parameters != nil {
		return t.parameters
	}
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *mcpBridgeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	out, err := t.client.CallTool(callCtx, t.remoteName, args)
	if err != nil {
		return ErrorResult(fmt.Sprintf("mcp tool %s failed: %v", t.name, err))
	}
	return SilentResult(out)
}

// MCPConnectTool is the Tool surface a bot uses to bring an additional MCP
// server's tools into the current conversation without a restart.
type MCPConnectTool struct {
	Manager *MCPManager
}

func (t *MCPConnectTool) Name() string { return "mcp_connect" }
func (t *MCPConnectTool) Description() string {
	return "Connect to a configured MCP tool server by name, adding its tools to this conversation."
}
func (t *MCPConnectTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"server_name": map[string]interface{}{"type": "string", "description": "Name of a configured MCP server to connect to."},
		},
		"required": []string{"server_name"},
	}
}

func (t *MCPConnectTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	name, _ := args["server_name"].(string)
	if name == "" {
		return ErrorResult("server_name is required")
	}
	count, err := t.Manager.Connect(ctx, name)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if count == 0 {
		return SilentResult(fmt.Sprintf("%q is already connected", name))
	}
	return SilentResult(fmt.Sprintf("connected to %q: %d tool(s) now available", name, count))
}
