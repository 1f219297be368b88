package config

// BotSpec configures one bot's identity files, tool permissions, and
// routine schedule.
type BotSpec struct {
	Display string `json:"display,omitempty"`
	PersonaDir string `json:"persona_dir"` // directory holding SOUL.md, IDENTITY.md, ROLE.md, AGENTS.md
	DefaultTier string `json:"default_tier,omitempty"`
	Routines []Routine `json:"routines,omitempty"`
}

// Routine is one scheduled heartbeat job for a bot.
type Routine struct {
	Name string `json:"name"`
	Schedule string `json:"schedule"` // cron expression, parsed by adhocore/gronx
	Kind string `json:"kind,omitempty"` // "cron" (default) or "every"; the gateway does not read it and schedules every routine from Schedule
	Every string `json:"every,omitempty"` // interval such as "30m" for kind "every"; not read by the gateway, so a routine with only Every set fails to schedule
	RoomID string `json:"room_id"`
	Prompt string `json:"prompt"`
	Enabled bool `json:"enabled"`
}

// TeamConfig selects the personality-generation style used when a bot has
// no persona files on disk yet.
type TeamConfig struct {
	Style string `json:"style,omitempty"` // pirate_crew, rock_band, space_crew, executive_suite, swat_team, feral_clowder
}

// RouterConfig tunes the layered model-tier classifier.
type RouterConfig struct {
	MinConfidence float64 `json:"min_confidence,omitempty"`
	DowngradeConfidence float64 `json:"downgrade_confidence,omitempty"`
	StickyWindow int `json:"sticky_window,omitempty"`
	DefaultTier string `json:"default_tier,omitempty"`
	UseLLMClassifier bool `json:"use_llm_classifier,omitempty"`
	AutoCalibrate bool `json:"auto_calibrate,omitempty"`
}

// ProvidersConfig maps provider name to its configuration.
type ProvidersConfig map[string]ProviderConfig

// ProviderConfig describes one LLM provider's endpoint and tier wiring.
type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	APIKeyRef string `json:"api_key_ref"` // symbolic ref, e.g. "{{openrouter_key}}"
	Tiers map[string]string `json:"tiers,omitempty"` // tier name -> model ID
	AuthHeader string `json:"auth_header,omitempty"`
}

// ChannelsConfig lists which channel adapters are active by name.
type ChannelsConfig struct {
	Enabled []string `json:"enabled,omitempty"`
}

// ToolsConfig configures the tool registry's default policy.
type ToolsConfig struct {
	WorkspaceRoot string `json:"workspace_root"`
	ProtectedPaths []string `json:"protected_paths,omitempty"`
	Allow []string `json:"allow,omitempty"`
	Deny []string `json:"deny,omitempty"`
	BraveAPIKeyRef string `json:"brave_api_key_ref,omitempty"`
	WebFetchRenderJS bool `json:"web_fetch_render_js,omitempty"`
	MCPServers map[string]MCPServerConfig `json:"mcp_servers,omitempty"`
}

// MCPServerConfig configures one external MCP tool server a bot may connect
// to via the mcp_connect tool. The concrete connection is made by whatever
// tools.MCPClientFactory is wired at startup; this struct only carries the
// configuration a factory needs.
type MCPServerConfig struct {
	Transport string `json:"transport"` // "stdio", "sse", "streamable-http"
	Command string `json:"command,omitempty"`
	Args []string `json:"args,omitempty"`
	Env map[string]string `json:"env,omitempty"`
	URL string `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	ToolPrefix string `json:"tool_prefix,omitempty"`
	TimeoutSec int `json:"timeout_sec,omitempty"`
}
