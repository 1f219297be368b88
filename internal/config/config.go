// Package config loads and validates the gateway's root configuration:
// bots, rooms, channels, providers/routing tiers, tool policy, secrets
// backend, and routines. Grounded on a prior implementation's
// json5 + env-override config loader, generalized from a
// single-agent shape to a room/bot model with multiple named bots.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/titanous/json5"
)

// Config is the root configuration for the parley gateway.
type Config struct {
	Bots map[string]BotSpec `json:"bots"`
	Team TeamConfig `json:"team"`
	Rooms RoomsConfig `json:"rooms"`
	Channels ChannelsConfig `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Router RouterConfig `json:"router"`
	Tools ToolsConfig `json:"tools"`
	Sessions SessionsConfig `json:"sessions"`
	Secrets SecretsConfig `json:"secrets"`
	Database DatabaseConfig `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Gateway GatewayConfig `json:"gateway"`

	mu sync.RWMutex
}

// RoomsConfig configures the RoomManager's storage location.
type RoomsConfig struct {
	Storage string `json:"storage"` // directory for per-room JSON files + channel_mappings.json
}

// SessionsConfig controls where Session files persist and how they compact.
type SessionsConfig struct {
	Storage string `json:"storage"`
	CompactionMode string `json:"compaction_mode,omitempty"` // "off", "summary", "token_limit" (default)
	KeepLastOnTrim int `json:"keep_last_on_trim,omitempty"` // default 20
	TokenThreshold int `json:"token_threshold,omitempty"` // default 100000
	SummaryTier string `json:"summary_tier,omitempty"` // tier used for the summarizer's LLM call, default "simple"
}

// SecretsConfig selects and configures the KeyVault backend.
type SecretsConfig struct {
	Backend string `json:"backend"` // "local" (default); the gateway always builds a LocalVault, there is no OS keyring backend
	LocalKeyPath string `json:"local_key_path,omitempty"`
	LocalStore string `json:"local_store,omitempty"`
	AuditLogPath string `json:"audit_log_path"`
}

// DatabaseConfig selects file-backed (standalone) or Postgres-backed
// (managed) persistence, mirroring a prior Config.IsManagedMode
// pattern.
type DatabaseConfig struct {
	Mode string `json:"mode,omitempty"` // "standalone" (default) or "managed"
	PostgresDSN string `json:"-"` // from env PARLEY_POSTGRES_DSN only, never persisted
}

// IsManagedMode reports whether the gateway should use the Postgres store.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled bool `json:"enabled,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Protocol string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure bool `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// GatewayConfig controls process-wide limits independent of any one room.
type GatewayConfig struct {
	MaxIterations int `json:"max_iterations,omitempty"` // default 20
	MaxMessageChars int `json:"max_message_chars,omitempty"` // default 32000
	RoomQueueSize int `json:"room_queue_size,omitempty"` // per-room broker buffer, default 64
	ExecTimeoutSec int `json:"exec_timeout_sec,omitempty"` // default 60
	ClassifierTimeoutMs int `json:"classifier_timeout_ms,omitempty"` // default 500
	AskBotTimeoutSec int `json:"ask_bot_timeout_sec,omitempty"` // default 60
	ProviderRatePerSec float64 `json:"provider_rate_per_sec,omitempty"` // default 5
	ProviderBurst int `json:"provider_burst,omitempty"` // default 5
}

// Load reads a Config from path, applies env overrides for secrets, and
// enforces the 0600/0700 permission contract: on load, if permissions are
// looser than required, they are tightened in place.
func Load(path string) (*Config, error) {
	if err := enforcePermissions(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// enforcePermissions tightens the config file to 0600 and its parent
// directory to 0700 if they are looser.
func enforcePermissions(path string) error {
	if info, err := os.Stat(path); err == nil {
		if info.Mode().Perm()&0o077 != 0 {
			if err := os.Chmod(path, 0o600); err != nil {
				return fmt.Errorf("config: tighten permissions on %s: %w", path, err)
			}
		}
	}
	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err == nil {
		if info.Mode().Perm()&0o077 != 0 {
			if err := os.Chmod(dir, 0o700); err != nil {
				return fmt.Errorf("config: tighten permissions on %s: %w", dir, err)
			}
		}
	}
	return nil
}

// applyEnvOverrides reads secrets exclusively from the environment, never
// the config file, per Postgres DSN rule generalized to all
// Database secrets.
func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("PARLEY_POSTGRES_DSN"); dsn != "" {
		cfg.Database.PostgresDSN = dsn
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.MaxIterations <= 0 {
		cfg.Gateway.MaxIterations = 20
	}
	if cfg.Gateway.MaxMessageChars <= 0 {
		cfg.Gateway.MaxMessageChars = 32_000
	}
	if cfg.Gateway.RoomQueueSize <= 0 {
		cfg.Gateway.RoomQueueSize = 64
	}
	if cfg.Gateway.ExecTimeoutSec <= 0 {
		cfg.Gateway.ExecTimeoutSec = 60
	}
	if cfg.Gateway.ClassifierTimeoutMs <= 0 {
		cfg.Gateway.ClassifierTimeoutMs = 500
	}
	if cfg.Gateway.AskBotTimeoutSec <= 0 {
		cfg.Gateway.AskBotTimeoutSec = 60
	}
	if cfg.Gateway.ProviderRatePerSec <= 0 {
		cfg.Gateway.ProviderRatePerSec = 5
	}
	if cfg.Gateway.ProviderBurst <= 0 {
		cfg.Gateway.ProviderBurst = 5
	}
	if cfg.Router.MinConfidence <= 0 {
		cfg.Router.MinConfidence = 0.85
	}
	if cfg.Router.DowngradeConfidence <= 0 {
		cfg.Router.DowngradeConfidence = 0.9
	}
	if cfg.Router.StickyWindow <= 0 {
		cfg.Router.StickyWindow = 4
	}
	if cfg.Sessions.Storage == "" {
		cfg.Sessions.Storage = "sessions"
	}
	if cfg.Rooms.Storage == "" {
		cfg.Rooms.Storage = "rooms"
	}
	if cfg.Sessions.CompactionMode == "" {
		cfg.Sessions.CompactionMode = "token_limit"
	}
	if cfg.Sessions.KeepLastOnTrim <= 0 {
		cfg.Sessions.KeepLastOnTrim = 20
	}
	if cfg.Sessions.TokenThreshold <= 0 {
		cfg.Sessions.TokenThreshold = 100_000
	}
	if cfg.Sessions.SummaryTier == "" {
		cfg.Sessions.SummaryTier = "simple"
	}
	if cfg.Secrets.AuditLogPath == "" {
		cfg.Secrets.AuditLogPath = "audit.jsonl"
	}
	if cfg.Secrets.Backend == "" {
		cfg.Secrets.Backend = "local"
	}
}

// ReplaceFrom atomically swaps the data fields of c with src, used by the
// config hot-reload watcher.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bots = src.Bots
	c.Team = src.Team
	c.Rooms = src.Rooms
	c.Channels = src.Channels
	c.Providers = src.Providers
	c.Router = src.Router
	c.Tools = src.Tools
	c.Sessions = src.Sessions
	c.Secrets = src.Secrets
	c.Database = src.Database
	c.Telemetry = src.Telemetry
	c.Gateway = src.Gateway
}

// HasAnyProvider reports whether at least one provider has a configured
// credential — the AgentLoop's configuration gate.
func (c *Config) HasAnyProvider() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.Providers {
		if p.APIKeyRef != "" {
			return true
		}
	}
	return false
}

// ExpandHome replaces a leading ~ with the user home directory, used to
// resolve workspace and storage paths before they reach os.MkdirAll.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// BotNames returns the configured bot names in stable order, leader first.
func (c *Config) BotNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.Bots))
	if _, ok := c.Bots["leader"]; ok {
		names = append(names, "leader")
	}
	others := make([]string, 0, len(c.Bots))
	for name := range c.Bots {
		if name != "leader" {
			others = append(others, name)
		}
	}
	sort.Strings(others)
	return append(names, others...)
}
