// Command parley runs the multi-bot chat gateway: it loads configuration,
// wires the provider/router/tool/secret stack, and starts whichever
// channel adapters are enabled, serializing every room's traffic through
// its own broker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/channels"
	"github.com/parleyhq/parley/internal/channels/cli"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/dispatch"
	"github.com/parleyhq/parley/internal/identity"
	"github.com/parleyhq/parley/internal/invoke"
	"github.com/parleyhq/parley/internal/memory"
	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/rooms"
	"github.com/parleyhq/parley/internal/router"
	"github.com/parleyhq/parley/internal/routines"
	"github.com/parleyhq/parley/internal/secrets"
	"github.com/parleyhq/parley/internal/sessions"
	"github.com/parleyhq/parley/internal/store/pg"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/internal/tracing"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley — multi-bot chat gateway",
	Long:  "Parley: a room-based gateway that routes chat traffic to a team of LLM-backed bots, each with its own persona, tools, and routine schedule.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: parley.json or $PARLEY_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(migrateCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("parley %s\n", Version)
		},
	}
}

// migrateCmd applies the managed-mode Postgres schema, the one piece of
// internal/store/pg wiring this binary performs directly — full managed-mode
// request routing through store.RoomStore/SessionStore is deferred, see
// DESIGN.md.
func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations for managed mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn := os.Getenv("PARLEY_POSTGRES_DSN")
			if dsn == "" {
				return fmt.Errorf("PARLEY_POSTGRES_DSN is not set")
			}
			return pg.Migrate(dir, dsn)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "directory of .sql migration files")
	return cmd
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("PARLEY_CONFIG"); v != "" {
		return v
	}
	return "parley.json"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if !cfg.HasAnyProvider() {
		slog.Warn("no provider API key configured; every turn will fall back to the onboarding message until one is added")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())
	tracer := tracing.New()

	msgBus := bus.New(256)

	leader := "leader"
	if _, ok := cfg.Bots[leader]; !ok {
		for name := range cfg.Bots {
			leader = name
			break
		}
	}

	roomsDir := config.ExpandHome(cfg.Rooms.Storage)
	roomsManager, err := rooms.NewManager(roomsDir, leader)
	if err != nil {
		slog.Error("failed to open room store", "error", err)
		os.Exit(1)
	}

	sessionsDir := config.ExpandHome(cfg.Sessions.Storage)
	sessionsManager := sessions.NewManager(sessionsDir)

	memoryDir := filepath.Join(sessionsDir, "memory")
	memoryFacade := memory.New(memoryDir, logger)

	vaultKeyPath := config.ExpandHome(cfg.Secrets.LocalKeyPath)
	if vaultKeyPath == "" {
		vaultKeyPath = filepath.Join(filepath.Dir(cfgPath), ".parley", "vault.key")
	}
	vaultStorePath := config.ExpandHome(cfg.Secrets.LocalStore)
	if vaultStorePath == "" {
		vaultStorePath = filepath.Join(filepath.Dir(cfgPath), ".parley", "vault.store")
	}
	localVault, err := secrets.NewLocalVault(vaultKeyPath, vaultStorePath)
	if err != nil {
		slog.Error("failed to open secret vault", "error", err)
		os.Exit(1)
	}
	keyVault := secrets.NewKeyVault(localVault)
	sanitizer := secrets.NewSanitizer()
	secretsManager := secrets.NewManager(keyVault, sanitizer)

	auditLogPath := config.ExpandHome(cfg.Secrets.AuditLogPath)
	if auditLogPath == "" {
		auditLogPath = filepath.Join(filepath.Dir(cfgPath), "audit.jsonl")
	}
	auditLog, err := secrets.NewAuditLog(auditLogPath)
	if err != nil {
		slog.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}

	registry := providers.NewRegistry()
	registerProviders(registry, cfg)
	var baseProvider providers.Provider = providers.NewHTTPProvider(registry, keyVault.Resolver(), "")
	if cfg.Gateway.ProviderRatePerSec > 0 {
		baseProvider = providers.NewRateLimited(baseProvider, cfg.Gateway.ProviderRatePerSec, cfg.Gateway.ProviderBurst)
	}

	summaryPair := registry.Tier(providers.Tier(cfg.Sessions.SummaryTier))
	summarizer := sessions.NewLLMSummarizer(baseProvider, summaryPair.Primary)
	compactionMode := sessions.CompactionMode(cfg.Sessions.CompactionMode)
	compactor := sessions.NewCompactor(sessionsManager, summarizer, compactionMode, cfg.Sessions.KeepLastOnTrim, cfg.Sessions.TokenThreshold)

	var classifier router.Classifier
	if cfg.Router.UseLLMClassifier {
		classifierPair := registry.Tier(providers.TierSimple)
		classifier = router.NewLLMClassifier(baseProvider, classifierPair.Primary)
	}
	rtr := router.New(
		cfg.Router.MinConfidence,
		cfg.Router.DowngradeConfidence,
		cfg.Router.StickyWindow,
		providers.Tier(cfg.Router.DefaultTier),
		time.Duration(cfg.Gateway.ClassifierTimeoutMs)*time.Millisecond,
		classifier,
		logger,
	)

	workspace := config.ExpandHome(cfg.Tools.WorkspaceRoot)
	if workspace == "" {
		workspace = "workspace"
	}
	if !filepath.IsAbs(workspace) {
		if abs, err := filepath.Abs(workspace); err == nil {
			workspace = abs
		}
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		slog.Error("failed to create workspace", "error", err)
		os.Exit(1)
	}

	sharedTools := tools.NewRegistry()
	sharedTools.Register(&tools.ReadFileTool{Workspace: workspace, Restrict: true, Protected: cfg.Tools.ProtectedPaths})
	sharedTools.Register(&tools.WriteFileTool{Workspace: workspace, Restrict: true, Protected: cfg.Tools.ProtectedPaths})
	sharedTools.Register(&tools.EditFileTool{Workspace: workspace, Restrict: true, Protected: cfg.Tools.ProtectedPaths})
	sharedTools.Register(&tools.ListDirTool{Workspace: workspace, Restrict: true, Protected: cfg.Tools.ProtectedPaths})
	sharedTools.Register(&tools.ExecTool{WorkingDir: workspace, Timeout: time.Duration(cfg.Gateway.ExecTimeoutSec) * time.Second})
	sharedTools.Register(tools.NewWebSearchTool(cfg.Tools.BraveAPIKeyRef, keyVault.Resolver()))
	sharedTools.Register(tools.NewWebFetchTool(cfg.Tools.WebFetchRenderJS))
	if wf, ok := sharedTools.Get("web_fetch"); ok {
		if wft, ok := wf.(*tools.WebFetchTool); ok {
			wft.MediaDir = filepath.Join(workspace, "media")
		}
	}

	mcpConfigs := make(map[string]tools.MCPServerConfig, len(cfg.Tools.MCPServers))
	for name, c := range cfg.Tools.MCPServers {
		mcpConfigs[name] = tools.MCPServerConfig{
			Transport: c.Transport, Command: c.Command, Args: c.Args, Env: c.Env,
			URL: c.URL, Headers: c.Headers, ToolPrefix: c.ToolPrefix, TimeoutSec: c.TimeoutSec,
		}
	}
	mcpManager := tools.NewMCPManager(sharedTools, nil, mcpConfigs)
	sharedTools.Register(&tools.MCPConnectTool{Manager: mcpManager})

	contextBuilder := agent.NewContextBuilder(20)

	engine := &agent.Engine{
		Config:    cfg,
		Rooms:     roomsManager,
		Sessions:  sessionsManager,
		Compactor: compactor,
		Memory:    memoryFacade,
		Router:    rtr,
		Provider:  baseProvider,
		Registry:  registry,
		ToolReg:   sharedTools,
		Secrets:   secretsManager,
		Audit:     auditLog,
		Vault:     keyVault,
		Bus:       msgBus,
		Context:   contextBuilder,
		Bots:      make(map[string]*agent.BotSet),
		Leader:    leader,
		Tracer:    tracer,
		Logger:    logger,
	}

	peers := cfg.BotNames()
	for name, spec := range cfg.Bots {
		personaDir := config.ExpandHome(spec.PersonaDir)
		if personaDir == "" {
			personaDir = filepath.Join(workspace, "bots", name)
		}
		persona, err := identity.Load(name, personaDir, cfg.Team.Style, otherPeers(peers, name))
		if err != nil {
			slog.Error("failed to load bot persona", "bot", name, "error", err)
			os.Exit(1)
		}

		extra := []tools.Tool{
			&tools.MemoryTool{Memory: memoryFacade, Rooms: roomsManager, RoomID: rooms.GeneralRoomID},
			&tools.MessageTool{Bus: msgBus, Sender: name},
			&tools.RoomTaskTool{Rooms: roomsManager, Actor: name},
		}
		engine.Bots[name] = &agent.BotSet{Persona: persona, Extra: extra}
	}

	botInvoker := invoke.New(engine, roomsManager, msgBus, leader)
	routineScheduler := &routineAdapter{}

	for name := range engine.Bots {
		if botSet := engine.Bots[name]; name != leader {
			botSet.Extra = append(botSet.Extra, &tools.InvokeTool{Invoker: botInvoker, Actor: name, OriginRoomID: rooms.GeneralRoomID})
		}
		engine.Bots[name].Extra = append(engine.Bots[name].Extra, &tools.RoutineTool{Scheduler: routineScheduler, Actor: name})
	}

	brokerManager := rooms.NewBrokerManager(func(ctx context.Context, env bus.MessageEnvelope) {
		out := engine.ProcessInbound(ctx, env)
		if out.Content != "" || out.SenderRole == bus.RoleAssistant {
			msgBus.PublishOutbound(out)
		}
	}, cfg.Gateway.RoomQueueSize, logger)

	routinesService := routines.New(brokerManager, roomsManager, memoryFacade, logger)
	routineScheduler.svc = routinesService
	engine.RoutineObserver = routinesService

	multiBot := &dispatch.MultiBotGenerator{Engine: engine, TeamStyle: cfg.Team.Style}
	engine.Dispatch = &dispatch.BotDispatch{
		Engine:    engine,
		MultiBot:  multiBot,
		TeamStyle: cfg.Team.Style,
		Leader:    leader,
		Invoker:   botInvoker,
	}

	for name, spec := range cfg.Bots {
		for _, r := range spec.Routines {
			if !r.Enabled {
				continue
			}
			if err := routinesService.Schedule(name, r.Name, r.Schedule, r.RoomID, r.Prompt); err != nil {
				slog.Warn("failed to schedule routine", "bot", name, "routine", r.Name, "error", err)
			}
		}
	}
	routinesService.Start()
	defer routinesService.Stop()

	var adapters []channels.Adapter
	for _, name := range cfg.Channels.Enabled {
		switch name {
		case "cli":
			adapters = append(adapters, cli.New("user", filepath.Join(workspace, ".parley_history"), logger))
		default:
			slog.Warn("unknown channel adapter configured", "channel", name)
		}
	}
	if len(adapters) == 0 {
		adapters = append(adapters, cli.New("user", filepath.Join(workspace, ".parley_history"), logger))
	}

	var configWatcher *config.Watcher
	if w, err := config.Watch(cfgPath, cfg, logger); err != nil {
		slog.Warn("config hot-reload unavailable", "error", err)
	} else {
		configWatcher = w
	}

	for _, adapter := range adapters {
		inbound := make(chan bus.MessageEnvelope, 16)
		if err := adapter.Start(ctx, inbound); err != nil {
			slog.Error("failed to start channel adapter", "channel", adapter.Name(), "error", err)
			continue
		}
		go bridgeInbound(ctx, adapter.Name(), inbound, roomsManager, brokerManager)
	}
	go bridgeOutbound(ctx, msgBus, adapters)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("parley gateway starting",
		"version", Version,
		"bots", cfg.BotNames(),
		"channels", cfg.Channels.Enabled,
	)

	sig := <-sigCh
	slog.Info("graceful shutdown initiated", "signal", sig)
	cancel()
	for _, adapter := range adapters {
		adapter.Stop(context.Background())
	}
	if configWatcher != nil {
		configWatcher.Close()
	}
	brokerManager.StopAll()
}

// otherPeers returns names excluding self, used to seed a generated
// persona's Relationships section with its teammates.
func otherPeers(all []string, self string) []string {
	out := make([]string, 0, len(all))
	for _, n := range all {
		if n != self {
			out = append(out, n)
		}
	}
	return out
}

// routineAdapter satisfies tools.RoutineScheduler while letting the
// routines.Service itself be constructed after the tool sets that reference
// this adapter, breaking the construction-order cycle between Engine.Bots
// and the routines.Service that Engine.RoutineObserver points back at.
type routineAdapter struct {
	svc *routines.Service
}

func (r *routineAdapter) Schedule(bot, name, cronExpr, roomID, prompt string) error {
	return r.svc.Schedule(bot, name, cronExpr, roomID, prompt)
}

func (r *routineAdapter) Cancel(bot, name string) error {
	return r.svc.Cancel(bot, name)
}

func (r *routineAdapter) TriggerNow(bot, name, reason string) error {
	return r.svc.TriggerNow(bot, name, reason)
}

// bridgeInbound moves envelopes a channel adapter produced into the room
// broker pipeline, resolving (or creating) the room mapped to this chat.
func bridgeInbound(ctx context.Context, channelName string, inbound <-chan bus.MessageEnvelope, roomsManager *rooms.Manager, brokers *rooms.BrokerManager) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-inbound:
			if !ok {
				return
			}
			roomID, err := roomsManager.AutoJoinToGeneral(channelName, env.ChatID)
			if err != nil {
				continue
			}
			env.RoomID = roomID
			env.TraceID = bus.NewTraceID()
			brokers.Dispatch(env)
		}
	}
}

// bridgeOutbound delivers every outbound envelope to the adapter whose Name
// matches env.Channel, so multiple adapters can share one bus.
func bridgeOutbound(ctx context.Context, b bus.Bus, adapters []channels.Adapter) {
	byName := make(map[string]channels.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	for {
		env, ok := b.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		adapter, ok := byName[env.Channel]
		if !ok {
			continue
		}
		if err := adapter.Send(ctx, env); err != nil {
			slog.Warn("failed to deliver outbound message", "channel", env.Channel, "error", err)
		}
	}
}

// registerProviders wires every configured provider entry into registry and
// applies each provider's tier -> model assignments.
func registerProviders(registry *providers.Registry, cfg *config.Config) {
	for name, p := range cfg.Providers {
		entry := providers.RegistryEntry{
			Name:       name,
			BaseURL:    p.BaseURL,
			KeyRef:     p.APIKeyRef,
			AuthHeader: p.AuthHeader,
		}
		registry.RegisterProvider(entry)
		for tierName, model := range p.Tiers {
			tier := providers.Tier(tierName)
			if !providers.IsValidTier(tier) {
				continue
			}
			registry.SetTier(tier, providers.ModelPair{Primary: model})
		}
	}
}
