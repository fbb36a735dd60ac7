package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pardeike/gabp-server/internal/adapter/outbound/audit"
	"github.com/pardeike/gabp-server/internal/adapter/outbound/policy"
	"github.com/pardeike/gabp-server/internal/config"
	"github.com/pardeike/gabp-server/internal/domain/tool"
	"github.com/pardeike/gabp-server/internal/metrics"
	"github.com/pardeike/gabp-server/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	stdhttp "net/http"
)

var devMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server",
	Long: `Start the GABP server.

The server binds a loopback TCP port, waits for a bridge client to
complete the session/hello handshake with the configured token, then
serves tools/list, tools/call, events/subscribe, and events/unsubscribe
for the lifetime of each connection.

Example:
  gabp-server start --config ./gabp-server.yaml`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "enable dev mode (generates a token if none is configured, forces debug logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return err
	}
	if devMode {
		cfg.DevMode = true
	}
	if err := cfg.SetDevDefaults(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // restore default signal handling: a second Ctrl+C hard-kills.
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Warn("dev mode enabled: do not use in production", "token", cfg.Server.Token)
	}

	opts, cleanup, err := buildServerOptions(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := service.NewServer(service.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
		Token: cfg.Server.Token,
		Agent: service.AgentInfo{
			AgentID:    cfg.Agent.AgentID,
			AppName:    cfg.Agent.AppName,
			AppVersion: cfg.Agent.AppVersion,
		},
		WriteBridgeConfig: cfg.BridgeConfig.Enabled,
		BridgeConfigPath:  cfg.BridgeConfig.Path,
		LaunchID:          cfg.BridgeConfig.LaunchID,
	}, opts...)

	if err := registerDemoTools(srv.Tools()); err != nil {
		return err
	}

	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("gabp-server listening", "host", cfg.Server.Host, "port", srv.Port(), "agent_id", cfg.Agent.AgentID)

	<-ctx.Done()
	logger.Info("shutting down")
	if err := srv.Stop(); err != nil {
		return err
	}
	logger.Info("gabp-server stopped")
	return nil
}

// buildServerOptions wires the optional adapters (metrics, audit, policy)
// named in the config into service.Option values. cleanup closes whatever
// was opened (the audit store, the metrics HTTP listener) regardless of
// which optional features were enabled.
func buildServerOptions(cfg *config.Config, logger *slog.Logger) ([]service.Option, func(), error) {
	var opts []service.Option
	var closers []func() error

	opts = append(opts, service.WithLogger(logger))

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		opts = append(opts, service.WithMetrics(m))

		if cfg.Metrics.ListenAddr != "" {
			mux := stdhttp.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			metricsSrv := &stdhttp.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
					logger.Error("metrics server exited with error", "error", err)
				}
			}()
			closers = append(closers, func() error { return metricsSrv.Close() })
		}
	}

	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, service.WithAudit(store))
		closers = append(closers, store.Close)
	}

	if cfg.Policy.Enabled {
		rules, err := policy.LoadRulesFile(cfg.Policy.RulesFile)
		if err != nil {
			return nil, nil, err
		}
		engine, err := policy.NewEngine(rules, cfg.Policy.CacheSize)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, service.WithPolicy(policyGateAdapter{engine}))
	}

	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("cleanup error", "error", err)
			}
		}
	}
	return opts, cleanup, nil
}

// policyGateAdapter adapts policy.Engine's richer Decision result to the
// narrow (allowed, reason, error) shape service.PolicyGate expects, so the
// service package never needs to import the policy adapter.
type policyGateAdapter struct {
	engine *policy.Engine
}

func (a policyGateAdapter) Evaluate(evalCtx service.PolicyContext) (bool, string, error) {
	decision, err := a.engine.Evaluate(policy.EvaluationContext{
		ToolName:      evalCtx.ToolName,
		Arguments:     evalCtx.Arguments,
		Authenticated: evalCtx.Authenticated,
		Platform:      evalCtx.Platform,
	})
	if err != nil {
		return false, "", err
	}
	return decision.Allowed, decision.Reason, nil
}

// parseLogLevel converts a string log level to slog.Level. Unrecognized
// values fall back to slog.LevelInfo.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// demoHost backs a handful of illustrative tools, exercising the
// reflective binder against a realistic host surface. These are sample
// "game tools" only, not part of the core protocol.
type demoHost struct{}

type getItemArgs struct {
	ItemID string `json:"itemId" gabp:"description=inventory slot id;required"`
}

func (demoHost) GetItem(ctx context.Context, args getItemArgs) (any, error) {
	return map[string]any{"itemId": args.ItemID, "count": 0}, nil
}

type placeBlockArgs struct {
	Block   string `json:"block" gabp:"description=block type id;required"`
	PosX    int    `json:"x" gabp:"description=world x coordinate;default=0"`
	PosY    int    `json:"y" gabp:"description=world y coordinate;default=0"`
	PosZ    int    `json:"z" gabp:"description=world z coordinate;default=0"`
}

func (demoHost) PlaceBlock(ctx context.Context, args placeBlockArgs) (any, error) {
	return map[string]any{"placed": args.Block, "x": args.PosX, "y": args.PosY, "z": args.PosZ}, nil
}

func registerDemoTools(reg *tool.Registry) error {
	host := demoHost{}
	return tool.RegisterFrom(reg, host, []tool.MethodSpec{
		{Method: "GetItem", Tool: tool.Meta{Name: "inventory/get", Description: "Get an inventory slot by id"}},
		{Method: "PlaceBlock", Tool: tool.Meta{Name: "world/place_block", Description: "Place a block at world coordinates"}},
	})
}
