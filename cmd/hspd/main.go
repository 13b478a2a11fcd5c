// =============================================================================
// hspd — HSP Mesh coordinator daemon
// =============================================================================
// Entry point wiring the Bus Connector, Service Registry, Agent Lifecycle
// Manager, Project Coordinator, Knowledge Ingestor, and project submission/status
// HTTP surface into a single long-running process.
//
// Usage:
//
//	hspd serve                       # start the coordinator
//	hspd serve --config config.yaml  # specify a configuration file
//	hspd version                     # show version information
//	hspd health                      # health check against a running instance
//	hspd help                        # show this help message
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hspmesh/hsp/bus"
	"github.com/hspmesh/hsp/config"
	"github.com/hspmesh/hsp/coordinator"
	"github.com/hspmesh/hsp/internal/apiserver"
	"github.com/hspmesh/hsp/internal/telemetry"
	"github.com/hspmesh/hsp/knowledge"
	"github.com/hspmesh/hsp/lifecycle"
	"github.com/hspmesh/hsp/llmgateway"
	"github.com/hspmesh/hsp/persistence"
	"github.com/hspmesh/hsp/registry"
	"github.com/hspmesh/hsp/types"
)

// Version, BuildTime, and GitCommit are injected at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(64)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(64)
	}
}

// =============================================================================
// serve
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	agentID := fs.String("agent-id", "coordinator", "Bus identity of this coordinator instance")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting hspd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	metrics := telemetry.NewMetrics()

	clock := types.SystemClock{}

	db, dialect, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("database unavailable", zap.Error(err))
	}
	if err := persistence.Migrate(db, dialect); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	projectStore := persistence.NewProjectStore(db, logger)
	factStore := persistence.NewFactStore(db, logger)

	if interrupted, err := projectStore.ReopenInterrupted(context.Background()); err != nil {
		logger.Warn("failed to reopen interrupted projects", zap.Error(err))
	} else if len(interrupted) > 0 {
		logger.Warn("surfaced interrupted projects from prior run, not auto-resumed",
			zap.Strings("project_ids", interrupted))
	}

	busCfg := bus.Config{
		Endpoint:         cfg.Bus.Endpoint,
		ReconnectInitial: cfg.Bus.ReconnectInitial,
		ReconnectMax:     cfg.Bus.ReconnectMax,
		SigningEnabled:   cfg.Bus.SigningEnabled,
	}
	busConn := bus.NewConnector(busCfg, logger, clock)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := busConn.Connect(ctx); err != nil {
		logger.Error("bus unreachable at startup", zap.Error(err))
		_ = logger.Sync()
		os.Exit(2)
	}
	defer busConn.Disconnect()

	reg := registry.New(registry.Config{
		AdvertisementTTL: cfg.Registry.AdvertisementTTL,
	}, registry.DefaultTrustPolicy(), logger, clock)
	reg.Start(ctx)
	defer reg.Close()

	if err := busConn.Subscribe(ctx, bus.AdvertisementsTopic, func(_ context.Context, env *types.Envelope) error {
		var ad registry.Advertisement
		if err := env.Decode(&ad); err != nil {
			return err
		}
		reg.Ingest(ad, env.SenderID)
		metrics.RegistrySize.Set(float64(len(reg.ListAll(nil))))
		return nil
	}); err != nil {
		logger.Fatal("failed to subscribe to capability advertisements", zap.Error(err))
	}

	lc := lifecycle.New(lifecycle.Config{
		SpawnTimeout:       cfg.Lifecycle.SpawnTimeout,
		KillGrace:          cfg.Lifecycle.KillGrace,
		HealthPollInterval: cfg.Lifecycle.HealthPollInterval,
		UnhealthyThreshold: cfg.Lifecycle.UnhealthyThreshold,
	}, reg, nil, logger, clock)
	defer lc.ShutdownAll()

	ing := knowledge.New(knowledge.Config{
		IngestionFloor:   cfg.Knowledge.IngestionFloor,
		NoveltyBonus:     cfg.Knowledge.NoveltyBonus,
		DuplicateEpsilon: cfg.Knowledge.DuplicateEpsilon,
	}, factStore, registry.DefaultTrustPolicy(), nil, logger, clock)

	if err := busConn.Subscribe(ctx, bus.FactsTopic("all"), func(fctx context.Context, env *types.Envelope) error {
		var fact knowledge.Fact
		if err := env.Decode(&fact); err != nil {
			return err
		}
		_, err := ing.Ingest(fctx, fact, env.SenderID)
		return err
	}); err != nil {
		logger.Warn("failed to subscribe to facts topic", zap.Error(err))
	}

	gateway := llmgateway.NewStubGateway()
	coord := coordinator.New(coordinator.Config{
		InFlightCap:     cfg.Coordinator.InFlightCap,
		SubtaskDeadline: cfg.Coordinator.SubtaskDeadline,
		ProjectDeadline: cfg.Coordinator.ProjectDeadline,
		FailurePolicy:   coordinator.FailurePolicy(cfg.Coordinator.FailurePolicy),
	}, *agentID, busConn, reg, lc, gateway, logger, clock)

	if err := coord.Start(ctx); err != nil {
		logger.Fatal("failed to start coordinator", zap.Error(err))
	}

	checkpointingCoordinator := &persistedCoordinator{Coordinator: coord, store: projectStore}

	srv := apiserver.New(cfg.APIServer.ListenAddr, checkpointingCoordinator, logger)

	metricsServer := &http.Server{Addr: ":9090", Handler: metricsHandler(metrics)}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("api server listening", zap.String("addr", cfg.APIServer.ListenAddr))
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.APIServer.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown error", zap.Error(err))
	}
	_ = metricsServer.Shutdown(shutdownCtx)
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", zap.Error(err))
	}

	logger.Info("hspd stopped")
}

// persistedCoordinator wraps *coordinator.Coordinator so a project handled through
// the HTTP surface is saved into persistence.ProjectStore, with its terminal status
// and finished_at, once execution returns an outcome. Nothing is saved before
// execution starts, and a call that returns no outcome is not saved.
type persistedCoordinator struct {
	*coordinator.Coordinator
	store *persistence.ProjectStore
}

func (p *persistedCoordinator) HandleProject(ctx context.Context, query string) (*coordinator.ProjectOutcome, error) {
	outcome, err := p.Coordinator.HandleProject(ctx, query)
	if outcome != nil {
		status := persistence.ProjectStatusSucceeded
		if err != nil {
			status = persistence.ProjectStatusFailed
		}
		if saveErr := p.store.Save(ctx, outcome.State, status); saveErr != nil {
			return outcome, err
		}
		_ = p.store.MarkFinished(ctx, outcome.ProjectID, status, time.Now().UTC())
	}
	return outcome, err
}

func metricsHandler(m *telemetry.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	return mux
}

// =============================================================================
// health
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(2)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

// =============================================================================
// version / usage
// =============================================================================

func printVersion() {
	fmt.Printf("hspd %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`hspd - HSP Mesh coordinator daemon

Usage:
  hspd <command> [options]

Commands:
  serve     Start the coordinator service
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>      Path to configuration file (YAML)
  --agent-id <id>      Bus identity of this coordinator instance (default "coordinator")

Examples:
  hspd serve
  hspd serve --config /etc/hspd/config.yaml
  hspd health --addr http://localhost:8080
  hspd version`)
}

// =============================================================================
// database wiring
// =============================================================================

func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, persistence.Dialect, error) {
	var dialector gorm.Dialector
	var dialect persistence.Dialect

	switch dbCfg.Driver {
	case "postgres":
		dialector = postgres.Open(dbCfg.DSN)
		dialect = persistence.DialectPostgres
	case "sqlite", "":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = "hspd.db"
		}
		dialector = sqlite.Open(dsn)
		dialect = persistence.DialectSQLite
	default:
		return nil, "", fmt.Errorf("unsupported database driver: %s (supported: postgres, sqlite)", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect database: %w", err)
	}

	logger.Info("database connected", zap.String("driver", string(dialect)))
	return db, dialect, nil
}
