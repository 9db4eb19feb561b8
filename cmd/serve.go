package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/mindmux/mindmux/internal/adapter"
	"github.com/mindmux/mindmux/internal/audit"
	"github.com/mindmux/mindmux/internal/auth"
	"github.com/mindmux/mindmux/internal/bus"
	"github.com/mindmux/mindmux/internal/cache"
	"github.com/mindmux/mindmux/internal/discovery"
	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/health"
	"github.com/mindmux/mindmux/internal/httpapi"
	"github.com/mindmux/mindmux/internal/log"
	"github.com/mindmux/mindmux/internal/metrics"
	"github.com/mindmux/mindmux/internal/mux"
	"github.com/mindmux/mindmux/internal/paths"
	"github.com/mindmux/mindmux/internal/scheduler"
	"github.com/mindmux/mindmux/internal/store"
	"github.com/mindmux/mindmux/internal/tracing"
	"github.com/mindmux/mindmux/internal/watcher"

	// Register tool adapters so adapter.New can build them by type.
	_ "github.com/mindmux/mindmux/internal/adapter/claude"
	_ "github.com/mindmux/mindmux/internal/adapter/gemini"
	_ "github.com/mindmux/mindmux/internal/adapter/opencode"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration daemon",
	Long: `Run the scheduler and HTTP API as a long-lived daemon. Other tools
connect over HTTP to create agents, queue tasks, and follow the live
event stream.

Example:
  mindmux serve                  # Listen on the configured address
  mindmux serve --addr :8080     # Override the listen address`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides config)")
}

func runServe(_ *cobra.Command, _ []string) error {
	if debugFlag || os.Getenv("MINDMUX_DEBUG") != "" {
		logPath, err := paths.LogPath()
		if err != nil {
			return fmt.Errorf("resolving log path: %w", err)
		}
		cleanup, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		defer cleanup()

		log.Info(log.CatConfig, "mindmux daemon starting", "version", version, "logPath", logPath)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Single-instance guard: the state dir is not safe for concurrent
	// writers.
	lockPath, err := paths.LockPath()
	if err != nil {
		return fmt.Errorf("resolving lock path: %w", err)
	}
	instanceLock := flock.New(lockPath)
	locked, err := instanceLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another mindmux instance is running (lock held at %s)", lockPath)
	}
	defer func() { _ = instanceLock.Unlock() }()

	dbPath, err := paths.DBPath()
	if err != nil {
		return fmt.Errorf("resolving database path: %w", err)
	}
	db, err := store.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	hot := cache.New()
	if err := hot.RebuildFromStore(db); err != nil {
		return fmt.Errorf("rebuilding cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := bus.New()
	defer eventBus.Close()
	eventBus.StartHeartbeat(ctx)

	registry := metrics.NewRegistry()
	ledger := audit.NewLedger()

	authSvc := auth.NewService(ledger)
	if token := cfg.ResolveAuthToken(); token != "" {
		authSvc.RegisterToken(token, auth.User{UserID: "admin", Role: auth.RoleAdmin}, time.Time{})
	} else {
		log.Warn(log.CatAuth, "no auth token configured; all authenticated routes will reject")
	}
	limiter := auth.NewRateLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)

	tracer, err := newTracingProvider()
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	driver := mux.NewTmux(cfg.Mux.Binary)
	if !driver.IsAvailable() {
		log.Warn(log.CatMux, "multiplexer binary not found; agent sessions will fail to start", "binary", cfg.Mux.Binary)
	}

	sched := scheduler.New(scheduler.Config{
		DB:      db,
		Cache:   hot,
		Bus:     eventBus,
		Metrics: registry,
		Adapters: func(typ domain.AgentType) (adapter.Adapter, error) {
			return adapter.New(typ, driver)
		},
		Driver:        driver,
		SessionPrefix: cfg.Mux.SessionPrefix,
		TickInterval:  cfg.Scheduler.TickInterval,
		Workers:       cfg.Scheduler.Workers,
		Tracer:        tracer.Tracer(),
	})
	go sched.Run(ctx)

	checker := health.NewChecker(version, registry, hot)
	checker.Register("agents", false, func() error {
		live := len(hot.AgentsByStatus(domain.AgentIdle)) + len(hot.AgentsByStatus(domain.AgentBusy))
		if live == 0 {
			return fmt.Errorf("no live agents")
		}
		return nil
	})
	checker.Register("database", true, func() error {
		_, err := db.ListAgents()
		return err
	})
	checker.Register("multiplexer", false, func() error {
		if !driver.IsAvailable() {
			return fmt.Errorf("%s binary not found", cfg.Mux.Binary)
		}
		return nil
	})

	configWatcher, err := startDiscoveryRefresh(ctx, driver, eventBus)
	if err != nil {
		log.ErrorErr(log.CatScan, "discovery refresh disabled", err)
	} else {
		defer configWatcher.Stop()
	}

	handler := httpapi.NewHandler(httpapi.HandlerConfig{
		Scheduler: sched,
		Bus:       eventBus,
		Cache:     hot,
		Metrics:   registry,
		Health:    checker,
		Auth:      authSvc,
		Audit:     ledger,
		Limiter:   limiter,
		Version:   version,
	})

	addr := serveAddr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:    addr,
		Handler: handler,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("mindmux daemon listening on port %d\n", server.Port())
	fmt.Println("Press Ctrl+C to stop")

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.ErrorErr(log.CatHTTP, "error stopping API server", err)
	}
	cancel()
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatConfig, "error shutting down tracing", err)
	}

	fmt.Println("Daemon stopped")
	return nil
}

// newTracingProvider builds the tracer from config, deriving the default
// trace file location from the state dir when none is set.
func newTracingProvider() (*tracing.Provider, error) {
	tcfg := cfg.Tracing
	if tcfg.Enabled && tcfg.Exporter == "file" && tcfg.FilePath == "" {
		path, err := paths.TracesPath()
		if err != nil {
			return nil, fmt.Errorf("resolving traces path: %w", err)
		}
		tcfg.FilePath = path
	}
	return tracing.NewProvider(tracing.Config{
		Enabled:      tcfg.Enabled,
		Exporter:     tcfg.Exporter,
		FilePath:     tcfg.FilePath,
		OTLPEndpoint: tcfg.OTLPEndpoint,
		SampleRate:   tcfg.SampleRate,
	})
}

// discoveryScanInterval paces the background scan for foreign AI panes.
const discoveryScanInterval = 30 * time.Second

// startDiscoveryRefresh runs the background discovery scan, keeping the
// scanner's catalog and label maps in sync with their files on disk.
// Panes that enter an error state raise a bus alert once per episode.
// The returned watcher must be stopped by the caller.
func startDiscoveryRefresh(ctx context.Context, driver mux.Driver, eventBus *bus.Bus) (*watcher.Watcher, error) {
	labelsPath, err := paths.LabelsPath()
	if err != nil {
		return nil, err
	}
	catalogPath, err := paths.MCPCatalogPath()
	if err != nil {
		return nil, err
	}

	scanner := discovery.NewScanner(driver)
	reload := func() {
		if catalog, err := discovery.LoadCatalog(catalogPath); err == nil {
			scanner.SetCatalog(catalog)
		} else {
			log.Warn(log.CatScan, "loading MCP catalog failed", "path", catalogPath, "error", err)
		}
		if labels, err := discovery.LoadLabels(labelsPath); err == nil {
			scanner.SetLabels(labels)
		} else {
			log.Warn(log.CatScan, "loading session labels failed", "path", labelsPath, "error", err)
		}
	}
	reload()

	w, err := watcher.New(watcher.DefaultConfig(labelsPath, catalogPath))
	if err != nil {
		return nil, err
	}
	changes, err := w.Start()
	if err != nil {
		return nil, err
	}

	log.SafeGo(log.CatScan, "discovery-refresh", func() {
		ticker := time.NewTicker(discoveryScanInterval)
		defer ticker.Stop()

		alerted := make(map[string]bool)
		scan := func() {
			sessions, err := scanner.Scan()
			if err != nil {
				log.Warn(log.CatScan, "discovery scan failed", "error", err)
				return
			}
			seen := make(map[string]bool, len(sessions))
			for _, session := range sessions {
				seen[session.PaneID] = true
				if session.Status == discovery.StatusError {
					if !alerted[session.PaneID] {
						alerted[session.PaneID] = true
						eventBus.AlertTriggered("discovered-session-error",
							fmt.Sprintf("%s pane %s reports an error", session.ToolType, session.PaneID))
					}
				} else {
					delete(alerted, session.PaneID)
				}
			}
			for pane := range alerted {
				if !seen[pane] {
					delete(alerted, pane)
				}
			}
			log.Debug(log.CatScan, "discovery scan complete", "sessions", len(sessions))
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				scan()
			case _, open := <-changes:
				if !open {
					return
				}
				log.Debug(log.CatScan, "discovery config changed, reloading")
				reload()
				scan()
			}
		}
	})

	return w, nil
}
