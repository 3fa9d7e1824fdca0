package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/indexwarden/internal/config"
	"github.com/3leaps/indexwarden/internal/observability"
	"github.com/3leaps/indexwarden/internal/server"
	"github.com/3leaps/indexwarden/internal/server/handlers"
	"github.com/3leaps/indexwarden/pkg/jobstatus"
	"github.com/3leaps/indexwarden/pkg/metrics"
	"github.com/3leaps/indexwarden/pkg/reconcile"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciler and the HTTP API",
	Long: `Run the batch build reconciler until interrupted.

The reconciler runs a cycle on start, re-checks in-flight builds every
reconcile.poll_interval_ms, and resyncs every reconcile.resync_interval to
pick up builds started elsewhere. The HTTP API exposes health checks,
/metrics, /version, read-only indexer views and POST /v1/reconcile.

Examples:
  indexwarden serve
  indexwarden serve --port 9000 --config /etc/indexwarden.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "HTTP listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverOverrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		serverOverrides["host"] = serveHost
	}
	if cmd.Flags().Changed("port") {
		serverOverrides["port"] = servePort
	}
	cfg, err := loadConfig(cmd, map[string]any{"server": serverOverrides})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := openModelStore(ctx, cfg.Store)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot open indexer model store", err)
	}
	defer func() { _ = store.Close() }()

	source, err := newJobSource(ctx, cfg.Tracker, logger)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot create job tracker", err)
	}

	reg := prometheus.NewRegistry()
	sched, err := newScheduler(cfg, store, source, logger, reg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot create reconciler", err)
	}

	health := handlers.NewHealthManager(versionInfo.Version)
	health.RegisterChecker("store", store)
	health.RegisterChecker("reconciler", sched)

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
		server.WithHealthManager(health),
		server.WithVersion(handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithIndexers(store),
		server.WithReconciler(sched),
	}
	if cfg.Metrics.Enabled {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, server.WithMetrics(reg))
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srvErr := make(chan error, 1)
	go func() {
		err := srv.Run(ctx)
		if err != nil {
			cancel()
		}
		srvErr <- err
	}()

	_ = sched.Run(ctx)

	if err := <-srvErr; err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

// newScheduler wires a scheduler from config. Metrics are registered on reg
// when enabled.
func newScheduler(cfg *config.Config, store modelStore, source jobstatus.Source, logger *zap.Logger, reg prometheus.Registerer) (*reconcile.Scheduler, error) {
	opts := reconcile.Options{
		PollInterval:   cfg.Reconcile.PollInterval(),
		ResyncInterval: cfg.Reconcile.ResyncInterval,
		Include:        cfg.Reconcile.Include,
		Logger:         logger,
	}
	if cfg.Metrics.Enabled && reg != nil {
		sink, err := metrics.NewStreamMetrics(reg, "reconcile")
		if err != nil {
			return nil, err
		}
		rm, err := metrics.NewReconcileMetrics(reg)
		if err != nil {
			return nil, err
		}
		opts.Sink = sink
		opts.Metrics = rm
	}
	return reconcile.NewScheduler(store, source, opts)
}
