package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/garnizeh/techsync/api"
	migrations "github.com/garnizeh/techsync/db"
	"github.com/garnizeh/techsync/internal/config"
	"github.com/garnizeh/techsync/internal/db"
	"github.com/garnizeh/techsync/internal/jobs"
	"github.com/garnizeh/techsync/internal/logging"
	"github.com/garnizeh/techsync/internal/mapping"
	"github.com/garnizeh/techsync/internal/orchestrator"
	"github.com/garnizeh/techsync/internal/repository/sqlite"
	"github.com/garnizeh/techsync/pkg/remote"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to config YAML file")
	envFile := pflag.String("env-file", ".env", "Path to a dotenv file loaded before the config")
	pflag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("failed to load env file", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("err", err))
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)
	api.SetLogger(logger)
	mapping.SetLogger(logger)
	orchestrator.SetLogger(logger)
	remote.SetLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting techsync", slog.String("version", version), slog.String("build_time", buildTime))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Error("close db", slog.Any("err", err))
		}
	}()
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, conn, migrations.Migrations); err != nil {
			return err
		}
	}
	repo := sqlite.New(conn, logger)

	// Without a mapping table no identity can be resolved.
	store, err := mapping.NewStore(ctx, mapping.FileLoader(cfg.Mapping.Path))
	if err != nil {
		return err
	}

	client, err := remote.NewDefaultClient(cfg.Remote)
	if err != nil {
		return err
	}
	defer client.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := orchestrator.NewMetrics(reg)
	if err != nil {
		return err
	}
	policy, err := orchestrator.NewCommentPolicy(cfg.Sync.CommentTemplate)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(store, client,
		orchestrator.WithRecorder(repo),
		orchestrator.WithCommentPolicy(policy),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithLogger(logger),
		orchestrator.WithWorkers(cfg.Sync.Workers),
	)
	if err != nil {
		return err
	}

	pool := jobs.NewWorkerPool(repo, map[string]jobs.Handler{
		jobs.TypeSyncBatch: jobs.SyncBatchHandler(orch, repo, logger),
	}, logger, cfg.Sync.JobWorkers)
	pool.Start(ctx)
	defer pool.Stop()
	pool.Schedule(ctx, cfg.Sync.Interval, jobs.TypeSyncBatch, jobs.SyncPayload{PendingOnly: true}, 1)

	go reloadOnHangup(ctx, store, logger)

	handler := api.SetupRoutes(cfg, version, buildTime, api.Services{
		Operators:   repo,
		Tickets:     repo,
		Outcomes:    repo,
		Syncer:      orch,
		SyncTimeout: cfg.SyncTimeout(),
		Jobs:        pool,
		Mappings:    store,
		Checks: map[string]api.HealthCheck{
			"database": func(ctx context.Context) error { return conn.GetConn().PingContext(ctx) },
			"remote":   client.Health,
		},
		Metrics: reg,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// reloadOnHangup reloads the mapping table on SIGHUP. A failed reload keeps
// the previous table in service.
func reloadOnHangup(ctx context.Context, store *mapping.Store, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := store.Reload(ctx); err != nil {
				logger.Warn("mapping reload on SIGHUP failed", slog.Any("err", err))
			}
		}
	}
}
