// Package main wires together the comic maintainer service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/activejob"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/api"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/archive"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/broadcast"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/cache"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/clock/system"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/config"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/id/uuid"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/inventory"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/job"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/logging"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/metrics"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/store"
	memorystore "github.com/mleenorris/ComicMaintainer-sub003/internal/store/memory"
	postgresstore "github.com/mleenorris/ComicMaintainer-sub003/internal/store/postgres"
	sqlitestore "github.com/mleenorris/ComicMaintainer-sub003/internal/store/sqlite"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/watch"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("open store failed", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := kv.Close(); closeErr != nil {
			logger.Warn("close store failed", zap.Error(closeErr))
		}
	}()

	clock := system.New()
	idGen := uuid.NewGenerator()
	pointer := activejob.NewManager(kv, clock, logger.Named("activejob"))
	registry := job.NewRegistry(kv, clock, cfg.Retention(), logger.Named("registry"))

	broadcaster := broadcast.New(broadcast.Config{
		BufferSize:  cfg.Events.BufferSize,
		SendTimeout: time.Duration(cfg.Events.SendTimeoutMs) * time.Millisecond,
		Logger:      logger.Named("broadcast"),
	})
	defer broadcaster.Close()

	processID, err := idGen.NewID()
	if err != nil {
		logger.Error("generate process id failed", zap.Error(err))
		os.Exit(1)
	}
	coordinator := cache.NewCoordinator(kv, clock, processID, cache.Config{
		LockTimeout: time.Duration(cfg.Cache.LockTimeoutMs) * time.Millisecond,
		LeaseTTL:    time.Duration(cfg.Cache.LeaseTTLSeconds) * time.Second,
		Logger:      logger.Named("cache"),
	})

	tagger := archive.NewTagger()
	processor := archive.NewProcessor(tagger, tagger, logger.Named("archive"))
	files := inventory.NewFS(cfg.Library.Root, cfg.Library.Extensions)
	enricher := inventory.NewEnricher(files, tagger, logger.Named("inventory"))

	executor := job.NewExecutor(
		registry,
		broadcaster,
		processor,
		clock,
		idGen,
		coordinator,
		job.Config{
			Workers:                 cfg.Jobs.Workers,
			TerminalPublishAttempts: cfg.Jobs.TerminalPublishAttempts,
			TerminalPublishBackoff:  cfg.TerminalPublishBackoff(),
			MutationKey:             "enriched-files",
		},
		logger.Named("executor"),
	)

	watcher := watch.NewWatcher(pointer, executor, clock, nil, watch.Config{
		Interval:   time.Duration(cfg.Watch.IntervalSeconds) * time.Second,
		StaleAfter: time.Duration(cfg.Watch.StaleAfterSeconds) * time.Second,
	}, logger.Named("watch"))
	if err := watcher.Resume(ctx); err != nil {
		logger.Warn("resume active job watch failed", zap.Error(err))
	}
	go watcher.Run(ctx)
	go feedWatcher(ctx, broadcaster, watcher)
	go housekeeping(ctx, registry, pointer, cfg, logger.Named("housekeeping"))

	apiServer := api.NewServer(
		executor,
		broadcaster,
		pointer,
		coordinator,
		enricher,
		kv,
		cfg,
		logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Jobs.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := executor.Shutdown(shutdownCtx); err != nil {
		logger.Error("executor shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Provider {
	case "memory":
		return memorystore.New(), nil
	case "sqlite":
		return sqlitestore.Open(cfg.Store.SQLitePath)
	case "postgres":
		return postgresstore.New(ctx, cfg.Store.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}
}

// feedWatcher pipes broadcast events into the in-process observer so the
// watchdog sees push traffic.
func feedWatcher(ctx context.Context, b *broadcast.Broadcaster, w *watch.Watcher) {
	sub := b.Subscribe("")
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case evt := <-sub.C():
			w.ObserveEvent(ctx, evt)
		}
	}
}

// housekeeping periodically reclaims expired terminal jobs and tidies
// the active-job pointer.
func housekeeping(ctx context.Context, registry *job.Registry, pointer *activejob.Manager, cfg config.Config, logger *zap.Logger) {
	interval := time.Duration(cfg.Jobs.HousekeepingIntervalMin) * time.Minute
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := registry.Sweep(ctx, pointer); err != nil {
				logger.Warn("housekeeping sweep failed", zap.Error(err))
			}
		}
	}
}
