package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rmax-ai/policycanvas/pkg/api"
	"github.com/rmax-ai/policycanvas/pkg/blob"
	"github.com/rmax-ai/policycanvas/pkg/client"
	"github.com/rmax-ai/policycanvas/pkg/engine"
	"github.com/rmax-ai/policycanvas/pkg/graph"
	"github.com/rmax-ai/policycanvas/pkg/logging"
	"github.com/rmax-ai/policycanvas/pkg/store"
	rediscache "github.com/rmax-ai/policycanvas/pkg/store/redis"
	"github.com/rmax-ai/policycanvas/web"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		logging.New(os.Stdout, slog.LevelInfo).Error("invalid_config", "error", err)
		os.Exit(2)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel).With("component", "policycanvas-d")
	slog.SetDefault(logger)
	logger.Info("system_started", "addr", cfg.Addr, "initial_graph", string(cfg.InitialGraph))

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown_complete")
}

func run(cfg Config, logger *slog.Logger) error {
	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed_to_close_store", "error", err)
		} else {
			logger.Info("store_closed")
		}
	}()
	logger.Info("store_initialized", "path", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workers outlive the signal context so the recorder can drain after the
	// API has stopped accepting edits.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancelWorkers()

	goWorker := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(workerCtx)
		}()
	}

	g := graph.NewStore()
	recorder := engine.NewRecorder(st, logger.With("worker", "recorder"), 0)
	goWorker(recorder.Run)

	bootCfg := engine.BootstrapConfig{
		Mode:     cfg.InitialGraph,
		SeedFile: cfg.SeedFile,
		PolicyID: cfg.PolicyID,
	}
	if cfg.InitialGraph == engine.InitialFetched {
		bootCfg.Fetcher = client.NewPolicyFetcher(cfg.FetchURL)
	}
	res, err := engine.Bootstrap(ctx, st, g, bootCfg, logger, recorder.Hook(), engine.MetricsHook())
	if err != nil {
		return err
	}
	engine.ObserveSnapshot(g.Snapshot())
	logger.Info("graph_restored",
		"snapshot_version", res.SnapshotVersion,
		"replayed", res.Replayed,
		"initial", string(res.Initial),
		"version", g.Version(),
	)

	snapshots := engine.NewSnapshotWorker(st, g, recorder, logger.With("worker", "snapshot"), cfg.SnapshotInterval)
	snapshotCtx, stopSnapshots := context.WithCancel(workerCtx)
	defer stopSnapshots()
	snapshotDone := make(chan struct{})
	go func() {
		defer close(snapshotDone)
		snapshots.Run(snapshotCtx)
	}()

	goWorker(engine.NewDispatcher(st, logger.With("worker", "webhooks")).Start)

	if cfg.ArchiveDir != "" {
		archiver := engine.NewArchiveWorker(st, blob.NewLocalBlobStore(cfg.ArchiveDir), engine.ArchiveConfig{
			Enabled:       true,
			CheckInterval: cfg.ArchiveInterval,
		}, logger.With("worker", "archive"))
		goWorker(archiver.Run)
	}

	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis_unreachable", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()
		goWorker(engine.NewMirror(g, rediscache.NewSnapshotCache(rdb), logger.With("worker", "mirror")).Run)
	}

	srv := api.NewServer(g, st, cfg.Addr, logger)
	if cfg.TLSCertFile != "" {
		srv.SetTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	}
	if assets, err := webAssets(cfg); err != nil {
		logger.Warn("web_assets_unavailable", "mode", cfg.WebAssetsMode, "error", err)
	} else if assets != nil {
		srv.SetStaticFS(assets)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_initiated")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server_shutdown_failed", "error", err)
	}

	// Persist the final state so the next start replays nothing.
	stopSnapshots()
	<-snapshotDone
	if _, err := snapshots.TakeSnapshot(shutdownCtx); err != nil {
		logger.Error("final_snapshot_failed", "error", err)
	}
	return nil
}

func webAssets(cfg Config) (fs.FS, error) {
	switch cfg.WebAssetsMode {
	case "fs":
		return os.DirFS(cfg.WebDir), nil
	case "off":
		return nil, nil
	}
	return web.Assets()
}
