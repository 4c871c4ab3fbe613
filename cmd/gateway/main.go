// gateway is the NeuroLens server: it accepts WebSocket clients,
// forwards frames to the inference service, shapes captions and voice
// feedback, and optionally archives everything to Postgres.
//
// Usage: go run ./cmd/gateway --config configs/gateway.local.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/neurolens/neurolens/internal/archive"
	"github.com/neurolens/neurolens/internal/caption"
	"github.com/neurolens/neurolens/internal/config"
	"github.com/neurolens/neurolens/internal/database"
	"github.com/neurolens/neurolens/internal/hub"
	"github.com/neurolens/neurolens/internal/memory"
	"github.com/neurolens/neurolens/internal/settings"
	"github.com/neurolens/neurolens/internal/version"
	"github.com/neurolens/neurolens/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/gateway.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"listen_addr", cfg.Server.ListenAddr,
		"vision_url", cfg.Vision.BaseURL,
		"archive_enabled", cfg.Archive.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Inference client
	visionClient := vision.NewClient(
		cfg.Vision.BaseURL,
		cfg.Vision.APIKey,
		vision.WithLogger(logger),
		vision.WithTimeout(cfg.Vision.Timeout),
		vision.WithRetries(cfg.Vision.MaxRetries, time.Second),
	)

	// Shared state
	settingsStore := settings.NewStore()
	mem := memory.NewStore(memory.Config{
		MaxMessages:  cfg.Memory.MaxMessages,
		DetectionTTL: cfg.Memory.DetectionTTL,
		SceneHistory: cfg.Memory.SceneHistory,
		RecentWindow: cfg.Memory.RecentWindow,
	})

	pipeline := hub.NewPipeline(visionClient, caption.NewBuilder(), mem, settingsStore, hub.PipelineConfig{
		ConfidenceThreshold: cfg.Vision.ConfidenceThreshold,
		OCREnabled:          cfg.Vision.OCREnabled,
	}, logger)

	hubOpts := []hub.Option{
		hub.WithLogger(logger),
		hub.WithWriteTimeout(cfg.Server.WriteTimeout),
	}

	// Optional caption/detection archive
	var writer *archive.FrameWriter
	var pool *pgxpool.Pool
	if cfg.Archive.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)

		var err error
		pool, err = database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		logger.Info("database connected")

		buffer := archive.NewBuffer[archive.Record](cfg.Archive.BufferSize)
		writer = archive.NewFrameWriter(archive.WriterConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		}, buffer, pool, logger)

		if err := writer.Start(ctx); err != nil {
			logger.Error("failed to start frame writer", "error", err)
			os.Exit(1)
		}
		hubOpts = append(hubOpts, hub.WithRecorder(writer))
	}

	h := hub.NewHub(pipeline, pipeline, pipeline, settingsStore, hubOpts...)

	var snapshotter *archive.Snapshotter
	if cfg.Archive.Enabled {
		source := archive.StatsSourceFunc(func() map[string]int64 {
			stats := h.Stats()
			wstats := writer.Stats()
			return map[string]int64{
				"connections":    int64(stats.Connections),
				"frames_in":      int64(stats.FramesIn),
				"audio_in":       int64(stats.AudioIn),
				"messages_in":    int64(stats.MessagesIn),
				"errors_out":     int64(stats.Errors),
				"archive_writes": wstats.Inserts,
			}
		})
		snapshotter = archive.NewSnapshotter(archive.SnapshotConfig{
			Interval: cfg.Archive.SnapshotInterval,
		}, source, pool, logger)
	}

	srv := hub.NewServer(hub.ServerConfig{
		ListenAddr:      cfg.Server.ListenAddr,
		CORSOrigins:     cfg.Server.CORSOrigins,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, h, settingsStore, logger,
		hub.WithResponder(pipeline),
		hub.WithSpeech(visionClient),
		hub.WithDescriber(visionClient),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		logger.Info("shutting down...")
		if snapshotter != nil {
			snapshotter.Stop(shutdownCtx)
		}
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", "error", err)
		}
		if writer != nil {
			writer.Stop(shutdownCtx)
		}
		return nil
	})

	if snapshotter != nil {
		if err := snapshotter.Start(ctx); err != nil {
			logger.Error("failed to start snapshotter", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("gateway running - press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		logger.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
