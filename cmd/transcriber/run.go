package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/adapterinfo"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/config"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/engine"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/frame"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/health"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/logging"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/models"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/server"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/session"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/telemetry"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/tier"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/trigger"
)

const shutdownTimeout = 5 * time.Second

func run(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, closeLog, err := logging.New(logging.Options{
		Enabled: cfg.LoggingEnabled,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer closeLog.Close()
	logger = logger.With(adapterinfo.LogAttrs()...)
	slog.SetDefault(logger)

	word, err := trigger.Load(cfg.TriggerWordFile, cfg.DefaultTriggerWord)
	if err != nil {
		logger.Error("failed to load trigger word", "path", cfg.TriggerWordFile, "error", err)
		return err
	}

	manifest, err := models.DefaultManifest()
	if err != nil {
		return err
	}
	catalog := manifest.Catalog()
	initial := initialTier(catalog, cfg.Model, logger)

	logger.Info("starting server",
		"listen_addr", cfg.ListenAddr,
		"backend", engine.ResolveBackend(cfg.Backend),
		"model", catalog[initial],
		"language", cfg.Language,
		"trigger_word", word,
		"idle_timeout", cfg.IdleTimeout,
	)

	var manager *models.Manager
	if engine.ResolveBackend(cfg.Backend) == config.BackendNative {
		manager, err = models.NewManager(cfg.DataDir, logger)
		if err != nil {
			logger.Error("failed to initialise model manager", "error", err)
			return err
		}
	}
	loader, err := engine.NewLoader(cfg, manager, logger)
	if err != nil {
		logger.Error("failed to initialise engine loader", "error", err)
		return err
	}
	controller, err := tier.NewController(catalog, tier.DefaultLadder, loader, initial, logger)
	if err != nil {
		return err
	}

	recorder := telemetry.NewRecorder(logger)
	reporter := health.NewReporter(adapterinfo.Info.HealthService)

	// Bind the auxiliary endpoints before anything runs so a bad address fails
	// startup without leaving the server loop behind.
	var healthLis net.Listener
	if cfg.HealthAddr != "" {
		healthLis, err = net.Listen("tcp", cfg.HealthAddr)
		if err != nil {
			logger.Error("failed to bind health listener", "addr", cfg.HealthAddr, "error", err)
			return fmt.Errorf("health listener: %w", err)
		}
	}
	var metricsHandler http.Handler
	if cfg.MetricsAddr != "" {
		metricsHandler, err = recorder.Handler()
		if err != nil {
			if healthLis != nil {
				_ = healthLis.Close()
			}
			return err
		}
	}

	loop := &server.Loop{
		Controller: controller,
		Sessions: &session.Handler{
			Assembler: frame.Assembler{IdleTimeout: cfg.IdleTimeout, BufferSize: cfg.ReadBufferSize},
			Options: session.Options{
				Language:          cfg.Language,
				BeamSize:          cfg.BeamSize,
				NoSpeechThreshold: cfg.NoSpeechThreshold,
				TriggerWord:       word,
			},
			Logger:  logger,
			Metrics: recorder,
		},
		Listen:  server.TCPListener(cfg.ListenAddr),
		Health:  reporter,
		Metrics: recorder,
		Logger:  logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := loop.Run(gctx)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		return err
	})
	if healthLis != nil {
		g.Go(func() error { return health.Serve(gctx, healthLis, reporter, logger) })
	}
	if metricsHandler != nil {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, metricsHandler, logger) })
	}

	err = g.Wait()
	snapshot := recorder.Snapshot()
	logger.Info("telemetry totals",
		"sessions", snapshot.TotalSessions,
		"utterances", snapshot.TotalUtterances,
		"transcripts", snapshot.TotalTranscripts,
		"reloads", snapshot.TotalReloads,
		"downgrades", snapshot.TotalDowngrades,
	)
	if err != nil {
		logger.Error("server terminated", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}

// initialTier resolves the requested model, falling back to the default tier
// when the name is not in the catalog.
func initialTier(catalog []string, requested string, logger *slog.Logger) int {
	idx, err := tier.Select(catalog, requested)
	if err == nil {
		return idx
	}
	fallback, ferr := tier.Select(catalog, config.DefaultModel)
	if ferr != nil {
		fallback = len(catalog) - 1
	}
	logger.Error("invalid model requested; using default", "requested", requested, "default", catalog[fallback], "error", err)
	return fallback
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
