package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/config"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/models"
)

// ErrNativeEngineUnavailable indicates that the binary was built without the
// whispercpp tag.
var ErrNativeEngineUnavailable = errors.New("engine: native backend unavailable")

type backendLoader struct {
	cfg      config.Config
	backend  string
	manager  *models.Manager
	manifest models.Manifest
	log      *slog.Logger
}

// ResolveBackend maps "auto" to the backend this binary can run: native when
// whisper.cpp is compiled in, stub otherwise. Other names pass through.
func ResolveBackend(backend string) string {
	switch backend {
	case config.BackendAuto, "":
		if NativeAvailable() {
			return config.BackendNative
		}
		return config.BackendStub
	}
	return backend
}

// NewLoader returns the Loader for cfg.Backend. The "auto" backend resolves to
// native when whisper.cpp is compiled in and to the stub otherwise.
func NewLoader(cfg config.Config, manager *models.Manager, logger *slog.Logger) (Loader, error) {
	manifest, err := models.DefaultManifest()
	if err != nil {
		return nil, err
	}
	return newLoaderWithManifest(cfg, manager, manifest, logger)
}

func newLoaderWithManifest(cfg config.Config, manager *models.Manager, manifest models.Manifest, logger *slog.Logger) (Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &backendLoader{
		cfg:      cfg,
		backend:  ResolveBackend(cfg.Backend),
		manager:  manager,
		manifest: manifest,
		log:      logger.With("component", "engine.loader"),
	}

	switch cfg.Backend {
	case config.BackendAuto, "":
		if l.backend == config.BackendStub {
			l.log.Warn("native backend disabled at build time; using stub engine")
		}
	case config.BackendNative:
		if !NativeAvailable() {
			return nil, fmt.Errorf("%w: rebuild with -tags whispercpp", ErrNativeEngineUnavailable)
		}
	case config.BackendStub, config.BackendOpenAI:
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrConfig, cfg.Backend)
	}

	if l.backend == config.BackendNative && manager == nil {
		return nil, fmt.Errorf("%w: native backend requires a model manager", ErrConfig)
	}
	return l, nil
}

// Backend reports the resolved backend name.
func (l *backendLoader) Backend() string {
	return l.backend
}

// Load implements Loader.
func (l *backendLoader) Load(ctx context.Context, spec Spec) (Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch l.backend {
	case config.BackendStub:
		return NewStubEngine(l.log, spec), nil
	case config.BackendOpenAI:
		variant, err := l.manifest.Lookup(spec.Model)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		return NewOpenAIEngine(l.cfg.OpenAIBaseURL, l.cfg.OpenAIAPIKey, variant.RemoteModel, spec, l.log), nil
	case config.BackendNative:
		path, err := l.manager.EnsureVariant(ctx, spec.Model, string(spec.Precision), models.EnsureOptions{
			Manifest: l.manifest,
			Override: l.cfg.ModelPath,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: ensure model %s/%s: %w", spec.Model, spec.Precision, err)
		}
		eng, err := NewNativeEngine(path, spec, l.log)
		if err != nil {
			return nil, err
		}
		l.log.Info("native engine ready", "model_path", path, "device", string(spec.Device), "precision", string(spec.Precision))
		return eng, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", ErrConfig, l.backend)
}
