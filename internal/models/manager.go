package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrModelMissing indicates that the artefact is not present locally and no
// download URL is known for it.
var ErrModelMissing = errors.New("models: model file missing")

// Manager resolves and downloads model artefacts under <dataDir>/models.
type Manager struct {
	dataDir string
	log     *slog.Logger
	client  *http.Client
}

// EnsureOptions tweaks how EnsureVariant resolves a model.
type EnsureOptions struct {
	Manifest Manifest
	// Override points at an explicit model file and bypasses the manifest.
	Override string
}

// NewManager creates the models directory when needed.
func NewManager(dataDir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("models: data dir is required")
	}
	m := &Manager{
		dataDir: filepath.Clean(dataDir),
		log:     logger.With("component", "models.Manager"),
		client:  &http.Client{},
	}
	if err := os.MkdirAll(m.ModelsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("models: create models dir: %w", err)
	}
	return m, nil
}

// ModelsDir returns the directory holding model files.
func (m *Manager) ModelsDir() string {
	return filepath.Join(m.dataDir, "models")
}

// Resolve returns the local path for a variant/precision without downloading.
func (m *Manager) Resolve(manifest Manifest, variant, precision string) (string, error) {
	v, err := manifest.Lookup(variant)
	if err != nil {
		return "", err
	}
	file, err := v.File(precision)
	if err != nil {
		return "", err
	}
	path := filepath.Join(m.ModelsDir(), file.Filename)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrModelMissing, path)
		}
		return "", fmt.Errorf("models: stat %s: %w", path, err)
	}
	return path, nil
}

// EnsureVariant returns a local path for the variant, downloading it first
// when it is missing and the manifest carries a URL.
func (m *Manager) EnsureVariant(ctx context.Context, variant, precision string, opts EnsureOptions) (string, error) {
	if override := strings.TrimSpace(opts.Override); override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("models: override %s: %w", override, err)
		}
		return override, nil
	}

	path, err := m.Resolve(opts.Manifest, variant, precision)
	if err == nil {
		return path, nil
	}
	if !errors.Is(err, ErrModelMissing) {
		return "", err
	}

	v, _ := opts.Manifest.Lookup(variant)
	file, _ := v.File(precision)
	if file.URL == "" {
		return "", err
	}

	target := filepath.Join(m.ModelsDir(), file.Filename)
	m.log.Info("downloading model", "variant", variant, "precision", precision, "url", file.URL)
	if err := m.download(ctx, file, target); err != nil {
		return "", err
	}
	m.log.Info("model ready", "variant", variant, "precision", precision, "path", target)
	return target, nil
}

func (m *Manager) download(ctx context.Context, file File, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, http.NoBody)
	if err != nil {
		return fmt.Errorf("models: build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("models: download %s: %w", file.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("models: download %s: unexpected status %s", file.URL, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.part")
	if err != nil {
		return fmt.Errorf("models: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("models: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("models: close %s: %w", tmp.Name(), err)
	}

	if want := strings.ToLower(strings.TrimSpace(file.SHA256)); want != "" {
		if got := hex.EncodeToString(hasher.Sum(nil)); got != want {
			return fmt.Errorf("models: checksum mismatch for %s: got %s want %s", file.Filename, got, want)
		}
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("models: install %s: %w", target, err)
	}
	return nil
}
