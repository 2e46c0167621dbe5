package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/engine"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/models"
)

func main() {
	var (
		tierName  = flag.String("tier", "", "model tier from internal/models/manifest.yaml (all tiers when empty)")
		precision = flag.String("precision", string(engine.PrecisionFloat16), "artefact precision: float16 or int8")
		output    = flag.String("dir", "data", "base directory where models/<file> will be stored")
	)
	flag.Parse()

	if strings.TrimSpace(*output) == "" {
		fmt.Fprintln(os.Stderr, "download_model: --dir must not be empty")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	manager, err := models.NewManager(filepath.Clean(*output), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "download_model: init manager: %v\n", err)
		os.Exit(1)
	}

	manifest, err := models.DefaultManifest()
	if err != nil {
		fmt.Fprintf(os.Stderr, "download_model: load manifest: %v\n", err)
		os.Exit(1)
	}

	tiers := manifest.Catalog()
	if name := strings.TrimSpace(*tierName); name != "" {
		tiers = []string{name}
	}

	failed := false
	for _, name := range tiers {
		path, err := manager.EnsureVariant(ctx, name, *precision, models.EnsureOptions{
			Manifest: manifest,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "download_model: ensure %s/%s: %v\n", name, *precision, err)
			failed = true
			continue
		}
		fmt.Printf("Model %s/%s ready at %s\n", name, *precision, path)
	}
	if failed {
		os.Exit(1)
	}
}
