package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/adapterinfo"
)

// StubEngine produces deterministic transcripts without invoking Whisper.
type StubEngine struct {
	log  *slog.Logger
	spec Spec
}

// NewStubEngine returns an Engine that generates placeholder transcripts.
func NewStubEngine(logger *slog.Logger, spec Spec) *StubEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEngine{
		log: logger.With(
			"component", "engine.stub",
			"service", adapterinfo.Info.Slug,
			"model", spec.Model,
		),
		spec: spec,
	}
}

// Close implements the Engine interface.
func (e *StubEngine) Close() error {
	return nil
}

// Transcribe implements the Engine interface.
func (e *StubEngine) Transcribe(ctx context.Context, samples []float32, opts Options) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := fmt.Sprintf("[stub:%s/%s/%s] %d samples", e.spec.Model, e.spec.Device, e.spec.Precision, len(samples))
	e.log.Debug("stub transcript", "samples", len(samples), "language", normaliseLanguage(opts.Language, ""))
	return []Segment{{Text: text, Confidence: 0.42}}, nil
}
