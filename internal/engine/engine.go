package engine

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrResourceExhausted reports that the backend ran out of compute or memory
	// capacity. Callers react by shedding precision or model size.
	ErrResourceExhausted = errors.New("engine: resource exhausted")
	// ErrConfig marks load or transcribe failures caused by configuration
	// (bad credentials, unknown model) rather than capacity.
	ErrConfig = errors.New("engine: configuration error")
)

// Device selects the processor a model is loaded on.
type Device string

// Precision selects the numeric precision of the model weights.
type Precision string

const (
	DeviceAccelerator Device = "cuda"
	DeviceCPU         Device = "cpu"

	PrecisionFloat16 Precision = "float16"
	PrecisionInt8    Precision = "int8"
)

// Engine transcribes one utterance at a time.
type Engine interface {
	// Transcribe decodes samples (mono, 16 kHz, [-1,1]) into ordered text segments.
	Transcribe(ctx context.Context, samples []float32, opts Options) ([]Segment, error)
	// Close releases underlying resources.
	Close() error
}

// Options configures decoding for a single Transcribe call.
type Options struct {
	Language          string
	BeamSize          int
	NoSpeechThreshold float64
	// InitialPrompt primes the decoder, typically with the trigger word.
	InitialPrompt string
}

// Segment is one piece of recognised text.
type Segment struct {
	Text       string
	Confidence float32
}

// Spec identifies the configuration an engine is loaded with.
type Spec struct {
	Model     string
	Device    Device
	Precision Precision
}

// Loader creates engines for a given Spec.
type Loader interface {
	Load(ctx context.Context, spec Spec) (Engine, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, spec Spec) (Engine, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, spec Spec) (Engine, error) {
	return f(ctx, spec)
}

// Join concatenates segment texts in order.
func Join(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.Text)
	}
	return b.String()
}
