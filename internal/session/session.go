// Package session serves one client connection: it reads utterances, runs
// them through the active engine and writes transcripts back.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/engine"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/frame"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/telemetry"
)

// Outcome describes why a session ended.
type Outcome int

const (
	OutcomeClosed Outcome = iota
	OutcomeDecodeError
	OutcomeTransportError
	OutcomeWriteError
	OutcomeInferenceError
	OutcomeExhausted
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClosed:
		return "closed"
	case OutcomeDecodeError:
		return "decode_error"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeWriteError:
		return "write_error"
	case OutcomeInferenceError:
		return "inference_error"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Options are the decoding parameters applied to every utterance.
type Options struct {
	Language          string
	BeamSize          int
	NoSpeechThreshold float64
	TriggerWord       string
}

// Prompt builds the priming phrase that makes the decoder expect the trigger
// word followed by a command.
func Prompt(triggerWord string) string {
	word := strings.TrimSpace(triggerWord)
	if word == "" {
		return ""
	}
	return word + " open some app"
}

// EngineOptions converts o into per-call engine options.
func (o Options) EngineOptions() engine.Options {
	return engine.Options{
		Language:          o.Language,
		BeamSize:          o.BeamSize,
		NoSpeechThreshold: o.NoSpeechThreshold,
		InitialPrompt:     Prompt(o.TriggerWord),
	}
}

// Handler runs sessions. The zero value is usable with default framing.
type Handler struct {
	Assembler frame.Assembler
	Options   Options
	Logger    *slog.Logger
	Metrics   *telemetry.Recorder
}

// Run processes utterances on conn until the client goes away, an utterance is
// malformed, or inference fails. The only error returned wraps
// engine.ErrResourceExhausted; every other ending is reported through the
// Outcome alone. conn is closed when ctx is cancelled so a pending read
// unblocks; the caller still owns closing it on return.
func (h *Handler) Run(ctx context.Context, conn net.Conn, eng engine.Engine) (Outcome, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := xid.New().String()
	peer := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		peer = addr.String()
	}
	log := logger.With("component", "session.Handler", "session_id", id, "peer", peer)
	metrics := h.Metrics.StartSession(id, peer)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log.Info("client connected")
	outcome, cause := h.serve(ctx, conn, eng, log, metrics)
	metrics.Finish(outcome.String(), cause)

	if outcome == OutcomeExhausted {
		return outcome, cause
	}
	return outcome, nil
}

func (h *Handler) serve(ctx context.Context, conn net.Conn, eng engine.Engine, log *slog.Logger, metrics *telemetry.SessionMetrics) (Outcome, error) {
	opts := h.Options.EngineOptions()
	for {
		if ctx.Err() != nil {
			return OutcomeCancelled, nil
		}

		samples, n, err := h.Assembler.Receive(conn)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeCancelled, nil
			}
			var decodeErr *frame.DecodeError
			switch {
			case errors.Is(err, frame.ErrConnectionClosed):
				log.Info("client disconnected")
				return OutcomeClosed, nil
			case errors.As(err, &decodeErr):
				metrics.RecordDecodeError()
				log.Warn("malformed utterance", "bytes", n, "error", err)
				return OutcomeDecodeError, nil
			default:
				metrics.RecordTransportError()
				log.Warn("connection failed", "bytes", n, "error", err)
				return OutcomeTransportError, err
			}
		}
		metrics.RecordUtterance(n, len(samples))

		started := time.Now()
		segments, err := eng.Transcribe(ctx, samples, opts)
		metrics.RecordInference(time.Since(started))
		if err != nil {
			if errors.Is(err, engine.ErrResourceExhausted) {
				log.Error("inference exhausted resources", "samples", len(samples), "error", err)
				return OutcomeExhausted, err
			}
			if ctx.Err() != nil {
				return OutcomeCancelled, nil
			}
			log.Error("inference failed", "samples", len(samples), "error", err)
			return OutcomeInferenceError, err
		}

		text := engine.Join(segments)
		log.Info("transcribed utterance", "samples", len(samples), "text", text)
		if text == "" {
			continue
		}
		if err := writeAll(conn, []byte(text)); err != nil {
			if ctx.Err() != nil {
				return OutcomeCancelled, nil
			}
			metrics.RecordTransportError()
			log.Warn("write failed", "error", err)
			return OutcomeWriteError, err
		}
		metrics.RecordTranscript(text)
	}
}

// writeAll retries short writes until p is fully written.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		p = p[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}
