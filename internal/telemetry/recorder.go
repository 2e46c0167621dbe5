package telemetry

import (
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// Recorder tracks server-level counters. It is safe for concurrent use and
// doubles as a Prometheus collector (see collector.go).
type Recorder struct {
	log *slog.Logger

	totalSessions        atomic.Uint64
	activeSessions       atomic.Int64
	totalUtterances      atomic.Uint64
	totalBytes           atomic.Uint64
	totalSamples         atomic.Uint64
	totalTranscripts     atomic.Uint64
	totalDecodeErrors    atomic.Uint64
	totalTransportErrors atomic.Uint64
	totalReloads         atomic.Uint64
	totalDowngrades      atomic.Uint64
	inferenceNanos       atomic.Uint64
	activeTier           atomic.Pointer[string]
}

// Snapshot captures cumulative metrics recorded so far.
type Snapshot struct {
	TotalSessions        uint64
	ActiveSessions       int64
	TotalUtterances      uint64
	TotalBytes           uint64
	TotalSamples         uint64
	TotalTranscripts     uint64
	TotalDecodeErrors    uint64
	TotalTransportErrors uint64
	TotalReloads         uint64
	TotalDowngrades      uint64
	InferenceTime        time.Duration
	ActiveTier           string
}

// NewRecorder constructs a Recorder using the provided logger.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		log: logger.With("component", "telemetry.Recorder"),
	}
}

// Snapshot returns an immutable view of the recorder totals.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	s := Snapshot{
		TotalSessions:        r.totalSessions.Load(),
		ActiveSessions:       r.activeSessions.Load(),
		TotalUtterances:      r.totalUtterances.Load(),
		TotalBytes:           r.totalBytes.Load(),
		TotalSamples:         r.totalSamples.Load(),
		TotalTranscripts:     r.totalTranscripts.Load(),
		TotalDecodeErrors:    r.totalDecodeErrors.Load(),
		TotalTransportErrors: r.totalTransportErrors.Load(),
		TotalReloads:         r.totalReloads.Load(),
		TotalDowngrades:      r.totalDowngrades.Load(),
		InferenceTime:        time.Duration(r.inferenceNanos.Load()),
	}
	if tier := r.activeTier.Load(); tier != nil {
		s.ActiveTier = *tier
	}
	return s
}

// RecordReload notes that an engine for tier finished loading.
func (r *Recorder) RecordReload(tier string) {
	if r == nil {
		return
	}
	r.totalReloads.Add(1)
	r.activeTier.Store(&tier)
}

// RecordDowngrade notes a successful tier downgrade.
func (r *Recorder) RecordDowngrade() {
	if r == nil {
		return
	}
	r.totalDowngrades.Add(1)
}

// SessionMetrics accumulates statistics for one client connection.
type SessionMetrics struct {
	recorder *Recorder
	log      *slog.Logger

	started     time.Time
	utterances  int
	bytes       int
	samples     int
	transcripts int
	inference   time.Duration
	closed      atomic.Bool
}

// StartSession initialises a SessionMetrics instance bound to the recorder.
func (r *Recorder) StartSession(sessionID, peer string) *SessionMetrics {
	if r == nil {
		return nil
	}
	r.totalSessions.Add(1)
	r.activeSessions.Add(1)

	return &SessionMetrics{
		recorder: r,
		log:      r.log.With("session_id", sessionID, "peer", peer),
		started:  time.Now(),
	}
}

// RecordUtterance updates counters for a decoded utterance.
func (s *SessionMetrics) RecordUtterance(size, samples int) {
	if s == nil {
		return
	}
	s.utterances++
	s.bytes += size
	s.samples += samples
	s.recorder.totalUtterances.Add(1)
	s.recorder.totalBytes.Add(uint64(max(size, 0)))
	s.recorder.totalSamples.Add(uint64(max(samples, 0)))

	s.log.Debug("utterance received", "bytes", size, "samples", samples)
}

// RecordInference stores the wall time of one Transcribe call.
func (s *SessionMetrics) RecordInference(d time.Duration) {
	if s == nil || d <= 0 {
		return
	}
	s.inference += d
	s.recorder.inferenceNanos.Add(uint64(d))
}

// RecordTranscript stores statistics for a transcript sent to the client.
func (s *SessionMetrics) RecordTranscript(text string) {
	if s == nil {
		return
	}
	s.transcripts++
	s.recorder.totalTranscripts.Add(1)

	s.log.Debug("transcript sent",
		"chars", len(text),
		"runes", utf8.RuneCountInString(text),
	)
}

// RecordDecodeError counts a malformed utterance.
func (s *SessionMetrics) RecordDecodeError() {
	if s == nil {
		return
	}
	s.recorder.totalDecodeErrors.Add(1)
}

// RecordTransportError counts a failed read or write.
func (s *SessionMetrics) RecordTransportError() {
	if s == nil {
		return
	}
	s.recorder.totalTransportErrors.Add(1)
}

// Finish logs a summary and updates active session counters. Only the first
// call has an effect.
func (s *SessionMetrics) Finish(outcome string, err error) {
	if s == nil {
		return
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	defer s.recorder.activeSessions.Add(-1)

	args := []any{
		"outcome", outcome,
		"duration_ms", time.Since(s.started).Milliseconds(),
		"utterances", s.utterances,
		"bytes", s.bytes,
		"samples", s.samples,
		"transcripts", s.transcripts,
		"inference_ms", s.inference.Milliseconds(),
	}

	if err != nil {
		s.log.Error("session completed with error", append(args, "error", err)...)
		return
	}

	s.log.Info("session completed", args...)
}
