package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/engine"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/frame"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/telemetry"
)

type scriptedEngine struct {
	mu    sync.Mutex
	calls [][]float32
	opts  []engine.Options
	reply func(call int, samples []float32) ([]engine.Segment, error)
}

func (e *scriptedEngine) Transcribe(ctx context.Context, samples []float32, opts engine.Options) ([]engine.Segment, error) {
	e.mu.Lock()
	call := len(e.calls)
	e.calls = append(e.calls, samples)
	e.opts = append(e.opts, opts)
	e.mu.Unlock()
	if e.reply == nil {
		return []engine.Segment{{Text: "ok"}}, nil
	}
	return e.reply(call, samples)
}

func (e *scriptedEngine) Close() error { return nil }

func (e *scriptedEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func testHandler() (*Handler, *telemetry.Recorder) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := telemetry.NewRecorder(logger)
	return &Handler{
		Assembler: frame.Assembler{IdleTimeout: 30 * time.Millisecond},
		Options:   Options{Language: "en", BeamSize: 5, NoSpeechThreshold: 0.33, TriggerWord: "jarvis"},
		Logger:    logger,
		Metrics:   rec,
	}, rec
}

func readReply(t *testing.T, conn net.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Errorf("read reply: %v", err)
		return ""
	}
	return string(buf[:n])
}

func TestRunServesUtterancesUntilClose(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	eng := &scriptedEngine{reply: func(call int, samples []float32) ([]engine.Segment, error) {
		if call == 0 {
			return []engine.Segment{{Text: "open"}, {Text: " the door"}}, nil
		}
		return []engine.Segment{{Text: "second"}}, nil
	}}

	replies := make(chan string, 2)
	go func() {
		defer client.Close()
		_, _ = client.Write([]byte("[0.0,0.0,0.0]"))
		replies <- readReply(t, client)
		_, _ = client.Write([]byte("[0.5]"))
		replies <- readReply(t, client)
	}()

	h, rec := testHandler()
	outcome, err := h.Run(context.Background(), server, eng)
	if err != nil || outcome != OutcomeClosed {
		t.Fatalf("Run = (%v, %v), want (closed, nil)", outcome, err)
	}
	if got := <-replies; got != "open the door" {
		t.Fatalf("unexpected first reply %q", got)
	}
	if got := <-replies; got != "second" {
		t.Fatalf("unexpected second reply %q", got)
	}
	if eng.callCount() != 2 {
		t.Fatalf("expected 2 inference calls, got %d", eng.callCount())
	}
	if len(eng.calls[0]) != 3 {
		t.Fatalf("expected 3 samples in first utterance, got %d", len(eng.calls[0]))
	}
	if eng.opts[0].InitialPrompt != "jarvis open some app" {
		t.Fatalf("unexpected prompt %q", eng.opts[0].InitialPrompt)
	}
	if eng.opts[0].BeamSize != 5 {
		t.Fatalf("unexpected beam size %d", eng.opts[0].BeamSize)
	}

	snap := rec.Snapshot()
	if snap.TotalUtterances != 2 || snap.TotalTranscripts != 2 {
		t.Fatalf("unexpected counters: utterances=%d transcripts=%d", snap.TotalUtterances, snap.TotalTranscripts)
	}
	if snap.ActiveSessions != 0 {
		t.Fatalf("expected no active sessions, got %d", snap.ActiveSessions)
	}
}

func TestRunClosedBeforeDataSkipsInference(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	client.Close()

	eng := &scriptedEngine{}
	h, _ := testHandler()
	outcome, err := h.Run(context.Background(), server, eng)
	if err != nil || outcome != OutcomeClosed {
		t.Fatalf("Run = (%v, %v), want (closed, nil)", outcome, err)
	}
	if eng.callCount() != 0 {
		t.Fatalf("inference invoked %d times for a closed connection", eng.callCount())
	}
}

func TestRunDecodeErrorEndsSession(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	go func() { _, _ = client.Write([]byte("not a frame")) }()

	eng := &scriptedEngine{}
	h, rec := testHandler()
	outcome, err := h.Run(context.Background(), server, eng)
	if err != nil || outcome != OutcomeDecodeError {
		t.Fatalf("Run = (%v, %v), want (decode_error, nil)", outcome, err)
	}
	if eng.callCount() != 0 {
		t.Fatalf("inference invoked for malformed utterance")
	}
	if rec.Snapshot().TotalDecodeErrors != 1 {
		t.Fatalf("decode error not recorded")
	}
}

func TestRunPropagatesExhaustion(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	go func() { _, _ = client.Write([]byte("[0.1]")) }()

	eng := &scriptedEngine{reply: func(int, []float32) ([]engine.Segment, error) {
		return nil, errors.Join(engine.ErrResourceExhausted, errors.New("CUDA out of memory"))
	}}
	h, _ := testHandler()
	outcome, err := h.Run(context.Background(), server, eng)
	if outcome != OutcomeExhausted {
		t.Fatalf("unexpected outcome %v", outcome)
	}
	if !errors.Is(err, engine.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
}

func TestRunOtherInferenceErrorIsSessionLocal(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	go func() { _, _ = client.Write([]byte("[0.1]")) }()

	eng := &scriptedEngine{reply: func(int, []float32) ([]engine.Segment, error) {
		return nil, errors.New("decoder crashed")
	}}
	h, _ := testHandler()
	outcome, err := h.Run(context.Background(), server, eng)
	if err != nil || outcome != OutcomeInferenceError {
		t.Fatalf("Run = (%v, %v), want (inference_error, nil)", outcome, err)
	}
}

func TestRunEmptyTranscriptWritesNothing(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	eng := &scriptedEngine{reply: func(call int, _ []float32) ([]engine.Segment, error) {
		if call == 0 {
			return nil, nil
		}
		return []engine.Segment{{Text: "after silence"}}, nil
	}}

	got := make(chan string, 1)
	go func() {
		defer client.Close()
		_, _ = client.Write([]byte("[]"))
		time.Sleep(100 * time.Millisecond)
		_, _ = client.Write([]byte("[0.2]"))
		got <- readReply(t, client)
	}()

	h, _ := testHandler()
	if _, err := h.Run(context.Background(), server, eng); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if reply := <-got; reply != "after silence" {
		t.Fatalf("expected only the second transcript, got %q", reply)
	}
}

func TestRunCancelledUnblocksRead(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	h, _ := testHandler()
	go func() {
		outcome, _ := h.Run(ctx, server, &scriptedEngine{})
		done <- outcome
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case outcome := <-done:
		if outcome != OutcomeCancelled {
			t.Fatalf("expected cancelled outcome, got %v", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunResetMidUtteranceIsTransportError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			return
		}
		tcp := conn.(*net.TCPConn)
		_, _ = tcp.Write([]byte("[1,2,3]"))
		time.Sleep(150 * time.Millisecond)
		_ = tcp.SetLinger(0)
		_ = tcp.Close()
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer conn.Close()

	eng := &scriptedEngine{}
	h, rec := testHandler()
	h.Assembler.IdleTimeout = 5 * time.Second
	outcome, err := h.Run(context.Background(), conn, eng)
	if err != nil || outcome != OutcomeTransportError {
		t.Fatalf("Run = (%v, %v), want (transport_error, nil)", outcome, err)
	}
	if eng.callCount() != 0 {
		t.Fatalf("partial utterance reached inference")
	}
	snap := rec.Snapshot()
	if snap.TotalTransportErrors != 1 {
		t.Fatalf("expected 1 transport error, got %d", snap.TotalTransportErrors)
	}
	if snap.TotalUtterances != 0 {
		t.Fatalf("partial utterance counted: %d", snap.TotalUtterances)
	}
}

type chunkWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		p = p[:w.limit]
	}
	return w.buf.Write(p)
}

func TestWriteAllRetriesShortWrites(t *testing.T) {
	w := &chunkWriter{limit: 3}
	if err := writeAll(w, []byte("hello world")); err != nil {
		t.Fatalf("writeAll error: %v", err)
	}
	if w.buf.String() != "hello world" {
		t.Fatalf("unexpected payload %q", w.buf.String())
	}

	if err := writeAll(&chunkWriter{limit: 0}, []byte("x")); !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected io.ErrShortWrite, got %v", err)
	}
}

func TestPrompt(t *testing.T) {
	if got := Prompt(" computer "); got != "computer open some app" {
		t.Fatalf("unexpected prompt %q", got)
	}
	if got := Prompt(""); got != "" {
		t.Fatalf("expected empty prompt, got %q", got)
	}
}
