//go:build whispercpp

package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNativeEngineTranscribesFixture(t *testing.T) {
	engine := openTestNativeEngine(t)
	samples, sampleRate := loadTestAudio(t)
	if sampleRate != 16000 {
		t.Fatalf("unexpected sample rate: got %d, want 16000", sampleRate)
	}

	segs, err := engine.Transcribe(context.Background(), samples, Options{
		Language:          "en",
		BeamSize:          5,
		NoSpeechThreshold: 0.33,
		InitialPrompt:     "jarvis open some app",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	text := strings.ToLower(Join(segs))
	if text == "" {
		t.Fatal("transcript empty")
	}
	for _, phrase := range []string{"show me what you can do"} {
		if !strings.Contains(text, phrase) {
			t.Fatalf("transcript %q missing phrase %q", text, phrase)
		}
	}
}

func TestNativeEngineRespectsContextCancellation(t *testing.T) {
	engine := openTestNativeEngine(t)
	samples, _ := loadTestAudio(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.Transcribe(ctx, samples, Options{Language: "en"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestNativeEngineEmptyFrame(t *testing.T) {
	engine := openTestNativeEngine(t)
	segs, err := engine.Transcribe(context.Background(), nil, Options{Language: "en"})
	if err != nil || len(segs) != 0 {
		t.Fatalf("expected no segments for empty frame, got %v, %v", segs, err)
	}
}

func TestNewNativeEngineRejectsEmptyPath(t *testing.T) {
	if _, err := NewNativeEngine("", Spec{Device: DeviceCPU}, nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for empty model path, got %v", err)
	}
}

func BenchmarkNativeEngineTranscribe(b *testing.B) {
	engine := openTestNativeEngine(b)
	samples, _ := loadTestAudio(b)
	if len(samples) > 16000 {
		samples = samples[:16000]
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Transcribe(ctx, samples, Options{Language: "en"}); err != nil {
			b.Fatalf("Transcribe failed: %v", err)
		}
	}
}

func openTestNativeEngine(tb testing.TB) *NativeEngine {
	tb.Helper()

	modelRel := filepath.Join("testdata", "models", "ggml-base.en.bin")
	modelPath := locateFixture(tb, modelRel, "run `go run ./cmd/tools/download_model -tier base.en -precision float16 -dir testdata`")
	eng, err := NewNativeEngine(modelPath, Spec{Model: "base.en", Device: DeviceCPU, Precision: PrecisionFloat16}, nil)
	if err != nil {
		tb.Fatalf("NewNativeEngine: %v", err)
	}
	native, ok := eng.(*NativeEngine)
	if !ok {
		tb.Fatalf("unexpected engine type %T", eng)
	}
	tb.Cleanup(func() {
		if cerr := native.Close(); cerr != nil {
			tb.Errorf("engine.Close: %v", cerr)
		}
	})
	return native
}

func loadTestAudio(tb testing.TB) ([]float32, int) {
	tb.Helper()
	audioPath := locateFixture(tb, filepath.Join("testdata", "test.wav"), "")
	audio, sampleRate, err := loadPCM16LE(audioPath)
	if err != nil {
		tb.Fatalf("loadPCM16LE: %v", err)
	}
	samples := make([]float32, len(audio)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(audio[2*i:]))) / 32768.0
	}
	return samples, sampleRate
}

func locateFixture(tb testing.TB, relativePath string, suggestion string) string {
	tb.Helper()

	wd, err := os.Getwd()
	if err != nil {
		tb.Fatalf("getwd: %v", err)
	}

	visited := make([]string, 0, 4)
	for {
		candidate := filepath.Join(wd, relativePath)
		visited = append(visited, candidate)

		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			tb.Fatalf("stat %s: %v", candidate, err)
		}

		parent := filepath.Dir(wd)
		if parent == wd {
			msg := fmt.Sprintf("fixture %s not found (checked: %s)", relativePath, strings.Join(visited, ", "))
			if suggestion != "" {
				msg = fmt.Sprintf("%s; %s", msg, suggestion)
			}
			tb.Skip(msg)
		}
		wd = parent
	}
}

func loadPCM16LE(path string) ([]byte, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read wav: %w", err)
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("invalid wav header")
	}

	offset := 12
	var (
		sampleRate    int
		audioFormat   uint16
		channels      uint16
		bitsPerSample uint16
		audioData     []byte
	)

	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		chunkStart := offset + 8
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > len(data) {
			return nil, 0, fmt.Errorf("chunk %s out of range", chunkID)
		}
		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, fmt.Errorf("fmt chunk too small")
			}
			audioFormat = binary.LittleEndian.Uint16(data[chunkStart : chunkStart+2])
			channels = binary.LittleEndian.Uint16(data[chunkStart+2 : chunkStart+4])
			sampleRate = int(binary.LittleEndian.Uint32(data[chunkStart+4 : chunkStart+8]))
			bitsPerSample = binary.LittleEndian.Uint16(data[chunkStart+14 : chunkStart+16])
		case "data":
			audioData = data[chunkStart:chunkEnd]
		}
		// Chunks are word aligned.
		offset = chunkEnd
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if audioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format %d", audioFormat)
	}
	if channels != 1 {
		return nil, 0, fmt.Errorf("expected mono audio, got %d channels", channels)
	}
	if bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("expected 16-bit PCM, got %d", bitsPerSample)
	}
	if len(audioData) == 0 {
		return nil, 0, fmt.Errorf("no data chunk found")
	}
	return audioData, sampleRate, nil
}
