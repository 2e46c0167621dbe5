package engine

import (
	"context"
	"testing"
)

func BenchmarkStubEngineTranscribe(b *testing.B) {
	eng := NewStubEngine(discardLogger(), Spec{Model: "base.en", Device: DeviceCPU, Precision: PrecisionInt8})
	samples := make([]float32, 1600)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := eng.Transcribe(ctx, samples, Options{Language: "en"}); err != nil {
			b.Fatalf("Transcribe failed: %v", err)
		}
	}
}

func BenchmarkEncodeWAV(b *testing.B) {
	samples := make([]float32, 16000)
	for i := 0; i < b.N; i++ {
		_ = encodeWAV(samples)
	}
}
