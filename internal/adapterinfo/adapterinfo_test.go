package adapterinfo

import "testing"

func TestMetadata(t *testing.T) {
	t.Run("version", func(t *testing.T) {
		if Version() == "" {
			t.Fatal("Version() returned empty string")
		}
		if Version() != Info.Version {
			t.Fatalf("Version() mismatch: got %q want %q", Version(), Info.Version)
		}
	})

	t.Run("identifiers", func(t *testing.T) {
		if Info.BinaryName != "stt-whisper-socket" {
			t.Fatalf("unexpected binary name %q", Info.BinaryName)
		}
		if Info.HealthService == "" {
			t.Fatal("health service name is empty")
		}
	})

	t.Run("log attrs", func(t *testing.T) {
		attrs := LogAttrs()
		if len(attrs) != 4 || attrs[0] != "service" || attrs[1] != Info.Slug {
			t.Fatalf("unexpected log attrs %v", attrs)
		}
	})
}
