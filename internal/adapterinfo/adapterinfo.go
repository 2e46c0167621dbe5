package adapterinfo

import "runtime/debug"

// Metadata captures static identifiers for the service.
type Metadata struct {
	Name        string
	BinaryName  string
	Slug        string
	Description string
	// HealthService is the name registered with the gRPC health server.
	HealthService string
	Version       string
}

// version is overridden at link time with -ldflags "-X .../adapterinfo.version=...".
var version = "1.0.0"

// Info describes the current service.
var Info = Metadata{
	Name:          "Whisper Socket STT",
	BinaryName:    "stt-whisper-socket",
	Slug:          "stt-whisper-socket",
	Description:   "Single-client TCP speech-to-text server backed by Whisper.",
	HealthService: "stt.whisper.socket",
	Version:       version,
}

// Version returns the release version, falling back to the module version
// recorded in build info when the default was not overridden.
func Version() string {
	if version != "" {
		return version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		return bi.Main.Version
	}
	return "devel"
}

// LogAttrs returns the attributes attached to every log record of the process.
func LogAttrs() []any {
	return []any{"service", Info.Slug, "version", Version()}
}
