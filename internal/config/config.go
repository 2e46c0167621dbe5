package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultListenAddr matches the port the audio clients are built against.
	DefaultListenAddr        = ":11199"
	DefaultBackend           = "auto"
	DefaultModel             = "large-v3"
	DefaultLanguage          = "en"
	DefaultBeamSize          = 5
	DefaultNoSpeechThreshold = 0.33
	DefaultIdleTimeout       = 500 * time.Millisecond
	DefaultReadBufferSize    = 4096
	DefaultTriggerWordFile   = "trigger_word.txt"
	DefaultTriggerWord       = "jarvis"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultLogFile           = "logs/log.txt"
	DefaultDataDir           = "data"
	DefaultOpenAIBaseURL     = "http://127.0.0.1:8000/v1"
	BackendAuto              = "auto"
	BackendStub              = "stub"
	BackendNative            = "native"
	BackendOpenAI            = "openai"
	maxNoSpeechThreshold     = 1.0
	minIdleTimeout           = time.Millisecond
	minReadBufferSize        = 16
)

// Config captures bootstrap configuration assembled from a YAML file, an
// injected JSON payload, environment variables and command-line flags.
type Config struct {
	ListenAddr  string
	HealthAddr  string
	MetricsAddr string

	Backend           string
	Model             string
	Language          string
	BeamSize          int
	NoSpeechThreshold float64
	DataDir           string
	ModelPath         string

	IdleTimeout    time.Duration
	ReadBufferSize int

	TriggerWordFile    string
	DefaultTriggerWord string

	LoggingEnabled bool
	LogLevel       string
	LogFormat      string
	LogFile        string

	OpenAIBaseURL string
	OpenAIAPIKey  string
}

// Default returns a Config populated with every default value.
func Default() Config {
	return Config{
		ListenAddr:         DefaultListenAddr,
		Backend:            DefaultBackend,
		Model:              DefaultModel,
		Language:           DefaultLanguage,
		BeamSize:           DefaultBeamSize,
		NoSpeechThreshold:  DefaultNoSpeechThreshold,
		DataDir:            DefaultDataDir,
		IdleTimeout:        DefaultIdleTimeout,
		ReadBufferSize:     DefaultReadBufferSize,
		TriggerWordFile:    DefaultTriggerWordFile,
		DefaultTriggerWord: DefaultTriggerWord,
		LoggingEnabled:     true,
		LogLevel:           DefaultLogLevel,
		LogFormat:          DefaultLogFormat,
		LogFile:            DefaultLogFile,
		OpenAIBaseURL:      DefaultOpenAIBaseURL,
	}
}

// Validate applies defaults, checks required fields, and rejects out-of-range
// values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	c.Backend = strings.ToLower(c.Backend)
	switch c.Backend {
	case BackendAuto, BackendStub, BackendNative, BackendOpenAI:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.BeamSize == 0 {
		c.BeamSize = DefaultBeamSize
	}
	if c.BeamSize < 1 {
		return fmt.Errorf("config: beam_size must be >= 1, got %d", c.BeamSize)
	}
	if c.NoSpeechThreshold < 0 || c.NoSpeechThreshold > maxNoSpeechThreshold {
		return fmt.Errorf("config: no_speech_threshold must be within [0,1], got %v", c.NoSpeechThreshold)
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.IdleTimeout < minIdleTimeout {
		return fmt.Errorf("config: idle_timeout must be >= %s, got %s", minIdleTimeout, c.IdleTimeout)
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.ReadBufferSize < minReadBufferSize {
		return fmt.Errorf("config: read_buffer_size must be >= %d, got %d", minReadBufferSize, c.ReadBufferSize)
	}
	if c.TriggerWordFile == "" {
		c.TriggerWordFile = DefaultTriggerWordFile
	}
	if c.DefaultTriggerWord == "" {
		c.DefaultTriggerWord = DefaultTriggerWord
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	switch c.LogFormat {
	case "text", "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.Backend == BackendOpenAI && c.OpenAIBaseURL == "" {
		c.OpenAIBaseURL = DefaultOpenAIBaseURL
	}
	return nil
}
