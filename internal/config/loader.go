package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment keys understood by Loader.
const (
	EnvConfigFile        = "STT_SOCKET_CONFIG_FILE"
	EnvConfigJSON        = "STT_SOCKET_CONFIG"
	EnvListenAddr        = "STT_SOCKET_LISTEN_ADDR"
	EnvHealthAddr        = "STT_SOCKET_HEALTH_ADDR"
	EnvMetricsAddr       = "STT_SOCKET_METRICS_ADDR"
	EnvBackend           = "STT_SOCKET_BACKEND"
	EnvModel             = "STT_SOCKET_MODEL"
	EnvLanguage          = "STT_SOCKET_LANGUAGE"
	EnvDataDir           = "STT_SOCKET_DATA_DIR"
	EnvModelPath         = "STT_SOCKET_MODEL_PATH"
	EnvIdleTimeout       = "STT_SOCKET_IDLE_TIMEOUT"
	EnvTriggerWordFile   = "STT_SOCKET_TRIGGER_WORD_FILE"
	EnvLogging           = "STT_SOCKET_LOGGING"
	EnvLogLevel          = "STT_SOCKET_LOG_LEVEL"
	EnvLogFormat         = "STT_SOCKET_LOG_FORMAT"
	EnvLogFile           = "STT_SOCKET_LOG_FILE"
	EnvOpenAIBaseURL     = "STT_SOCKET_OPENAI_BASE_URL"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
	EnvBeamSize          = "STT_SOCKET_BEAM_SIZE"
	EnvNoSpeechThreshold = "STT_SOCKET_NO_SPEECH_THRESHOLD"
)

// Loader loads configuration from an optional YAML file, an optional JSON
// payload and environment variables. Tests can override Lookup and ReadFile
// to inject deterministic sources.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
	// File overrides the path taken from STT_SOCKET_CONFIG_FILE.
	File string
}

// fileConfig mirrors Config for YAML and JSON payloads. Pointers distinguish
// absent keys from explicit zero values.
type fileConfig struct {
	ListenAddr         string   `yaml:"listen_addr" json:"listen_addr"`
	HealthAddr         string   `yaml:"health_addr" json:"health_addr"`
	MetricsAddr        string   `yaml:"metrics_addr" json:"metrics_addr"`
	Backend            string   `yaml:"backend" json:"backend"`
	Model              string   `yaml:"model" json:"model"`
	Language           string   `yaml:"language" json:"language"`
	BeamSize           *int     `yaml:"beam_size" json:"beam_size"`
	NoSpeechThreshold  *float64 `yaml:"no_speech_threshold" json:"no_speech_threshold"`
	DataDir            string   `yaml:"data_dir" json:"data_dir"`
	ModelPath          string   `yaml:"model_path" json:"model_path"`
	IdleTimeout        string   `yaml:"idle_timeout" json:"idle_timeout"`
	ReadBufferSize     *int     `yaml:"read_buffer_size" json:"read_buffer_size"`
	TriggerWordFile    string   `yaml:"trigger_word_file" json:"trigger_word_file"`
	DefaultTriggerWord string   `yaml:"default_trigger_word" json:"default_trigger_word"`
	Logging            *bool    `yaml:"logging" json:"logging"`
	LogLevel           string   `yaml:"log_level" json:"log_level"`
	LogFormat          string   `yaml:"log_format" json:"log_format"`
	LogFile            *string  `yaml:"log_file" json:"log_file"`
	OpenAIBaseURL      string   `yaml:"openai_base_url" json:"openai_base_url"`
}

// Load retrieves the configuration and validates it.
func (l Loader) Load() (Config, error) {
	cfg, err := l.Raw()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Raw assembles the configuration without validating it so callers can layer
// command-line flags on top before calling Validate.
func (l Loader) Raw() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Default()

	path := strings.TrimSpace(l.File)
	if path == "" {
		if value, ok := l.Lookup(EnvConfigFile); ok {
			path = strings.TrimSpace(value)
		}
	}
	if path != "" {
		if err := l.applyFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if raw, ok := l.Lookup(EnvConfigJSON); ok && strings.TrimSpace(raw) != "" {
		if err := applyJSON(raw, &cfg); err != nil {
			return Config{}, err
		}
	}

	overrideString(l.Lookup, EnvListenAddr, &cfg.ListenAddr)
	overrideString(l.Lookup, EnvHealthAddr, &cfg.HealthAddr)
	overrideString(l.Lookup, EnvMetricsAddr, &cfg.MetricsAddr)
	overrideString(l.Lookup, EnvBackend, &cfg.Backend)
	overrideString(l.Lookup, EnvModel, &cfg.Model)
	overrideString(l.Lookup, EnvLanguage, &cfg.Language)
	overrideString(l.Lookup, EnvDataDir, &cfg.DataDir)
	overrideString(l.Lookup, EnvModelPath, &cfg.ModelPath)
	overrideString(l.Lookup, EnvTriggerWordFile, &cfg.TriggerWordFile)
	overrideString(l.Lookup, EnvLogLevel, &cfg.LogLevel)
	overrideString(l.Lookup, EnvLogFormat, &cfg.LogFormat)
	overrideString(l.Lookup, EnvLogFile, &cfg.LogFile)
	overrideString(l.Lookup, EnvOpenAIBaseURL, &cfg.OpenAIBaseURL)
	overrideString(l.Lookup, EnvOpenAIAPIKey, &cfg.OpenAIAPIKey)
	if err := overrideDuration(l.Lookup, EnvIdleTimeout, &cfg.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := overrideBool(l.Lookup, EnvLogging, &cfg.LoggingEnabled); err != nil {
		return Config{}, err
	}
	if err := overrideInt(l.Lookup, EnvBeamSize, &cfg.BeamSize); err != nil {
		return Config{}, err
	}
	if err := overrideFloat(l.Lookup, EnvNoSpeechThreshold, &cfg.NoSpeechThreshold); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l Loader) applyFile(path string, cfg *Config) error {
	data, err := l.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: file %s not found", path)
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var payload fileConfig
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return payload.apply(cfg)
}

func applyJSON(raw string, cfg *Config) error {
	var payload fileConfig
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("config: decode %s: %w", EnvConfigJSON, err)
	}
	return payload.apply(cfg)
}

func (p fileConfig) apply(cfg *Config) error {
	setString(&cfg.ListenAddr, p.ListenAddr)
	setString(&cfg.HealthAddr, p.HealthAddr)
	setString(&cfg.MetricsAddr, p.MetricsAddr)
	setString(&cfg.Backend, p.Backend)
	setString(&cfg.Model, p.Model)
	setString(&cfg.Language, p.Language)
	setString(&cfg.DataDir, p.DataDir)
	setString(&cfg.ModelPath, p.ModelPath)
	setString(&cfg.TriggerWordFile, p.TriggerWordFile)
	setString(&cfg.DefaultTriggerWord, p.DefaultTriggerWord)
	setString(&cfg.LogLevel, p.LogLevel)
	setString(&cfg.LogFormat, p.LogFormat)
	setString(&cfg.OpenAIBaseURL, p.OpenAIBaseURL)
	if p.LogFile != nil {
		cfg.LogFile = strings.TrimSpace(*p.LogFile)
	}
	if p.BeamSize != nil {
		cfg.BeamSize = *p.BeamSize
	}
	if p.NoSpeechThreshold != nil {
		cfg.NoSpeechThreshold = *p.NoSpeechThreshold
	}
	if p.ReadBufferSize != nil {
		cfg.ReadBufferSize = *p.ReadBufferSize
	}
	if p.Logging != nil {
		cfg.LoggingEnabled = *p.Logging
	}
	if strings.TrimSpace(p.IdleTimeout) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(p.IdleTimeout))
		if err != nil {
			return fmt.Errorf("config: idle_timeout: %w", err)
		}
		cfg.IdleTimeout = d
	}
	return nil
}

func setString(target *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*target = trimmed
	}
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideDuration(lookup func(string) (string, bool), key string, target *time.Duration) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = d
	return nil
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = b
	return nil
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = i
	return nil
}

func overrideFloat(lookup func(string) (string, bool), key string, target *float64) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = f
	return nil
}
