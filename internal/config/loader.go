package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Agent
	if cfg.Agent.APIKey == "" {
		errs = append(errs, errors.New("agent.api_key is required"))
	}
	if cfg.Agent.HandshakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("agent.handshake_timeout %v must not be negative", cfg.Agent.HandshakeTimeout))
	}

	// Session audio parameters. Zero means "use the default", so only
	// explicitly bad values are rejected.
	if cfg.Session.CaptureRate < 0 {
		errs = append(errs, fmt.Errorf("session.capture_rate %d must not be negative", cfg.Session.CaptureRate))
	}
	if cfg.Session.PlaybackRate < 0 {
		errs = append(errs, fmt.Errorf("session.playback_rate %d must not be negative", cfg.Session.PlaybackRate))
	}
	if cfg.Session.Channels < 0 || cfg.Session.Channels > 2 {
		errs = append(errs, fmt.Errorf("session.channels %d must be 1 (mono) or 2 (stereo)", cfg.Session.Channels))
	}

	// Transcript
	if cfg.Transcript.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("transcript.history_window %v must not be negative", cfg.Transcript.HistoryWindow))
	}
	if cfg.Transcript.PostgresDSN == "" {
		slog.Warn("transcript.postgres_dsn is empty; committed turns will not be persisted")
	}
	if cfg.Transcript.PostgresDSN != "" && !cfg.Session.InputTranscription && !cfg.Session.OutputTranscription {
		slog.Warn("transcript persistence is configured but both transcription toggles are off; the turn log will stay empty")
	}

	return errors.Join(errs...)
}
