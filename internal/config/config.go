// Package config provides the configuration schema and loader for the
// Liveline session client.
package config

import "time"

// LogLevel controls log verbosity for the Liveline process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Liveline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Agent      AgentConfig      `yaml:"agent"`
	Session    SessionConfig    `yaml:"session"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds settings for the local observability endpoint
// (health checks and Prometheus metrics) and process logging.
type ServerConfig struct {
	// ListenAddr is the TCP address the observability server listens on
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AgentConfig describes the remote conversational agent endpoint.
type AgentConfig struct {
	// APIKey authenticates against the agent service. Required.
	APIKey string `yaml:"api_key"`

	// Model selects the agent model. Empty uses the service default.
	Model string `yaml:"model"`

	// BaseURL overrides the agent's default WebSocket endpoint.
	BaseURL string `yaml:"base_url"`

	// HandshakeTimeout bounds how long session establishment may take,
	// from dialing until the agent acknowledges the setup. Zero uses the
	// built-in default.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// SessionConfig holds per-session audio and conversation parameters.
type SessionConfig struct {
	// CaptureRate is the microphone sample rate in Hz. Zero defaults to 16000.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the agent audio sample rate in Hz. Zero defaults to 24000.
	PlaybackRate int `yaml:"playback_rate"`

	// Channels is the channel count for both directions. Zero defaults to mono.
	Channels int `yaml:"channels"`

	// Voice selects the agent's speaking voice (e.g., "Aoede").
	Voice string `yaml:"voice"`

	// Instructions is the system prompt sent during session setup.
	Instructions string `yaml:"instructions"`

	// InputTranscription requests transcripts of the user's speech.
	InputTranscription bool `yaml:"input_transcription"`

	// OutputTranscription requests transcripts of the agent's speech.
	OutputTranscription bool `yaml:"output_transcription"`
}

// TranscriptConfig controls persistence of committed conversation turns.
type TranscriptConfig struct {
	// PostgresDSN is the connection string for the turn log. Empty disables
	// persistence; turns are still printed to stdout.
	PostgresDSN string `yaml:"postgres_dsn"`

	// HistoryWindow bounds how far back [store.Store.Recent] reaches when
	// recalling prior turns. Zero defaults to one hour.
	HistoryWindow time.Duration `yaml:"history_window"`
}
