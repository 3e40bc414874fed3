// Package config provides the configuration schema, loader, and backend
// registry for the Voxwire streaming engine.
package config

import "log/slog"

// LogLevel controls log verbosity for the Voxwire process.
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

// Slog maps l to the corresponding slog level. Unrecognised or empty levels
// map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for Voxwire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the health/metrics server listens on
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BackendConfig selects and configures the remote streaming backend.
type BackendConfig struct {
	// Name selects the backend implementation. Valid values: "gemini-live",
	// "openai-realtime".
	Name string `yaml:"name"`

	// APIKey authenticates against the backend. When empty, the key is taken
	// from the backend's conventional environment variable instead.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default WebSocket endpoint.
	// Leave empty to use the built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend.
	Model string `yaml:"model"`
}

// SessionConfig carries the conversation parameters passed to the session.
type SessionConfig struct {
	// Voice selects the synthesized voice from the backend's named set.
	Voice string `yaml:"voice"`

	// SystemPrompt is the system-level instruction text.
	SystemPrompt string `yaml:"system_prompt"`

	// Language is a BCP 47 tag hint for recognition and synthesis.
	Language string `yaml:"language"`

	// Playback enables the playback half of the engine (live voice).
	Playback bool `yaml:"playback"`

	// Transcripts enables streaming transcripts.
	Transcripts bool `yaml:"transcripts"`
}

// AudioConfig holds the device parameters. Zero values select the defaults:
// 16 kHz capture, 24 kHz playback, 4096-sample blocks.
type AudioConfig struct {
	// CaptureRate is the input device rate in Hz.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the output device rate in Hz.
	PlaybackRate int `yaml:"playback_rate"`

	// BlockSize is the capture block size in samples.
	BlockSize int `yaml:"block_size"`
}
