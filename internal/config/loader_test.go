package config_test

import (
	"strings"
	"testing"

	"github.com/voxwire/voxwire/internal/config"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: "debug"
backend:
  name: "gemini-live"
  model: "gemini-2.0-flash-live-001"
session:
  voice: "Kore"
  system_prompt: "You are a helpful assistant."
  language: "en-US"
  playback: true
  transcripts: true
audio:
  capture_rate: 16000
  playback_rate: 24000
  block_size: 4096
`

func TestLoadFromReaderValid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Backend.Name != "gemini-live" {
		t.Errorf("backend = %q, want gemini-live", cfg.Backend.Name)
	}
	if cfg.Session.Voice != "Kore" || !cfg.Session.Playback || !cfg.Session.Transcripts {
		t.Errorf("session = %+v, want Kore with playback and transcripts", cfg.Session)
	}
	if cfg.Audio.BlockSize != 4096 {
		t.Errorf("block_size = %d, want 4096", cfg.Audio.BlockSize)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	yaml := `
backend:
  name: "gemini-live"
  flavour: "spicy"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("LoadFromReader() accepted an unknown field, want error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "missing backend name",
			mutate:  func(c *config.Config) { c.Backend.Name = "" },
			wantErr: "backend.name is required",
		},
		{
			name:    "unknown backend name",
			mutate:  func(c *config.Config) { c.Backend.Name = "carrier-pigeon" },
			wantErr: "is unknown",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "loud" },
			wantErr: "log_level",
		},
		{
			name:    "negative capture rate",
			mutate:  func(c *config.Config) { c.Audio.CaptureRate = -1 },
			wantErr: "capture_rate",
		},
		{
			name:    "negative block size",
			mutate:  func(c *config.Config) { c.Audio.BlockSize = -4096 },
			wantErr: "block_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &config.Config{Backend: config.BackendConfig{Name: "openai-realtime"}}
			tt.mutate(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateJoinsAllFailures(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "loud"},
		Audio:  config.AudioConfig{CaptureRate: -1},
	}

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"backend.name", "log_level", "capture_rate"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %v, want it to mention %q", err, want)
		}
	}
}

func TestLogLevelSlog(t *testing.T) {
	t.Parallel()

	if got := config.LogDebug.Slog().String(); got != "DEBUG" {
		t.Errorf("debug maps to %s, want DEBUG", got)
	}
	if got := config.LogLevel("").Slog().String(); got != "INFO" {
		t.Errorf("empty level maps to %s, want INFO", got)
	}
}

func TestNewDialer(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "test-key")

	if _, err := config.NewDialer(config.BackendConfig{Name: "gemini-live"}); err == nil {
		t.Error("NewDialer() with no API key succeeded, want error")
	}

	d, err := config.NewDialer(config.BackendConfig{Name: "openai-realtime"})
	if err != nil {
		t.Fatalf("NewDialer() error = %v", err)
	}
	if len(d.Voices()) == 0 {
		t.Error("dialer offers no voices")
	}

	if _, err := config.NewDialer(config.BackendConfig{Name: "smoke-signals", APIKey: "k"}); err == nil {
		t.Error("NewDialer() with an unregistered backend succeeded, want error")
	}
}
