package config

import (
	"fmt"
	"os"

	"github.com/voxwire/voxwire/pkg/realtime"
	"github.com/voxwire/voxwire/pkg/realtime/gemini"
	"github.com/voxwire/voxwire/pkg/realtime/openai"
)

// apiKeyEnv maps each backend name to the environment variable consulted when
// backend.api_key is not set in the config file.
var apiKeyEnv = map[string]string{
	"gemini-live":     "GEMINI_API_KEY",
	"openai-realtime": "OPENAI_API_KEY",
}

// NewDialer constructs the [realtime.Dialer] selected by cfg. The API key
// comes from cfg.APIKey or, when that is empty, from the backend's
// conventional environment variable.
func NewDialer(cfg BackendConfig) (realtime.Dialer, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv(apiKeyEnv[cfg.Name])
	}
	if key == "" {
		return nil, fmt.Errorf("config: backend %q: no API key in config or %s", cfg.Name, apiKeyEnv[cfg.Name])
	}

	switch cfg.Name {
	case "gemini-live":
		var opts []gemini.Option
		if cfg.Model != "" {
			opts = append(opts, gemini.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(key, opts...), nil

	case "openai-realtime":
		var opts []openai.Option
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(key, opts...), nil

	default:
		return nil, fmt.Errorf("config: backend %q is not registered", cfg.Name)
	}
}
