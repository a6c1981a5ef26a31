// Package config loads proxyprobe configuration from layered sources:
// built-in defaults, an optional TOML file and PROXYPROBE_* environment
// variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ccrtools/proxyprobe/internal/keystore"
)

const envPrefix = "PROXYPROBE_"

// Config holds everything the probe commands need to reach the proxy.
type Config struct {
	// Endpoint is the base URL of the proxy under test.
	Endpoint string `koanf:"endpoint" validate:"required,url"`

	// AnthropicPath and OpenAIPath are the request paths for the two
	// dialects, joined onto Endpoint.
	AnthropicPath string `koanf:"anthropic_path" validate:"required,startswith=/"`
	OpenAIPath    string `koanf:"openai_path" validate:"required,startswith=/"`

	// Model is the default model name sent in probe requests.
	Model string `koanf:"model" validate:"required"`

	// Timeout bounds non-streaming requests and the log/stats API calls.
	// Streaming requests are bounded by context cancellation instead.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	Auth AuthConfig `koanf:"auth"`
}

// AuthConfig selects where the API key comes from.
type AuthConfig struct {
	Storage        keystore.StorageType `koanf:"storage" validate:"oneof=env keyring"`
	KeyringService string               `koanf:"keyring_service"`

	// APIKey is an explicit override, normally injected from the --api-key
	// flag. It is intentionally not a recognized file key so that keys do
	// not end up in config files.
	APIKey string `koanf:"-"`
}

// NewStore builds the credential store selected by this configuration.
func (a AuthConfig) NewStore() (keystore.Store, error) {
	return keystore.NewStore(a.Storage, a.KeyringService)
}

func defaults() map[string]any {
	return map[string]any{
		"endpoint":             "http://127.0.0.1:8787",
		"anthropic_path":       "/v1/messages",
		"openai_path":          "/v1/chat/completions",
		"model":                "claude-sonnet-4-5-20250929",
		"timeout":              "60s",
		"auth.storage":         string(keystore.StorageTypeEnv),
		"auth.keyring_service": "proxyprobe",
	}
}

// Load assembles the configuration. path may be empty (no file layer).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			// PROXYPROBE_AUTH__STORAGE -> auth.storage; a single underscore
			// stays part of the key name (anthropic_path).
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return strings.ReplaceAll(key, "__", "."), value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid config: field %s failed rule %q", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
