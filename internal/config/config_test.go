package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccrtools/proxyprobe/internal/keystore"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8787", cfg.Endpoint)
	assert.Equal(t, "/v1/messages", cfg.AnthropicPath)
	assert.Equal(t, "/v1/chat/completions", cfg.OpenAIPath)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, keystore.StorageTypeEnv, cfg.Auth.Storage)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxyprobe.toml")
	content := `
endpoint = "http://10.0.0.5:9000"
model = "glm-4-plus"
timeout = "30s"

[auth]
storage = "keyring"
keyring_service = "myproxy"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.5:9000", cfg.Endpoint)
	assert.Equal(t, "glm-4-plus", cfg.Model)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, keystore.StorageTypeKeyring, cfg.Auth.Storage)
	assert.Equal(t, "myproxy", cfg.Auth.KeyringService)
	// File must not override unrelated defaults.
	assert.Equal(t, "/v1/messages", cfg.AnthropicPath)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxyprobe.toml")
	require.NoError(t, os.WriteFile(path, []byte(`endpoint = "http://from-file:1"`), 0o600))

	t.Setenv("PROXYPROBE_ENDPOINT", "http://from-env:2")
	t.Setenv("PROXYPROBE_AUTH__STORAGE", "keyring")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://from-env:2", cfg.Endpoint)
	assert.Equal(t, keystore.StorageTypeKeyring, cfg.Auth.Storage)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad endpoint", map[string]string{"PROXYPROBE_ENDPOINT": "not a url"}},
		{"bad storage", map[string]string{"PROXYPROBE_AUTH__STORAGE": "vault"}},
		{"path without slash", map[string]string{"PROXYPROBE_ANTHROPIC_PATH": "v1/messages"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
