package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kirimkan/internal/constants"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeConfig(t, `{
		"adapter": {"apiBaseUrl": "http://localhost:3001"},
		"database": {"path": "kirimkan.db"},
		"apiKey": "secret",
		"logLevel": "debug"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3001", cfg.Adapter.APIBaseURL)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultWebhookMaxAttempts, cfg.Webhook.MaxAttempts)
	assert.Equal(t, constants.DefaultWebhookTimeoutSec, cfg.Webhook.TimeoutSec)
	assert.Equal(t, constants.DefaultQRFreshnessSec, cfg.Session.QRFreshnessSec)
	assert.Equal(t, constants.DefaultBusQueueSize, cfg.Bus.QueueSize)
	assert.Equal(t, "kirimkan", cfg.Tracing.ServiceName)
}

func TestLoadConfig_MissingAdapterURL(t *testing.T) {
	path := writeConfig(t, `{"database": {"path": "kirimkan.db"}}`)

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrMissingAdapterURL)
}

func TestLoadConfig_MissingDBPath(t *testing.T) {
	path := writeConfig(t, `{"adapter": {"apiBaseUrl": "http://localhost:3001"}}`)

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrMissingDBPath)
}

func TestLoadConfig_MalformedJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("KIRIMKAN_API_KEY", "env-secret")
	t.Setenv("WAHA_API_URL", "http://waha:3000")
	t.Setenv("DB_PATH", "/var/lib/kirimkan/kirimkan.db")

	path := writeConfig(t, `{
		"adapter": {"apiBaseUrl": "http://localhost:3001"},
		"database": {"path": "kirimkan.db"},
		"apiKey": "file-secret"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.APIKey)
	assert.Equal(t, "http://waha:3000", cfg.Adapter.APIBaseURL)
	assert.Equal(t, "/var/lib/kirimkan/kirimkan.db", cfg.Database.Path)
}

func TestLoadConfig_ExplicitValuesKept(t *testing.T) {
	path := writeConfig(t, `{
		"adapter": {"apiBaseUrl": "http://localhost:3001"},
		"database": {"path": "kirimkan.db"},
		"server": {"port": 8080},
		"webhook": {"maxAttempts": 5, "timeoutSec": 20}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Webhook.MaxAttempts)
	assert.Equal(t, 20, cfg.Webhook.TimeoutSec)
}
