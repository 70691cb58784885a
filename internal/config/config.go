package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"kirimkan/internal/constants"
	"kirimkan/internal/models"
	"kirimkan/internal/security"
)

var (
	ErrMissingAdapterURL = models.ConfigError{Message: "missing adapter API base URL"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if !filepath.IsAbs(path) {
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
	}

	file, err := os.ReadFile(path) // #nosec G304 - path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Adapter.APIBaseURL == "" {
		return ErrMissingAdapterURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Webhook.TimeoutSec <= 0 {
		c.Webhook.TimeoutSec = constants.DefaultWebhookTimeoutSec
	}
	if c.Webhook.MaxAttempts <= 0 {
		c.Webhook.MaxAttempts = constants.DefaultWebhookMaxAttempts
	}
	if c.Webhook.InitialBackoffMs <= 0 {
		c.Webhook.InitialBackoffMs = constants.DefaultWebhookInitialBackoffMs
	}
	if c.Webhook.MaxBackoffMs <= 0 {
		c.Webhook.MaxBackoffMs = constants.DefaultWebhookMaxBackoffMs
	}
	if c.Webhook.MaxInFlight <= 0 {
		c.Webhook.MaxInFlight = constants.DefaultWebhookMaxInFlight
	}

	if c.Session.QRFreshnessSec <= 0 {
		c.Session.QRFreshnessSec = constants.DefaultQRFreshnessSec
	}
	if c.Session.ReconnectInitialBackoffMs <= 0 {
		c.Session.ReconnectInitialBackoffMs = constants.DefaultReconnectInitialBackoffMs
	}
	if c.Session.ReconnectMaxBackoffMs <= 0 {
		c.Session.ReconnectMaxBackoffMs = constants.DefaultReconnectMaxBackoffMs
	}

	if c.Bus.QueueSize <= 0 {
		c.Bus.QueueSize = constants.DefaultBusQueueSize
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "kirimkan"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 0.1
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}

	// SECURITY: the shared API secret should be set via the environment
	if key := os.Getenv("KIRIMKAN_API_KEY"); key != "" {
		c.APIKey = key
	}

	if url := os.Getenv("WAHA_API_URL"); url != "" {
		c.Adapter.APIBaseURL = url
	}

	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}

	if endpoint := os.Getenv("KIRIMKAN_OTLP_ENDPOINT"); endpoint != "" {
		c.Tracing.OTLPEndpoint = endpoint
	}

	if level := os.Getenv("KIRIMKAN_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}
