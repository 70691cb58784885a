package models

// ConfigError indicates invalid or missing configuration
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

// DatabaseConfig holds the webhook configuration store settings
type DatabaseConfig struct {
	Path string `json:"path"`
}

// AdapterConfig holds the settings for the WAHA-style connection backend
type AdapterConfig struct {
	APIBaseURL     string `json:"apiBaseUrl"`
	TimeoutSec     int    `json:"timeoutSec"`
	PollIntervalMs int    `json:"pollIntervalMs"`
}

// WebhookDeliveryConfig bounds the outbound delivery engine
type WebhookDeliveryConfig struct {
	TimeoutSec       int `json:"timeoutSec"`
	MaxAttempts      int `json:"maxAttempts"`
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxInFlight      int `json:"maxInFlight"`
}

// SessionConfig bounds the session lifecycle machinery. Reconnect is on
// unless explicitly disabled, so the zero value does the right thing.
type SessionConfig struct {
	QRFreshnessSec            int  `json:"qrFreshnessSec"`
	ReconnectInitialBackoffMs int  `json:"reconnectInitialBackoffMs"`
	ReconnectMaxBackoffMs     int  `json:"reconnectMaxBackoffMs"`
	DisableAutoReconnect      bool `json:"disableAutoReconnect"`
}

// BusConfig bounds the internal event bus
type BusConfig struct {
	QueueSize int `json:"queueSize"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"useStdout"`
}

// Config is the root application configuration
type Config struct {
	Server   ServerConfig          `json:"server"`
	Database DatabaseConfig        `json:"database"`
	Adapter  AdapterConfig         `json:"adapter"`
	Webhook  WebhookDeliveryConfig `json:"webhook"`
	Session  SessionConfig         `json:"session"`
	Bus      BusConfig             `json:"bus"`
	Tracing  TracingConfig         `json:"tracing"`
	APIKey   string                `json:"apiKey"`
	LogLevel string                `json:"logLevel"`
}
