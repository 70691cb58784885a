package constants

// Default server configuration values
const (
	DefaultServerPort            = 3000
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
)

// Default webhook delivery configuration values
const (
	DefaultWebhookTimeoutSec       = 10
	DefaultWebhookMaxAttempts      = 3
	DefaultWebhookInitialBackoffMs = 1000
	DefaultWebhookMaxBackoffMs     = 60000
	DefaultWebhookMaxInFlight      = 32
	WebhookUserAgent               = "KirimKan-Webhook/1.0"
)

// Default circuit breaker values for webhook destinations
const (
	DefaultBreakerMaxFailures = 5
	DefaultBreakerResetSec    = 60
)

// Default session lifecycle configuration values
const (
	DefaultQRFreshnessSec            = 60
	DefaultReconnectInitialBackoffMs = 2000
	DefaultReconnectMaxBackoffMs     = 60000
	DefaultAdapterStopTimeoutSec     = 10
)

// Default event bus configuration values
const (
	DefaultBusQueueSize = 256
)

// Default push channel configuration values
const (
	DefaultPushSendBuffer      = 16
	DefaultPushWriteTimeoutSec = 5
	MaxPushClientsPerSession   = 50
)

// Default database configuration values
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultBackoffInitialMs      = 500
	DefaultBackoffMaxSec         = 5
)

// Validation limits
const (
	MaxSessionIDLength   = 64
	MaxCallbackURLLength = 2048
	MaxCallbackURLs      = 10
)
