package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"kirimkan/internal/constants"
	"kirimkan/internal/errors"
	"kirimkan/internal/eventbus"
	"kirimkan/internal/metrics"
	"kirimkan/internal/models"
	"kirimkan/internal/retry"
	"kirimkan/pkg/circuitbreaker"
)

// SentNotification is the webhook:sent payload pushed to dashboard
// subscribers after every terminal delivery outcome.
type SentNotification struct {
	Success bool                   `json:"success"`
	Status  int                    `json:"status,omitempty"`
	Error   string                 `json:"error,omitempty"`
	URL     string                 `json:"url"`
	Event   string                 `json:"event"`
	Payload models.WebhookEnvelope `json:"payload"`
}

// TestResult is the per-URL outcome of a test dispatch.
type TestResult struct {
	URL     string `json:"url"`
	Success bool   `json:"success"`
	Status  int    `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Dispatcher consumes bus events and fans them out to each session's
// configured callback URLs. Deliveries to different URLs are fully
// independent; a global semaphore bounds total in-flight HTTP calls.
type Dispatcher struct {
	store  *Store
	bus    *eventbus.Bus
	client *http.Client
	logger *logrus.Logger
	cfg    models.WebhookDeliveryConfig

	inFlight chan struct{}

	breakerMu sync.Mutex
	breakers  map[string]*circuitbreaker.CircuitBreaker

	wg sync.WaitGroup
}

func NewDispatcher(store *Store, bus *eventbus.Bus, cfg models.WebhookDeliveryConfig, logger *logrus.Logger) *Dispatcher {
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = constants.DefaultWebhookTimeoutSec
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.DefaultWebhookMaxAttempts
	}
	if cfg.InitialBackoffMs <= 0 {
		cfg.InitialBackoffMs = constants.DefaultWebhookInitialBackoffMs
	}
	if cfg.MaxBackoffMs <= 0 {
		cfg.MaxBackoffMs = constants.DefaultWebhookMaxBackoffMs
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = constants.DefaultWebhookMaxInFlight
	}

	return &Dispatcher{
		store: store,
		bus:   bus,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
		logger:   logger,
		cfg:      cfg,
		inFlight: make(chan struct{}, cfg.MaxInFlight),
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

// Run consumes the bus until the context is cancelled or the bus
// closes, then waits for in-flight deliveries to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	sub := d.bus.Subscribe("webhook-dispatcher")
	defer d.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case evt, ok := <-sub.C:
			if !ok {
				d.wg.Wait()
				return
			}
			d.handle(ctx, evt)
		}
	}
}

// handle filters one bus event and spawns a delivery goroutine per
// eligible callback URL.
func (d *Dispatcher) handle(ctx context.Context, evt eventbus.Event) {
	// Dashboard-internal event types never become webhook payloads.
	// Dispatching them would loop delivery results back into delivery.
	if !models.IsKnownEventType(evt.Type) {
		return
	}

	cfg, err := d.store.Get(ctx, evt.SessionID)
	if err != nil {
		d.logger.WithError(err).WithField("session_id", evt.SessionID).Error("Failed to load webhook config for dispatch")
		return
	}

	if len(cfg.CallbackURLs) == 0 || !cfg.Subscribed(evt.Type) {
		return
	}

	payload, err := toRawMessage(evt.Data)
	if err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": evt.SessionID,
			"event":      evt.Type,
		}).Error("Failed to serialize event payload")
		return
	}

	env := models.WebhookEnvelope{
		ID:        uuid.NewString(),
		Event:     evt.Type,
		SessionID: evt.SessionID,
		Timestamp: evt.Timestamp,
		Data:      payload,
	}

	for _, callbackURL := range cfg.CallbackURLs {
		if !URLAllowed(callbackURL, cfg.DomainWhitelist) {
			d.logger.WithFields(logrus.Fields{
				"session_id": evt.SessionID,
				"url":        callbackURL,
			}).Debug("Callback URL blocked by domain whitelist")
			metrics.IncrementCounter("webhook_blocked_total", nil, "Deliveries blocked by domain whitelist")
			continue
		}

		d.wg.Add(1)
		go func(callbackURL string) {
			defer d.wg.Done()
			d.deliver(ctx, env, callbackURL, cfg.Retry)
		}(callbackURL)
	}
}

// deliver POSTs the envelope to one URL, retrying with backoff when the
// session's config allows it. Every attempt outcome is published to the
// bus; the terminal outcome additionally produces a webhook:sent push.
func (d *Dispatcher) deliver(ctx context.Context, env models.WebhookEnvelope, callbackURL string, retryEnabled bool) {
	body, err := json.Marshal(env)
	if err != nil {
		d.logger.WithError(err).Error("Failed to marshal webhook envelope")
		return
	}

	maxAttempts := d.cfg.MaxAttempts
	if !retryEnabled {
		maxAttempts = 1
	}
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(d.cfg.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(d.cfg.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  maxAttempts,
		Jitter:       true,
	})

	var (
		attempt    int
		lastStatus int
	)

	operation := func() error {
		attempt++
		status, err := d.post(ctx, callbackURL, body)
		lastStatus = status
		if err != nil {
			return err
		}
		d.publishAttempt(env, callbackURL, attempt, true, true, status, nil)
		return nil
	}

	notify := func(n int, err error, final bool) {
		d.publishAttempt(env, callbackURL, n, false, final, lastStatus, err)
	}

	err = backoff.RetryNotify(ctx, operation, notify)
	d.publishSent(env, callbackURL, lastStatus, err)

	if err != nil {
		metrics.IncrementCounter("webhook_deliveries_failed_total", nil, "Webhook deliveries that exhausted all attempts")
		d.logger.WithError(errors.NewDeliveryFailedError(callbackURL, attempt, err)).WithFields(logrus.Fields{
			"session_id": env.SessionID,
			"event":      env.Event,
		}).Warn("Webhook delivery failed")
		return
	}
	metrics.IncrementCounter("webhook_deliveries_total", nil, "Successful webhook deliveries")
}

// post performs one HTTP attempt through the destination's circuit
// breaker, holding an in-flight slot for its duration.
func (d *Dispatcher) post(ctx context.Context, callbackURL string, body []byte) (int, error) {
	select {
	case d.inFlight <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-d.inFlight }()

	var status int
	err := d.breakerFor(callbackURL).Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", constants.WebhookUserAgent)

		start := time.Now()
		resp, err := d.client.Do(req)
		metrics.RecordTimer("webhook_post_duration", time.Since(start), nil, "Webhook POST duration")
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		status = resp.StatusCode
		if status < 200 || status >= 300 {
			return fmt.Errorf("destination returned status %d", status)
		}
		return nil
	})
	return status, err
}

// breakerFor returns the circuit breaker for the URL's host, creating
// it on first use.
func (d *Dispatcher) breakerFor(callbackURL string) *circuitbreaker.CircuitBreaker {
	host := callbackURL
	if u, err := url.Parse(callbackURL); err == nil && u.Host != "" {
		host = u.Host
	}

	d.breakerMu.Lock()
	defer d.breakerMu.Unlock()
	cb, ok := d.breakers[host]
	if !ok {
		cb = circuitbreaker.New(host, constants.DefaultBreakerMaxFailures,
			time.Duration(constants.DefaultBreakerResetSec)*time.Second, d.logger)
		d.breakers[host] = cb
	}
	return cb
}

// TestDispatch sends a synthetic envelope to every configured URL for
// the session, bypassing the event filter but honoring the whitelist.
// Each URL gets exactly one attempt; the per-URL outcomes are returned
// and also pushed as webhook:sent events.
func (d *Dispatcher) TestDispatch(ctx context.Context, sessionID string) ([]TestResult, error) {
	cfg, err := d.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(cfg.CallbackURLs) == 0 {
		return nil, errors.NewValidationError("callbackUrls", "no callback URLs configured for this session")
	}

	env := models.WebhookEnvelope{
		ID:        uuid.NewString(),
		Event:     models.EventTest,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      json.RawMessage(`{"message":"Test webhook delivery"}`),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal test envelope")
	}

	results := make([]TestResult, len(cfg.CallbackURLs))
	var wg sync.WaitGroup
	for i, callbackURL := range cfg.CallbackURLs {
		if !URLAllowed(callbackURL, cfg.DomainWhitelist) {
			results[i] = TestResult{URL: callbackURL, Error: "blocked by domain whitelist"}
			continue
		}

		wg.Add(1)
		go func(i int, callbackURL string) {
			defer wg.Done()
			status, err := d.post(ctx, callbackURL, body)
			result := TestResult{URL: callbackURL, Status: status}
			if err != nil {
				result.Error = err.Error()
			} else {
				result.Success = true
			}
			results[i] = result
			d.publishSent(env, callbackURL, status, err)
		}(i, callbackURL)
	}
	wg.Wait()

	return results, nil
}

func (d *Dispatcher) publishAttempt(env models.WebhookEnvelope, callbackURL string, attempt int, success, final bool, status int, attemptErr error) {
	record := models.DeliveryAttempt{
		Event:      env.Event,
		SessionID:  env.SessionID,
		URL:        callbackURL,
		Attempt:    attempt,
		Success:    success,
		Final:      final,
		HTTPStatus: status,
		Timestamp:  time.Now(),
	}
	if attemptErr != nil {
		record.Error = attemptErr.Error()
	}

	metrics.IncrementCounter("webhook_attempts_total", map[string]string{
		"success": fmt.Sprintf("%t", success),
	}, "Webhook delivery attempts")

	d.bus.Publish(eventbus.Event{
		Type:      eventbus.TypeDeliveryAttempt,
		SessionID: env.SessionID,
		Timestamp: record.Timestamp,
		Data:      record,
	})
}

func (d *Dispatcher) publishSent(env models.WebhookEnvelope, callbackURL string, status int, deliveryErr error) {
	note := SentNotification{
		Success: deliveryErr == nil,
		URL:     callbackURL,
		Event:   env.Event,
		Payload: env,
	}
	if deliveryErr != nil {
		note.Error = deliveryErr.Error()
	} else {
		note.Status = status
	}

	d.bus.Publish(eventbus.Event{
		Type:      eventbus.TypeWebhookSent,
		SessionID: env.SessionID,
		Timestamp: time.Now(),
		Data:      note,
	})
}

func toRawMessage(v interface{}) (json.RawMessage, error) {
	switch data := v.(type) {
	case nil:
		return json.RawMessage(`null`), nil
	case json.RawMessage:
		return data, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}
}
