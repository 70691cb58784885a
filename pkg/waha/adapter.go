// Package waha adapts a WAHA-style HTTP API (WhatsApp HTTP API server)
// to the gateway's ConnectionAdapter contract. It starts the upstream
// session, then polls its status and pairing code, translating changes
// into adapter events. Message content arrives through the upstream
// server's own webhook push, not through this adapter, so it emits
// lifecycle events only.
package waha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"kirimkan/internal/models"
	"kirimkan/internal/session"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 2 * time.Second
)

// Upstream session status values
const (
	statusStarting = "STARTING"
	statusScanQR   = "SCAN_QR_CODE"
	statusWorking  = "WORKING"
	statusStopped  = "STOPPED"
	statusFailed   = "FAILED"
)

type sessionStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Me     *struct {
		ID       string `json:"id"`
		PushName string `json:"pushName"`
	} `json:"me"`
}

type qrResponse struct {
	Value string `json:"value"`
}

// Adapter drives sessions on one upstream WAHA server.
type Adapter struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
	logger       *logrus.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithAPIKey sets the X-Api-Key header sent to the upstream server.
func WithAPIKey(key string) Option {
	return func(a *Adapter) { a.apiKey = key }
}

// WithTimeout sets the HTTP timeout for upstream calls.
func WithTimeout(timeout time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = timeout }
}

// WithPollInterval sets how often session status is polled.
func WithPollInterval(interval time.Duration) Option {
	return func(a *Adapter) { a.pollInterval = interval }
}

func New(baseURL string, logger *logrus.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL:      baseURL,
		client:       &http.Client{Timeout: defaultTimeout},
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ session.ConnectionAdapter = (*Adapter)(nil)

// Start creates and starts the upstream session, then polls it until
// the context is cancelled or the session stops or fails upstream.
func (a *Adapter) Start(ctx context.Context, sessionID string) (<-chan session.AdapterEvent, error) {
	if err := a.startUpstream(ctx, sessionID); err != nil {
		return nil, err
	}

	events := make(chan session.AdapterEvent, 16)
	go a.poll(ctx, sessionID, events)
	return events, nil
}

// Stop stops the upstream session. A session the upstream no longer
// knows about is treated as already stopped.
func (a *Adapter) Stop(ctx context.Context, sessionID string) error {
	resp, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%s/stop", sessionID), nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to stop upstream session, status: %d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) startUpstream(ctx context.Context, sessionID string) error {
	body := map[string]interface{}{"name": sessionID, "start": true}
	resp, err := a.do(ctx, http.MethodPost, "/api/sessions", body)
	if err != nil {
		return fmt.Errorf("failed to create upstream session: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 422 means the upstream session already exists; starting it again
	// is the desired outcome, so fall through to the start call.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusUnprocessableEntity {
		return fmt.Errorf("failed to create upstream session, status: %d", resp.StatusCode)
	}

	startResp, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%s/start", sessionID), nil)
	if err != nil {
		return fmt.Errorf("failed to start upstream session: %w", err)
	}
	defer func() { _ = startResp.Body.Close() }()

	if startResp.StatusCode != http.StatusOK && startResp.StatusCode != http.StatusUnprocessableEntity {
		return fmt.Errorf("failed to start upstream session, status: %d", startResp.StatusCode)
	}
	return nil
}

// poll watches the upstream session and forwards changes. The channel
// is closed when polling ends, which the registry reads as a disconnect
// unless a fatal error event preceded it.
func (a *Adapter) poll(ctx context.Context, sessionID string, events chan<- session.AdapterEvent) {
	defer close(events)

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	var (
		lastStatus string
		lastQR     string
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := a.fetchStatus(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.WithError(err).WithField("session_id", sessionID).Warn("Upstream status poll failed")
			continue
		}

		if status.Status == lastStatus && status.Status != statusScanQR {
			continue
		}

		switch status.Status {
		case statusScanQR:
			code, err := a.fetchQR(ctx, sessionID)
			if err != nil {
				a.logger.WithError(err).WithField("session_id", sessionID).Warn("Upstream QR fetch failed")
			} else if code != lastQR {
				lastQR = code
				events <- session.AdapterEvent{Kind: session.AdapterEventQR, QRCode: code}
			}

		case statusWorking:
			var user *models.UserInfo
			if status.Me != nil {
				user = &models.UserInfo{ID: status.Me.ID, PushName: status.Me.PushName}
			}
			events <- session.AdapterEvent{
				Kind:   session.AdapterEventStatus,
				Status: models.SessionStateConnected,
				User:   user,
			}

		case statusStopped:
			return

		case statusFailed:
			events <- session.AdapterEvent{
				Kind: session.AdapterEventError,
				Err:  fmt.Errorf("upstream session %s failed", sessionID),
			}
			return
		}

		lastStatus = status.Status
	}
}

func (a *Adapter) fetchStatus(ctx context.Context, sessionID string) (*sessionStatus, error) {
	resp, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%s", sessionID), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get upstream session, status: %d", resp.StatusCode)
	}

	var status sessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode session status: %w", err)
	}
	return &status, nil
}

func (a *Adapter) fetchQR(ctx context.Context, sessionID string) (string, error) {
	resp, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/api/%s/auth/qr?format=raw", sessionID), nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to get pairing code, status: %d", resp.StatusCode)
	}

	var qr qrResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return "", fmt.Errorf("failed to decode pairing code: %w", err)
	}
	return qr.Value, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("X-Api-Key", a.apiKey)
	}

	return a.client.Do(req)
}
