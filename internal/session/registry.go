package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kirimkan/internal/constants"
	"kirimkan/internal/errors"
	"kirimkan/internal/eventbus"
	"kirimkan/internal/metrics"
	"kirimkan/internal/models"
	"kirimkan/internal/retry"
	"kirimkan/internal/validation"
)

// connectionUpdate is the payload of the connection.update events the
// registry publishes on every state transition.
type connectionUpdate struct {
	Status    models.SessionState `json:"status"`
	User      *models.UserInfo    `json:"user,omitempty"`
	LastError string              `json:"lastError,omitempty"`
}

// handle is the live, mutable record for one session. All field access
// goes through its mutex; callers outside the registry only ever see
// snapshots.
type handle struct {
	mu     sync.Mutex
	info   models.SessionInfo
	cancel context.CancelFunc
}

func (h *handle) snapshot() models.SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	info := h.info
	if info.QR != nil {
		qr := *info.QR
		info.QR = &qr
	}
	if info.User != nil {
		user := *info.User
		info.User = &user
	}
	return info
}

// Registry owns every session handle and serializes lifecycle
// transitions. One goroutine per session consumes its adapter stream.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*handle

	adapter ConnectionAdapter
	bus     *eventbus.Bus
	logger  *logrus.Logger
	cfg     models.SessionConfig

	wg  sync.WaitGroup
	now func() time.Time
}

func NewRegistry(adapter ConnectionAdapter, bus *eventbus.Bus, cfg models.SessionConfig, logger *logrus.Logger) *Registry {
	if cfg.QRFreshnessSec <= 0 {
		cfg.QRFreshnessSec = constants.DefaultQRFreshnessSec
	}
	if cfg.ReconnectInitialBackoffMs <= 0 {
		cfg.ReconnectInitialBackoffMs = constants.DefaultReconnectInitialBackoffMs
	}
	if cfg.ReconnectMaxBackoffMs <= 0 {
		cfg.ReconnectMaxBackoffMs = constants.DefaultReconnectMaxBackoffMs
	}
	return &Registry{
		sessions: make(map[string]*handle),
		adapter:  adapter,
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Create registers a new session and starts connecting it in the
// background. The returned snapshot is in the created state; progress is
// observable through Get and the event bus.
func (r *Registry) Create(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return models.SessionInfo{}, err
	}

	now := r.now()
	h := &handle{
		info: models.SessionInfo{
			SessionID: sessionID,
			Status:    models.SessionStateCreated,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return models.SessionInfo{}, errors.NewSessionConflictError(sessionID)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	r.sessions[sessionID] = h
	r.mu.Unlock()

	metrics.IncrementCounter("sessions_created_total", nil, "Sessions created")
	r.logger.WithField("session_id", sessionID).Info("Session created")

	snapshot := h.snapshot()
	r.publishState(snapshot)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(runCtx, h)
	}()

	return snapshot, nil
}

// Get returns a snapshot of the session.
func (r *Registry) Get(sessionID string) (models.SessionInfo, error) {
	r.mu.RLock()
	h, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return models.SessionInfo{}, errors.NewSessionNotFoundError(sessionID)
	}
	return h.snapshot(), nil
}

// List returns snapshots of every registered session.
func (r *Registry) List() []models.SessionInfo {
	r.mu.RLock()
	handles := make([]*handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	infos := make([]models.SessionInfo, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.snapshot())
	}
	return infos
}

// Delete tears the session down: its run loop is cancelled, the adapter
// is told to stop, and the id becomes free for reuse. Deleting an
// unknown or already deleted session returns not found.
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	h, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return errors.NewSessionNotFoundError(sessionID)
	}

	snapshot := r.transition(h, func(info *models.SessionInfo) {
		info.Status = models.SessionStateDeleted
		info.QR = nil
	})
	h.cancel()

	stopCtx, cancel := context.WithTimeout(ctx, time.Duration(constants.DefaultAdapterStopTimeoutSec)*time.Second)
	defer cancel()
	if err := r.adapter.Stop(stopCtx, sessionID); err != nil {
		r.logger.WithError(err).WithField("session_id", sessionID).Warn("Adapter stop failed during delete")
	}

	metrics.IncrementCounter("sessions_deleted_total", nil, "Sessions deleted")
	r.logger.WithField("session_id", sessionID).Info("Session deleted")
	r.publishState(snapshot)
	return nil
}

// GetQR returns the current pairing code. A stale or missing code while
// pairing is still possible maps to NotReady; states where pairing can
// never happen map to NotApplicable.
func (r *Registry) GetQR(sessionID string) (models.QRCode, error) {
	r.mu.RLock()
	h, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return models.QRCode{}, errors.NewSessionNotFoundError(sessionID)
	}

	info := h.snapshot()
	window := time.Duration(r.cfg.QRFreshnessSec) * time.Second

	switch info.Status {
	case models.SessionStateAwaitingScan:
		if info.QR != nil && info.QR.Fresh(window, r.now()) {
			return *info.QR, nil
		}
		return models.QRCode{}, errors.NewQRNotReadyError(sessionID, string(info.Status))
	case models.SessionStateCreated, models.SessionStateConnecting:
		return models.QRCode{}, errors.NewQRNotReadyError(sessionID, string(info.Status))
	default:
		return models.QRCode{}, errors.NewQRNotApplicableError(sessionID, string(info.Status))
	}
}

// Close cancels every session's run loop and waits for them to exit.
// Sessions are not marked deleted; this is process shutdown, not
// user-initiated teardown.
func (r *Registry) Close() {
	r.mu.Lock()
	for _, h := range r.sessions {
		h.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// run owns the session's connection for its whole lifetime: it starts
// the adapter, consumes its events, and reconnects with backoff after a
// clean disconnect until the session is deleted or fails.
func (r *Registry) run(ctx context.Context, h *handle) {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(r.cfg.ReconnectInitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(r.cfg.ReconnectMaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       true,
	})
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		sessionID := h.snapshot().SessionID
		r.publishState(r.transition(h, func(info *models.SessionInfo) {
			info.Status = models.SessionStateConnecting
			info.QR = nil
		}))

		events, err := r.adapter.Start(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.fail(h, err)
			return
		}

		failed := r.consume(ctx, h, events)
		if failed || ctx.Err() != nil {
			return
		}

		// Stream ended without a fatal error: upstream dropped us.
		r.publishState(r.transition(h, func(info *models.SessionInfo) {
			info.Status = models.SessionStateDisconnected
			info.QR = nil
		}))

		if r.cfg.DisableAutoReconnect {
			return
		}

		attempt++
		delay := backoff.GetNextDelay(attempt)
		r.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"attempt":    attempt,
			"delay":      delay.String(),
		}).Info("Session disconnected, scheduling reconnect")
		metrics.IncrementCounter("session_reconnects_total", nil, "Session reconnect attempts")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consume drains one adapter stream. It returns true when the session
// reached a terminal failure and must not reconnect.
func (r *Registry) consume(ctx context.Context, h *handle, events <-chan AdapterEvent) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case evt, ok := <-events:
			if !ok {
				return false
			}
			if fatal := r.apply(h, evt); fatal {
				return true
			}
		}
	}
}

// apply folds one adapter event into the session state and publishes
// the resulting updates. Returns true for fatal errors.
func (r *Registry) apply(h *handle, evt AdapterEvent) bool {
	info := h.snapshot()

	switch evt.Kind {
	case AdapterEventQR:
		issued := r.now()
		r.publishState(r.transition(h, func(info *models.SessionInfo) {
			info.Status = models.SessionStateAwaitingScan
			info.QR = &models.QRCode{Code: evt.QRCode, IssuedAt: issued}
		}))
		r.logger.WithField("session_id", info.SessionID).Debug("Pairing code issued")

	case AdapterEventStatus:
		r.publishState(r.transition(h, func(info *models.SessionInfo) {
			info.Status = evt.Status
			if evt.User != nil {
				info.User = evt.User
			}
			if evt.Status == models.SessionStateConnected {
				info.QR = nil
				info.LastError = ""
			}
		}))
		r.logger.WithFields(logrus.Fields{
			"session_id": info.SessionID,
			"status":     string(evt.Status),
		}).Info("Session status changed")

	case AdapterEventContent:
		if !models.IsKnownEventType(evt.ContentType) {
			r.logger.WithFields(logrus.Fields{
				"session_id": info.SessionID,
				"event":      evt.ContentType,
			}).Debug("Dropping unrecognized adapter content event")
			return false
		}
		r.bus.Publish(eventbus.Event{
			Type:      evt.ContentType,
			SessionID: info.SessionID,
			Timestamp: r.now(),
			Data:      evt.Payload,
		})

	case AdapterEventError:
		r.fail(h, evt.Err)
		return true
	}

	return false
}

func (r *Registry) fail(h *handle, cause error) {
	snapshot := r.transition(h, func(info *models.SessionInfo) {
		info.Status = models.SessionStateFailed
		info.QR = nil
		if cause != nil {
			info.LastError = cause.Error()
		}
	})
	metrics.IncrementCounter("sessions_failed_total", nil, "Sessions that reached the failed state")
	r.logger.WithError(cause).WithField("session_id", snapshot.SessionID).Error("Session failed")
	r.publishState(snapshot)
}

// transition mutates the handle under its lock, bumps UpdatedAt, and
// returns a snapshot. Transitions out of deleted are silently ignored
// so a racing adapter event cannot resurrect a deleted session.
func (r *Registry) transition(h *handle, mutate func(*models.SessionInfo)) models.SessionInfo {
	h.mu.Lock()
	if h.info.Status != models.SessionStateDeleted {
		mutate(&h.info)
		h.info.UpdatedAt = r.now()
	}
	h.mu.Unlock()
	return h.snapshot()
}

// publishState emits both the internal dashboard update and the
// subscribable connection.update event for one state snapshot.
func (r *Registry) publishState(info models.SessionInfo) {
	r.bus.Publish(eventbus.Event{
		Type:      eventbus.TypeSessionUpdate,
		SessionID: info.SessionID,
		Timestamp: info.UpdatedAt,
		Data:      info,
	})

	payload, err := json.Marshal(connectionUpdate{
		Status:    info.Status,
		User:      info.User,
		LastError: info.LastError,
	})
	if err != nil {
		return
	}
	r.bus.Publish(eventbus.Event{
		Type:      models.EventConnectionUpdate,
		SessionID: info.SessionID,
		Timestamp: info.UpdatedAt,
		Data:      json.RawMessage(payload),
	})
}
