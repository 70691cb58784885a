package waha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kirimkan/internal/models"
	"kirimkan/internal/session"
)

// fakeUpstream simulates a WAHA server whose session status can be
// changed from the test.
type fakeUpstream struct {
	*httptest.Server

	mu      sync.Mutex
	status  string
	me      map[string]string
	qr      string
	started []string
	stopped []string
	lastKey string
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{status: statusStarting}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastKey = r.Header.Get("X-Api-Key")
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /api/sessions/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.started = append(f.started, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/sessions/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.stopped = append(f.stopped, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		body := map[string]interface{}{"name": r.PathValue("id"), "status": f.status}
		if f.me != nil {
			body["me"] = f.me
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("GET /api/{id}/auth/qr", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"value": f.qr})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeUpstream) setStatus(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeUpstream) setQR(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qr = code
}

func (f *fakeUpstream) startedSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func (f *fakeUpstream) stoppedSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

func (f *fakeUpstream) apiKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastKey
}

func newTestAdapter(t *testing.T, upstream *fakeUpstream) *Adapter {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(upstream.URL, logger,
		WithAPIKey("upstream-secret"),
		WithPollInterval(5*time.Millisecond))
}

func nextEvent(t *testing.T, events <-chan session.AdapterEvent) session.AdapterEvent {
	t.Helper()
	select {
	case evt, ok := <-events:
		require.True(t, ok, "event channel closed unexpectedly")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for adapter event")
		return session.AdapterEvent{}
	}
}

func TestAdapter_PairingFlow(t *testing.T) {
	upstream := newFakeUpstream(t)
	adapter := newTestAdapter(t, upstream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := adapter.Start(ctx, "alpha")
	require.NoError(t, err)
	assert.Contains(t, upstream.startedSessions(), "alpha")
	assert.Equal(t, "upstream-secret", upstream.apiKey())

	upstream.setQR("qr-code-1")
	upstream.setStatus(statusScanQR)

	evt := nextEvent(t, events)
	assert.Equal(t, session.AdapterEventQR, evt.Kind)
	assert.Equal(t, "qr-code-1", evt.QRCode)

	// A rotated code is emitted again
	upstream.setQR("qr-code-2")
	evt = nextEvent(t, events)
	assert.Equal(t, "qr-code-2", evt.QRCode)

	upstream.mu.Lock()
	upstream.me = map[string]string{"id": "628123@s.whatsapp.net", "pushName": "Budi"}
	upstream.mu.Unlock()
	upstream.setStatus(statusWorking)

	evt = nextEvent(t, events)
	assert.Equal(t, session.AdapterEventStatus, evt.Kind)
	assert.Equal(t, models.SessionStateConnected, evt.Status)
	require.NotNil(t, evt.User)
	assert.Equal(t, "Budi", evt.User.PushName)
}

func TestAdapter_StoppedUpstreamClosesStream(t *testing.T) {
	upstream := newFakeUpstream(t)
	adapter := newTestAdapter(t, upstream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := adapter.Start(ctx, "alpha")
	require.NoError(t, err)

	upstream.setStatus(statusStopped)

	select {
	case _, ok := <-events:
		assert.False(t, ok, "expected channel close, got event")
	case <-time.After(2 * time.Second):
		t.Fatal("channel never closed after upstream stop")
	}
}

func TestAdapter_FailedUpstreamEmitsError(t *testing.T) {
	upstream := newFakeUpstream(t)
	adapter := newTestAdapter(t, upstream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := adapter.Start(ctx, "alpha")
	require.NoError(t, err)

	upstream.setStatus(statusFailed)

	evt := nextEvent(t, events)
	assert.Equal(t, session.AdapterEventError, evt.Kind)
	assert.Error(t, evt.Err)

	_, ok := <-events
	assert.False(t, ok, "channel should close after fatal error")
}

func TestAdapter_CancelClosesStream(t *testing.T) {
	upstream := newFakeUpstream(t)
	adapter := newTestAdapter(t, upstream)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := adapter.Start(ctx, "alpha")
	require.NoError(t, err)

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAdapter_Stop(t *testing.T) {
	upstream := newFakeUpstream(t)
	adapter := newTestAdapter(t, upstream)

	require.NoError(t, adapter.Stop(context.Background(), "alpha"))
	assert.Contains(t, upstream.stoppedSessions(), "alpha")
}

func TestAdapter_StartFailsOnUnreachableUpstream(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	adapter := New("http://127.0.0.1:1", logger, WithTimeout(100*time.Millisecond))

	_, err := adapter.Start(context.Background(), "alpha")
	assert.Error(t, err)
}
