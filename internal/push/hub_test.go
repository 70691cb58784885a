package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kirimkan/internal/constants"
	"kirimkan/internal/eventbus"
)

type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	block  chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{}
}

func (s *fakeSink) Send(data []byte) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, data)
	return nil
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSink) lastFrame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	hub := NewHub(logger)
	t.Cleanup(hub.Stop)
	return hub
}

func waitForFrames(t *testing.T, sink *fakeSink, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sink.frameCount() >= want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHub_BroadcastReachesSubscribers(t *testing.T) {
	hub := newTestHub(t)

	a := newFakeSink()
	b := newFakeSink()
	require.NoError(t, hub.Subscribe("alpha", a))
	require.NoError(t, hub.Subscribe("alpha", b))

	hub.Broadcast("alpha", []byte(`{"event":"session:update"}`))

	waitForFrames(t, a, 1)
	waitForFrames(t, b, 1)
}

func TestHub_BroadcastIsSessionScoped(t *testing.T) {
	hub := newTestHub(t)

	alpha := newFakeSink()
	beta := newFakeSink()
	require.NoError(t, hub.Subscribe("alpha", alpha))
	require.NoError(t, hub.Subscribe("beta", beta))

	hub.Broadcast("alpha", []byte(`{}`))

	waitForFrames(t, alpha, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, beta.frameCount())
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := newTestHub(t)

	sink := newFakeSink()
	require.NoError(t, hub.Subscribe("alpha", sink))
	hub.Unsubscribe("alpha", sink)

	require.Eventually(t, func() bool { return sink.isClosed() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.ClientCount("alpha"))

	hub.Broadcast("alpha", []byte(`{}`))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sink.frameCount())
}

func TestHub_DropRemovesFromAllSessions(t *testing.T) {
	hub := newTestHub(t)

	sink := newFakeSink()
	require.NoError(t, hub.Subscribe("alpha", sink))
	require.NoError(t, hub.Subscribe("beta", sink))

	hub.Drop(sink)

	require.Eventually(t, func() bool {
		return hub.ClientCount("alpha") == 0 && hub.ClientCount("beta") == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHub_SubscriberLimit(t *testing.T) {
	hub := newTestHub(t)

	for i := 0; i < constants.MaxPushClientsPerSession; i++ {
		require.NoError(t, hub.Subscribe("alpha", newFakeSink()))
	}

	err := hub.Subscribe("alpha", newFakeSink())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max push clients")
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	hub := newTestHub(t)

	slow := newFakeSink()
	slow.block = make(chan struct{})
	require.NoError(t, hub.Subscribe("alpha", slow))

	// One frame parks in Send, the buffer absorbs the next batch, and
	// the overflowing broadcast gets the client dropped.
	for i := 0; i < constants.DefaultPushSendBuffer+5; i++ {
		hub.Broadcast("alpha", []byte(fmt.Sprintf(`{"seq":%d}`, i)))
	}

	require.Eventually(t, func() bool {
		return hub.ClientCount("alpha") == 0
	}, 2*time.Second, 5*time.Millisecond)
	close(slow.block)
}

func TestHub_CallsAfterStopDoNotBlock(t *testing.T) {
	hub := newTestHub(t)

	sink := newFakeSink()
	require.NoError(t, hub.Subscribe("alpha", sink))

	hub.Stop()
	require.Eventually(t, func() bool { return sink.isClosed() }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Error(t, hub.Subscribe("alpha", newFakeSink()))
		assert.Equal(t, 0, hub.ClientCount("alpha"))
		hub.Unsubscribe("alpha", sink)
		hub.Drop(sink)
		hub.Broadcast("alpha", []byte(`{}`))
		hub.Stop()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub call blocked after stop")
	}
}

func TestHub_RunForwardsDashboardFrames(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	hub := newTestHub(t)
	bus := eventbus.New(64, logger)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, bus)

	sink := newFakeSink()
	require.NoError(t, hub.Subscribe("alpha", sink))

	bus.Publish(eventbus.Event{Type: eventbus.TypeSessionUpdate, SessionID: "alpha", Data: map[string]string{"status": "connected"}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeWebhookSent, SessionID: "alpha"})
	// Content and delivery events are not dashboard frames
	bus.Publish(eventbus.Event{Type: "messages.upsert", SessionID: "alpha"})
	bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryAttempt, SessionID: "alpha"})

	waitForFrames(t, sink, 2)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, sink.frameCount())

	var frame struct {
		Event     string `json:"event"`
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(sink.lastFrame(), &frame))
	assert.Equal(t, eventbus.TypeWebhookSent, frame.Event)
	assert.Equal(t, "alpha", frame.SessionID)
}
