package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kirimkan/internal/eventbus"
)

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	f := newServerFixture(t, "secret")
	ts := httptest.NewServer(f.server.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/ws?token=secret"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	require.NoError(t, conn.Write(ctx, websocket.MessageText,
		[]byte(`{"action":"subscribe","sessionId":"alpha"}`)))

	require.Eventually(t, func() bool {
		return f.hub.ClientCount("alpha") == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.bus.Publish(eventbus.Event{
		Type:      eventbus.TypeSessionUpdate,
		SessionID: "alpha",
		Data:      map[string]string{"status": "connected"},
	})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var frame struct {
		Event     string `json:"event"`
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, eventbus.TypeSessionUpdate, frame.Event)
	assert.Equal(t, "alpha", frame.SessionID)
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	f := newServerFixture(t, "")
	ts := httptest.NewServer(f.server.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/ws"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	require.NoError(t, conn.Write(ctx, websocket.MessageText,
		[]byte(`{"action":"subscribe","sessionId":"alpha"}`)))
	require.Eventually(t, func() bool {
		return f.hub.ClientCount("alpha") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Write(ctx, websocket.MessageText,
		[]byte(`{"action":"unsubscribe","sessionId":"alpha"}`)))
	require.Eventually(t, func() bool {
		return f.hub.ClientCount("alpha") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_RejectsBadToken(t *testing.T) {
	f := newServerFixture(t, "secret")
	ts := httptest.NewServer(f.server.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := websocket.Dial(ctx, wsURL(ts, "/ws?token=wrong"), nil) //nolint:bodyclose
	assert.Error(t, err)
}

func TestWebSocket_ReportsUnknownAction(t *testing.T) {
	f := newServerFixture(t, "")
	ts := httptest.NewServer(f.server.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/ws"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	require.NoError(t, conn.Write(ctx, websocket.MessageText,
		[]byte(`{"action":"dance","sessionId":"alpha"}`)))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var frame struct {
		Event string `json:"event"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "error", frame.Event)
}
