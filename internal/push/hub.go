// Package push fans internal events out to dashboard clients. Clients
// subscribe per session id; the hub forwards session:update and
// webhook:sent frames for the sessions they watch.
package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"kirimkan/internal/constants"
	"kirimkan/internal/eventbus"
	"kirimkan/internal/metrics"
)

// Sink is one connected dashboard client. Send may block until the
// frame is written or the transport decides it cannot be; Close tears
// the transport down. The WebSocket layer in cmd implements this.
type Sink interface {
	Send(data []byte) error
	Close()
}

// --- Command types ---

type hubCmd interface{ hubCmd() }

type cmdSubscribe struct {
	sessionID string
	sink      Sink
	errCh     chan error
}

func (cmdSubscribe) hubCmd() {}

type cmdUnsubscribe struct {
	sessionID string
	sink      Sink
}

func (cmdUnsubscribe) hubCmd() {}

type cmdDrop struct {
	sink Sink
}

func (cmdDrop) hubCmd() {}

type cmdBroadcast struct {
	sessionID string
	data      []byte
}

func (cmdBroadcast) hubCmd() {}

type cmdCount struct {
	sessionID string
	replyCh   chan int
}

func (cmdCount) hubCmd() {}

type cmdStop struct{}

func (cmdStop) hubCmd() {}

// --- Per-client writer ---

type clientWriter struct {
	sink   Sink
	sendCh chan []byte
	done   chan struct{}
}

func newClientWriter(sink Sink) *clientWriter {
	cw := &clientWriter{
		sink:   sink,
		sendCh: make(chan []byte, constants.DefaultPushSendBuffer),
		done:   make(chan struct{}),
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	for {
		select {
		case msg, ok := <-cw.sendCh:
			if !ok {
				return
			}
			if err := cw.sink.Send(msg); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	close(cw.done)
	cw.sink.Close()
}

// --- Hub ---

// Hub routes push frames to subscribed clients. A single goroutine
// owns all subscription state; everything else talks to it over the
// command channel, so there are no locks to get wrong.
type Hub struct {
	cmdCh    chan hubCmd
	done     chan struct{}
	sessions map[string]map[Sink]*clientWriter
	logger   *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	hub := &Hub{
		cmdCh:    make(chan hubCmd, 256),
		done:     make(chan struct{}),
		sessions: make(map[string]map[Sink]*clientWriter),
		logger:   logger,
	}
	go hub.run()
	return hub
}

func (h *Hub) run() {
	defer close(h.done)
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdSubscribe:
			h.handleSubscribe(c)
		case cmdUnsubscribe:
			h.handleUnsubscribe(c.sessionID, c.sink)
		case cmdDrop:
			h.handleDrop(c.sink)
		case cmdBroadcast:
			h.handleBroadcast(c)
		case cmdCount:
			c.replyCh <- len(h.sessions[c.sessionID])
		case cmdStop:
			h.handleStop()
			return
		}
	}
}

func (h *Hub) handleSubscribe(c cmdSubscribe) {
	clients, exists := h.sessions[c.sessionID]
	if !exists {
		clients = make(map[Sink]*clientWriter)
		h.sessions[c.sessionID] = clients
	}

	if _, already := clients[c.sink]; already {
		c.errCh <- nil
		return
	}

	if len(clients) >= constants.MaxPushClientsPerSession {
		h.logger.WithField("session_id", c.sessionID).Warn("Rejecting push client, session subscriber limit reached")
		c.errCh <- fmt.Errorf("max push clients per session (%d) reached", constants.MaxPushClientsPerSession)
		return
	}

	clients[c.sink] = newClientWriter(c.sink)
	h.logger.WithFields(logrus.Fields{
		"session_id": c.sessionID,
		"clients":    len(clients),
	}).Debug("Push client subscribed")
	c.errCh <- nil
}

func (h *Hub) handleUnsubscribe(sessionID string, sink Sink) {
	clients, exists := h.sessions[sessionID]
	if !exists {
		return
	}
	cw, exists := clients[sink]
	if !exists {
		return
	}

	cw.stop()
	delete(clients, sink)
	if len(clients) == 0 {
		delete(h.sessions, sessionID)
	}
}

func (h *Hub) handleDrop(sink Sink) {
	for sessionID, clients := range h.sessions {
		if _, exists := clients[sink]; exists {
			h.handleUnsubscribe(sessionID, sink)
		}
	}
}

func (h *Hub) handleBroadcast(c cmdBroadcast) {
	clients, exists := h.sessions[c.sessionID]
	if !exists {
		return
	}

	var slow []Sink
	for sink, cw := range clients {
		select {
		case cw.sendCh <- c.data:
		default:
			slow = append(slow, sink)
		}
	}

	for _, sink := range slow {
		h.logger.WithField("session_id", c.sessionID).Info("Disconnecting slow push client")
		metrics.IncrementCounter("push_slow_clients_dropped_total", nil, "Push clients dropped for not keeping up")
		h.handleUnsubscribe(c.sessionID, sink)
	}
}

func (h *Hub) handleStop() {
	for sessionID, clients := range h.sessions {
		for _, cw := range clients {
			cw.stop()
		}
		delete(h.sessions, sessionID)
	}
}

// --- Public API ---

// Subscribe registers the sink for frames about the session. Fails
// once the hub has stopped.
func (h *Hub) Subscribe(sessionID string, sink Sink) error {
	errCh := make(chan error, 1)
	if !h.send(cmdSubscribe{sessionID: sessionID, sink: sink, errCh: errCh}) {
		return fmt.Errorf("push hub stopped")
	}
	select {
	case err := <-errCh:
		return err
	case <-h.done:
		return fmt.Errorf("push hub stopped")
	}
}

// Unsubscribe removes the sink from one session.
func (h *Hub) Unsubscribe(sessionID string, sink Sink) {
	h.send(cmdUnsubscribe{sessionID: sessionID, sink: sink})
}

// Drop removes the sink from every session, for when its connection dies.
func (h *Hub) Drop(sink Sink) {
	h.send(cmdDrop{sink: sink})
}

// Broadcast sends a frame to every client subscribed to the session.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	h.send(cmdBroadcast{sessionID: sessionID, data: data})
}

// ClientCount reports how many clients watch the session. Zero once
// the hub has stopped.
func (h *Hub) ClientCount(sessionID string) int {
	replyCh := make(chan int, 1)
	if !h.send(cmdCount{sessionID: sessionID, replyCh: replyCh}) {
		return 0
	}
	select {
	case count := <-replyCh:
		return count
	case <-h.done:
		return 0
	}
}

// Stop disconnects all clients and shuts the hub down. Safe to call
// more than once.
func (h *Hub) Stop() {
	h.send(cmdStop{})
}

// send queues a command unless the hub has already stopped. Commands
// arriving during shutdown are dropped, not deadlocked on.
func (h *Hub) send(cmd hubCmd) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.done:
		return false
	}
}

// Run consumes the bus and forwards dashboard-facing frames to
// subscribed clients until the context is cancelled.
func (h *Hub) Run(ctx context.Context, bus *eventbus.Bus) {
	sub := bus.Subscribe("push-hub")
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if evt.Type != eventbus.TypeSessionUpdate && evt.Type != eventbus.TypeWebhookSent {
				continue
			}
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal push frame")
				continue
			}
			h.Broadcast(evt.SessionID, data)
		}
	}
}
