package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"kirimkan/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Internal event types that never leave the process as webhook payloads
const (
	TypeSessionUpdate   = "session:update"
	TypeWebhookSent     = "webhook:sent"
	TypeDeliveryAttempt = "delivery:attempt"
)

// Event is the unit of fan-out: every adapter event, state transition,
// and delivery result flows through the bus as one of these.
type Event struct {
	Type      string      `json:"event"`
	SessionID string      `json:"sessionId"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Subscription is a bounded queue attached to the bus. Consume from C
// until it is closed.
type Subscription struct {
	Name string
	C    <-chan Event

	ch      chan Event
	dropped atomic.Uint64
}

// Dropped returns how many events were discarded because this
// subscriber's queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Bus is the single internal fan-out point. Publish never blocks the
// caller: when a subscriber's queue is full the oldest queued event is
// dropped to make room, and the overflow is counted, not fatal.
type Bus struct {
	mu        sync.RWMutex
	subs      map[*Subscription]struct{}
	queueSize int
	closed    bool
	logger    *logrus.Logger
}

func New(queueSize int, logger *logrus.Logger) *Bus {
	return &Bus{
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe attaches a named bounded queue to the bus.
func (b *Bus) Subscribe(name string) *Subscription {
	sub := &Subscription{
		Name: name,
		ch:   make(chan Event, b.queueSize),
	}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish delivers the event to every current subscriber without
// blocking. Slow subscribers lose their oldest queued events.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for sub := range b.subs {
		select {
		case sub.ch <- evt:
			continue
		default:
		}

		// Queue full: drop the oldest event, then retry once. If another
		// goroutine raced us for the freed slot, drop the new event too.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- evt:
		default:
		}

		sub.dropped.Add(1)
		metrics.IncrementCounter("eventbus_dropped_total", map[string]string{
			"subscriber": sub.Name,
		}, "Events dropped due to full subscriber queues")
		b.logger.WithFields(logrus.Fields{
			"subscriber": sub.Name,
			"event":      evt.Type,
			"session_id": evt.SessionID,
		}).Debug("Event bus queue overflow, dropped oldest event")
	}
}

// Close detaches all subscribers and closes their channels. Publishing
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}
