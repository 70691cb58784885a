package session

import (
	"context"
	"encoding/json"

	"kirimkan/internal/models"
)

// AdapterEventKind discriminates the AdapterEvent union.
type AdapterEventKind int

const (
	// AdapterEventQR carries a freshly issued pairing code.
	AdapterEventQR AdapterEventKind = iota
	// AdapterEventStatus carries a connection state change, with the
	// bound account identity once connected.
	AdapterEventStatus
	// AdapterEventContent carries a protocol event to fan out to
	// subscribers (messages, presence, chats, ...).
	AdapterEventContent
	// AdapterEventError signals a fatal adapter failure. The event
	// channel is closed after it.
	AdapterEventError
)

// AdapterEvent is the tagged union emitted by a ConnectionAdapter. Only
// the fields relevant to Kind are populated.
type AdapterEvent struct {
	Kind AdapterEventKind

	// AdapterEventQR
	QRCode string

	// AdapterEventStatus
	Status models.SessionState
	User   *models.UserInfo

	// AdapterEventContent
	ContentType string
	Payload     json.RawMessage

	// AdapterEventError
	Err error
}

// ConnectionAdapter abstracts the messaging backend. Start establishes
// the upstream connection for the session and streams lifecycle and
// content events until the context is cancelled, Stop is called, or the
// connection fails; the returned channel is closed when the stream ends.
// Implementations must tolerate Stop for sessions they no longer track.
type ConnectionAdapter interface {
	Start(ctx context.Context, sessionID string) (<-chan AdapterEvent, error)
	Stop(ctx context.Context, sessionID string) error
}
