package models

import (
	"time"
)

// SessionState represents the lifecycle state of a managed session.
// The string values are the wire-level status names exposed on the REST
// and push surfaces.
type SessionState string

const (
	SessionStateCreated      SessionState = "created"
	SessionStateConnecting   SessionState = "connecting"
	SessionStateAwaitingScan SessionState = "scan_qr"
	SessionStateConnected    SessionState = "connected"
	SessionStateDisconnected SessionState = "disconnected"
	SessionStateFailed       SessionState = "failed"
	SessionStateDeleted      SessionState = "deleted"
)

// Terminal reports whether no further transitions can leave the state.
func (s SessionState) Terminal() bool {
	return s == SessionStateDeleted
}

// Active reports whether the session still occupies its id in the registry.
func (s SessionState) Active() bool {
	return s != SessionStateDeleted
}

// UserInfo describes the account bound to a connected session.
type UserInfo struct {
	ID       string `json:"id"`
	PushName string `json:"pushName,omitempty"`
}

// QRCode holds the current pairing code and its issuance time.
type QRCode struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Fresh reports whether the code is still within the freshness window.
func (q QRCode) Fresh(window time.Duration, now time.Time) bool {
	if q.Code == "" {
		return false
	}
	return now.Sub(q.IssuedAt) <= window
}

// SessionInfo is an immutable snapshot of a session handle, safe to hand
// out to HTTP handlers and push subscribers while the live handle keeps
// mutating.
type SessionInfo struct {
	SessionID string       `json:"sessionId"`
	Status    SessionState `json:"status"`
	User      *UserInfo    `json:"user,omitempty"`
	QR        *QRCode      `json:"-"`
	LastError string       `json:"lastError,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
