package models

import (
	"encoding/json"
	"time"
)

// Webhook event types a session can subscribe to
const (
	EventConnectionUpdate         = "connection.update"
	EventMessagesUpsert           = "messages.upsert"
	EventMessagesUpdate           = "messages.update"
	EventMessagesDelete           = "messages.delete"
	EventPresenceUpdate           = "presence.update"
	EventChatsUpsert              = "chats.upsert"
	EventChatsUpdate              = "chats.update"
	EventContactsUpsert           = "contacts.upsert"
	EventGroupsUpsert             = "groups.upsert"
	EventGroupParticipantsUpdate  = "group-participants.update"
	EventCall                     = "call"

	// EventTest is the synthetic type used by test-dispatch. It is not
	// subscribable and never passes the normal event filter.
	EventTest = "test"
)

// KnownEventTypes is the closed set of subscribable event names.
var KnownEventTypes = []string{
	EventConnectionUpdate,
	EventMessagesUpsert,
	EventMessagesUpdate,
	EventMessagesDelete,
	EventPresenceUpdate,
	EventChatsUpsert,
	EventChatsUpdate,
	EventContactsUpsert,
	EventGroupsUpsert,
	EventGroupParticipantsUpdate,
	EventCall,
}

// IsKnownEventType reports whether name is a subscribable event type.
func IsKnownEventType(name string) bool {
	for _, known := range KnownEventTypes {
		if name == known {
			return true
		}
	}
	return false
}

// WebhookConfig is the per-session subscriber configuration.
type WebhookConfig struct {
	CallbackURLs    []string `json:"callbackUrls"`
	Retry           bool     `json:"retry"`
	DomainWhitelist []string `json:"domainWhitelist"`
	Events          []string `json:"events"`
}

// DefaultWebhookConfig returns the session-scoped default returned when
// no configuration has been stored.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		CallbackURLs:    []string{},
		Retry:           true,
		DomainWhitelist: []string{"*"},
		Events:          []string{},
	}
}

// Subscribed reports whether the config subscribes to the event type.
func (c WebhookConfig) Subscribed(eventType string) bool {
	for _, e := range c.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// WebhookEnvelope is the JSON body POSTed to subscriber URLs.
type WebhookEnvelope struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// DeliveryAttempt records the outcome of one webhook delivery attempt.
// Attempts are transient: produced by the dispatcher, published once to
// the event bus, and discarded.
type DeliveryAttempt struct {
	Event      string    `json:"event"`
	SessionID  string    `json:"sessionId"`
	URL        string    `json:"url"`
	Attempt    int       `json:"attempt"`
	Success    bool      `json:"success"`
	Final      bool      `json:"final"`
	HTTPStatus int       `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
