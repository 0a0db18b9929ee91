package core

import "time"

// EventType names a session lifecycle event
type EventType string

const (
	EventCreated  EventType = "created"
	EventScanned  EventType = "scanned"
	EventVerified EventType = "verified"
	EventExpired  EventType = "expired"
	EventClosed   EventType = "closed"
	EventLogout   EventType = "logout"
)

// SessionEvent is published on every session lifecycle change
type SessionEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Topic     string    `json:"topic,omitempty"`
	Address   string    `json:"address,omitempty"`
	At        time.Time `json:"at"`
}

// NewSessionEvent builds an event for the current state of s
func NewSessionEvent(t EventType, s *Session, at time.Time) SessionEvent {
	ev := SessionEvent{
		Type:      t,
		SessionID: s.ID,
		Topic:     s.Topic,
		At:        at,
	}
	if s.Account != nil {
		ev.Address = s.Account.Address
	}
	return ev
}
