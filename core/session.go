package core

import (
	"fmt"
	"time"
)

// Status is the lifecycle status of a pairing session
type Status string

const (
	StatusPending  Status = "pending"
	StatusScanned  Status = "scanned"
	StatusVerified Status = "verified"
	StatusExpired  Status = "expired"
)

// transitions lists the statuses reachable from each status. A restart never
// rewinds a session; it creates a new one in StatusPending.
var transitions = map[Status][]Status{
	StatusPending: {StatusScanned, StatusExpired},
	StatusScanned: {StatusVerified, StatusExpired},
}

// Account is the wallet account approved by the paired device
type Account struct {
	Address     string `json:"address"`
	ChainID     uint64 `json:"chain_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Session is one pairing attempt, from creation to authentication or expiry
type Session struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	PairingURI string    `json:"pairing_uri"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Account    *Account  `json:"account,omitempty"`
}

// CanTransition reports whether the session may move to next
func (s *Session) CanTransition(next Status) bool {
	for _, allowed := range transitions[s.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the session to next, stamping UpdatedAt with at
func (s *Session) Transition(next Status, at time.Time) error {
	if !s.CanTransition(next) {
		return fmt.Errorf("%s -> %s: %w", s.Status, next, ErrInvalidTransition)
	}
	s.Status = next
	s.UpdatedAt = at
	return nil
}

// SetAccount binds the approved account. It can only happen once.
func (s *Session) SetAccount(account Account) error {
	if s.Account != nil {
		return ErrAccountAlreadySet
	}
	s.Account = &account
	return nil
}

// IdleSince reports how long the session has gone without an update
func (s *Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(s.UpdatedAt)
}

// Clone returns a deep copy safe to hand to readers
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Account != nil {
		account := *s.Account
		c.Account = &account
	}
	return &c
}
