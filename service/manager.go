package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/layer-3/pairlink/core"
	"github.com/layer-3/pairlink/ports"
	"github.com/skip2/go-qrcode"
)

// ManagerConfig configures pairing sessions
type ManagerConfig struct {
	// PairingTimeout is how long a session may sit idle before it expires
	PairingTimeout time.Duration
	// SessionTTL is how long a verified session is kept
	SessionTTL time.Duration
	// QRSize is the edge length of rendered QR codes in pixels
	QRSize int
}

// DefaultManagerConfig returns the default pairing configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PairingTimeout: 5 * time.Minute,
		SessionTTL:     24 * time.Hour,
		QRSize:         256,
	}
}

type pairing struct {
	session   *core.Session
	channel   ports.PairingChannel
	closed    chan struct{}
	closeOnce sync.Once
}

// Manager owns the pairing lifecycle of one client. It keeps at most one
// open pairing channel; creating a session invalidates the previous one.
type Manager struct {
	cfg       ManagerConfig
	connector ports.Connector
	store     ports.SessionStore
	events    ports.EventPublisher
	logger    watermill.LoggerAdapter

	mu     sync.Mutex
	active *pairing
}

// NewManager creates a pairing session manager
func NewManager(
	cfg ManagerConfig,
	connector ports.Connector,
	store ports.SessionStore,
	events ports.EventPublisher,
	logger watermill.LoggerAdapter,
) *Manager {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Manager{
		cfg:       cfg,
		connector: connector,
		store:     store,
		events:    events,
		logger:    logger.With(watermill.LogFields{"component": "pairing"}),
	}
}

// CreateSession opens a new pairing channel and returns its pending session
func (m *Manager) CreateSession(ctx context.Context) (*core.Session, error) {
	if m.connector == nil {
		return nil, core.ErrProviderUnavailable
	}

	topic, err := newTopic()
	if err != nil {
		return nil, fmt.Errorf("failed to generate topic: %w", err)
	}

	channel, err := m.connector.Open(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to open pairing channel: %w", err)
	}

	now := time.Now().UTC()
	session := &core.Session{
		ID:         uuid.New().String(),
		Topic:      topic,
		PairingURI: channel.URI(),
		Status:     core.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := m.store.SaveSession(ctx, session, m.cfg.PairingTimeout); err != nil {
		_ = channel.Close()
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.mu.Lock()
	prior := m.active
	m.active = &pairing{
		session: session.Clone(),
		channel: channel,
		closed:  make(chan struct{}),
	}
	m.mu.Unlock()

	if prior != nil {
		m.release(ctx, prior, prior.session, core.EventClosed)
	}

	m.logger.Info("Pairing session created", watermill.LogFields{"session_id": session.ID})
	m.publish(ctx, core.NewSessionEvent(core.EventCreated, session, now))

	return session, nil
}

// RenderPairing encodes the pairing payload as a PNG QR code
func (m *Manager) RenderPairing(session *core.Session) ([]byte, error) {
	if session.Status != core.StatusPending {
		return nil, core.ErrInvalidState
	}
	png, err := qrcode.Encode(session.PairingURI, qrcode.Medium, m.cfg.QRSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render pairing code: %w", err)
	}
	return png, nil
}

// RenderPairingText encodes the pairing payload as a terminal QR code
func (m *Manager) RenderPairingText(session *core.Session) (string, error) {
	if session.Status != core.StatusPending {
		return "", core.ErrInvalidState
	}
	q, err := qrcode.New(session.PairingURI, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to render pairing code: %w", err)
	}
	return q.ToSmallString(false), nil
}

// AwaitPaired blocks until the peer approves the session, the session idles
// past the pairing timeout, or the session is closed.
func (m *Manager) AwaitPaired(ctx context.Context, session *core.Session) (core.Account, error) {
	p := m.lookup(session.ID)
	if p == nil {
		return core.Account{}, core.ErrSessionClosed
	}

	timer := time.NewTimer(time.Until(session.UpdatedAt.Add(m.cfg.PairingTimeout)))
	defer timer.Stop()

	select {
	case account, ok := <-p.channel.Approvals():
		if !ok {
			return core.Account{}, core.ErrSessionClosed
		}
		return account, nil
	case <-timer.C:
		return core.Account{}, core.ErrSessionExpired
	case <-p.closed:
		return core.Account{}, core.ErrSessionClosed
	case <-ctx.Done():
		return core.Account{}, ctx.Err()
	}
}

// Confirm checks a user-entered code with the paired device
func (m *Manager) Confirm(ctx context.Context, session *core.Session, code string) error {
	p := m.lookup(session.ID)
	if p == nil {
		return core.ErrSessionClosed
	}
	return p.channel.Confirm(ctx, code)
}

// Update persists a session change and publishes the matching event
func (m *Manager) Update(ctx context.Context, session *core.Session, event core.EventType) error {
	ttl := m.cfg.PairingTimeout
	if session.Status == core.StatusVerified {
		ttl = m.cfg.SessionTTL
	}

	if err := m.store.SaveSession(ctx, session, ttl); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	m.publish(ctx, core.NewSessionEvent(event, session, session.UpdatedAt))
	return nil
}

// Close releases the session's pairing channel and deletes the session.
// Closing an already closed session only publishes the event.
func (m *Manager) Close(ctx context.Context, session *core.Session, event core.EventType) {
	m.mu.Lock()
	p := m.active
	if p != nil && p.session.ID == session.ID {
		m.active = nil
	} else {
		p = nil
	}
	m.mu.Unlock()

	if p != nil {
		m.release(ctx, p, session, event)
		return
	}

	if err := m.store.DeleteSession(ctx, session.ID); err != nil {
		m.logger.Error("Failed to delete session", err, watermill.LogFields{"session_id": session.ID})
	}
	m.publish(ctx, core.NewSessionEvent(event, session, time.Now().UTC()))
}

func (m *Manager) lookup(sessionID string) *pairing {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.session.ID != sessionID {
		return nil
	}
	return m.active
}

func (m *Manager) release(ctx context.Context, p *pairing, session *core.Session, event core.EventType) {
	p.closeOnce.Do(func() { close(p.closed) })

	fields := watermill.LogFields{"session_id": session.ID, "event": string(event)}
	if err := p.channel.Close(); err != nil {
		m.logger.Error("Failed to close pairing channel", err, fields)
	}
	if err := m.store.DeleteSession(ctx, session.ID); err != nil {
		m.logger.Error("Failed to delete session", err, fields)
	}

	m.logger.Info("Pairing session closed", fields)
	m.publish(ctx, core.NewSessionEvent(event, session, time.Now().UTC()))
}

func (m *Manager) publish(ctx context.Context, event core.SessionEvent) {
	if m.events == nil {
		return
	}
	// The session change already happened; a lost event is only logged
	if err := m.events.PublishSessionEvent(ctx, event); err != nil {
		m.logger.Error("Failed to publish session event", err, watermill.LogFields{
			"session_id": event.SessionID,
			"event":      string(event.Type),
		})
	}
}

func newTopic() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
