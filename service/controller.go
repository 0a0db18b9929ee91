package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/layer-3/pairlink/core"
	"github.com/layer-3/pairlink/ports"
)

// State is a step of the verification flow
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingScan  State = "awaiting_scan"
	StateAwaitingCode  State = "awaiting_code"
	StateAuthenticated State = "authenticated"
)

// ControllerConfig configures the verification flow
type ControllerConfig struct {
	PairingTimeout time.Duration
	MaxAttempts    int
	AccessTTL      time.Duration
	// SessionTTL bounds how long a verified session stays Authenticated
	SessionTTL time.Duration
}

// DefaultControllerConfig returns the default flow configuration
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		PairingTimeout: 5 * time.Minute,
		MaxAttempts:    3,
		AccessTTL:      15 * time.Minute,
		SessionTTL:     24 * time.Hour,
	}
}

// Snapshot is a read-only view of a controller
type Snapshot struct {
	State             State
	Session           *core.Session
	AttemptsRemaining int
	LastError         error
}

// Controller drives one client through connect, scan, verify and
// authenticated. It is the only writer of its session.
type Controller struct {
	cfg       ControllerConfig
	manager   *Manager
	tokenizer ports.Tokenizer
	tokens    ports.TokenStore
	logger    watermill.LoggerAdapter

	mu           sync.Mutex
	state        State
	session      *core.Session
	attempt      *core.VerificationAttempt
	grant        *core.Grant
	inFlight     bool
	lastErr      error
	lastActivity time.Time
	generation   uint64
	stopWatch    context.CancelFunc
	expiry       *time.Timer
}

// NewController creates a controller in the Idle state
func NewController(
	cfg ControllerConfig,
	manager *Manager,
	tokenizer ports.Tokenizer,
	tokens ports.TokenStore,
	logger watermill.LoggerAdapter,
) *Controller {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Controller{
		cfg:          cfg,
		manager:      manager,
		tokenizer:    tokenizer,
		tokens:       tokens,
		logger:       logger.With(watermill.LogFields{"component": "controller"}),
		state:        StateIdle,
		lastActivity: time.Now(),
	}
}

// Connect starts pairing. Connecting while a pairing is in progress restarts it.
func (c *Controller) Connect(ctx context.Context) (*core.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle:
	case StateAwaitingScan, StateAwaitingCode:
		c.teardownLocked(ctx, core.EventClosed)
	default:
		return nil, core.ErrInvalidState
	}

	return c.startLocked(ctx)
}

// SubmitCode checks the one-time code shown on the paired device. Only one
// submission may be in flight at a time.
func (c *Controller) SubmitCode(ctx context.Context, code string) (*core.Grant, string, error) {
	if err := core.ValidateCode(code); err != nil {
		return nil, "", err
	}

	c.mu.Lock()
	if c.session != nil && c.session.Status == core.StatusExpired {
		c.mu.Unlock()
		return nil, "", core.ErrSessionExpired
	}
	if c.inFlight {
		c.mu.Unlock()
		return nil, "", core.ErrSubmissionInFlight
	}
	if c.state != StateAwaitingCode {
		c.mu.Unlock()
		return nil, "", core.ErrInvalidState
	}
	now := time.Now().UTC()
	if c.session.IdleSince(now) > c.cfg.PairingTimeout || c.attempt.Expired(now) {
		c.expireLocked(ctx)
		c.mu.Unlock()
		return nil, "", core.ErrSessionExpired
	}

	c.inFlight = true
	c.lastActivity = now
	session := c.session.Clone()
	gen := c.generation
	c.mu.Unlock()

	err := c.manager.Confirm(ctx, session, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false

	if gen != c.generation || c.state != StateAwaitingCode {
		if c.session != nil && c.session.ID == session.ID && c.session.Status == core.StatusExpired {
			return nil, "", core.ErrSessionExpired
		}
		return nil, "", core.ErrSessionClosed
	}

	if err != nil {
		if !errors.Is(err, core.ErrVerificationFailed) {
			return nil, "", fmt.Errorf("failed to confirm code: %w", err)
		}

		c.attempt.Record(code)
		if c.attempt.Exhausted() {
			c.logger.Info("Verification attempts exhausted", watermill.LogFields{"session_id": session.ID})
			c.teardownLocked(ctx, core.EventClosed)
			c.lastErr = core.ErrVerificationFailed
			return nil, "", &core.VerificationError{Remaining: 0}
		}
		return nil, "", &core.VerificationError{Remaining: c.attempt.AttemptsRemaining}
	}

	now = time.Now().UTC()
	grant := &core.Grant{
		ID:        uuid.New().String(),
		SessionID: c.session.ID,
		Address:   c.session.Account.Address,
		ChainID:   c.session.Account.ChainID,
		IssuedAt:  now,
		ExpiresAt: now.Add(c.cfg.AccessTTL),
	}
	token, err := c.tokenizer.GrantToAccessToken(grant)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue access token: %w", err)
	}

	if err := c.session.Transition(core.StatusVerified, now); err != nil {
		return nil, "", err
	}
	c.attempt.Record(code)
	c.attempt = nil
	c.grant = grant
	c.state = StateAuthenticated
	c.lastErr = nil
	c.stopTimersLocked()
	c.armSessionEndLocked(c.cfg.SessionTTL)

	if err := c.manager.Update(ctx, c.session, core.EventVerified); err != nil {
		c.logger.Error("Failed to persist verified session", err, watermill.LogFields{"session_id": c.session.ID})
	}
	c.logger.Info("Session verified", watermill.LogFields{
		"session_id": c.session.ID,
		"address":    grant.Address,
	})

	return grant, token, nil
}

// Back abandons the current step. Waiting for a scan returns to Idle; waiting
// for a code restarts pairing with a fresh session.
func (c *Controller) Back(ctx context.Context) (*core.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateAwaitingScan:
		c.teardownLocked(ctx, core.EventClosed)
		return nil, nil
	case StateAwaitingCode:
		c.teardownLocked(ctx, core.EventClosed)
		return c.startLocked(ctx)
	default:
		return nil, core.ErrInvalidState
	}
}

// Logout ends an authenticated session and revokes its access token
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAuthenticated {
		return core.ErrInvalidState
	}

	if err := c.revokeLocked(ctx); err != nil {
		return err
	}
	c.teardownLocked(ctx, core.EventLogout)
	return nil
}

// Shutdown releases every resource held by the controller
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAuthenticated {
		if err := c.revokeLocked(ctx); err != nil {
			c.logger.Error("Failed to revoke token on shutdown", err, nil)
		}
	}
	if c.session != nil && c.state != StateIdle {
		c.teardownLocked(ctx, core.EventClosed)
	}
	c.stopTimersLocked()
}

// Snapshot returns the current state of the flow
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:     c.state,
		Session:   c.session.Clone(),
		LastError: c.lastErr,
	}
	if c.attempt != nil {
		s.AttemptsRemaining = c.attempt.AttemptsRemaining
	}
	return s
}

// Account returns the authenticated account
func (c *Controller) Account() (core.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAuthenticated {
		return core.Account{}, core.ErrInvalidState
	}
	return *c.session.Account, nil
}

// RenderPairing returns the QR code of the pending session
func (c *Controller) RenderPairing() ([]byte, error) {
	c.mu.Lock()
	session := c.session.Clone()
	c.mu.Unlock()

	if session == nil {
		return nil, core.ErrInvalidState
	}
	return c.manager.RenderPairing(session)
}

// RenderPairingText returns the terminal QR code of the pending session
func (c *Controller) RenderPairingText() (string, error) {
	c.mu.Lock()
	session := c.session.Clone()
	c.mu.Unlock()

	if session == nil {
		return "", core.ErrInvalidState
	}
	return c.manager.RenderPairingText(session)
}

// IdleFor reports how long the flow has been idle in the Idle state
func (c *Controller) IdleFor(now time.Time) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return 0, false
	}
	return now.Sub(c.lastActivity), true
}

func (c *Controller) startLocked(ctx context.Context) (*core.Session, error) {
	session, err := c.manager.CreateSession(ctx)
	if err != nil {
		c.lastErr = err
		return nil, err
	}

	c.generation++
	c.session = session
	c.attempt = nil
	c.grant = nil
	c.lastErr = nil
	c.state = StateAwaitingScan
	c.lastActivity = time.Now()

	watchCtx, cancel := context.WithCancel(context.Background())
	c.stopWatch = cancel
	go c.watch(watchCtx, c.generation, session.Clone())
	c.armExpiryLocked(c.cfg.PairingTimeout)

	return session.Clone(), nil
}

func (c *Controller) watch(ctx context.Context, gen uint64, session *core.Session) {
	account, err := c.manager.AwaitPaired(ctx, session)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.state != StateAwaitingScan {
		return
	}

	switch {
	case err == nil:
		c.scannedLocked(account)
	case errors.Is(err, core.ErrSessionExpired):
		c.expireLocked(context.Background())
	case errors.Is(err, core.ErrSessionClosed), errors.Is(err, context.Canceled):
	default:
		c.logger.Error("Pairing failed", err, watermill.LogFields{"session_id": session.ID})
		c.teardownLocked(context.Background(), core.EventClosed)
		c.lastErr = err
	}
}

func (c *Controller) scannedLocked(account core.Account) {
	now := time.Now().UTC()
	if err := c.session.Transition(core.StatusScanned, now); err != nil {
		c.logger.Error("Ignoring scan", err, watermill.LogFields{"session_id": c.session.ID})
		return
	}
	if err := c.session.SetAccount(account); err != nil {
		c.logger.Error("Ignoring scan", err, watermill.LogFields{"session_id": c.session.ID})
		return
	}

	c.attempt = core.NewVerificationAttempt(c.cfg.MaxAttempts, now.Add(c.cfg.PairingTimeout))
	c.state = StateAwaitingCode
	c.lastActivity = now
	c.armExpiryLocked(c.cfg.PairingTimeout)

	if err := c.manager.Update(context.Background(), c.session, core.EventScanned); err != nil {
		c.logger.Error("Failed to persist scanned session", err, watermill.LogFields{"session_id": c.session.ID})
	}
	c.logger.Info("Session scanned", watermill.LogFields{
		"session_id": c.session.ID,
		"address":    account.Address,
	})
}

// expireLocked marks the session expired and returns to Idle. The expired
// session is kept so later submissions report ErrSessionExpired.
func (c *Controller) expireLocked(ctx context.Context) {
	if c.session == nil || !c.session.CanTransition(core.StatusExpired) {
		return
	}

	_ = c.session.Transition(core.StatusExpired, time.Now().UTC())
	c.stopTimersLocked()
	c.manager.Close(ctx, c.session, core.EventExpired)

	c.generation++
	c.state = StateIdle
	c.attempt = nil
	c.inFlight = false
	c.lastErr = core.ErrSessionExpired
	c.logger.Info("Session expired", watermill.LogFields{"session_id": c.session.ID})
}

func (c *Controller) armExpiryLocked(d time.Duration) {
	if c.expiry != nil {
		c.expiry.Stop()
	}
	gen := c.generation
	c.expiry = time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.generation || c.session == nil {
			return
		}
		// a scan may have touched the session while this timer was firing
		if idle := c.session.IdleSince(time.Now().UTC()); idle < c.cfg.PairingTimeout {
			c.armExpiryLocked(c.cfg.PairingTimeout - idle)
			return
		}
		if c.state == StateAwaitingScan || c.state == StateAwaitingCode {
			c.expireLocked(context.Background())
		}
	})
}

// armSessionEndLocked ends an authenticated session once d has passed: the
// token is revoked, the session destroyed and the flow returns to Idle.
func (c *Controller) armSessionEndLocked(d time.Duration) {
	if d <= 0 {
		return
	}
	gen := c.generation
	c.expiry = time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.generation || c.state != StateAuthenticated {
			return
		}

		ctx := context.Background()
		sessionID := c.session.ID
		if err := c.revokeLocked(ctx); err != nil {
			c.logger.Error("Failed to revoke token of ended session", err, watermill.LogFields{"session_id": sessionID})
		}
		c.teardownLocked(ctx, core.EventExpired)
		c.lastErr = core.ErrSessionExpired
		c.logger.Info("Authenticated session ended", watermill.LogFields{"session_id": sessionID})
	})
}

func (c *Controller) stopTimersLocked() {
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
}

func (c *Controller) teardownLocked(ctx context.Context, event core.EventType) {
	c.stopTimersLocked()
	if c.session != nil {
		c.manager.Close(ctx, c.session, event)
	}

	c.generation++
	c.session = nil
	c.attempt = nil
	c.grant = nil
	c.inFlight = false
	c.state = StateIdle
	c.lastActivity = time.Now()
}

func (c *Controller) revokeLocked(ctx context.Context) error {
	if c.grant == nil || c.tokens == nil {
		return nil
	}
	ttl := time.Until(c.grant.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := c.tokens.InvalidateToken(ctx, c.grant.ID, ttl); err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	return nil
}
