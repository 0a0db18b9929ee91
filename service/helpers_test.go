package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/subtle"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/layer-3/pairlink/adapters/store"
	"github.com/layer-3/pairlink/adapters/tokenizer"
	"github.com/layer-3/pairlink/core"
	"github.com/layer-3/pairlink/ports"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x00000000000000000000000000000000000000aa"

type fakeChannel struct {
	uri       string
	approvals chan core.Account

	mu       sync.Mutex
	code     string
	hook     func()
	confirms atomic.Int32
	closed   atomic.Bool
}

func (c *fakeChannel) URI() string                    { return c.uri }
func (c *fakeChannel) Approvals() <-chan core.Account { return c.approvals }

func (c *fakeChannel) Confirm(ctx context.Context, code string) error {
	c.confirms.Add(1)
	c.mu.Lock()
	hook, issued := c.hook, c.code
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	if subtle.ConstantTimeCompare([]byte(issued), []byte(code)) != 1 {
		return core.ErrVerificationFailed
	}
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed.Store(true)
	return nil
}

// approve plays the peer device: it scans, approves and issues code
func (c *fakeChannel) approve(account core.Account, code string) {
	c.mu.Lock()
	c.code = code
	c.mu.Unlock()
	c.approvals <- account
}

func (c *fakeChannel) onConfirm(hook func()) {
	c.mu.Lock()
	c.hook = hook
	c.mu.Unlock()
}

type fakeConnector struct {
	mu       sync.Mutex
	channels []*fakeChannel
}

func (f *fakeConnector) Open(ctx context.Context, topic string) (ports.PairingChannel, error) {
	ch := &fakeChannel{
		uri:       "pair:" + topic,
		approvals: make(chan core.Account, 1),
	}
	f.mu.Lock()
	f.channels = append(f.channels, ch)
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeConnector) last() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[len(f.channels)-1]
}

func (f *fakeConnector) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []core.SessionEvent
}

func (r *recordedEvents) PublishSessionEvent(ctx context.Context, event core.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordedEvents) types() []core.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	controller *Controller
	manager    *Manager
	connector  *fakeConnector
	store      *store.MemoryStore
	events     *recordedEvents
	tokenizer  ports.Tokenizer
}

func newHarness(t *testing.T, timeout time.Duration, opts ...func(*ControllerConfig)) *harness {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	h := &harness{
		connector: &fakeConnector{},
		store:     store.NewMemoryStore(),
		events:    &recordedEvents{},
		tokenizer: tokenizer.NewJWTTokenizer(key),
	}

	mcfg := DefaultManagerConfig()
	mcfg.PairingTimeout = timeout
	h.manager = NewManager(mcfg, h.connector, h.store, h.events, nil)

	ccfg := DefaultControllerConfig()
	ccfg.PairingTimeout = timeout
	for _, opt := range opts {
		opt(&ccfg)
	}
	h.controller = NewController(ccfg, h.manager, h.tokenizer, h.store, nil)
	t.Cleanup(func() { h.controller.Shutdown(context.Background()) })

	return h
}

// scan connects and plays the peer approving with code
func (h *harness) scan(t *testing.T, code string) *core.Session {
	session, err := h.controller.Connect(context.Background())
	require.NoError(t, err)

	h.connector.last().approve(core.Account{Address: testAddress, ChainID: 1}, code)

	require.Eventually(t, func() bool {
		return h.controller.Snapshot().State == StateAwaitingCode
	}, 2*time.Second, 5*time.Millisecond)

	return session
}

func (h *harness) authenticate(t *testing.T) string {
	h.scan(t, "A1B2C3")
	_, token, err := h.controller.SubmitCode(context.Background(), "A1B2C3")
	require.NoError(t, err)
	return token
}
