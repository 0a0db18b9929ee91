package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/pairlink/core"
)

// Flows keeps one controller per client flow
type Flows struct {
	newController func() *Controller

	mu    sync.RWMutex
	flows map[string]*Controller
}

// NewFlows creates a registry that builds controllers with newController
func NewFlows(newController func() *Controller) *Flows {
	return &Flows{
		newController: newController,
		flows:         make(map[string]*Controller),
	}
}

// Create starts a new flow in the Idle state
func (f *Flows) Create() (string, *Controller) {
	id := uuid.New().String()
	c := f.newController()

	f.mu.Lock()
	f.flows[id] = c
	f.mu.Unlock()

	return id, c
}

// Get returns the controller of a flow
func (f *Flows) Get(id string) (*Controller, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, ok := f.flows[id]
	if !ok {
		return nil, core.ErrFlowNotFound
	}
	return c, nil
}

// Remove shuts a flow down and forgets it
func (f *Flows) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	c, ok := f.flows[id]
	delete(f.flows, id)
	f.mu.Unlock()

	if !ok {
		return core.ErrFlowNotFound
	}
	c.Shutdown(ctx)
	return nil
}

// Sweep removes flows that have sat in Idle for longer than maxIdle and
// returns how many were removed.
func (f *Flows) Sweep(ctx context.Context, maxIdle time.Duration) int {
	now := time.Now()

	f.mu.Lock()
	var stale []*Controller
	for id, c := range f.flows {
		if idle, ok := c.IdleFor(now); ok && idle > maxIdle {
			stale = append(stale, c)
			delete(f.flows, id)
		}
	}
	f.mu.Unlock()

	for _, c := range stale {
		c.Shutdown(ctx)
	}
	return len(stale)
}

// Shutdown tears down every flow
func (f *Flows) Shutdown(ctx context.Context) {
	f.mu.Lock()
	flows := f.flows
	f.flows = make(map[string]*Controller)
	f.mu.Unlock()

	for _, c := range flows {
		c.Shutdown(ctx)
	}
}

// Len returns the number of live flows
func (f *Flows) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.flows)
}
