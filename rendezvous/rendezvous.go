// Package rendezvous provides the single-shot handoff between the
// interception callback (producer) and the caller awaiting a login result
// (consumer). The two sides act on independent triggers, so the controller
// must tolerate either side acting first and a stop/restart mid-flight.
package rendezvous

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/go-login-proxy/authflow"
)

var (
	// ErrSuperseded settles a wait that was replaced by a newer login attempt.
	ErrSuperseded = errors.New("login wait superseded by a newer attempt")

	// ErrStopped settles a wait whose session was stopped.
	ErrStopped = errors.New("login session stopped")
)

type outcome struct {
	tokens *authflow.TokenSet
	err    error
}

// Rendezvous is a single-shot future: settled at most once, observed at
// most once.
type Rendezvous struct {
	ch chan outcome
}

// Wait blocks until the rendezvous is settled or the context is cancelled.
func (r *Rendezvous) Wait(ctx context.Context) (*authflow.TokenSet, error) {
	select {
	case o := <-r.ch:
		return o.tokens, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Rendezvous) settle(o outcome) {
	select {
	case r.ch <- o:
	default:
	}
}

// Controller enforces at most one live rendezvous at a time and drops
// deliveries that target anything else.
type Controller struct {
	mu      sync.Mutex
	current *Rendezvous
}

func NewController() *Controller {
	return &Controller{}
}

// BeginWait creates a new rendezvous, forcibly rejecting any prior
// unsettled one with ErrSuperseded first.
func (c *Controller) BeginWait() *Rendezvous {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.settle(outcome{err: ErrSuperseded})
	}
	c.current = &Rendezvous{ch: make(chan outcome, 1)}
	return c.current
}

// Active returns the rendezvous currently awaiting delivery, or nil.
// Producers capture it when their trigger fires so a late completion
// cannot settle a wait that replaced it.
func (c *Controller) Active() *Rendezvous {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Resolve settles r with a token set. Returns false if r is no longer the
// active rendezvous (already consumed, superseded or stopped).
func (c *Controller) Resolve(r *Rendezvous, tokens *authflow.TokenSet) bool {
	return c.deliver(r, outcome{tokens: tokens})
}

// Reject settles r with an error. Returns false if r is no longer the
// active rendezvous.
func (c *Controller) Reject(r *Rendezvous, err error) bool {
	return c.deliver(r, outcome{err: err})
}

func (c *Controller) deliver(r *Rendezvous, o outcome) bool {
	if r == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != r {
		return false
	}
	r.settle(o)
	c.current = nil
	return true
}

// Shutdown rejects any outstanding rendezvous with ErrStopped so a waiting
// caller is never left hanging.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return
	}
	c.current.settle(outcome{err: ErrStopped})
	c.current = nil
}
