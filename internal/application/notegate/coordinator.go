// Package notegate collects the mandatory free-text justification before a
// lifecycle transition is committed. It is single-flight: one pending
// action at a time, one in-flight confirmation at a time.
package notegate

import (
	"context"
	"errors"
	"strings"
	"sync"

	"libres/internal/domain/request"
)

// Action is the decision awaiting a note: which record, which target
// status, and the label the confirmation dialog shows.
type Action struct {
	RecordID     string
	TargetStatus string
	Label        string
}

// Coordinator errors
var (
	ErrActionPending = errors.New("another decision is already awaiting a note")
	ErrNoAction      = errors.New("no decision is awaiting a note")
	ErrBusy          = errors.New("the decision is being submitted")
)

// TransitionFunc commits the decision; in production this is the lifecycle
// engine's RequestTransition.
type TransitionFunc func(ctx context.Context, recordID, targetStatus, adminNote string) error

// Coordinator holds at most one pending action and sequences
// note collection, submission and cleanup.
type Coordinator struct {
	mu      sync.Mutex
	pending *Action
	busy    bool
	commit  TransitionFunc
}

// New creates a Coordinator that commits through fn.
func New(fn TransitionFunc) *Coordinator {
	return &Coordinator{commit: fn}
}

// Open stages a decision for note collection. Opening while another action
// is pending is rejected; the caller must Cancel or Confirm first.
// PRE: none
// POST: the action is pending, or ErrActionPending
func (c *Coordinator) Open(a Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return ErrActionPending
	}
	c.pending = &a
	return nil
}

// Pending returns the staged action, if any.
func (c *Coordinator) Pending() (Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Action{}, false
	}
	return *c.pending, true
}

// Busy reports whether a confirmation is in flight.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Confirm submits the staged decision with the note. A blank note is
// rejected locally without touching the gateway. Whatever the outcome, the
// pending action and the busy flag are cleared before returning.
// PRE: an action is pending and no confirmation is in flight
// POST: pending and busy are cleared on every exit path
func (c *Coordinator) Confirm(ctx context.Context, note string) error {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return ErrNoAction
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}

	trimmed := strings.TrimSpace(note)
	if trimmed == "" {
		// Local rejection keeps the dialog open for a corrected note.
		c.mu.Unlock()
		return request.ErrMissingAnnotation
	}

	a := *c.pending
	c.busy = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.pending = nil
		c.busy = false
		c.mu.Unlock()
	}()

	return c.commit(ctx, a.RecordID, a.TargetStatus, trimmed)
}

// Cancel discards the staged action and any typed note without contacting
// the gateway. Cancelling mid-submission is rejected.
// PRE: none
// POST: no action is pending unless a confirmation is in flight
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	c.pending = nil
	return nil
}
