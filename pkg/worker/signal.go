package worker

import (
	"context"
	"sync/atomic"
)

// Signal is the process-wide shutdown token. Every stage and the hub check
// it at the top of each tick; once set it never clears.
type Signal struct {
	set    atomic.Bool
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewSignal creates a shutdown signal tied to parent
func NewSignal(parent context.Context) *Signal {
	ctx, cancel := context.WithCancelCause(parent)
	return &Signal{ctx: ctx, cancel: cancel}
}

// Trigger sets the signal. cause may be nil for an orderly shutdown.
func (s *Signal) Trigger(cause error) {
	if s.set.Swap(true) {
		return
	}
	s.cancel(cause)
}

// IsSet reports whether shutdown was requested, either through Trigger or by
// cancellation of the parent context
func (s *Signal) IsSet() bool {
	if s.set.Load() {
		return true
	}
	if s.ctx.Err() != nil {
		s.set.Store(true)
		return true
	}
	return false
}

// Context returns a context cancelled when the signal is set
func (s *Signal) Context() context.Context {
	return s.ctx
}

// Cause returns the error that triggered shutdown, if any
func (s *Signal) Cause() error {
	cause := context.Cause(s.ctx)
	if cause == context.Canceled {
		return nil
	}
	return cause
}
