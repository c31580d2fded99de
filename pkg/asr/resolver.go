// Package asr decides which recognizer result is passed on for each audio
// segment when one or two recognizers run side by side.
package asr

import (
	"time"

	"translate-hub/pkg/messages"
)

// Role tells which recognizer produced a hypothesis
type Role int

const (
	Primary Role = iota
	Secondary
)

func (r Role) String() string {
	if r == Secondary {
		return "secondary"
	}
	return "primary"
}

// ActionKind is the downstream effect of a resolution
type ActionKind int

const (
	// Forward sends the hypothesis on to translation
	Forward ActionKind = iota
	// NotUnderstood asks the caller to repeat
	NotUnderstood
)

func (k ActionKind) String() string {
	if k == NotUnderstood {
		return "not_understood"
	}
	return "forward"
}

// Action is the single outcome produced for a segment
type Action struct {
	Kind       ActionKind
	SegmentID  string
	Hypothesis messages.Hypothesis
	// Evicted is set when the action was forced by the pending timeout
	Evicted bool
}

type pendingEntry struct {
	role    Role
	hyp     messages.Hypothesis
	arrived time.Time
}

// DefaultPendingTTL bounds how long one recognizer's result waits for the other
const DefaultPendingTTL = 10 * time.Second

// Resolver holds the per-segment race state. It is used from the hub
// goroutine only. Resolved segments are remembered until Reset, which the
// hub calls on every flush.
type Resolver struct {
	dual     bool
	ttl      time.Duration
	pending  map[string]pendingEntry
	resolved map[string]time.Time
}

// NewResolver creates a resolver for the given number of recognizers.
// ttl <= 0 selects DefaultPendingTTL.
func NewResolver(recognizers int, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Resolver{
		dual:     recognizers >= 2,
		ttl:      ttl,
		pending:  make(map[string]pendingEntry),
		resolved: make(map[string]time.Time),
	}
}

// Dual reports whether two recognizers race
func (r *Resolver) Dual() bool {
	return r.dual
}

// Submit feeds one recognizer result. ok is false when the result only
// updates pending state or arrives after its segment was already resolved.
func (r *Resolver) Submit(role Role, hyp messages.Hypothesis, now time.Time) (Action, bool) {
	seg := hyp.SegmentID

	if !r.dual {
		return decide(hyp, false), true
	}

	if _, done := r.resolved[seg]; done {
		return Action{}, false
	}

	stored, waiting := r.pending[seg]

	switch role {
	case Primary:
		if !hyp.IsOther() {
			return r.finish(seg, decide(hyp, false), now), true
		}
		if waiting && stored.role == Secondary {
			return r.finish(seg, decide(stored.hyp, false), now), true
		}
	case Secondary:
		if waiting && stored.role == Primary {
			return r.finish(seg, decide(hyp, false), now), true
		}
	}

	if !waiting {
		r.pending[seg] = pendingEntry{role: role, hyp: hyp, arrived: now}
	}
	return Action{}, false
}

// Evict resolves every entry that has waited longer than the TTL with what
// is stored: a stored primary is _other_, so it yields NotUnderstood; a
// stored secondary is used as is.
func (r *Resolver) Evict(now time.Time) []Action {
	var actions []Action
	for seg, entry := range r.pending {
		if now.Sub(entry.arrived) < r.ttl {
			continue
		}
		actions = append(actions, r.finish(seg, decide(entry.hyp, true), now))
	}
	return actions
}

// Reset forgets all pending and resolved segments
func (r *Resolver) Reset() {
	r.pending = make(map[string]pendingEntry)
	r.resolved = make(map[string]time.Time)
}

// Pending returns the number of segments waiting for the other recognizer
func (r *Resolver) Pending() int {
	return len(r.pending)
}

func (r *Resolver) finish(seg string, a Action, now time.Time) Action {
	delete(r.pending, seg)
	r.resolved[seg] = now
	return a
}

func decide(hyp messages.Hypothesis, evicted bool) Action {
	kind := Forward
	if hyp.IsOther() {
		kind = NotUnderstood
	}
	return Action{Kind: kind, SegmentID: hyp.SegmentID, Hypothesis: hyp, Evicted: evicted}
}
