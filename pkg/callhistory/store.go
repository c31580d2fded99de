package callhistory

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/errors"
)

// DocumentKey is the top-level key of the persisted document
const DocumentKey = "calls_from_start_end_length"

const window24h = 24 * time.Hour

// Backend persists the whole serialized store
type Backend interface {
	Name() string
	// Load returns the stored document, or nil when none exists yet
	Load(ctx context.Context) ([]byte, error)
	// Save atomically replaces the stored document
	Save(ctx context.Context, data []byte) error
}

type document struct {
	Calls map[string][]CallRecord `json:"calls_from_start_end_length"`
}

// Stats are the rolling statistics of one identity. Times are in seconds.
type Stats struct {
	TotalCalls  int     `json:"total_calls"`
	TotalTime   float64 `json:"total_time"`
	Last24Calls int     `json:"last24_calls"`
	Last24Time  float64 `json:"last24_time"`
}

// Store maps remote identities to their ordered call records. It is owned by
// a single goroutine and performs no locking.
type Store struct {
	backend Backend
	logger  *logrus.Logger
	calls   map[string][]CallRecord
}

// Open loads the store from backend. A missing or unreadable document yields
// an empty store.
func Open(ctx context.Context, backend Backend, logger *logrus.Logger) *Store {
	s := &Store{
		backend: backend,
		logger:  logger,
		calls:   make(map[string][]CallRecord),
	}

	data, err := backend.Load(ctx)
	if err != nil {
		logger.WithError(err).WithField("backend", backend.Name()).Warn("Call history unreadable, starting empty")
		return s
	}
	if len(data) == 0 {
		logger.WithField("backend", backend.Name()).Info("No call history found, starting empty")
		return s
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.WithError(err).WithField("backend", backend.Name()).Warn("Call history corrupt, starting empty")
		return s
	}
	if doc.Calls != nil {
		s.calls = doc.Calls
	}

	logger.WithFields(logrus.Fields{
		"backend":    backend.Name(),
		"identities": len(s.calls),
	}).Info("Call history loaded")
	return s
}

// Identities returns every known identity in sorted order
func (s *Store) Identities() []string {
	ids := make([]string, 0, len(s.calls))
	for id := range s.calls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Records returns a copy of the records of identity
func (s *Store) Records(identity string) []CallRecord {
	return append([]CallRecord(nil), s.calls[identity]...)
}

// Snapshot returns a deep copy of the whole mapping
func (s *Store) Snapshot() map[string][]CallRecord {
	out := make(map[string][]CallRecord, len(s.calls))
	for id, recs := range s.calls {
		out[id] = append([]CallRecord(nil), recs...)
	}
	return out
}

// Stats computes the statistics of identity at now. Only closed calls with a
// positive duration count; a call is in the last 24 hours iff it started
// after now - 24h.
func (s *Store) Stats(identity string, now time.Time) Stats {
	var st Stats
	cutoff := unixSeconds(now.Add(-window24h))
	for _, r := range s.calls[identity] {
		if r.Duration <= 0 {
			continue
		}
		st.TotalCalls++
		st.TotalTime += r.Duration
		if r.Start > cutoff {
			st.Last24Calls++
			st.Last24Time += r.Duration
		}
	}
	return st
}

// AppendOpen records the start of a confirmed call and persists the store
func (s *Store) AppendOpen(ctx context.Context, identity string, now time.Time) error {
	s.calls[identity] = append(s.calls[identity], OpenRecord(now))
	return s.save(ctx)
}

// CloseLast closes the most recent open record of identity and reports
// whether one was found. Without an open record nothing changes.
func (s *Store) CloseLast(ctx context.Context, identity string, now time.Time) (bool, error) {
	recs := s.calls[identity]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].IsOpen() {
			recs[i] = recs[i].Closed(now)
			return true, s.save(ctx)
		}
	}
	return false, nil
}

func (s *Store) save(ctx context.Context) error {
	data, err := json.Marshal(document{Calls: s.calls})
	if err != nil {
		return errors.Wrap(err, "encoding call history")
	}
	if err := s.backend.Save(ctx, data); err != nil {
		s.logger.WithError(err).WithField("backend", s.backend.Name()).Error("Failed to persist call history")
		return errors.Wrap(errors.ErrStoreUnavailable, err.Error()).WithField("backend", s.backend.Name())
	}
	return nil
}
