// Package ratelimit provides per-key token buckets with a block list.
package ratelimit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Limiter implements a token bucket rate limiter with per-key tracking
type Limiter struct {
	rate       float64 // tokens per second
	burst      int     // maximum burst size
	clients    map[string]*bucket
	mu         sync.Mutex
	logger     *logrus.Logger
	cleanupTTL time.Duration // how long to keep inactive clients
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// bucket represents a token bucket for a single client
type bucket struct {
	tokens     float64
	lastUpdate time.Time
	blockUntil time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithCleanupTTL sets how long idle, unblocked keys are kept
func WithCleanupTTL(ttl time.Duration) Option {
	return func(l *Limiter) {
		if ttl > 0 {
			l.cleanupTTL = ttl
		}
	}
}

// NewLimiter creates a limiter allowing rate tokens per second with the given
// burst. A non-positive rate disables the bucket; blocks still apply.
func NewLimiter(rate float64, burst int, logger *logrus.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		rate:       rate,
		burst:      burst,
		clients:    make(map[string]*bucket),
		logger:     logger,
		cleanupTTL: 10 * time.Minute,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.cleanup()
	return l
}

func (l *Limiter) get(key string, now time.Time) *bucket {
	b, exists := l.clients[key]
	if !exists {
		b = &bucket{tokens: float64(l.burst), lastUpdate: now}
		l.clients[key] = b
	}
	return b
}

// Allow reports whether one request from key may pass
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.get(key, now)

	if now.Before(b.blockUntil) {
		return false
	}
	if l.rate <= 0 {
		return true
	}

	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Block blocks key for duration
func (l *Limiter) Block(key string, duration time.Duration) {
	l.BlockUntil(key, l.now().Add(duration))
}

// BlockUntil blocks key until the given instant. A later block replaces an
// earlier one; an earlier one never shortens an active block.
func (l *Limiter) BlockUntil(key string, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.get(key, l.now())
	if until.After(b.blockUntil) {
		b.blockUntil = until
	}
	b.tokens = 0

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"key":         key,
			"block_until": b.blockUntil,
		}).Info("Key blocked")
	}
}

// IsBlocked reports whether key is currently blocked
func (l *Limiter) IsBlocked(key string) bool {
	_, blocked := l.BlockedUntil(key)
	return blocked
}

// BlockedUntil returns the end of key's active block
func (l *Limiter) BlockedUntil(key string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.clients[key]
	if !exists || !l.now().Before(b.blockUntil) {
		return time.Time{}, false
	}
	return b.blockUntil, true
}

// GetClientCount returns the number of tracked keys
func (l *Limiter) GetClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Reset removes all tracked keys
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients = make(map[string]*bucket)
}

// Close stops the cleanup goroutine
func (l *Limiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

// Sweep removes idle keys that are not blocked
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.clients {
		if now.Sub(b.lastUpdate) > l.cleanupTTL && !now.Before(b.blockUntil) {
			delete(l.clients, key)
		}
	}
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cleanupTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
