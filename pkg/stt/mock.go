package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"translate-hub/pkg/messages"
)

// MockRecognizer is a deterministic backend for tests and offline runs.
// Scripted segments return their candidates; any other segment with
// non-silent audio is recognized as DefaultText.
type MockRecognizer struct {
	mu          sync.Mutex
	script      map[string][]messages.Candidate
	failures    map[string]error
	delay       time.Duration
	calls       int
	DefaultText string
}

// NewMockRecognizer creates a mock backend
func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{
		script:      make(map[string][]messages.Candidate),
		failures:    make(map[string]error),
		DefaultText: "hello",
	}
}

// Name returns the backend name
func (m *MockRecognizer) Name() string {
	return "mock"
}

// Script sets the result for a segment. No candidates means nothing was
// recognized.
func (m *MockRecognizer) Script(segmentID string, candidates ...messages.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script[segmentID] = candidates
}

// Fail makes recognition of a segment return err
func (m *MockRecognizer) Fail(segmentID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[segmentID] = err
}

// SetDelay makes every call wait d or until its context ends
func (m *MockRecognizer) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns the number of Recognize calls
func (m *MockRecognizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Recognize returns the scripted result for seg
func (m *MockRecognizer) Recognize(ctx context.Context, seg Segment) ([]messages.Candidate, error) {
	m.mu.Lock()
	m.calls++
	delay := m.delay
	candidates, scripted := m.script[seg.ID]
	failure := m.failures[seg.ID]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failure != nil {
		return nil, fmt.Errorf("%w: mock: %v", ErrRecognitionFailed, failure)
	}
	if scripted {
		return candidates, nil
	}
	if silent(seg.PCM) {
		return nil, nil
	}
	return []messages.Candidate{{Text: m.DefaultText, Confidence: 0.9}}, nil
}

func silent(pcm []byte) bool {
	for _, b := range pcm {
		if b != 0 {
			return false
		}
	}
	return true
}
