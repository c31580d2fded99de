package mt

import (
	"context"
	"strings"
	"sync"

	"translate-hub/pkg/messages"
)

// Mock is a deterministic translator for tests and offline runs. Unknown
// sentences are echoed in upper case.
type Mock struct {
	mu      sync.Mutex
	phrases map[string]string
	failing map[string]error
}

// NewMock creates a mock translator
func NewMock() *Mock {
	return &Mock{
		phrases: make(map[string]string),
		failing: make(map[string]error),
	}
}

// Name returns the backend name
func (m *Mock) Name() string {
	return "mock"
}

// Add registers the translation of text
func (m *Mock) Add(text, translation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phrases[text] = translation
}

// Fail makes translating text return err
func (m *Mock) Fail(text string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[text] = err
}

// Translate implements Translator
func (m *Mock) Translate(ctx context.Context, text string) ([]messages.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failing[text]; ok {
		return nil, err
	}
	if out, ok := m.phrases[text]; ok {
		if out == "" {
			return nil, nil
		}
		return []messages.Candidate{{Text: out, Confidence: 1.0}}, nil
	}
	return []messages.Candidate{{Text: strings.ToUpper(text), Confidence: 0.5}}, nil
}
