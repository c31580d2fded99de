// Package stt implements the recognizer stages. A recognizer stage collects
// the frames of one speech segment and sends the whole segment to a speech
// backend, producing one hypothesis per segment.
package stt

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/config"
	"translate-hub/pkg/messages"
)

// Segment is the audio of one speech segment
type Segment struct {
	ID         string
	SampleRate int
	PCM        []byte
}

// Recognizer defines the interface for speech-to-text backends
type Recognizer interface {
	// Name returns the backend name
	Name() string

	// Recognize returns the n-best list for a segment, best first. An empty
	// list means nothing was recognized.
	Recognize(ctx context.Context, seg Segment) ([]messages.Candidate, error)
}

// NewRecognizer builds the backend named kind
func NewRecognizer(ctx context.Context, logger *logrus.Logger, kind string, cfg config.ASRConfig) (Recognizer, error) {
	switch strings.ToLower(kind) {
	case "google":
		return NewGoogleRecognizer(ctx, logger, cfg.Google, cfg.Language)
	case "amazon":
		return NewAmazonRecognizer(ctx, logger, cfg.Amazon, cfg.Language)
	case "mock":
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, kind)
	}
}
