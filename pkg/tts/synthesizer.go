// Package tts implements the synthesizer stages and their backends.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/config"
)

// TelephonySampleRate is the rate every backend renders at
const TelephonySampleRate = 8000

// Error definitions
var (
	ErrBackendNotFound = errors.New("requested synthesis backend not found")
	ErrSynthesis       = errors.New("synthesis failed")
)

// Synthesizer renders text to 16-bit little-endian mono PCM at
// TelephonySampleRate
type Synthesizer interface {
	// Name returns the backend name
	Name() string

	// Synthesize renders text
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// NewSynthesizer builds the backend selected by cfg.Type
func NewSynthesizer(logger *logrus.Logger, cfg config.TTSConfig) (Synthesizer, error) {
	switch strings.ToLower(cfg.Type) {
	case "cartesia":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: cartesia: api key not set", ErrSynthesis)
		}
		return NewCartesia(logger, cfg), nil
	case "tone", "":
		return NewTone(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrBackendNotFound, cfg.Type)
	}
}
