// Package mt implements the translator stage and its backends.
package mt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/config"
	"translate-hub/pkg/messages"
)

// Error definitions
var (
	ErrBackendNotFound = errors.New("requested translation backend not found")
	ErrTranslation     = errors.New("translation failed")
)

// Translator translates one recognized sentence
type Translator interface {
	// Name returns the backend name
	Name() string

	// Translate returns the n-best translations of text, best first. An
	// empty list means the backend produced nothing usable.
	Translate(ctx context.Context, text string) ([]messages.Candidate, error)
}

// NewTranslator builds the backend selected by cfg.Type
func NewTranslator(ctx context.Context, logger *logrus.Logger, cfg config.MTConfig) (Translator, error) {
	switch strings.ToLower(cfg.Type) {
	case "mtmonkey":
		return NewMTMonkey(logger, cfg), nil
	case "gemini":
		return NewGemini(ctx, logger, cfg)
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrBackendNotFound, cfg.Type)
	}
}
