package stt

import (
	"context"

	"translate-hub/pkg/circuitbreaker"
	"translate-hub/pkg/messages"
)

type guardedRecognizer struct {
	Recognizer
	breaker *circuitbreaker.CircuitBreaker
}

// WithBreaker fails recognitions fast while breaker is open
func WithBreaker(r Recognizer, breaker *circuitbreaker.CircuitBreaker) Recognizer {
	return &guardedRecognizer{Recognizer: r, breaker: breaker}
}

func (g *guardedRecognizer) Recognize(ctx context.Context, seg Segment) ([]messages.Candidate, error) {
	var candidates []messages.Candidate
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		candidates, err = g.Recognizer.Recognize(ctx, seg)
		return err
	})
	return candidates, err
}
