package tts

import (
	"context"

	"translate-hub/pkg/circuitbreaker"
)

type guardedSynthesizer struct {
	Synthesizer
	breaker *circuitbreaker.CircuitBreaker
}

// WithBreaker fails synthesis fast while breaker is open
func WithBreaker(s Synthesizer, breaker *circuitbreaker.CircuitBreaker) Synthesizer {
	return &guardedSynthesizer{Synthesizer: s, breaker: breaker}
}

func (g *guardedSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var pcm []byte
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		pcm, err = g.Synthesizer.Synthesize(ctx, text)
		return err
	})
	return pcm, err
}
