package mt

import (
	"context"

	"translate-hub/pkg/circuitbreaker"
	"translate-hub/pkg/messages"
)

type guardedTranslator struct {
	Translator
	breaker *circuitbreaker.CircuitBreaker
}

// WithBreaker fails translations fast while breaker is open
func WithBreaker(t Translator, breaker *circuitbreaker.CircuitBreaker) Translator {
	return &guardedTranslator{Translator: t, breaker: breaker}
}

func (g *guardedTranslator) Translate(ctx context.Context, text string) ([]messages.Candidate, error) {
	var candidates []messages.Candidate
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		candidates, err = g.Translator.Translate(ctx, text)
		return err
	})
	return candidates, err
}
