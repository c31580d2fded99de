package mt

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"translate-hub/pkg/config"
	"translate-hub/pkg/messages"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini translates with a Gemini model
type Gemini struct {
	logger     *logrus.Entry
	model      string
	sourceLang string
	targetLang string

	generate func(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error)
}

// NewGemini creates the Gemini backend
func NewGemini(ctx context.Context, logger *logrus.Logger, cfg config.MTConfig) (*Gemini, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini: api key not set", ErrTranslation)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	g := newGemini(logger, cfg)
	g.generate = func(ctx context.Context, prompt string, gc *genai.GenerateContentConfig) (string, error) {
		resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), gc)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}
	return g, nil
}

func newGemini(logger *logrus.Logger, cfg config.MTConfig) *Gemini {
	model := cfg.GeminiModel
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{
		logger:     logger.WithField("component", "mt_gemini"),
		model:      model,
		sourceLang: cfg.SourceLang,
		targetLang: cfg.TargetLang,
	}
}

// Name returns the backend name
func (g *Gemini) Name() string {
	return "gemini"
}

// Translate asks the model for a plain translation of text
func (g *Gemini) Translate(ctx context.Context, text string) ([]messages.Candidate, error) {
	out, err := g.generate(ctx, text, g.requestConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %v", ErrTranslation, err)
	}

	out = strings.TrimSpace(out)
	g.logger.WithField("model", g.model).Debug("Translation generated")
	if out == "" {
		return nil, nil
	}
	return []messages.Candidate{{Text: out, Confidence: 1.0}}, nil
}

func (g *Gemini) requestConfig() *genai.GenerateContentConfig {
	instruction := fmt.Sprintf(
		"Translate the user's transcribed speech from %s to %s. Reply with the translation only, on one line.",
		languageName(g.sourceLang), languageName(g.targetLang),
	)
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		CandidateCount:    1,
	}
}

func languageName(code string) string {
	if code == "" {
		return "the detected language"
	}
	return code
}
