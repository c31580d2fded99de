package mt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/config"
	"translate-hub/pkg/messages"
)

const defaultMTTimeout = 10 * time.Second

// MTMonkey translates through an MTMonkey web service
type MTMonkey struct {
	logger     *logrus.Entry
	url        string
	sourceLang string
	targetLang string
	httpClient *http.Client
}

type mtmonkeyRequest struct {
	Action     string `json:"action"`
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
	Text       string `json:"text"`
}

type mtmonkeyResponse struct {
	ErrorCode    *int   `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Translation  []struct {
		Translated []struct {
			Text  string  `json:"text"`
			Score float64 `json:"score"`
		} `json:"translated"`
	} `json:"translation"`
}

// NewMTMonkey creates the MTMonkey backend
func NewMTMonkey(logger *logrus.Logger, cfg config.MTConfig) *MTMonkey {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMTTimeout
	}
	return &MTMonkey{
		logger:     logger.WithField("component", "mt_mtmonkey"),
		url:        cfg.MTMonkeyURL,
		sourceLang: cfg.SourceLang,
		targetLang: cfg.TargetLang,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns the backend name
func (m *MTMonkey) Name() string {
	return "mtmonkey"
}

// Translate sends text to the service. The translations of all returned
// sentences are joined into a single candidate.
func (m *MTMonkey) Translate(ctx context.Context, text string) ([]messages.Candidate, error) {
	body, err := json.Marshal(mtmonkeyRequest{
		Action:     "translate",
		SourceLang: m.sourceLang,
		TargetLang: m.targetLang,
		Text:       text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: mtmonkey unreachable: %v", ErrTranslation, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTranslation, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: mtmonkey status %d: %s", ErrTranslation, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	return parseMTMonkey(payload)
}

func parseMTMonkey(payload []byte) ([]messages.Candidate, error) {
	var out mtmonkeyResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrTranslation, err)
	}
	if out.ErrorCode == nil {
		return nil, fmt.Errorf("%w: response without errorCode", ErrTranslation)
	}
	if *out.ErrorCode != 0 {
		return nil, fmt.Errorf("%w: mtmonkey error %d: %s", ErrTranslation, *out.ErrorCode, out.ErrorMessage)
	}

	parts := make([]string, 0, len(out.Translation))
	for _, sentence := range out.Translation {
		if len(sentence.Translated) == 0 {
			continue
		}
		parts = append(parts, sentence.Translated[0].Text)
	}
	text := strings.Join(parts, " ")
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []messages.Candidate{{Text: text, Confidence: 1.0}}, nil
}
