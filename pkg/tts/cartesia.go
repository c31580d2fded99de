package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/config"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"
	cartesiaModel   = "sonic-2"
	cartesiaTimeout = 15 * time.Second
)

// Default voice ID, overridden by the configured voice
const defaultVoiceID = "a0e99841-438c-4a64-b679-ae501e7d6091"

// Cartesia synthesizes with the Cartesia bytes endpoint
type Cartesia struct {
	logger     *logrus.Entry
	apiKey     string
	voice      string
	language   string
	baseURL    string
	httpClient *http.Client
}

type cartesiaTTSRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoiceSpec    `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// NewCartesia creates the Cartesia backend
func NewCartesia(logger *logrus.Logger, cfg config.TTSConfig) *Cartesia {
	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoiceID
	}
	return &Cartesia{
		logger:     logger.WithField("component", "tts_cartesia"),
		apiKey:     cfg.APIKey,
		voice:      voice,
		language:   cfg.Language,
		baseURL:    cartesiaBaseURL,
		httpClient: &http.Client{Timeout: cartesiaTimeout},
	}
}

// Name returns the backend name
func (c *Cartesia) Name() string {
	return "cartesia"
}

// Synthesize requests raw PCM at the telephony rate
func (c *Cartesia) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(cartesiaTTSRequest{
		ModelID:    cartesiaModel,
		Transcript: text,
		Voice:      cartesiaVoiceSpec{Mode: "id", ID: c.voice},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: TelephonySampleRate,
		},
		Language: c.language,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: cartesia request: %v", ErrSynthesis, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return []byte{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: cartesia error %d: %s", ErrSynthesis, resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrSynthesis, err)
	}
	if len(audio)%2 != 0 {
		audio = audio[:len(audio)-1]
	}

	c.logger.WithField("bytes", len(audio)).Debug("Audio synthesized")
	return audio, nil
}
