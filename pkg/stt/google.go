package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"translate-hub/pkg/config"
	"translate-hub/pkg/messages"
)

const defaultGoogleAlternatives = 5

// GoogleRecognizer recognizes segments with Google Speech-to-Text
type GoogleRecognizer struct {
	logger   *logrus.Entry
	client   *speech.Client
	config   config.GoogleSTTConfig
	language string

	recognize func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
}

// NewGoogleRecognizer creates the client. Credentials come from the API key,
// the credentials file or the environment, in that order.
func NewGoogleRecognizer(ctx context.Context, logger *logrus.Logger, cfg config.GoogleSTTConfig, language string) (*GoogleRecognizer, error) {
	var clientOptions []option.ClientOption

	if cfg.APIKey != "" {
		logger.Debug("Using Google Speech API key authentication")
		clientOptions = append(clientOptions, option.WithAPIKey(cfg.APIKey))
	} else if cfg.CredentialsFile != "" {
		logger.WithField("credentials_file", cfg.CredentialsFile).Debug("Using Google credentials file")
		clientOptions = append(clientOptions, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := speech.NewClient(ctx, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("%w: google speech client: %v", ErrInitializationFailed, err)
	}

	r := &GoogleRecognizer{
		logger:   logger.WithField("component", "stt_google"),
		client:   client,
		config:   cfg,
		language: language,
	}
	r.recognize = func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	}
	return r, nil
}

// Name returns the backend name
func (r *GoogleRecognizer) Name() string {
	return "google"
}

// Recognize sends the whole segment in one request
func (r *GoogleRecognizer) Recognize(ctx context.Context, seg Segment) ([]messages.Candidate, error) {
	resp, err := r.recognize(ctx, r.request(seg))
	if err != nil {
		return nil, fmt.Errorf("%w: google: %v", ErrRecognitionFailed, err)
	}
	candidates := googleCandidates(resp)
	r.logger.WithFields(logrus.Fields{
		"segment_id": seg.ID,
		"candidates": len(candidates),
	}).Debug("Segment recognized")
	return candidates, nil
}

func (r *GoogleRecognizer) request(seg Segment) *speechpb.RecognizeRequest {
	alternatives := r.config.MaxAlternatives
	if alternatives <= 0 {
		alternatives = defaultGoogleAlternatives
	}

	return &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(seg.SampleRate),
			LanguageCode:               r.language,
			MaxAlternatives:            int32(alternatives),
			Model:                      r.config.Model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: seg.PCM},
		},
	}
}

// Close releases the client
func (r *GoogleRecognizer) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// googleCandidates builds the n-best list. A long segment comes back as
// consecutive results; candidate i joins alternative i of every result,
// falling back to the result's best alternative.
func googleCandidates(resp *speechpb.RecognizeResponse) []messages.Candidate {
	if resp == nil {
		return nil
	}

	var results []*speechpb.SpeechRecognitionResult
	width := 0
	for _, res := range resp.GetResults() {
		if len(res.GetAlternatives()) == 0 {
			continue
		}
		results = append(results, res)
		if n := len(res.GetAlternatives()); n > width {
			width = n
		}
	}

	candidates := make([]messages.Candidate, 0, width)
	for i := 0; i < width; i++ {
		parts := make([]string, 0, len(results))
		confidence := 0.0
		for _, res := range results {
			alts := res.GetAlternatives()
			alt := alts[0]
			if i < len(alts) {
				alt = alts[i]
			}
			if text := strings.TrimSpace(alt.GetTranscript()); text != "" {
				parts = append(parts, text)
			}
			confidence += float64(alt.GetConfidence())
		}
		if len(parts) == 0 {
			continue
		}
		candidates = append(candidates, messages.Candidate{
			Text:       strings.Join(parts, " "),
			Confidence: confidence / float64(len(results)),
		})
	}
	return candidates
}
