package stt

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/sirupsen/logrus"

	"translate-hub/pkg/config"
	"translate-hub/pkg/messages"
)

// amazonChunkSize is 100ms of 16 kHz 16-bit audio
const amazonChunkSize = 3200

// AmazonRecognizer recognizes segments with Amazon Transcribe streaming.
// Every segment is one short stream.
type AmazonRecognizer struct {
	logger   *logrus.Entry
	client   *transcribestreaming.Client
	config   config.AmazonSTTConfig
	language string
}

// NewAmazonRecognizer creates the client. Static keys are used when set,
// otherwise the default credential chain.
func NewAmazonRecognizer(ctx context.Context, logger *logrus.Logger, cfg config.AmazonSTTConfig, language string) (*AmazonRecognizer, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(3),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: aws config: %v", ErrInitializationFailed, err)
	}

	logger.WithField("region", region).Debug("Amazon Transcribe client configured")
	return &AmazonRecognizer{
		logger:   logger.WithField("component", "stt_amazon"),
		client:   transcribestreaming.NewFromConfig(awsCfg),
		config:   cfg,
		language: language,
	}, nil
}

// Name returns the backend name
func (r *AmazonRecognizer) Name() string {
	return "amazon"
}

// Recognize streams the segment and joins the final results
func (r *AmazonRecognizer) Recognize(ctx context.Context, seg Segment) ([]messages.Candidate, error) {
	input := &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(r.language),
		MediaSampleRateHertz: aws.Int32(int32(seg.SampleRate)),
		MediaEncoding:        types.MediaEncodingPcm,
	}
	if r.config.VocabularyName != "" {
		input.VocabularyName = aws.String(r.config.VocabularyName)
	}

	resp, err := r.client.StartStreamTranscription(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: amazon: start stream: %v", ErrRecognitionFailed, err)
	}
	stream := resp.GetStream()
	defer stream.Close()

	sendErr := make(chan error, 1)
	go func() {
		defer stream.Writer.Close()
		for off := 0; off < len(seg.PCM); off += amazonChunkSize {
			end := off + amazonChunkSize
			if end > len(seg.PCM) {
				end = len(seg.PCM)
			}
			event := &types.AudioStreamMemberAudioEvent{
				Value: types.AudioEvent{AudioChunk: seg.PCM[off:end]},
			}
			if err := stream.Send(ctx, event); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- nil
	}()

	var finals []string
	for event := range stream.Events() {
		finals = append(finals, finalTranscripts(event)...)
	}
	if err := <-sendErr; err != nil {
		return nil, fmt.Errorf("%w: amazon: send audio: %v", ErrRecognitionFailed, err)
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%w: amazon: stream: %v", ErrRecognitionFailed, err)
	}

	r.logger.WithFields(logrus.Fields{
		"segment_id": seg.ID,
		"results":    len(finals),
	}).Debug("Segment recognized")

	text := strings.Join(finals, " ")
	if text == "" {
		return nil, nil
	}
	return []messages.Candidate{{Text: text, Confidence: 1.0}}, nil
}

// finalTranscripts returns the best transcript of every final result in
// event. Partial results are superseded by later events and are skipped.
func finalTranscripts(event types.TranscriptResultStream) []string {
	te, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
	if !ok || te.Value.Transcript == nil {
		return nil
	}

	var out []string
	for _, result := range te.Value.Transcript.Results {
		if result.IsPartial || len(result.Alternatives) == 0 {
			continue
		}
		alt := result.Alternatives[0]
		if alt.Transcript == nil {
			continue
		}
		if text := strings.TrimSpace(*alt.Transcript); text != "" {
			out = append(out, text)
		}
	}
	return out
}
