package mt

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/channel"
	"translate-hub/pkg/errors"
	"translate-hub/pkg/messages"
	"translate-hub/pkg/metrics"
	"translate-hub/pkg/worker"
)

const (
	maxHypothesesPerTick = 10
	jobQueue             = 16
)

// Stage is the translator stage. It receives the hypotheses the hub forwards,
// translates their best candidate and sends the translation back on the same
// data channel with the recognizer hypothesis attached.
type Stage struct {
	logger     *logrus.Entry
	translator Translator

	data     *channel.Endpoint[messages.Hypothesis]
	commands worker.CommandEndpoint

	async *worker.Async[messages.Hypothesis, messages.Hypothesis]
}

// NewStage creates the translator stage
func NewStage(logger *logrus.Logger, translator Translator, commands worker.CommandEndpoint, data *channel.Endpoint[messages.Hypothesis]) *Stage {
	s := &Stage{
		logger:     logger.WithFields(logrus.Fields{"component": "mt", "backend": translator.Name()}),
		translator: translator,
		data:       data,
		commands:   commands,
	}
	s.async = worker.NewAsync(messages.StageMT, jobQueue, s.translate)
	return s
}

// Name implements worker.Stage
func (s *Stage) Name() string {
	return messages.StageMT
}

// Work queues new hypotheses and publishes finished translations
func (s *Stage) Work(ctx context.Context) error {
	if err := s.async.Err(); err != nil {
		return err
	}

	for i := 0; i < maxHypothesesPerTick; i++ {
		hyp, ok := s.data.Receive()
		if !ok {
			break
		}
		if !s.async.Submit(hyp) {
			s.logger.WithField("segment_id", hyp.SegmentID).Warn("Translation queue full")
			metrics.RecordBackendError(messages.StageMT, s.translator.Name())
			s.publish(errorTranslation(hyp))
		}
	}

	for {
		out, ok := s.async.Poll()
		if !ok {
			return nil
		}
		s.publish(out)
	}
}

// translate runs in the background. Recognizer sentinels pass through
// without a backend call.
func (s *Stage) translate(ctx context.Context, asr messages.Hypothesis) messages.Hypothesis {
	logger := s.logger.WithField("segment_id", asr.SegmentID)

	switch {
	case asr.IsError():
		return errorTranslation(asr)
	case asr.IsOther():
		return withASR(messages.OtherHypothesis(asr.SegmentID, messages.StageMT), asr)
	}

	done := metrics.ObserveBackendLatency(messages.StageMT, s.translator.Name())
	candidates, err := s.translator.Translate(ctx, asr.Best())
	done()

	if err != nil {
		logger.WithError(err).Warn("Translation failed")
		metrics.RecordBackendError(messages.StageMT, s.translator.Name())
		return errorTranslation(asr)
	}
	if len(candidates) == 0 {
		return withASR(messages.OtherHypothesis(asr.SegmentID, messages.StageMT), asr)
	}
	return withASR(messages.Hypothesis{
		SegmentID: asr.SegmentID,
		Source:    messages.StageMT,
		NBest:     candidates,
	}, asr)
}

func errorTranslation(asr messages.Hypothesis) messages.Hypothesis {
	return withASR(messages.ErrorHypothesis(asr.SegmentID, messages.StageMT), asr)
}

func withASR(out, asr messages.Hypothesis) messages.Hypothesis {
	out.ASR = &asr
	return out
}

func (s *Stage) publish(out messages.Hypothesis) {
	s.logger.WithFields(logrus.Fields{
		"segment_id":  out.SegmentID,
		"translation": out.Best(),
	}).Debug("Translation ready")

	if s.commands != nil {
		s.commands.Send(messages.NewEnvelope(messages.Translated{Fname: out.SegmentID}, messages.StageMT, messages.StageHub))
	}
	s.data.Send(out)
}

// Flush drops queued hypotheses and abandons running translations
func (s *Stage) Flush() {
	dropped := s.data.Drain()
	s.async.Reset()
	s.logger.WithField("dropped", dropped).Debug("Translator flushed")
}

// HandleCommand implements worker.Stage
func (s *Stage) HandleCommand(cmd messages.Command) error {
	return errors.NewUnknownCommand(cmd.Name())
}

// Close stops the background translator
func (s *Stage) Close() error {
	err := s.async.Close()
	if closer, ok := s.translator.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
