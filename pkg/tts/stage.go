package tts

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

const jobQueue = 32

// Stage is a synthesizer stage (TTS or SRC_TTS). Each synthesize command
// becomes one utterance on the audio channel, in command order.
type Stage struct {
	name        string
	logger      *logrus.Entry
	synthesizer Synthesizer

	audio    *channel.Endpoint[messages.Utterance]
	commands worker.CommandEndpoint

	async *worker.Async[messages.Synthesize, messages.Utterance]
}

// NewStage creates a synthesizer stage named name
func NewStage(logger *logrus.Logger, name string, synthesizer Synthesizer, commands worker.CommandEndpoint, audio *channel.Endpoint[messages.Utterance]) *Stage {
	s := &Stage{
		name:        name,
		logger:      logger.WithFields(logrus.Fields{"component": "tts", "stage": name, "backend": synthesizer.Name()}),
		synthesizer: synthesizer,
		audio:       audio,
		commands:    commands,
	}
	s.async = worker.NewAsync(name, jobQueue, s.render)
	return s
}

// Name implements worker.Stage
func (s *Stage) Name() string {
	return s.name
}

// Work publishes finished utterances
func (s *Stage) Work(ctx context.Context) error {
	if err := s.async.Err(); err != nil {
		return err
	}
	for {
		utt, ok := s.async.Poll()
		if !ok {
			return nil
		}
		s.logger.WithFields(logrus.Fields{
			"user_id":  utt.UserID,
			"duration": utt.Duration(),
		}).Debug("Utterance ready")
		s.audio.Send(utt)
	}
}

// HandleCommand queues synthesize commands
func (s *Stage) HandleCommand(cmd messages.Command) error {
	synth, ok := cmd.(messages.Synthesize)
	if !ok {
		return errors.NewUnknownCommand(cmd.Name())
	}
	if !s.async.Submit(synth) {
		s.logger.WithField("user_id", synth.UserID).Warn("Synthesis queue full, sending silence")
		s.audio.Send(messages.Utterance{UserID: synth.UserID, SampleRate: TelephonySampleRate})
	}
	return nil
}

// render runs in the background. A failed synthesis still yields an empty
// utterance so playback notifications for its id are sent.
func (s *Stage) render(ctx context.Context, cmd messages.Synthesize) messages.Utterance {
	utt := messages.Utterance{UserID: cmd.UserID, SampleRate: TelephonySampleRate}
	if cmd.Text == "" {
		return utt
	}

	done := metrics.ObserveBackendLatency(s.name, s.synthesizer.Name())
	pcm, err := s.synthesizer.Synthesize(ctx, cmd.Text)
	done()

	if err != nil {
		s.logger.WithError(err).WithField("user_id", cmd.UserID).Warn("Synthesis failed")
		metrics.RecordBackendError(s.name, s.synthesizer.Name())
		return utt
	}
	utt.PCM = pcm
	return utt
}

// Flush abandons queued and running synthesis
func (s *Stage) Flush() {
	pending := s.async.Pending()
	s.async.Reset()
	s.logger.WithField("dropped", pending).Debug("Synthesizer flushed")
}

// Close stops the background synthesizer
func (s *Stage) Close() error {
	err := s.async.Close()
	if closer, ok := s.synthesizer.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
