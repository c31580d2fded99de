// Package audio segments the caller's audio into speech segments for the
// recognizers.
package audio

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"translate-hub/pkg/channel"
	"translate-hub/pkg/config"
	"translate-hub/pkg/errors"
	"translate-hub/pkg/messages"
	"translate-hub/pkg/worker"
)

// maxFramesPerTick bounds the frames handled in one unit of work
const maxFramesPerTick = 50

// Stage is the VAD stage. It reads recorded frames from telephony, tags the
// frames of each speech segment with a fresh segment id and copies them to
// every recognizer. speech_start and speech_end are reported to the hub.
type Stage struct {
	logger   *logrus.Entry
	detector *Detector
	preroll  int

	input    *channel.Endpoint[messages.AudioFrame]
	outputs  []*channel.Endpoint[messages.AudioFrame]
	commands worker.CommandEndpoint

	history   []messages.AudioFrame
	segmentID string
	seq       int

	newSegmentID func() string
}

// NewStage creates the VAD stage
func NewStage(logger *logrus.Logger, cfg config.VADConfig, commands worker.CommandEndpoint, input *channel.Endpoint[messages.AudioFrame], outputs ...*channel.Endpoint[messages.AudioFrame]) *Stage {
	return &Stage{
		logger:       logger.WithField("component", "vad"),
		detector:     NewDetector(cfg.Threshold, cfg.HoldFrames),
		preroll:      cfg.PrerollFrames,
		input:        input,
		outputs:      outputs,
		commands:     commands,
		newSegmentID: func() string { return uuid.New().String() },
	}
}

// Name implements worker.Stage
func (s *Stage) Name() string {
	return messages.StageVAD
}

// Work handles the frames recorded since the last tick
func (s *Stage) Work(ctx context.Context) error {
	for i := 0; i < maxFramesPerTick; i++ {
		frame, ok := s.input.Receive()
		if !ok {
			return nil
		}
		s.process(frame)
	}
	return nil
}

func (s *Stage) process(frame messages.AudioFrame) {
	active, changed := s.detector.Process(frame.PCM)

	switch {
	case changed && active:
		s.segmentID = s.newSegmentID()
		s.seq = 0
		s.logger.WithField("segment_id", s.segmentID).Debug("Speech started")
		s.notify(messages.SpeechStart{})
		for _, f := range s.history {
			s.emit(f, false)
		}
		s.history = s.history[:0]
		s.emit(frame, false)

	case changed && !active:
		s.emit(frame, true)
		s.logger.WithFields(logrus.Fields{
			"segment_id": s.segmentID,
			"frames":     s.seq,
		}).Debug("Speech ended")
		s.notify(messages.SpeechEnd{})
		s.segmentID = ""
		s.remember(frame)

	case active:
		s.emit(frame, false)

	default:
		s.remember(frame)
	}
}

// remember keeps the last preroll frames of silence so a segment includes
// the audio just before speech was detected
func (s *Stage) remember(frame messages.AudioFrame) {
	if s.preroll <= 0 {
		return
	}
	if len(s.history) == s.preroll {
		copy(s.history, s.history[1:])
		s.history = s.history[:s.preroll-1]
	}
	s.history = append(s.history, frame)
}

func (s *Stage) emit(frame messages.AudioFrame, final bool) {
	out := messages.AudioFrame{
		SegmentID:  s.segmentID,
		Seq:        s.seq,
		SampleRate: frame.SampleRate,
		PCM:        frame.PCM,
		Final:      final,
	}
	s.seq++
	for _, o := range s.outputs {
		o.Send(out)
	}
}

func (s *Stage) notify(cmd messages.Command) {
	if s.commands == nil {
		return
	}
	s.commands.Send(messages.NewEnvelope(cmd, messages.StageVAD, messages.StageHub))
}

// InSegment reports whether a speech segment is open
func (s *Stage) InSegment() bool {
	return s.segmentID != ""
}

// Flush drops pending frames and abandons the open segment
func (s *Stage) Flush() {
	dropped := s.input.Drain()
	s.detector.Reset()
	s.history = s.history[:0]
	s.segmentID = ""
	s.seq = 0
	s.logger.WithField("dropped_frames", dropped).Debug("VAD flushed")
}

// HandleCommand implements worker.Stage. The VAD takes no commands besides
// stop and flush.
func (s *Stage) HandleCommand(cmd messages.Command) error {
	return errors.NewUnknownCommand(cmd.Name())
}
