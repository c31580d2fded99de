package stt

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/channel"
	"translate-hub/pkg/errors"
	"translate-hub/pkg/messages"
	"translate-hub/pkg/metrics"
	"translate-hub/pkg/worker"
)

const (
	maxFramesPerTick = 50
	maxOpenSegments  = 8
	jobQueue         = 16
)

type recognition struct {
	segmentID  string
	candidates []messages.Candidate
	err        error
	elapsed    time.Duration
}

// Stage is a recognizer stage. Frames are buffered per segment until the
// final frame arrives; the segment is then recognized in the background and
// its hypothesis sent to the hub.
type Stage struct {
	name       string
	logger     *logrus.Entry
	recognizer Recognizer

	input    *channel.Endpoint[messages.AudioFrame]
	output   *channel.Endpoint[messages.Hypothesis]
	commands worker.CommandEndpoint

	open  map[string]*Segment
	order []string
	async *worker.Async[Segment, recognition]
}

// NewStage creates a recognizer stage named name (ASR or ASR2)
func NewStage(logger *logrus.Logger, name string, recognizer Recognizer, commands worker.CommandEndpoint, input *channel.Endpoint[messages.AudioFrame], output *channel.Endpoint[messages.Hypothesis]) *Stage {
	s := &Stage{
		name:       name,
		logger:     logger.WithFields(logrus.Fields{"component": "stt", "stage": name, "backend": recognizer.Name()}),
		recognizer: recognizer,
		input:      input,
		output:     output,
		commands:   commands,
		open:       make(map[string]*Segment),
	}
	s.async = worker.NewAsync(name, jobQueue, s.recognize)
	return s
}

// Name implements worker.Stage
func (s *Stage) Name() string {
	return s.name
}

// Work collects frames and publishes finished recognitions
func (s *Stage) Work(ctx context.Context) error {
	if err := s.async.Err(); err != nil {
		return err
	}

	for i := 0; i < maxFramesPerTick; i++ {
		frame, ok := s.input.Receive()
		if !ok {
			break
		}
		s.collect(frame)
	}

	for {
		res, ok := s.async.Poll()
		if !ok {
			return nil
		}
		s.publish(res)
	}
}

func (s *Stage) collect(frame messages.AudioFrame) {
	if frame.SegmentID == "" {
		return
	}

	seg, ok := s.open[frame.SegmentID]
	if !ok {
		if len(s.order) == maxOpenSegments {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.open, oldest)
			s.logger.WithField("segment_id", oldest).Warn("Dropping unfinished segment")
		}
		seg = &Segment{ID: frame.SegmentID, SampleRate: frame.SampleRate}
		s.open[frame.SegmentID] = seg
		s.order = append(s.order, frame.SegmentID)
	}
	seg.PCM = append(seg.PCM, frame.PCM...)

	if !frame.Final {
		return
	}
	s.close(frame.SegmentID)

	if !s.async.Submit(*seg) {
		s.logger.WithField("segment_id", seg.ID).Warn("Recognizer queue full")
		metrics.RecordBackendError(s.name, s.recognizer.Name())
		s.output.Send(messages.OtherHypothesis(seg.ID, s.name))
	}
}

func (s *Stage) close(segmentID string) {
	delete(s.open, segmentID)
	for i, id := range s.order {
		if id == segmentID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Stage) recognize(ctx context.Context, seg Segment) recognition {
	done := metrics.ObserveBackendLatency(s.name, s.recognizer.Name())
	defer done()

	start := time.Now()
	candidates, err := s.recognizer.Recognize(ctx, seg)
	return recognition{
		segmentID:  seg.ID,
		candidates: candidates,
		err:        err,
		elapsed:    time.Since(start),
	}
}

func (s *Stage) publish(res recognition) {
	fields := logrus.Fields{
		"segment_id": res.segmentID,
		"elapsed":    res.elapsed,
	}

	var hyp messages.Hypothesis
	switch {
	case res.err != nil:
		s.logger.WithFields(fields).WithError(res.err).Warn("Recognition failed")
		metrics.RecordBackendError(s.name, s.recognizer.Name())
		hyp = messages.OtherHypothesis(res.segmentID, s.name)
	case len(res.candidates) == 0:
		hyp = messages.OtherHypothesis(res.segmentID, s.name)
	default:
		hyp = messages.Hypothesis{
			SegmentID: res.segmentID,
			Source:    s.name,
			NBest:     res.candidates,
		}
	}

	s.logger.WithFields(fields).WithField("text", hyp.Best()).Debug("Hypothesis ready")
	s.output.Send(hyp)
	if s.commands != nil {
		s.commands.Send(messages.NewEnvelope(messages.Recognized{Fname: res.segmentID}, s.name, messages.StageHub))
	}
}

// Flush drops buffered frames and abandons running recognitions
func (s *Stage) Flush() {
	dropped := s.input.Drain()
	s.open = make(map[string]*Segment)
	s.order = s.order[:0]
	s.async.Reset()
	s.logger.WithField("dropped_frames", dropped).Debug("Recognizer flushed")
}

// HandleCommand implements worker.Stage
func (s *Stage) HandleCommand(cmd messages.Command) error {
	return errors.NewUnknownCommand(cmd.Name())
}

// Close stops the background recognizer
func (s *Stage) Close() error {
	err := s.async.Close()
	if closer, ok := s.recognizer.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
