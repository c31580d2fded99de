package worker

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Supervisor starts every stage in its own goroutine and waits for all of
// them. The first stage fault cancels the rest.
type Supervisor struct {
	logger  *logrus.Logger
	signal  *Signal
	runners []*Runner
	group   *errgroup.Group
}

// NewSupervisor creates a supervisor sharing signal with its stages
func NewSupervisor(logger *logrus.Logger, signal *Signal) *Supervisor {
	return &Supervisor{
		logger: logger,
		signal: signal,
	}
}

// Add registers stage with its command endpoint. Must be called before Start.
func (s *Supervisor) Add(stage Stage, commands CommandEndpoint, opts ...Option) *Runner {
	r := NewRunner(s.logger, stage, commands, s.signal, opts...)
	s.runners = append(s.runners, r)
	return r
}

// Stages returns the number of registered stages
func (s *Supervisor) Stages() int {
	return len(s.runners)
}

// Start launches all registered stages
func (s *Supervisor) Start(ctx context.Context) {
	group, gctx := errgroup.WithContext(ctx)
	s.group = group

	for _, r := range s.runners {
		r := r
		group.Go(func() error {
			return r.Run(gctx)
		})
	}

	s.logger.WithField("stages", len(s.runners)).Info("Stages started")
}

// Wait blocks until every stage has returned and reports the first fault
func (s *Supervisor) Wait() error {
	if s.group == nil {
		return nil
	}
	err := s.group.Wait()
	if err != nil {
		s.logger.WithError(err).Error("Pipeline stopped after stage fault")
		return err
	}
	s.logger.Info("All stages stopped")
	return nil
}
