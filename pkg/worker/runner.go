// Package worker runs processing stages as independent goroutines with a
// shared tick protocol: check shutdown, drain commands, do one unit of work,
// sleep.
package worker

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/channel"
	"translate-hub/pkg/errors"
	"translate-hub/pkg/messages"
	"translate-hub/pkg/metrics"
)

const (
	// DefaultQuantum is the sleep between two ticks
	DefaultQuantum = 10 * time.Millisecond

	// DefaultSlowTick is the work duration above which a tick is reported
	DefaultSlowTick = 200 * time.Millisecond
)

// Stage is one processing unit driven by a Runner
type Stage interface {
	// Name identifies the stage in commands, logs and metrics
	Name() string

	// Work performs at most one unit of work. A returned error is fatal for
	// the whole pipeline; backend failures belong in the data stream.
	Work(ctx context.Context) error

	// Flush drops all buffered input and abandons in-flight work. Calling it
	// twice must leave the stage as calling it once does.
	Flush()

	// HandleCommand receives every command other than stop and flush.
	// Unsupported commands return an ErrUnknownCommand error.
	HandleCommand(cmd messages.Command) error
}

// CommandEndpoint is the stage side of a command channel
type CommandEndpoint = *channel.Endpoint[messages.Envelope]

// Runner drives one stage
type Runner struct {
	stage    Stage
	commands CommandEndpoint
	signal   *Signal
	logger   *logrus.Entry
	panics   *PanicHandler
	quantum  time.Duration
	slowTick time.Duration
}

// Option configures a Runner
type Option func(*Runner)

// WithQuantum overrides the per-tick sleep
func WithQuantum(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.quantum = d
		}
	}
}

// WithSlowTick overrides the slow tick threshold
func WithSlowTick(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.slowTick = d
		}
	}
}

// NewRunner creates a runner for stage reading commands from commands
func NewRunner(logger *logrus.Logger, stage Stage, commands CommandEndpoint, signal *Signal, opts ...Option) *Runner {
	r := &Runner{
		stage:    stage,
		commands: commands,
		signal:   signal,
		logger:   logger.WithField("stage", stage.Name()),
		panics:   NewPanicHandler(logger),
		quantum:  DefaultQuantum,
		slowTick: DefaultSlowTick,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run ticks until stop is received, the signal is set, or ctx is done. A
// fault in the stage sets the signal and is returned.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Stage started")
	defer r.close()

	timer := time.NewTimer(r.quantum)
	defer timer.Stop()

	for {
		if r.signal.IsSet() || ctx.Err() != nil {
			r.logger.Debug("Shutdown signal observed")
			return nil
		}

		if stop := r.handleCommands(); stop {
			r.logger.Info("Stage stopped")
			return nil
		}

		start := time.Now()
		err := r.panics.Guard(r.stage.Name(), func() error {
			return r.stage.Work(ctx)
		})
		if err != nil {
			return r.fault(err)
		}
		if elapsed := time.Since(start); elapsed > r.slowTick {
			metrics.RecordSlowTick(r.stage.Name())
			r.logger.WithField("elapsed", elapsed).Warn("Stage tick exceeded slow threshold")
		}

		timer.Reset(r.quantum)
		select {
		case <-ctx.Done():
			return nil
		case <-r.signal.Context().Done():
			return nil
		case <-timer.C:
		}
	}
}

// Tick runs a single tick synchronously. It reports whether the stage
// stopped. Used by tests and by callers that drive stages themselves.
func (r *Runner) Tick(ctx context.Context) (stopped bool, err error) {
	if r.signal.IsSet() {
		return true, nil
	}
	if r.handleCommands() {
		return true, nil
	}
	err = r.panics.Guard(r.stage.Name(), func() error {
		return r.stage.Work(ctx)
	})
	if err != nil {
		return true, r.fault(err)
	}
	return false, nil
}

func (r *Runner) handleCommands() bool {
	for {
		env, ok := r.commands.Receive()
		if !ok {
			return false
		}

		switch cmd := env.Command.(type) {
		case messages.Stop:
			return true
		case messages.Flush:
			r.stage.Flush()
			metrics.RecordStageFlush(r.stage.Name())
			r.commands.Send(messages.NewEnvelope(messages.Flushed{}, r.stage.Name(), env.Origin))
		default:
			if err := r.stage.HandleCommand(cmd); err != nil {
				r.logger.WithError(err).WithField("command", messages.Format(cmd)).Warn("Command ignored")
			}
		}
	}
}

func (r *Runner) fault(err error) error {
	var fault *errors.StageFaultError
	if !errors.As(err, &fault) {
		fault = &errors.StageFaultError{Stage: r.stage.Name(), Err: err}
	}
	metrics.RecordStageFault(r.stage.Name())
	r.logger.WithError(fault).WithFields(logrus.Fields{
		"panic_value": fault.Panic,
	}).Error("Stage fault, shutting down pipeline")
	r.signal.Trigger(fault)
	return fault
}

func (r *Runner) close() {
	closer, ok := r.stage.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		r.logger.WithError(err).Warn("Error closing stage")
	}
}
