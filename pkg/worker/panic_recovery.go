package worker

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/errors"
)

// PanicHandler turns panics inside stage work into stage faults
type PanicHandler struct {
	logger *logrus.Logger
}

// NewPanicHandler creates a new panic handler
func NewPanicHandler(logger *logrus.Logger) *PanicHandler {
	return &PanicHandler{
		logger: logger,
	}
}

// Guard runs fn and converts a panic into a *errors.StageFaultError
func (ph *PanicHandler) Guard(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())

			pc, file, line, ok := runtime.Caller(2)
			var caller string
			if ok {
				if f := runtime.FuncForPC(pc); f != nil {
					caller = fmt.Sprintf("%s:%d %s", file, line, f.Name())
				} else {
					caller = fmt.Sprintf("%s:%d", file, line)
				}
			}

			ph.logger.WithFields(logrus.Fields{
				"stage":       stage,
				"panic_value": r,
				"caller":      caller,
				"stack_trace": stack,
			}).Error("Panic recovered in stage")

			err = &errors.StageFaultError{Stage: stage, Panic: r, Stack: stack}
		}
	}()
	return fn()
}

// SafeGo starts fn in a goroutine, logging instead of crashing on panic
func (ph *PanicHandler) SafeGo(component string, fn func()) {
	go func() {
		_ = ph.Guard(component, func() error {
			fn()
			return nil
		})
	}()
}
