package worker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownResource is a process resource released after the stages stop
type ShutdownResource struct {
	Name     string
	Shutdown func(context.Context) error
	Priority int // Lower numbers shut down first
}

// GracefulShutdown releases registered resources in priority order
type GracefulShutdown struct {
	resources []ShutdownResource
	mu        sync.Mutex
	logger    *logrus.Logger
	timeout   time.Duration
}

// NewGracefulShutdown creates a new graceful shutdown manager
func NewGracefulShutdown(logger *logrus.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GracefulShutdown{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a resource to be shut down
func (gs *GracefulShutdown) Register(resource ShutdownResource) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	inserted := false
	for i, r := range gs.resources {
		if resource.Priority < r.Priority {
			gs.resources = append(gs.resources[:i], append([]ShutdownResource{resource}, gs.resources[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		gs.resources = append(gs.resources, resource)
	}

	gs.logger.WithFields(logrus.Fields{
		"resource": resource.Name,
		"priority": resource.Priority,
	}).Debug("Registered resource for graceful shutdown")
}

// RegisterCloser registers an io.Closer for shutdown
func (gs *GracefulShutdown) RegisterCloser(name string, closer io.Closer, priority int) {
	gs.Register(ShutdownResource{
		Name:     name,
		Priority: priority,
		Shutdown: func(ctx context.Context) error {
			return closer.Close()
		},
	})
}

// Shutdown releases every resource sequentially in priority order. Each
// resource gets the remaining share of the overall timeout.
func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	resources := make([]ShutdownResource, len(gs.resources))
	copy(resources, gs.resources)
	gs.mu.Unlock()

	gs.logger.WithField("resource_count", len(resources)).Info("Starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	var failed []string
	for _, res := range resources {
		if err := gs.shutdownOne(shutdownCtx, res); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", res.Name, err))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("shutdown errors: %s", strings.Join(failed, "; "))
	}
	gs.logger.Info("Graceful shutdown completed successfully")
	return nil
}

func (gs *GracefulShutdown) shutdownOne(ctx context.Context, res ShutdownResource) (err error) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- res.Shutdown(ctx)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		gs.logger.WithError(err).WithField("resource", res.Name).Error("Error shutting down resource")
	} else {
		gs.logger.WithField("resource", res.Name).Debug("Resource shut down successfully")
	}
	return err
}
