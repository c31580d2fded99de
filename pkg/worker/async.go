package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"translate-hub/pkg/errors"
)

// Async runs a stage's blocking backend calls on one background goroutine so
// the stage tick keeps serving commands. Reset discards queued jobs, cancels
// the job in flight and drops every result produced before it.
type Async[J, R any] struct {
	name string
	fn   func(ctx context.Context, job J) R

	jobs    chan asyncJob[J]
	results chan asyncResult[R]

	generation atomic.Uint64
	inFlight   atomic.Int32

	mu        sync.Mutex
	genCtx    context.Context
	genCancel context.CancelFunc
	fault     error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type asyncJob[J any] struct {
	gen uint64
	ctx context.Context
	job J
}

type asyncResult[R any] struct {
	gen   uint64
	value R
}

// NewAsync starts the background goroutine. queue bounds both pending jobs
// and undelivered results.
func NewAsync[J, R any](name string, queue int, fn func(ctx context.Context, job J) R) *Async[J, R] {
	if queue <= 0 {
		queue = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Async[J, R]{
		name:    name,
		fn:      fn,
		jobs:    make(chan asyncJob[J], queue),
		results: make(chan asyncResult[R], queue),
		ctx:     ctx,
		cancel:  cancel,
	}
	a.genCtx, a.genCancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go a.loop()
	return a
}

// Submit queues job without blocking. It returns false when the queue is full.
func (a *Async[J, R]) Submit(job J) bool {
	a.mu.Lock()
	j := asyncJob[J]{gen: a.generation.Load(), ctx: a.genCtx, job: job}
	a.mu.Unlock()

	select {
	case a.jobs <- j:
		return true
	default:
		return false
	}
}

// Poll returns the next result of the current generation, if any
func (a *Async[J, R]) Poll() (R, bool) {
	for {
		select {
		case r := <-a.results:
			if r.gen != a.generation.Load() {
				continue
			}
			return r.value, true
		default:
			var zero R
			return zero, false
		}
	}
}

// Pending returns the number of queued and running jobs
func (a *Async[J, R]) Pending() int {
	return len(a.jobs) + int(a.inFlight.Load())
}

// Reset abandons all queued and running work
func (a *Async[J, R]) Reset() {
	a.mu.Lock()
	a.generation.Add(1)
	a.genCancel()
	a.genCtx, a.genCancel = context.WithCancel(a.ctx)
	a.mu.Unlock()

	for {
		select {
		case <-a.jobs:
		case <-a.results:
		default:
			return
		}
	}
}

// Err returns the fault raised by a panicking job, if any
func (a *Async[J, R]) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fault
}

// Close stops the background goroutine and waits for it
func (a *Async[J, R]) Close() error {
	a.cancel()
	a.wg.Wait()
	return nil
}

func (a *Async[J, R]) loop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case j := <-a.jobs:
			if j.gen != a.generation.Load() {
				continue
			}
			a.inFlight.Add(1)
			value, ok := a.run(j)
			a.inFlight.Add(-1)
			if !ok {
				return
			}
			select {
			case a.results <- asyncResult[R]{gen: j.gen, value: value}:
			case <-a.ctx.Done():
				return
			}
		}
	}
}

func (a *Async[J, R]) run(j asyncJob[J]) (value R, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.mu.Lock()
			a.fault = &errors.StageFaultError{
				Stage: a.name,
				Panic: r,
				Stack: string(debug.Stack()),
				Err:   fmt.Errorf("background job panicked: %v", r),
			}
			a.mu.Unlock()
			ok = false
		}
	}()
	return a.fn(j.ctx, j.job), true
}
