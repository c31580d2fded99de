// Package channel provides the polling conduit used between the hub and its
// stages. A pipe has two endpoints; whatever one endpoint sends the other
// receives, in send order. No operation ever blocks.
package channel

import "sync"

type queue[T any] struct {
	mu    sync.Mutex
	items []T
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return v, true
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue[T]) drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Endpoint is one side of a pipe
type Endpoint[T any] struct {
	in  *queue[T]
	out *queue[T]
}

// Pipe returns the two connected endpoints of a new bidirectional channel
func Pipe[T any]() (*Endpoint[T], *Endpoint[T]) {
	ab := &queue[T]{}
	ba := &queue[T]{}
	return &Endpoint[T]{in: ba, out: ab}, &Endpoint[T]{in: ab, out: ba}
}

// Send enqueues msg for the peer endpoint
func (e *Endpoint[T]) Send(msg T) {
	e.out.push(msg)
}

// Poll reports whether at least one message is waiting
func (e *Endpoint[T]) Poll() bool {
	return e.in.len() > 0
}

// Receive removes and returns the oldest waiting message. ok is false when
// nothing is pending.
func (e *Endpoint[T]) Receive() (msg T, ok bool) {
	return e.in.pop()
}

// Pending returns the number of waiting messages
func (e *Endpoint[T]) Pending() int {
	return e.in.len()
}

// Drain discards every waiting message and returns how many were dropped
func (e *Endpoint[T]) Drain() int {
	return e.in.drain()
}
