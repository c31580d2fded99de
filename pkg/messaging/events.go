package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"translate-hub/pkg/metrics"
	"translate-hub/pkg/sessionlog"
)

// ErrQueueFull is returned when an event cannot be queued for publishing
var ErrQueueFull = errors.New("session event queue full")

// ErrClosed is returned for events published after Close
var ErrClosed = errors.New("session event publisher closed")

const (
	defaultQueueSize = 256
	publishTimeout   = 2 * time.Second
)

// Publisher sends one message body to the broker
type Publisher interface {
	Publish(ctx context.Context, body []byte, headers amqp.Table) error
}

// EventPublisher is a sessionlog.Sink that ships events to the broker from
// its own goroutine so the hub never waits on the network
type EventPublisher struct {
	logger *logrus.Entry
	pub    Publisher
	queue  string

	mu     sync.RWMutex
	events chan sessionlog.Event
	closed bool
	done   chan struct{}
}

// NewEventPublisher starts publishing through pub. queue labels metrics.
func NewEventPublisher(logger *logrus.Logger, pub Publisher, queue string, size int) *EventPublisher {
	if size <= 0 {
		size = defaultQueueSize
	}
	p := &EventPublisher{
		logger: logger.WithField("component", "session_events"),
		pub:    pub,
		queue:  queue,
		events: make(chan sessionlog.Event, size),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish implements sessionlog.Sink. It never blocks.
func (p *EventPublisher) Publish(event sessionlog.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	select {
	case p.events <- event:
		return nil
	default:
		metrics.RecordAMQPPublish(p.queue, "dropped")
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until the queued ones are sent or
// ctx is done
func (p *EventPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *EventPublisher) run() {
	defer close(p.done)
	for event := range p.events {
		p.send(event)
	}
}

func (p *EventPublisher) send(event sessionlog.Event) {
	body, err := json.Marshal(event)
	if err != nil {
		metrics.RecordAMQPPublish(p.queue, "error")
		p.logger.WithError(err).WithField("type", event.Type).Warn("Failed to encode session event")
		return
	}

	headers := amqp.Table{"x-event-type": event.Type}
	if event.SessionID != "" {
		headers["x-session-id"] = event.SessionID
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.pub.Publish(ctx, body, headers); err != nil {
		metrics.RecordAMQPPublish(p.queue, "error")
		p.logger.WithError(err).WithFields(logrus.Fields{
			"type":       event.Type,
			"session_id": event.SessionID,
		}).Warn("Failed to publish session event")
		return
	}
	metrics.RecordAMQPPublish(p.queue, "success")
}
