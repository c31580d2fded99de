// Package sessionlog records per-call session events and fans them out to
// any number of sinks (log output, message bus, live monitor).
package sessionlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event types
const (
	EventSessionStart = "session_start"
	EventSessionEnd   = "session_end"
	EventCall         = "call"
	EventRecognized   = "asr"
	EventTranslated   = "translation"
	EventSynthesize   = "synthesize"
	EventStats        = "stats"
)

// Event is one entry of a session log
type Event struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	RemoteURI string                 `json:"remote_uri,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Sink receives session events. Publish must not block the caller for long.
type Sink interface {
	Publish(event Event) error
}

// Recorder tracks the current session and forwards its events to sinks
type Recorder struct {
	logger *logrus.Logger
	sinks  []Sink
	now    func() time.Time

	mu        sync.Mutex
	sessionID string
	remoteURI string
	started   time.Time
}

// NewRecorder creates a recorder publishing to sinks
func NewRecorder(logger *logrus.Logger, sinks ...Sink) *Recorder {
	return &Recorder{
		logger: logger,
		sinks:  sinks,
		now:    time.Now,
	}
}

// AddSink attaches another sink
func (r *Recorder) AddSink(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
}

// SetClock replaces the time source
func (r *Recorder) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Start opens a new session for remoteURI. A session still open is ended
// first. snapshot is attached to the start event as the configuration in
// effect.
func (r *Recorder) Start(remoteURI string, snapshot interface{}) string {
	if r.Active() {
		r.End()
	}

	r.mu.Lock()
	r.sessionID = uuid.New().String()
	r.remoteURI = remoteURI
	r.started = r.now()
	id := r.sessionID
	r.mu.Unlock()

	data := map[string]interface{}{}
	if snapshot != nil {
		data["config"] = snapshot
	}
	r.publish(EventSessionStart, data)
	return id
}

// End closes the current session. It does nothing without one.
func (r *Recorder) End() {
	r.mu.Lock()
	if r.sessionID == "" {
		r.mu.Unlock()
		return
	}
	duration := r.now().Sub(r.started).Seconds()
	r.mu.Unlock()

	r.publish(EventSessionEnd, map[string]interface{}{"duration": duration})

	r.mu.Lock()
	r.sessionID = ""
	r.remoteURI = ""
	r.started = time.Time{}
	r.mu.Unlock()
}

// Record publishes one event in the current session, or outside any session
// when none is open
func (r *Recorder) Record(kind string, data map[string]interface{}) {
	r.publish(kind, data)
}

// Active reports whether a session is open
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID != ""
}

// SessionID returns the current session id, empty without a session
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Recorder) publish(kind string, data map[string]interface{}) {
	r.mu.Lock()
	event := Event{
		Type:      kind,
		SessionID: r.sessionID,
		RemoteURI: r.remoteURI,
		Timestamp: r.now(),
		Data:      data,
	}
	sinks := make([]Sink, len(r.sinks))
	copy(sinks, r.sinks)
	r.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Publish(event); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"event_type": kind,
				"session_id": event.SessionID,
			}).Warn("Failed to publish session event")
		}
	}
}

// LogSink writes session events to a logrus logger
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a sink logging every event at info level
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs event
func (s *LogSink) Publish(event Event) error {
	fields := logrus.Fields{
		"component":  "session",
		"event_type": event.Type,
	}
	if event.SessionID != "" {
		fields["session_id"] = event.SessionID
	}
	if event.RemoteURI != "" {
		fields["remote_uri"] = event.RemoteURI
	}
	for k, v := range event.Data {
		if k == "config" {
			continue
		}
		fields[k] = v
	}
	s.logger.WithFields(fields).Info("Session event")
	return nil
}
