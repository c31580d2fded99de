// Package hub is the central event loop of the translation pipeline. It
// polls every stage channel once per tick in a fixed order, drives the call
// lifecycle, and decides what the synthesizers say.
package hub

import (
	"context"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/asr"
	"translate-hub/pkg/callhistory"
	"translate-hub/pkg/channel"
	"translate-hub/pkg/config"
	"translate-hub/pkg/errors"
	"translate-hub/pkg/messages"
	"translate-hub/pkg/metrics"
	"translate-hub/pkg/sessionlog"
	"translate-hub/pkg/worker"
)

// Links holds the hub side of every stage channel. Recognizer links may be
// nil when that recognizer is not configured.
type Links struct {
	Telephony worker.CommandEndpoint
	Play      *channel.Endpoint[messages.Utterance]

	VAD worker.CommandEndpoint

	ASR      worker.CommandEndpoint
	ASRHyps  *channel.Endpoint[messages.Hypothesis]
	ASR2     worker.CommandEndpoint
	ASR2Hyps *channel.Endpoint[messages.Hypothesis]

	MT     worker.CommandEndpoint
	MTData *channel.Endpoint[messages.Hypothesis]

	TTS      worker.CommandEndpoint
	TTSAudio *channel.Endpoint[messages.Utterance]

	SrcTTS      worker.CommandEndpoint
	SrcTTSAudio *channel.Endpoint[messages.Utterance]
}

// Recognizers returns how many recognizers deliver hypotheses
func (l Links) Recognizers() int {
	n := 0
	if l.ASRHyps != nil {
		n++
	}
	if l.ASR2Hyps != nil {
		n++
	}
	return n
}

type commandLink struct {
	stage    string
	endpoint worker.CommandEndpoint
}

// commandLinks lists the command channels in broadcast order
func (l Links) commandLinks() []commandLink {
	all := []commandLink{
		{messages.StageTelephony, l.Telephony},
		{messages.StageVAD, l.VAD},
		{messages.StageASR, l.ASR},
		{messages.StageASR2, l.ASR2},
		{messages.StageMT, l.MT},
		{messages.StageTTS, l.TTS},
		{messages.StageSrcTTS, l.SrcTTS},
	}
	links := all[:0]
	for _, c := range all {
		if c.endpoint != nil {
			links = append(links, c)
		}
	}
	return links
}

// SessionLogger records the events of one call
type SessionLogger interface {
	Start(remoteURI string, snapshot interface{}) string
	End()
	Record(kind string, data map[string]interface{})
}

type callbackSub struct {
	pattern     *regexp.Regexp
	replacement string
}

// Hub owns the call lifecycle. All of its state, including the call history
// store, is touched only from the goroutine running Run.
type Hub struct {
	logger   *logrus.Entry
	cfg      config.TranslateHubConfig
	snapshot interface{}
	quantum  time.Duration
	maxCalls int

	links    Links
	store    *callhistory.Store
	policy   callhistory.Policy
	resolver *asr.Resolver
	session  SessionLogger
	signal   *worker.Signal
	now      func() time.Time
	subs     []callbackSub

	state       State
	call        CallSession
	callback    *CallbackRequest
	introID     int
	callsServed int
}

// Option configures a Hub
type Option func(*Hub)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

// WithSessionLogger replaces the default log-only session logger
func WithSessionLogger(session SessionLogger) Option {
	return func(h *Hub) {
		h.session = session
	}
}

// WithMaxCalls overrides the served-call quota; 0 means unbounded
func WithMaxCalls(n int) Option {
	return func(h *Hub) {
		h.maxCalls = n
	}
}

// New creates a hub over links. cfg is kept as the configuration snapshot
// attached to every session.
func New(logger *logrus.Logger, cfg *config.Config, links Links, store *callhistory.Store, signal *worker.Signal, opts ...Option) (*Hub, error) {
	th := cfg.TranslateHub

	subs := make([]callbackSub, 0, len(th.CallBackURISubs))
	for _, sub := range th.CallBackURISubs {
		re, err := regexp.Compile(sub.Pattern)
		if err != nil {
			return nil, errors.NewInvalidConfig("call_back_uri_subs", err.Error()).WithField("pattern", sub.Pattern)
		}
		subs = append(subs, callbackSub{pattern: re, replacement: sub.Replacement})
	}

	h := &Hub{
		logger:   logger.WithField("component", "hub"),
		cfg:      th,
		snapshot: cfg,
		quantum:  cfg.Hub.MainLoopSleep,
		maxCalls: cfg.Hub.MaxCalls,
		links:    links,
		store:    store,
		policy: callhistory.Policy{
			MaxCalls24h:  th.Last24MaxNumCalls,
			MaxTime24h:   th.Last24MaxTotalTime,
			BlacklistFor: th.BlacklistFor,
		},
		resolver: asr.NewResolver(links.Recognizers(), th.PendingSegmentTTL),
		session:  sessionlog.NewRecorder(logger, sessionlog.NewLogSink(logger)),
		signal:   signal,
		now:      time.Now,
		subs:     subs,
	}
	if h.quantum <= 0 {
		h.quantum = worker.DefaultQuantum
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// State returns the current lifecycle state
func (h *Hub) State() State {
	return h.state
}

// Session returns a copy of the current call session
func (h *Hub) Session() CallSession {
	return h.call
}

// PendingCallback returns the scheduled call-back, nil when none
func (h *Hub) PendingCallback() *CallbackRequest {
	if h.callback == nil {
		return nil
	}
	cb := *h.callback
	return &cb
}

// CallsServed returns the number of disconnected calls since start
func (h *Hub) CallsServed() int {
	return h.callsServed
}

// Run sweeps the call history, then ticks until the call quota is reached
// or shutdown is requested. On exit every stage is told to stop, hub-side
// channels are drained and the shutdown signal is set.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.WithFields(logrus.Fields{
		"max_calls":   h.maxCalls,
		"recognizers": h.links.Recognizers(),
		"quantum":     h.quantum,
	}).Info("Translate hub starting")

	h.SweepBlacklist(ctx)
	h.setState(Idle)

	timer := time.NewTimer(h.quantum)
	defer timer.Stop()

	for {
		if h.signal.IsSet() || ctx.Err() != nil {
			h.logger.Info("Shutdown requested")
			break
		}
		if done := h.Tick(ctx); done {
			h.logger.WithField("calls_served", h.callsServed).Info("Call quota reached")
			break
		}

		timer.Reset(h.quantum)
		select {
		case <-ctx.Done():
		case <-h.signal.Context().Done():
		case <-timer.C:
		}
	}

	h.Shutdown()
	return nil
}

// Tick runs one iteration of the event loop. It reports true when the
// served-call quota is reached and no call is in progress.
func (h *Hub) Tick(ctx context.Context) bool {
	metrics.RecordHubTick()

	h.pollTranslations()
	h.pollAudio(h.links.TTSAudio, messages.StageTTS)
	h.pollAudio(h.links.SrcTTSAudio, messages.StageSrcTTS)
	h.pollCallback()
	h.pollTelephony(ctx)
	h.pollVAD()
	h.pollHypotheses(h.links.ASRHyps, asr.Primary)
	h.pollHypotheses(h.links.ASR2Hyps, asr.Secondary)
	h.pollCommands(h.links.ASR, messages.StageASR)
	h.pollCommands(h.links.ASR2, messages.StageASR2)
	h.pollCommands(h.links.MT, messages.StageMT)
	h.pollCommands(h.links.TTS, messages.StageTTS)
	h.pollCommands(h.links.SrcTTS, messages.StageSrcTTS)
	h.evictPending()
	h.checkLifecycle()

	return h.maxCalls != 0 && !h.state.InCall() && h.callsServed >= h.maxCalls
}

// Shutdown broadcasts stop to every stage, drains hub-side channels and
// sets the shutdown signal
func (h *Hub) Shutdown() {
	for _, c := range h.links.commandLinks() {
		h.send(c.endpoint, c.stage, messages.Stop{})
	}

	drained := 0
	for _, c := range h.links.commandLinks() {
		drained += c.endpoint.Drain()
	}
	for _, ep := range []*channel.Endpoint[messages.Utterance]{h.links.Play, h.links.TTSAudio, h.links.SrcTTSAudio} {
		if ep != nil {
			drained += ep.Drain()
		}
	}
	for _, ep := range []*channel.Endpoint[messages.Hypothesis]{h.links.ASRHyps, h.links.ASR2Hyps, h.links.MTData} {
		if ep != nil {
			drained += ep.Drain()
		}
	}

	h.session.End()
	h.logger.WithField("drained", drained).Info("Hub stopped, setting shutdown signal")
	h.signal.Trigger(nil)
}

func (h *Hub) send(endpoint worker.CommandEndpoint, stage string, cmd messages.Command) {
	if endpoint == nil {
		return
	}
	endpoint.Send(messages.NewEnvelope(cmd, messages.StageHub, stage))
}

// flushAll asks every stage to drop buffered input
func (h *Hub) flushAll() {
	for _, c := range h.links.commandLinks() {
		h.send(c.endpoint, c.stage, messages.Flush{})
	}
	h.resolver.Reset()
}

func (h *Hub) setState(s State) {
	if s != h.state {
		h.logger.WithFields(logrus.Fields{
			"from": h.state.String(),
			"to":   s.String(),
		}).Debug("Call state changed")
	}
	h.state = s
	metrics.SetCallState(s.String(), stateNames)
}

func (h *Hub) pollAudio(endpoint *channel.Endpoint[messages.Utterance], stage string) {
	if endpoint == nil {
		return
	}
	utt, ok := endpoint.Receive()
	if !ok {
		return
	}
	if h.links.Play == nil {
		return
	}
	h.logger.WithFields(logrus.Fields{
		"stage":    stage,
		"user_id":  utt.UserID,
		"duration": utt.Duration(),
	}).Debug("Forwarding synthesized audio to telephony")
	h.links.Play.Send(utt)
}

func (h *Hub) pollCommands(endpoint worker.CommandEndpoint, stage string) {
	if endpoint == nil {
		return
	}
	env, ok := endpoint.Receive()
	if !ok {
		return
	}
	h.logger.WithFields(logrus.Fields{
		"stage":   stage,
		"command": messages.Format(env.Command),
	}).Debug("Stage command")
}
