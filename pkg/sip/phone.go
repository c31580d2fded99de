// Package sip is the telephony stage: it answers and places SIP calls, moves
// call audio between RTP and the pipeline, and reports call events to the
// hub.
package sip

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/channel"
	"translate-hub/pkg/config"
	"translate-hub/pkg/errors"
	"translate-hub/pkg/media"
	"translate-hub/pkg/messages"
	"translate-hub/pkg/metrics"
	"translate-hub/pkg/ratelimit"
	"translate-hub/pkg/worker"
)

const (
	maxFramesPerTick = 50
	byeTimeout       = 5 * time.Second
	dialTimeout      = 60 * time.Second
)

// Leg is one established SIP dialog
type Leg interface {
	Bye(ctx context.Context) error
}

// Dialog is the result of a successful outgoing INVITE
type Dialog struct {
	CallID string
	Answer []byte
	Leg    Leg
}

// Dialer places outgoing calls. Dial returns once the callee answered and
// the answer was acknowledged.
type Dialer interface {
	Dial(ctx context.Context, destination string, offer []byte) (Dialog, error)
}

// Decision is the reply to an incoming INVITE
type Decision struct {
	Status int
	Reason string
	Answer []byte
}

// Accepted reports whether the call is being answered
func (d Decision) Accepted() bool {
	return d.Status == 200
}

type call struct {
	callID    string
	remoteURI string
	outbound  bool
	confirmed bool
	leg       Leg
	media     *media.Session
	cancel    context.CancelFunc
}

// Phone is the telephony stage. SIP transactions arrive on sipgo goroutines;
// their effects are queued and reported to the hub from Work. It handles one
// call at a time.
type Phone struct {
	logger   *logrus.Entry
	cfg      config.SIPConfig
	limiter  *ratelimit.SIPLimiter
	commands worker.CommandEndpoint
	frames   *channel.Endpoint[messages.AudioFrame]
	play     *channel.Endpoint[messages.Utterance]
	dialer   Dialer

	newSession func() (*media.Session, error)
	mediaIP    string

	mu      sync.Mutex
	call    *call
	pending []messages.Command

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PhoneOption configures a Phone
type PhoneOption func(*Phone)

// WithSessionFactory replaces how RTP sessions are opened
func WithSessionFactory(fn func() (*media.Session, error)) PhoneOption {
	return func(p *Phone) {
		p.newSession = fn
	}
}

// WithMediaIP sets the address announced in SDP
func WithMediaIP(ip string) PhoneOption {
	return func(p *Phone) {
		p.mediaIP = ip
	}
}

// NewPhone creates the telephony stage. frames carries recorded audio to the
// VAD; play carries utterances from the hub.
func NewPhone(logger *logrus.Logger, cfg config.SIPConfig, limiter *ratelimit.SIPLimiter, commands worker.CommandEndpoint, frames *channel.Endpoint[messages.AudioFrame], play *channel.Endpoint[messages.Utterance], opts ...PhoneOption) *Phone {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Phone{
		logger:   logger.WithField("component", "telephony"),
		cfg:      cfg,
		limiter:  limiter,
		commands: commands,
		frames:   frames,
		play:     play,
		ctx:      ctx,
		cancel:   cancel,
	}
	ports := media.NewPortManager(cfg.RTPPortMin, cfg.RTPPortMax)
	p.newSession = func() (*media.Session, error) {
		return media.NewSession(logger, ports, cfg.Host)
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.mediaIP == "" {
		p.mediaIP = advertisedIP(cfg)
	}
	return p
}

// SetDialer sets how outgoing calls are placed
func (p *Phone) SetDialer(d Dialer) {
	p.dialer = d
}

// Name implements worker.Stage
func (p *Phone) Name() string {
	return messages.StageTelephony
}

// Offer decides an incoming INVITE. An accepted call has its RTP session
// running before the answer is sent.
func (p *Phone) Offer(callID, remoteURI, sourceIP string, body []byte) Decision {
	logger := p.logger.WithFields(logrus.Fields{
		"call_id":    callID,
		"remote_uri": remoteURI,
		"source_ip":  sourceIP,
	})

	switch p.limiter.Admit(sourceIP, remoteURI) {
	case ratelimit.Blacklisted:
		logger.Info("Rejecting call from blacklisted URI")
		p.report(messages.RejectedCallFromBlacklistedURI{RemoteURI: remoteURI})
		return Decision{Status: 403, Reason: "Forbidden"}
	case ratelimit.RateLimited:
		metrics.RecordRejectedCall("rate_limited")
		return Decision{Status: 503, Reason: "Service Unavailable"}
	}

	if p.cfg.RejectCalls {
		logger.Info("Declining call, calling back later")
		p.report(messages.RejectedCall{RemoteURI: remoteURI})
		return Decision{Status: 603, Reason: "Decline"}
	}

	remote, err := parseMedia(body)
	if err != nil {
		logger.WithError(err).Warn("Unusable SDP offer")
		return Decision{Status: 488, Reason: "Not Acceptable Here"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.call != nil {
		logger.WithField("active_call", p.call.remoteURI).Info("Busy, rejecting call")
		return Decision{Status: 486, Reason: "Busy Here"}
	}

	sess, err := p.newSession()
	if err != nil {
		logger.WithError(err).Error("Failed to open RTP session")
		return Decision{Status: 503, Reason: "Service Unavailable"}
	}
	answer, err := buildSDP(p.mediaIP, sess.LocalPort())
	if err != nil {
		sess.Close()
		logger.WithError(err).Error("Failed to build SDP answer")
		return Decision{Status: 500, Reason: "Server Internal Error"}
	}
	sess.SetRemote(remote)
	sess.Start()

	p.call = &call{callID: callID, remoteURI: remoteURI, media: sess}
	p.pending = append(p.pending,
		messages.IncomingCall{RemoteURI: remoteURI},
		messages.CallConnecting{RemoteURI: remoteURI},
	)
	logger.WithField("rtp_port", sess.LocalPort()).Info("Answering call")
	return Decision{Status: 200, Reason: "OK", Answer: answer}
}

// Answered attaches the dialog of an accepted call
func (p *Phone) Answered(callID string, leg Leg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.call != nil && p.call.callID == callID {
		p.call.leg = leg
	}
}

// Confirmed handles the ACK of an accepted call
func (p *Phone) Confirmed(callID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.call
	if c == nil || c.callID != callID || c.confirmed {
		return
	}
	c.confirmed = true
	p.pending = append(p.pending, messages.CallConfirmed{RemoteURI: c.remoteURI})
	p.logger.WithField("remote_uri", c.remoteURI).Info("Call confirmed")
}

// Ended handles a BYE or CANCEL from the peer, or an answer that could not
// be delivered. It reports whether callID was the active call.
func (p *Phone) Ended(callID string) bool {
	p.mu.Lock()
	c := p.call
	if c == nil || c.callID != callID {
		p.mu.Unlock()
		return false
	}
	p.call = nil
	p.pending = append(p.pending, messages.CallDisconnected{RemoteURI: c.remoteURI})
	p.mu.Unlock()

	p.release(c)
	p.logger.WithField("remote_uri", c.remoteURI).Info("Call ended by peer")
	return true
}

// Work reports queued call events, then moves one tick of audio
func (p *Phone) Work(ctx context.Context) error {
	p.mu.Lock()
	events := p.pending
	p.pending = nil
	var sess *media.Session
	if p.call != nil {
		sess = p.call.media
	}
	p.mu.Unlock()

	for _, cmd := range events {
		p.notify(cmd)
	}

	if sess == nil {
		p.discardPlayback()
		return nil
	}

	for i := 0; i < maxFramesPerTick; i++ {
		pcm, ok := sess.ReadFrame()
		if !ok {
			break
		}
		if p.frames != nil {
			p.frames.Send(messages.AudioFrame{SampleRate: media.SampleRate, PCM: pcm})
		}
	}

	if p.play != nil {
		for {
			utt, ok := p.play.Receive()
			if !ok {
				break
			}
			if !sess.Play(utt) {
				p.logger.WithField("user_id", utt.UserID).Warn("Playback queue full, skipping utterance")
				p.notify(messages.PlayUtteranceStart{UserID: utt.UserID})
				p.notify(messages.PlayUtteranceEnd{UserID: utt.UserID})
			}
		}
	}

	for {
		ev, ok := sess.PollEvent()
		if !ok {
			break
		}
		if ev.Finished {
			p.notify(messages.PlayUtteranceEnd{UserID: ev.UserID})
		} else {
			p.notify(messages.PlayUtteranceStart{UserID: ev.UserID})
		}
	}
	return nil
}

// discardPlayback completes utterances that arrive with no call up so the
// hub never waits for a playback end
func (p *Phone) discardPlayback() {
	if p.play == nil {
		return
	}
	for {
		utt, ok := p.play.Receive()
		if !ok {
			return
		}
		p.notify(messages.PlayUtteranceStart{UserID: utt.UserID})
		p.notify(messages.PlayUtteranceEnd{UserID: utt.UserID})
	}
}

// Flush stops playback and drops queued audio in both directions
func (p *Phone) Flush() {
	dropped := 0
	if p.play != nil {
		dropped = p.play.Drain()
	}

	p.mu.Lock()
	var sess *media.Session
	if p.call != nil {
		sess = p.call.media
	}
	p.mu.Unlock()

	if sess != nil {
		sess.StopPlayback()
		for {
			if _, ok := sess.ReadFrame(); !ok {
				break
			}
		}
	}
	p.logger.WithField("dropped_utterances", dropped).Debug("Telephony flushed")
}

// HandleCommand implements worker.Stage
func (p *Phone) HandleCommand(cmd messages.Command) error {
	switch c := cmd.(type) {
	case messages.MakeCall:
		p.makeCall(c.Destination)
	case messages.Hangup:
		p.hangup()
	case messages.BlackList:
		p.limiter.Blacklist(c.RemoteURI, c.Expire)
		p.logger.WithFields(logrus.Fields{
			"remote_uri": c.RemoteURI,
			"expire":     c.Expire,
		}).Info("Caller blacklisted")
	default:
		return errors.NewUnknownCommand(cmd.Name())
	}
	return nil
}

func (p *Phone) makeCall(destination string) {
	logger := p.logger.WithField("destination", destination)
	if destination == "" || p.dialer == nil {
		logger.Warn("Cannot place call")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.call != nil {
		logger.WithField("active_call", p.call.remoteURI).Warn("Busy, not placing call")
		return
	}

	sess, err := p.newSession()
	if err != nil {
		logger.WithError(err).Error("Failed to open RTP session")
		return
	}
	offer, err := buildSDP(p.mediaIP, sess.LocalPort())
	if err != nil {
		sess.Close()
		logger.WithError(err).Error("Failed to build SDP offer")
		return
	}
	sess.Start()

	ctx, cancel := context.WithTimeout(p.ctx, dialTimeout)
	c := &call{remoteURI: destination, outbound: true, media: sess, cancel: cancel}
	p.call = c
	p.pending = append(p.pending,
		messages.MakeCall{Destination: destination, RemoteURI: destination},
		messages.CallConnecting{RemoteURI: destination},
	)
	logger.Info("Dialing")

	p.wg.Add(1)
	go p.dial(ctx, c, offer)
}

func (p *Phone) dial(ctx context.Context, c *call, offer []byte) {
	defer p.wg.Done()
	defer c.cancel()

	dlg, err := p.dialer.Dial(ctx, c.remoteURI, offer)
	if err == nil {
		var remote *net.UDPAddr
		if remote, err = parseMedia(dlg.Answer); err == nil {
			c.media.SetRemote(remote)
		}
	}

	p.mu.Lock()
	if p.call != c {
		p.mu.Unlock()
		if err == nil {
			p.bye(dlg.Leg)
		}
		return
	}
	if err != nil {
		p.call = nil
		p.pending = append(p.pending, messages.CallDisconnected{RemoteURI: c.remoteURI})
		p.mu.Unlock()

		p.logger.WithError(err).WithField("destination", c.remoteURI).Warn("Outgoing call failed")
		c.media.Close()
		if dlg.Leg != nil {
			p.bye(dlg.Leg)
		}
		return
	}
	c.callID = dlg.CallID
	c.leg = dlg.Leg
	c.confirmed = true
	p.pending = append(p.pending, messages.CallConfirmed{RemoteURI: c.remoteURI})
	p.mu.Unlock()

	p.logger.WithField("destination", c.remoteURI).Info("Outgoing call answered")
}

func (p *Phone) hangup() {
	p.mu.Lock()
	c := p.call
	if c == nil {
		p.mu.Unlock()
		p.logger.Debug("Hangup with no active call")
		return
	}
	p.call = nil
	p.pending = append(p.pending, messages.CallDisconnected{RemoteURI: c.remoteURI})
	p.mu.Unlock()

	p.logger.WithField("remote_uri", c.remoteURI).Info("Hanging up")
	p.release(c)
	if c.leg != nil {
		p.bye(c.leg)
	}
}

func (p *Phone) release(c *call) {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.media.Close(); err != nil {
		p.logger.WithError(err).Debug("Closing RTP session")
	}
}

func (p *Phone) bye(leg Leg) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), byeTimeout)
		defer cancel()
		if err := leg.Bye(ctx); err != nil {
			p.logger.WithError(err).Warn("BYE failed")
		}
	}()
}

func (p *Phone) report(cmd messages.Command) {
	p.mu.Lock()
	p.pending = append(p.pending, cmd)
	p.mu.Unlock()
}

func (p *Phone) notify(cmd messages.Command) {
	if p.commands == nil {
		return
	}
	p.commands.Send(messages.NewEnvelope(cmd, messages.StageTelephony, messages.StageHub))
}

// Close hangs up the active call and waits for signalling to finish
func (p *Phone) Close() error {
	p.hangup()
	p.cancel()
	p.wg.Wait()
	return p.limiter.Close()
}

// advertisedIP picks the address put in SDP
func advertisedIP(cfg config.SIPConfig) string {
	if cfg.ExternalIP != "" && !strings.EqualFold(cfg.ExternalIP, "auto") {
		return cfg.ExternalIP
	}
	if ip := net.ParseIP(cfg.Host); ip != nil && !ip.IsUnspecified() {
		return cfg.Host
	}

	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
				if ipv4 := ipNet.IP.To4(); ipv4 != nil {
					return ipv4.String()
				}
			}
		}
	}
	return "127.0.0.1"
}
