package hub

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/callhistory"
	"translate-hub/pkg/messages"
	"translate-hub/pkg/metrics"
	"translate-hub/pkg/sessionlog"
)

// SweepBlacklist logs the stats of every known identity and re-issues
// black_list for those over threshold
func (h *Hub) SweepBlacklist(ctx context.Context) {
	now := h.now()
	blacklisted := 0
	for _, identity := range h.store.Identities() {
		if ctx.Err() != nil {
			return
		}
		st := h.store.Stats(identity, now)
		verdict := "ok"
		if h.policy.Blacklisted(st) {
			verdict = "blacklisted"
			blacklisted++
			h.send(h.links.Telephony, messages.StageTelephony, messages.BlackList{
				RemoteURI: identity,
				Expire:    h.policy.Expiry(now),
			})
		}
		h.logger.WithFields(statsFields(identity, st)).WithField("verdict", verdict).Info("Call history")
	}
	h.logger.WithFields(logrus.Fields{
		"identities":  len(h.store.Identities()),
		"blacklisted": blacklisted,
	}).Info("Blacklist sweep finished")
}

func statsFields(identity string, st callhistory.Stats) logrus.Fields {
	return logrus.Fields{
		"remote_uri":        identity,
		"total_calls":       st.TotalCalls,
		"total_time":        st.TotalTime,
		"last24_calls":      st.Last24Calls,
		"last24_total_time": st.Last24Time,
	}
}

func (h *Hub) pollCallback() {
	now := h.now()
	if !h.callback.Due(now) {
		return
	}
	dest := h.callback.Destination
	h.callback = nil

	h.logger.WithField("destination", dest).Info("Calling back")
	metrics.RecordCallback()
	h.send(h.links.Telephony, messages.StageTelephony, messages.MakeCall{Destination: dest})
}

func (h *Hub) pollTelephony(ctx context.Context) {
	if h.links.Telephony == nil {
		return
	}
	env, ok := h.links.Telephony.Receive()
	if !ok {
		return
	}

	switch env.Command.(type) {
	case messages.IncomingCall, messages.MakeCall:
	default:
		h.recordCall(env)
	}

	switch cmd := env.Command.(type) {
	case messages.IncomingCall:
		h.startSession(cmd.RemoteURI, env)
	case messages.MakeCall:
		uri := cmd.RemoteURI
		if uri == "" {
			uri = cmd.Destination
		}
		h.startSession(uri, env)
	case messages.CallConnecting:
		h.logger.WithField("remote_uri", cmd.RemoteURI).Info("Call connecting")
	case messages.CallConfirmed:
		h.callConfirmed(ctx, cmd.RemoteURI)
	case messages.RejectedCall:
		h.rejectedCall(cmd.RemoteURI)
	case messages.RejectedCallFromBlacklistedURI:
		metrics.RecordRejectedCall("blacklisted_uri")
		st := h.store.Stats(cmd.RemoteURI, h.now())
		h.logger.WithFields(statsFields(cmd.RemoteURI, st)).Info("Rejected incoming call from blacklisted URI")
	case messages.CallDisconnected:
		h.callDisconnected(ctx, cmd.RemoteURI)
	case messages.PlayUtteranceStart:
		h.call.SourceVoice = true
	case messages.PlayUtteranceEnd:
		h.playUtteranceEnd(cmd.UserID)
	case messages.Flushed:
		h.logger.Debug("Telephony flushed")
	default:
		h.logger.WithField("command", messages.Format(env.Command)).Warn("Ignoring unexpected telephony command")
	}
}

func (h *Hub) recordCall(env messages.Envelope) {
	h.session.Record(sessionlog.EventCall, map[string]interface{}{
		"command": messages.Format(env.Command),
	})
}

func (h *Hub) startSession(remoteURI string, env messages.Envelope) {
	h.session.Start(remoteURI, h.snapshot)
	h.recordCall(env)
	h.logger.WithFields(logrus.Fields{
		"remote_uri": remoteURI,
		"command":    env.Command.Name(),
	}).Info("Call session started")
	if h.state == Idle {
		h.setState(Ringing)
	}
}

func (h *Hub) callConfirmed(ctx context.Context, remoteURI string) {
	now := h.now()
	if h.state != Idle && h.state != Ringing {
		h.logger.WithFields(logrus.Fields{
			"remote_uri": remoteURI,
			"state":      h.state.String(),
		}).Warn("Call confirmed while another call is active")
	}

	st := h.store.Stats(remoteURI, now)
	fields := statsFields(remoteURI, st)

	if h.policy.Blacklisted(st) {
		h.call = CallSession{
			RemoteURI:    remoteURI,
			Start:        now,
			RejectPlayed: true,
			SourceVoice:  true,
		}
		h.synthesizeSource(h.cfg.Rejected, "", "rejected")
		h.send(h.links.Telephony, messages.StageTelephony, messages.BlackList{
			RemoteURI: remoteURI,
			Expire:    h.policy.Expiry(now),
		})
		metrics.RecordRejectedCall("blacklisted")
		h.setState(Rejecting)
		h.logger.WithFields(fields).Info("Call rejected")
	} else {
		h.call = CallSession{
			RemoteURI: remoteURI,
			Start:     now,
		}
		h.playIntro()
		h.setState(Connected)
		h.logger.WithFields(fields).Info("Call accepted")
	}

	h.session.Record(sessionlog.EventStats, map[string]interface{}{
		"total_calls":       st.TotalCalls,
		"total_time":        st.TotalTime,
		"last24_calls":      st.Last24Calls,
		"last24_total_time": st.Last24Time,
	})

	if err := h.store.AppendOpen(ctx, remoteURI, now); err != nil {
		h.logger.WithError(err).WithField("remote_uri", remoteURI).Warn("Call record not persisted")
	}
}

// playIntro enqueues every introduction sentence with a fresh id
func (h *Hub) playIntro() {
	for _, text := range h.cfg.Introduction {
		id := h.nextUtteranceID()
		h.call.LastIntroID = id
		h.synthesizeSource(text, id, "intro")
	}
	if len(h.cfg.Introduction) == 0 {
		h.call.IntroPlayed = true
	}
}

func (h *Hub) nextUtteranceID() string {
	id := strconv.Itoa(h.introID)
	h.introID++
	return id
}

func (h *Hub) playUtteranceEnd(userID string) {
	h.call.SourceVoice = false
	h.call.SourceVoiceAt = h.now()
	if userID != "" && userID == h.call.LastIntroID {
		h.call.IntroPlayed = true
		h.call.SourceVoiceAt = time.Time{}
	}
}

func (h *Hub) rejectedCall(remoteURI string) {
	dest := h.callbackTarget(remoteURI)
	h.callback = &CallbackRequest{
		FireAt:      h.now().Add(h.cfg.WaitBeforeCallingBack),
		Destination: dest,
	}
	h.logger.WithFields(logrus.Fields{
		"remote_uri":  remoteURI,
		"destination": dest,
		"fire_at":     h.callback.FireAt,
	}).Info("Call-back scheduled")
}

// callbackTarget applies the substitution list to remoteURI; without one it
// falls back to the static URI, then to the caller itself
func (h *Hub) callbackTarget(remoteURI string) string {
	if len(h.subs) > 0 {
		uri := remoteURI
		for _, sub := range h.subs {
			uri = sub.pattern.ReplaceAllString(uri, sub.replacement)
		}
		return uri
	}
	if h.cfg.CallBackURI != "" {
		return h.cfg.CallBackURI
	}
	return remoteURI
}

func (h *Hub) callDisconnected(ctx context.Context, remoteURI string) {
	now := h.now()
	h.flushAll()
	h.session.End()

	closed, err := h.store.CloseLast(ctx, remoteURI, now)
	if err != nil {
		h.logger.WithError(err).WithField("remote_uri", remoteURI).Warn("Call record not persisted")
	}

	h.call.IntroPlayed = false
	h.callsServed++
	metrics.RecordCallServed()
	h.setState(Idle)

	h.logger.WithFields(logrus.Fields{
		"remote_uri":    remoteURI,
		"record_closed": closed,
		"calls_served":  h.callsServed,
	}).Info("Call disconnected")
}

func (h *Hub) pollVAD() {
	if h.links.VAD == nil {
		return
	}
	env, ok := h.links.VAD.Receive()
	if !ok {
		return
	}
	h.logger.WithField("command", messages.Format(env.Command)).Debug("VAD command")

	switch env.Command.(type) {
	case messages.SpeechStart:
		h.call.UserVoice = true
	case messages.SpeechEnd:
		h.call.UserVoice = false
		h.call.UserVoiceAt = h.now()
	}
}

// checkLifecycle runs the timer driven transitions: hangup after the
// rejection message, and closing an overlong call
func (h *Hub) checkLifecycle() {
	now := h.now()

	switch h.state {
	case Rejecting:
		if h.call.RejectPlayed && !h.call.SourceVoice {
			h.call.RejectPlayed = false
			h.hangup("rejected")
		}
	case Connected:
		if !h.call.IntroPlayed || !h.call.Silent() {
			return
		}
		if now.Sub(h.call.Start) <= h.cfg.MaxCallLength {
			return
		}
		if !h.call.EndPlayed {
			id := h.nextUtteranceID()
			h.call.LastIntroID = id
			h.call.IntroPlayed = false
			h.call.SourceVoice = true
			h.call.EndPlayed = true
			h.synthesizeSource(h.cfg.Closing, id, "closing")
			h.setState(Closing)
			h.logger.WithFields(logrus.Fields{
				"remote_uri": h.call.RemoteURI,
				"length":     now.Sub(h.call.Start),
			}).Info("Maximum call length reached")
		}
	case Closing:
		// IntroPlayed is set again by the end of the closing utterance
		if h.call.IntroPlayed && !h.call.SourceVoice {
			h.call.IntroPlayed = false
			h.hangup("max_call_length")
		}
	}
}

func (h *Hub) hangup(reason string) {
	h.logger.WithFields(logrus.Fields{
		"remote_uri": h.call.RemoteURI,
		"reason":     reason,
	}).Info("Hanging up")
	h.send(h.links.Telephony, messages.StageTelephony, messages.Hangup{})
	h.flushAll()
	h.setState(Idle)
}

func (h *Hub) synthesizeSource(text, userID, kind string) {
	h.send(h.links.SrcTTS, messages.StageSrcTTS, messages.Synthesize{UserID: userID, Text: text})
	metrics.RecordUtterance(kind)
	h.session.Record(sessionlog.EventSynthesize, map[string]interface{}{
		"stage":   messages.StageSrcTTS,
		"user_id": userID,
		"text":    text,
		"kind":    kind,
	})
}
