package hub

import (
	"time"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/asr"
	"translate-hub/pkg/channel"
	"translate-hub/pkg/messages"
	"translate-hub/pkg/metrics"
	"translate-hub/pkg/sessionlog"
)

// canSpeak reports whether the hub may start a new utterance: the call is
// connected, the introduction has finished, nobody is speaking and both
// quiet periods have elapsed
func (h *Hub) canSpeak(now time.Time) bool {
	if h.state != Connected || !h.call.IntroPlayed || !h.call.Silent() {
		return false
	}
	if !h.call.SourceVoiceAt.IsZero() && now.Sub(h.call.SourceVoiceAt) <= h.cfg.SourceQuietPeriod {
		return false
	}
	if !h.call.UserVoiceAt.IsZero() && now.Sub(h.call.UserVoiceAt) <= h.cfg.UserQuietPeriod {
		return false
	}
	return true
}

func (h *Hub) pollTranslations() {
	if h.links.MTData == nil {
		return
	}
	hyp, ok := h.links.MTData.Receive()
	if !ok {
		return
	}

	best := hyp.Best()
	fields := logrus.Fields{
		"segment_id": hyp.SegmentID,
		"source":     hyp.Source,
		"text":       best,
	}
	data := map[string]interface{}{
		"segment_id": hyp.SegmentID,
		"text":       best,
	}
	if hyp.ASR != nil {
		data["asr_text"] = hyp.ASR.Best()
	}
	h.session.Record(sessionlog.EventTranslated, data)

	if !h.canSpeak(h.now()) {
		metrics.RecordHypothesis(messages.StageMT, "dropped")
		h.logger.WithFields(fields).Debug("Translation dropped, not ready to speak")
		return
	}

	switch {
	case hyp.IsError():
		metrics.RecordHypothesis(messages.StageMT, "error")
		h.logger.WithFields(fields).Warn("Translation failed")
		h.synthesizeSource(h.cfg.ErrorMessage, "", "error")
	case hyp.IsOther():
		metrics.RecordHypothesis(messages.StageMT, "not_understood")
		h.synthesizeSource(h.cfg.IDontUnderstand, "", "not_understood")
	default:
		metrics.RecordHypothesis(messages.StageMT, "forwarded")
		h.logger.WithFields(fields).Info("Speaking translation")
		h.call.SourceVoice = true
		h.send(h.links.TTS, messages.StageTTS, messages.Synthesize{Text: best})
		metrics.RecordUtterance("translation")
		h.session.Record(sessionlog.EventSynthesize, map[string]interface{}{
			"stage": messages.StageTTS,
			"text":  best,
			"kind":  "translation",
		})
	}
}

func (h *Hub) pollHypotheses(endpoint *channel.Endpoint[messages.Hypothesis], role asr.Role) {
	if endpoint == nil {
		return
	}
	hyp, ok := endpoint.Receive()
	if !ok {
		return
	}

	h.session.Record(sessionlog.EventRecognized, map[string]interface{}{
		"segment_id": hyp.SegmentID,
		"role":       role.String(),
		"text":       hyp.Best(),
		"nbest":      len(hyp.NBest),
	})

	action, ok := h.resolver.Submit(role, hyp, h.now())
	if !ok {
		h.logger.WithFields(logrus.Fields{
			"segment_id": hyp.SegmentID,
			"role":       role.String(),
		}).Debug("Recognizer result held for the other recognizer")
		return
	}
	h.apply(action)
}

func (h *Hub) evictPending() {
	for _, action := range h.resolver.Evict(h.now()) {
		metrics.RecordResolverEviction()
		h.logger.WithField("segment_id", action.SegmentID).Warn("Recognizer result timed out, resolving with what arrived")
		h.apply(action)
	}
}

// apply performs the single downstream action of a resolved segment
func (h *Hub) apply(action asr.Action) {
	source := action.Hypothesis.Source
	fields := logrus.Fields{
		"segment_id": action.SegmentID,
		"source":     source,
		"action":     action.Kind.String(),
		"evicted":    action.Evicted,
	}

	switch action.Kind {
	case asr.Forward:
		metrics.RecordHypothesis(source, "forwarded")
		h.logger.WithFields(fields).WithField("text", action.Hypothesis.Best()).Info("Recognized")
		if h.links.MTData != nil {
			h.links.MTData.Send(action.Hypothesis)
		}
	case asr.NotUnderstood:
		metrics.RecordHypothesis(source, "not_understood")
		if !h.canSpeak(h.now()) {
			h.logger.WithFields(fields).Debug("Not understood, not ready to speak")
			return
		}
		h.logger.WithFields(fields).Info("Not understood")
		h.synthesizeSource(h.cfg.IDontUnderstand, "", "not_understood")
	}
}
