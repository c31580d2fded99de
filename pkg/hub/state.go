package hub

import (
	"strconv"
	"time"
)

// State is the lifecycle state of the single active call
type State int

const (
	Idle State = iota
	Ringing
	Rejecting
	Connected
	Closing
)

var stateNames = []string{"idle", "ringing", "rejecting", "connected", "closing"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// InCall reports whether a call is confirmed and not yet hung up
func (s State) InCall() bool {
	return s == Rejecting || s == Connected || s == Closing
}

// CallSession is the transient state of the current call. It is reset on
// every accepted call_confirmed.
type CallSession struct {
	RemoteURI string
	Start     time.Time

	IntroPlayed  bool
	RejectPlayed bool
	EndPlayed    bool

	// SourceVoice is set while the hub's own synthesizers are playing
	SourceVoice   bool
	SourceVoiceAt time.Time

	// UserVoice is set while the caller is speaking
	UserVoice   bool
	UserVoiceAt time.Time

	// LastIntroID is the user id of the last utterance whose end marks the
	// introduction (or closing) as played
	LastIntroID string
}

// Silent reports whether neither side is speaking
func (c *CallSession) Silent() bool {
	return !c.SourceVoice && !c.UserVoice
}

// CallbackRequest is a pending outbound call placed after a declined call
type CallbackRequest struct {
	FireAt      time.Time
	Destination string
}

// Due reports whether the call-back should be placed at now
func (r *CallbackRequest) Due(now time.Time) bool {
	return r != nil && now.After(r.FireAt)
}
