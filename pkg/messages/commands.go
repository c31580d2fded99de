// Package messages defines the commands and data payloads exchanged between
// the hub and its processing stages.
package messages

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Stage identifiers used as command origins and destinations
const (
	StageHub       = "HUB"
	StageTelephony = "VoipIO"
	StageVAD       = "VAD"
	StageASR       = "ASR"
	StageASR2      = "ASR2"
	StageMT        = "MT"
	StageTTS       = "TTS"
	StageSrcTTS    = "SRC_TTS"
)

// Arg is one key/value argument of a command in its canonical form
type Arg struct {
	Key   string
	Value string
}

// Command is one control message. Every command name maps to exactly one
// implementation; names no receiver knows become Unknown.
type Command interface {
	Name() string
	Args() []Arg
}

// Envelope carries a command between two stages
type Envelope struct {
	Origin      string
	Destination string
	Command     Command
}

// NewEnvelope wraps cmd for delivery from origin to destination
func NewEnvelope(cmd Command, origin, destination string) Envelope {
	return Envelope{Origin: origin, Destination: destination, Command: cmd}
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s -> %s: %s", e.Origin, e.Destination, Format(e.Command))
}

type Stop struct{}

func (Stop) Name() string { return "stop" }
func (Stop) Args() []Arg  { return nil }

type Flush struct{}

func (Flush) Name() string { return "flush" }
func (Flush) Args() []Arg  { return nil }

type Flushed struct{}

func (Flushed) Name() string { return "flushed" }
func (Flushed) Args() []Arg  { return nil }

// Synthesize asks a synthesizer to render Text. The produced utterance keeps
// UserID so its playback end can be correlated.
type Synthesize struct {
	UserID string
	Text   string
	Log    string
}

func (Synthesize) Name() string { return "synthesize" }
func (c Synthesize) Args() []Arg {
	var args []Arg
	if c.UserID != "" {
		args = append(args, Arg{"user_id", c.UserID})
	}
	args = append(args, Arg{"text", c.Text})
	if c.Log != "" {
		args = append(args, Arg{"log", c.Log})
	}
	return args
}

// BlackList bars RemoteURI from calling until Expire
type BlackList struct {
	RemoteURI string
	Expire    time.Time
}

func (BlackList) Name() string { return "black_list" }
func (c BlackList) Args() []Arg {
	return []Arg{{"remote_uri", c.RemoteURI}, {"expire", strconv.FormatInt(c.Expire.Unix(), 10)}}
}

// MakeCall asks telephony to dial Destination. Telephony echoes it back with
// RemoteURI set once dialing starts.
type MakeCall struct {
	Destination string
	RemoteURI   string
}

func (MakeCall) Name() string { return "make_call" }
func (c MakeCall) Args() []Arg {
	var args []Arg
	if c.Destination != "" {
		args = append(args, Arg{"destination", c.Destination})
	}
	if c.RemoteURI != "" {
		args = append(args, Arg{"remote_uri", c.RemoteURI})
	}
	return args
}

type Hangup struct{}

func (Hangup) Name() string { return "hangup" }
func (Hangup) Args() []Arg  { return nil }

type IncomingCall struct{ RemoteURI string }

func (IncomingCall) Name() string  { return "incoming_call" }
func (c IncomingCall) Args() []Arg { return remoteURIArgs(c.RemoteURI) }

type CallConnecting struct{ RemoteURI string }

func (CallConnecting) Name() string  { return "call_connecting" }
func (c CallConnecting) Args() []Arg { return remoteURIArgs(c.RemoteURI) }

type CallConfirmed struct{ RemoteURI string }

func (CallConfirmed) Name() string  { return "call_confirmed" }
func (c CallConfirmed) Args() []Arg { return remoteURIArgs(c.RemoteURI) }

type RejectedCall struct{ RemoteURI string }

func (RejectedCall) Name() string  { return "rejected_call" }
func (c RejectedCall) Args() []Arg { return remoteURIArgs(c.RemoteURI) }

type RejectedCallFromBlacklistedURI struct{ RemoteURI string }

func (RejectedCallFromBlacklistedURI) Name() string  { return "rejected_call_from_blacklisted_uri" }
func (c RejectedCallFromBlacklistedURI) Args() []Arg { return remoteURIArgs(c.RemoteURI) }

type CallDisconnected struct{ RemoteURI string }

func (CallDisconnected) Name() string  { return "call_disconnected" }
func (c CallDisconnected) Args() []Arg { return remoteURIArgs(c.RemoteURI) }

type PlayUtteranceStart struct{ UserID string }

func (PlayUtteranceStart) Name() string  { return "play_utterance_start" }
func (c PlayUtteranceStart) Args() []Arg { return userIDArgs(c.UserID) }

type PlayUtteranceEnd struct{ UserID string }

func (PlayUtteranceEnd) Name() string  { return "play_utterance_end" }
func (c PlayUtteranceEnd) Args() []Arg { return userIDArgs(c.UserID) }

type SpeechStart struct{}

func (SpeechStart) Name() string { return "speech_start" }
func (SpeechStart) Args() []Arg  { return nil }

type SpeechEnd struct{}

func (SpeechEnd) Name() string { return "speech_end" }
func (SpeechEnd) Args() []Arg  { return nil }

// Translated reports a finished translation. Fname names the logged audio
// the translation belongs to, if any.
type Translated struct{ Fname string }

func (Translated) Name() string { return "mt_translated" }
func (c Translated) Args() []Arg {
	return []Arg{{"fname", c.Fname}}
}

// Recognized reports a finished recognition for one segment
type Recognized struct{ Fname string }

func (Recognized) Name() string { return "asr_recognized" }
func (c Recognized) Args() []Arg {
	return []Arg{{"fname", c.Fname}}
}

// Unknown holds a well-formed command whose name is not part of the vocabulary
type Unknown struct {
	CommandName string
	Arguments   map[string]string
}

func (c Unknown) Name() string { return c.CommandName }
func (c Unknown) Args() []Arg {
	keys := make([]string, 0, len(c.Arguments))
	for k := range c.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]Arg, 0, len(keys))
	for _, k := range keys {
		args = append(args, Arg{k, c.Arguments[k]})
	}
	return args
}

func remoteURIArgs(uri string) []Arg {
	if uri == "" {
		return nil
	}
	return []Arg{{"remote_uri", uri}}
}

func userIDArgs(id string) []Arg {
	if id == "" {
		return nil
	}
	return []Arg{{"user_id", id}}
}

// Format renders cmd in canonical form: name(key="value",...)
func Format(cmd Command) string {
	if cmd == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(cmd.Name())
	b.WriteByte('(')
	for i, a := range cmd.Args() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.Key)
		b.WriteString(`="`)
		b.WriteString(escape(a.Value))
		b.WriteByte('"')
	}
	b.WriteByte(')')
	return b.String()
}

func escape(s string) string {
	if !strings.ContainsAny(s, `"\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
