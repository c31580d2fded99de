package messages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translate-hub/pkg/errors"
)

func TestParseKnownCommands(t *testing.T) {
	tests := []struct {
		text string
		want Command
	}{
		{"stop()", Stop{}},
		{" flush( ) ", Flush{}},
		{"flushed()", Flushed{}},
		{"hangup()", Hangup{}},
		{`synthesize(user_id="3",text="Hello, world")`, Synthesize{UserID: "3", Text: "Hello, world"}},
		{`synthesize(text="say \"hi\"")`, Synthesize{Text: `say "hi"`}},
		{`black_list(remote_uri="sip:a@x",expire="1700000000")`, BlackList{RemoteURI: "sip:a@x", Expire: time.Unix(1700000000, 0)}},
		{`black_list(remote_uri="sip:a@x", expire=1700000000.7)`, BlackList{RemoteURI: "sip:a@x", Expire: time.Unix(1700000000, 0)}},
		{`make_call(destination="sip:b@y")`, MakeCall{Destination: "sip:b@y"}},
		{`incoming_call(remote_uri="sip:a@x")`, IncomingCall{RemoteURI: "sip:a@x"}},
		{`call_confirmed(remote_uri="sip:a@x")`, CallConfirmed{RemoteURI: "sip:a@x"}},
		{`rejected_call_from_blacklisted_uri(remote_uri="sip:a@x")`, RejectedCallFromBlacklistedURI{RemoteURI: "sip:a@x"}},
		{`play_utterance_end(user_id="7")`, PlayUtteranceEnd{UserID: "7"}},
		{"speech_start()", SpeechStart{}},
		{`mt_translated(fname="seg.wav")`, Translated{Fname: "seg.wav"}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseUnknownIsNotAnError(t *testing.T) {
	cmd, err := Parse(`dance(style="waltz",speed=3)`)
	require.NoError(t, err)

	unknown, ok := cmd.(Unknown)
	require.True(t, ok)
	assert.Equal(t, "dance", unknown.Name())
	assert.Equal(t, map[string]string{"style": "waltz", "speed": "3"}, unknown.Arguments)
}

func TestParseMalformed(t *testing.T) {
	for _, text := range []string{
		"",
		"stop",
		"(x=1)",
		`synthesize(text="unterminated)`,
		`synthesize(user_id)`,
		`synthesize(user_id="1")`,
		`black_list(remote_uri="a",expire="soon")`,
		`synthesize(text="a" user_id="b")`,
		`9lives()`,
	} {
		_, err := Parse(text)
		assert.Error(t, err, text)
		assert.True(t, errors.IsErrorType(err, errors.ErrMalformedCommand), text)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	cmds := []Command{
		Stop{},
		Synthesize{UserID: "12", Text: `back\slash "quoted", comma`, Log: "false"},
		BlackList{RemoteURI: "sip:a@x", Expire: time.Unix(1234567, 0)},
		MakeCall{Destination: "sip:b@y"},
		CallDisconnected{RemoteURI: "sip:a@x"},
		PlayUtteranceStart{UserID: "1"},
	}
	for _, cmd := range cmds {
		parsed, err := Parse(Format(cmd))
		require.NoError(t, err)
		assert.Equal(t, cmd, parsed)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "hangup()", Format(Hangup{}))
	assert.Equal(t, `synthesize(user_id="0",text="Welcome")`, Format(Synthesize{UserID: "0", Text: "Welcome"}))
	assert.Equal(t, `black_list(remote_uri="sip:a@x",expire="100")`, Format(BlackList{RemoteURI: "sip:a@x", Expire: time.Unix(100, 0)}))
}

func TestHypothesisBest(t *testing.T) {
	assert.Equal(t, Other, Hypothesis{}.Best())
	assert.True(t, NewHypothesis("1", StageASR, "  ", 0.3).IsOther())
	assert.True(t, OtherHypothesis("1", StageASR).IsOther())
	assert.True(t, ErrorHypothesis("1", StageMT).IsError())

	h := Hypothesis{SegmentID: "1", NBest: []Candidate{{"hello", 0.9}, {"hallo", 0.1}}}
	assert.Equal(t, "hello", h.Best())
	assert.False(t, h.IsOther())
}

func TestUtteranceDuration(t *testing.T) {
	u := Utterance{SampleRate: 8000, PCM: make([]byte, 16000)}
	assert.InDelta(t, 1.0, u.Duration(), 1e-9)
	assert.Zero(t, Utterance{}.Duration())
}
