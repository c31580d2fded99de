package sip

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translate-hub/pkg/channel"
	"translate-hub/pkg/config"
	"translate-hub/pkg/errors"
	"translate-hub/pkg/media"
	"translate-hub/pkg/messages"
	"translate-hub/pkg/ratelimit"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type fakeLeg struct {
	mu   sync.Mutex
	byes int
}

func (l *fakeLeg) Bye(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byes++
	return nil
}

func (l *fakeLeg) Byes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byes
}

type fakeDialer struct {
	answer []byte
	err    error
	leg    *fakeLeg
	block  bool
}

func (d *fakeDialer) Dial(ctx context.Context, destination string, offer []byte) (Dialog, error) {
	if d.block {
		<-ctx.Done()
		return Dialog{}, ctx.Err()
	}
	if d.err != nil {
		return Dialog{}, d.err
	}
	return Dialog{CallID: "out-1", Answer: d.answer, Leg: d.leg}, nil
}

type phoneHarness struct {
	phone  *Phone
	hub    *channel.Endpoint[messages.Envelope]
	vad    *channel.Endpoint[messages.AudioFrame]
	player *channel.Endpoint[messages.Utterance]
}

func newPhoneHarness(t *testing.T, cfg config.SIPConfig) *phoneHarness {
	t.Helper()
	logger := newTestLogger()

	stageCmds, hubCmds := channel.Pipe[messages.Envelope]()
	framesOut, framesIn := channel.Pipe[messages.AudioFrame]()
	playIn, playOut := channel.Pipe[messages.Utterance]()

	limiter := ratelimit.NewSIPLimiter(100, 100, nil, logger)
	phone := NewPhone(logger, cfg, limiter, stageCmds, framesOut, playIn,
		WithMediaIP("127.0.0.1"),
		WithSessionFactory(func() (*media.Session, error) {
			conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
			if err != nil {
				return nil, err
			}
			return media.NewSessionOnConn(logger, conn), nil
		}),
	)
	t.Cleanup(func() { phone.Close() })

	return &phoneHarness{phone: phone, hub: hubCmds, vad: framesIn, player: playOut}
}

// events runs one tick and returns what the hub received
func (h *phoneHarness) events(t *testing.T) []messages.Command {
	t.Helper()
	require.NoError(t, h.phone.Work(context.Background()))
	var out []messages.Command
	for {
		env, ok := h.hub.Receive()
		if !ok {
			return out
		}
		assert.Equal(t, messages.StageTelephony, env.Origin)
		out = append(out, env.Command)
	}
}

func offerSDP(t *testing.T, port int, formats ...string) []byte {
	t.Helper()
	if len(formats) == 0 {
		formats = []string{"0", "8"}
	}
	body := "v=0\r\n" +
		"o=alice 1 1 IN IP4 127.0.0.1\r\n" +
		"s=call\r\n" +
		"c=IN IP4 127.0.0.1\r\n" +
		"t=0 0\r\n" +
		fmt.Sprintf("m=audio %d RTP/AVP", port)
	for _, f := range formats {
		body += " " + f
	}
	return []byte(body + "\r\n")
}

func defaultSIPConfig() config.SIPConfig {
	return config.SIPConfig{Host: "127.0.0.1", Port: 5060, User: "translate", RTPPortMin: 30000, RTPPortMax: 30100}
}

func TestPhone_InboundCallLifecycle(t *testing.T) {
	h := newPhoneHarness(t, defaultSIPConfig())

	decision := h.phone.Offer("call-1", "sip:alice@example.com", "203.0.113.5", offerSDP(t, 40000))
	require.True(t, decision.Accepted())
	remote, err := parseMedia(decision.Answer)
	require.NoError(t, err, "answer is valid SDP")
	assert.Equal(t, "127.0.0.1", remote.IP.String())

	h.phone.Answered("call-1", &fakeLeg{})
	assert.Equal(t, []messages.Command{
		messages.IncomingCall{RemoteURI: "sip:alice@example.com"},
		messages.CallConnecting{RemoteURI: "sip:alice@example.com"},
	}, h.events(t))

	h.phone.Confirmed("call-1")
	h.phone.Confirmed("call-1")
	h.phone.Confirmed("other")
	assert.Equal(t, []messages.Command{messages.CallConfirmed{RemoteURI: "sip:alice@example.com"}}, h.events(t))

	assert.False(t, h.phone.Ended("other"))
	assert.True(t, h.phone.Ended("call-1"))
	assert.Equal(t, []messages.Command{messages.CallDisconnected{RemoteURI: "sip:alice@example.com"}}, h.events(t))
}

func TestPhone_OfferDecisions(t *testing.T) {
	tests := map[string]struct {
		cfg    func(*config.SIPConfig)
		setup  func(h *phoneHarness)
		body   func(t *testing.T) []byte
		status int
		events []messages.Command
	}{
		"blacklisted caller": {
			setup: func(h *phoneHarness) {
				require.NoError(t, h.phone.HandleCommand(messages.BlackList{
					RemoteURI: "sip:alice@example.com",
					Expire:    time.Now().Add(time.Hour),
				}))
			},
			status: 403,
			events: []messages.Command{messages.RejectedCallFromBlacklistedURI{RemoteURI: "sip:alice@example.com"}},
		},
		"call-back mode": {
			cfg:    func(c *config.SIPConfig) { c.RejectCalls = true },
			status: 603,
			events: []messages.Command{messages.RejectedCall{RemoteURI: "sip:alice@example.com"}},
		},
		"no pcmu": {
			body:   func(t *testing.T) []byte { return offerSDP(t, 40000, "8") },
			status: 488,
		},
		"garbage sdp": {
			body:   func(t *testing.T) []byte { return []byte("not sdp") },
			status: 488,
		},
		"busy": {
			setup: func(h *phoneHarness) {
				require.True(t, h.phone.Offer("first", "sip:bob@example.com", "203.0.113.6", offerSDP(t, 40002)).Accepted())
				h.events(t)
			},
			status: 486,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := defaultSIPConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			h := newPhoneHarness(t, cfg)
			if tt.setup != nil {
				tt.setup(h)
			}
			body := offerSDP(t, 40000)
			if tt.body != nil {
				body = tt.body(t)
			}

			decision := h.phone.Offer("call-1", "sip:alice@example.com", "203.0.113.5", body)
			assert.Equal(t, tt.status, decision.Status)
			assert.Empty(t, decision.Answer)
			assert.Equal(t, tt.events, h.events(t))
		})
	}
}

func TestPhone_RateLimitedSource(t *testing.T) {
	logger := newTestLogger()
	limiter := ratelimit.NewSIPLimiter(0.001, 1, nil, logger)
	stageCmds, _ := channel.Pipe[messages.Envelope]()
	phone := NewPhone(logger, defaultSIPConfig(), limiter, stageCmds, nil, nil, WithMediaIP("127.0.0.1"))
	defer phone.Close()

	phone.Offer("a", "sip:x@example.com", "198.51.100.1", []byte("bad"))
	decision := phone.Offer("b", "sip:y@example.com", "198.51.100.1", []byte("bad"))
	assert.Equal(t, 503, decision.Status)
}

func TestPhone_OutboundCall(t *testing.T) {
	h := newPhoneHarness(t, defaultSIPConfig())
	leg := &fakeLeg{}
	h.phone.SetDialer(&fakeDialer{answer: offerSDP(t, 40010), leg: leg})

	require.NoError(t, h.phone.HandleCommand(messages.MakeCall{Destination: "sip:bob@example.com"}))

	var events []messages.Command
	require.Eventually(t, func() bool {
		events = append(events, h.events(t)...)
		return len(events) >= 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []messages.Command{
		messages.MakeCall{Destination: "sip:bob@example.com", RemoteURI: "sip:bob@example.com"},
		messages.CallConnecting{RemoteURI: "sip:bob@example.com"},
		messages.CallConfirmed{RemoteURI: "sip:bob@example.com"},
	}, events)

	require.NoError(t, h.phone.HandleCommand(messages.Hangup{}))
	assert.Equal(t, []messages.Command{messages.CallDisconnected{RemoteURI: "sip:bob@example.com"}}, h.events(t))
	require.Eventually(t, func() bool { return leg.Byes() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.phone.HandleCommand(messages.Hangup{}), "hangup without a call is ignored")
	assert.Empty(t, h.events(t))
}

func TestPhone_OutboundCallFails(t *testing.T) {
	h := newPhoneHarness(t, defaultSIPConfig())
	h.phone.SetDialer(&fakeDialer{err: fmt.Errorf("486 busy")})

	require.NoError(t, h.phone.HandleCommand(messages.MakeCall{Destination: "sip:bob@example.com"}))

	var events []messages.Command
	require.Eventually(t, func() bool {
		events = append(events, h.events(t)...)
		return len(events) >= 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, messages.CallDisconnected{RemoteURI: "sip:bob@example.com"}, events[2])
}

func TestPhone_HangupWhileDialing(t *testing.T) {
	h := newPhoneHarness(t, defaultSIPConfig())
	h.phone.SetDialer(&fakeDialer{block: true})

	require.NoError(t, h.phone.HandleCommand(messages.MakeCall{Destination: "sip:bob@example.com"}))
	require.NoError(t, h.phone.HandleCommand(messages.Hangup{}))

	events := h.events(t)
	require.Len(t, events, 3)
	assert.Equal(t, messages.CallDisconnected{RemoteURI: "sip:bob@example.com"}, events[2])

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.events(t), "cancelled dial reports nothing more")
}

func TestPhone_PlaybackWithoutCall(t *testing.T) {
	h := newPhoneHarness(t, defaultSIPConfig())
	h.player.Send(messages.Utterance{UserID: "3"})

	assert.Equal(t, []messages.Command{
		messages.PlayUtteranceStart{UserID: "3"},
		messages.PlayUtteranceEnd{UserID: "3"},
	}, h.events(t))
}

func TestPhone_PlaysDuringCall(t *testing.T) {
	h := newPhoneHarness(t, defaultSIPConfig())
	require.True(t, h.phone.Offer("call-1", "sip:alice@example.com", "203.0.113.5", offerSDP(t, 40020)).Accepted())
	h.events(t)

	h.player.Send(messages.Utterance{UserID: "7", SampleRate: media.SampleRate, PCM: make([]byte, 320)})

	var events []messages.Command
	require.Eventually(t, func() bool {
		events = append(events, h.events(t)...)
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []messages.Command{
		messages.PlayUtteranceStart{UserID: "7"},
		messages.PlayUtteranceEnd{UserID: "7"},
	}, events)
}

func TestPhone_FlushIsIdempotent(t *testing.T) {
	h := newPhoneHarness(t, defaultSIPConfig())
	h.player.Send(messages.Utterance{UserID: "1"})
	h.phone.Flush()
	h.phone.Flush()
	assert.Empty(t, h.events(t))
}

func TestPhone_RejectsUnknownCommands(t *testing.T) {
	h := newPhoneHarness(t, defaultSIPConfig())
	err := h.phone.HandleCommand(messages.Synthesize{Text: "hi"})
	assert.ErrorIs(t, err, errors.ErrUnknownCommand)
	assert.Equal(t, messages.StageTelephony, h.phone.Name())
}

func TestParseMedia(t *testing.T) {
	addr, err := parseMedia(offerSDP(t, 41000))
	require.NoError(t, err)
	assert.Equal(t, 41000, addr.Port)

	_, err = parseMedia([]byte("v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"))
	assert.ErrorIs(t, err, ErrNoAudio)

	_, err = parseMedia(offerSDP(t, 41000, "8"))
	assert.ErrorIs(t, err, ErrNoCommonCodec)
}

func TestBuildSDP(t *testing.T) {
	body, err := buildSDP("192.0.2.10", 12000)
	require.NoError(t, err)
	assert.Contains(t, string(body), "m=audio 12000 RTP/AVP 0")
	assert.Contains(t, string(body), "a=rtpmap:0 PCMU/8000")

	addr, err := parseMedia(body)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", addr.IP.String())
}

func TestAdvertisedIP(t *testing.T) {
	assert.Equal(t, "198.51.100.2", advertisedIP(config.SIPConfig{ExternalIP: "198.51.100.2", Host: "0.0.0.0"}))
	assert.Equal(t, "10.0.0.5", advertisedIP(config.SIPConfig{Host: "10.0.0.5"}))
	assert.NotEmpty(t, advertisedIP(config.SIPConfig{Host: "0.0.0.0"}))
}

func TestServer_RejectsBlacklistedInvite(t *testing.T) {
	logger := newTestLogger()
	stageCmds, hubCmds := channel.Pipe[messages.Envelope]()
	phone := NewPhone(logger, defaultSIPConfig(), ratelimit.NewSIPLimiter(10, 10, nil, logger), stageCmds, nil, nil, WithMediaIP("127.0.0.1"))
	defer phone.Close()
	server, err := NewServer(logger, defaultSIPConfig(), phone)
	require.NoError(t, err)
	defer server.Close()

	require.NoError(t, phone.HandleCommand(messages.BlackList{RemoteURI: "sip:alice@example.com", Expire: time.Now().Add(time.Hour)}))

	req := sip.NewRequest(sip.INVITE, sip.Uri{User: "translate", Host: "127.0.0.1"})
	req.AppendHeader(sip.NewHeader("Via", "SIP/2.0/UDP 203.0.113.5;branch=z9hG4bK-test"))
	req.AppendHeader(&sip.FromHeader{Address: sip.Uri{User: "alice", Host: "example.com"}})
	req.AppendHeader(&sip.ToHeader{Address: sip.Uri{User: "translate", Host: "127.0.0.1"}})
	callID := sip.CallIDHeader("call-blacklisted")
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	req.SetSource("203.0.113.5:5060")

	tx := newTestServerTransaction(req)
	server.onInvite(req, tx)

	require.NotNil(t, tx.resp)
	assert.Equal(t, 403, tx.resp.StatusCode)
	require.NoError(t, phone.Work(context.Background()))
	env, ok := hubCmds.Receive()
	require.True(t, ok)
	assert.Equal(t, messages.RejectedCallFromBlacklistedURI{RemoteURI: "sip:alice@example.com"}, env.Command)
}

type testServerTransaction struct {
	req       *sip.Request
	resp      *sip.Response
	responses []*sip.Response
	done      chan struct{}
	acks      chan *sip.Request
}

func newTestServerTransaction(req *sip.Request) *testServerTransaction {
	done := make(chan struct{})
	close(done)
	acks := make(chan *sip.Request)
	close(acks)
	return &testServerTransaction{req: req, done: done, acks: acks}
}

func (t *testServerTransaction) Key() string { return "test" }

func (t *testServerTransaction) Origin() *sip.Request { return t.req }

func (t *testServerTransaction) Done() <-chan struct{} { return t.done }

func (t *testServerTransaction) Err() error { return nil }

func (t *testServerTransaction) Respond(res *sip.Response) error {
	t.resp = res
	t.responses = append(t.responses, res)
	return nil
}

func (t *testServerTransaction) Acks() <-chan *sip.Request { return t.acks }

func (t *testServerTransaction) OnTerminate(sip.FnTxTerminate) bool { return true }

func (t *testServerTransaction) Terminate() {}
