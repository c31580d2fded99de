package media

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translate-hub/pkg/messages"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func pcmOf(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestDecodeAudioPayload(t *testing.T) {
	tests := map[string]struct {
		codec   string
		input   []byte
		wantLen int
		wantErr bool
	}{
		"pcmu":          {codec: "PCMU", input: []byte{0x00, 0x7F, 0xFF}, wantLen: 6},
		"default codec": {codec: "", input: []byte{0xFF}, wantLen: 2},
		"pcma":          {codec: "PCMA", input: []byte{0xD5, 0x55}, wantLen: 4},
		"l16":           {codec: "L16", input: []byte{1, 2}, wantLen: 2},
		"empty":         {codec: "PCMU"},
		"unsupported":   {codec: "OPUS", input: []byte{1}, wantErr: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			out, err := DecodeAudioPayload(tt.input, tt.codec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, out, tt.wantLen)
		})
	}
}

func TestMuLawRoundTrip(t *testing.T) {
	assert.Equal(t, byte(0xFF), encodeMuLawSample(0), "silence")

	for _, s := range []int16{0, 100, -100, 1000, -1000, 12000, -12000, 32767, -32768} {
		decoded := muLawDecodeTable[encodeMuLawSample(s)]
		tolerance := int(s) / 16
		if tolerance < 0 {
			tolerance = -tolerance
		}
		tolerance += 8
		if s == 32767 || s == -32768 {
			tolerance = 1000
		}
		assert.InDelta(t, float64(s), float64(decoded), float64(tolerance), "sample %d", s)
	}

	assert.Len(t, EncodeMuLaw(pcmOf(1, 2, 3)), 3)
	assert.Nil(t, EncodeMuLaw([]byte{1}))
}

func TestPortManagerRotates(t *testing.T) {
	restore := portAvailable
	portAvailable = func(int) bool { return true }
	defer func() { portAvailable = restore }()

	pm := NewPortManager(10001, 10006)
	min, _ := pm.GetPortRange()
	assert.Equal(t, 10002, min, "range starts on an even port")

	a, err := pm.AllocatePort()
	require.NoError(t, err)
	b, err := pm.AllocatePort()
	require.NoError(t, err)
	assert.Equal(t, 10002, a)
	assert.Equal(t, 10004, b)

	pm.ReleasePort(a)
	c, err := pm.AllocatePort()
	require.NoError(t, err)
	assert.Equal(t, 10006, c, "released port is not reused first")

	d, err := pm.AllocatePort()
	require.NoError(t, err)
	assert.Equal(t, 10002, d)

	_, err = pm.AllocatePort()
	assert.Error(t, err)
	assert.Equal(t, 3, pm.GetUsedPortCount())
}

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	return conn
}

func TestSessionReceivesAudio(t *testing.T) {
	s := NewSessionOnConn(newTestLogger(), listenLoopback(t))
	s.Start()
	defer s.Close()

	peer := listenLoopback(t)
	defer peer.Close()

	pkt := rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: PayloadTypePCMU, SequenceNumber: 1, SSRC: 7},
		Payload: []byte{0xFF, 0xFF, 0x00, 0x00},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	_, err = peer.WriteToUDP(raw, s.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	var frame []byte
	require.Eventually(t, func() bool {
		var ok bool
		frame, ok = s.ReadFrame()
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, frame, 8)
	assert.Equal(t, peer.LocalAddr().(*net.UDPAddr).Port, s.Remote().Port, "remote learned from first packet")
}

func TestSessionPlaysUtterance(t *testing.T) {
	s := NewSessionOnConn(newTestLogger(), listenLoopback(t))
	peer := listenLoopback(t)
	defer peer.Close()
	s.SetRemote(peer.LocalAddr().(*net.UDPAddr))
	s.Start()
	defer s.Close()

	require.True(t, s.Play(messages.Utterance{UserID: "4", SampleRate: SampleRate, PCM: make([]byte, 2*400)}))

	var events []PlaybackEvent
	require.Eventually(t, func() bool {
		if ev, ok := s.PollEvent(); ok {
			events = append(events, ev)
		}
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []PlaybackEvent{{UserID: "4"}, {UserID: "4", Finished: true}}, events)

	peer.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, maxPacketSize)
	var sizes []int
	for i := 0; i < 3; i++ {
		n, _, err := peer.ReadFromUDP(buf)
		require.NoError(t, err)
		var pkt rtp.Packet
		require.NoError(t, pkt.Unmarshal(buf[:n]))
		assert.Equal(t, uint8(PayloadTypePCMU), pkt.PayloadType)
		assert.Equal(t, i == 0, pkt.Marker)
		sizes = append(sizes, len(pkt.Payload))
	}
	assert.Equal(t, []int{160, 160, 80}, sizes)
}

func TestSessionStopPlayback(t *testing.T) {
	s := NewSessionOnConn(newTestLogger(), listenLoopback(t))
	s.Start()
	defer s.Close()

	long := messages.Utterance{UserID: "1", SampleRate: SampleRate, PCM: make([]byte, 2*SampleRate)}
	require.True(t, s.Play(long))
	require.True(t, s.Play(messages.Utterance{UserID: "2", SampleRate: SampleRate, PCM: make([]byte, 320)}))

	require.Eventually(t, func() bool {
		ev, ok := s.PollEvent()
		return ok && ev.UserID == "1" && !ev.Finished
	}, time.Second, 5*time.Millisecond)

	s.StopPlayback()
	time.Sleep(100 * time.Millisecond)
	_, ok := s.PollEvent()
	assert.False(t, ok, "interrupted and dropped utterances report nothing")
}

func TestSessionEmptyUtterance(t *testing.T) {
	s := NewSessionOnConn(newTestLogger(), listenLoopback(t))
	s.Start()
	defer s.Close()

	require.True(t, s.Play(messages.Utterance{UserID: "9"}))
	var events []PlaybackEvent
	require.Eventually(t, func() bool {
		if ev, ok := s.PollEvent(); ok {
			events = append(events, ev)
		}
		return len(events) == 2
	}, time.Second, time.Millisecond)
	assert.True(t, events[1].Finished)
}
