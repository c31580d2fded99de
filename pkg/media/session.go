package media

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"translate-hub/pkg/messages"
	"translate-hub/pkg/metrics"
)

const (
	// PayloadTypePCMU is the static RTP payload type of G.711 mu-law
	PayloadTypePCMU = 0
	// PayloadTypePCMA is the static RTP payload type of G.711 A-law
	PayloadTypePCMA = 8

	// SampleRate is the G.711 clock rate
	SampleRate = 8000

	packetSamples  = 160
	packetInterval = 20 * time.Millisecond
	frameQueue     = 512
	playQueue      = 64
	eventQueue     = 128
	maxPacketSize  = 1500
)

// PlaybackEvent reports the start or end of one utterance's playback
type PlaybackEvent struct {
	UserID   string
	Finished bool
}

type playItem struct {
	gen uint64
	utt messages.Utterance
}

// Session is one call's RTP stream. Received audio is decoded to PCM frames;
// queued utterances are encoded to PCMU and paced out in 20 ms packets.
type Session struct {
	logger *logrus.Entry
	conn   *net.UDPConn
	ports  *PortManager
	port   int

	mu     sync.Mutex
	remote *net.UDPAddr

	frames chan []byte
	events chan PlaybackEvent
	queue  chan playItem

	generation atomic.Uint64
	ssrc       uint32
	seq        uint16
	timestamp  uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession allocates a port from ports and listens on it
func NewSession(logger *logrus.Logger, ports *PortManager, ip string) (*Session, error) {
	port, err := ports.AllocatePort()
	if err != nil {
		return nil, err
	}

	addr := &net.UDPAddr{Port: port}
	if ip != "" {
		addr.IP = net.ParseIP(ip)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		ports.ReleasePort(port)
		return nil, err
	}

	s := NewSessionOnConn(logger, conn)
	s.ports = ports
	s.port = port
	return s, nil
}

// NewSessionOnConn wraps an already bound connection
func NewSessionOnConn(logger *logrus.Logger, conn *net.UDPConn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	local, _ := conn.LocalAddr().(*net.UDPAddr)
	port := 0
	if local != nil {
		port = local.Port
	}
	return &Session{
		logger:    logger.WithFields(logrus.Fields{"component": "rtp", "local_port": port}),
		conn:      conn,
		port:      port,
		frames:    make(chan []byte, frameQueue),
		events:    make(chan PlaybackEvent, eventQueue),
		queue:     make(chan playItem, playQueue),
		ssrc:      rand.Uint32(),
		seq:       uint16(rand.Uint32()),
		timestamp: rand.Uint32(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// LocalPort returns the bound RTP port
func (s *Session) LocalPort() int {
	return s.port
}

// SetRemote sets where outgoing packets go. Until it is set the first
// received packet's source is used.
func (s *Session) SetRemote(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = addr
}

// Remote returns the peer address
func (s *Session) Remote() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Start launches the receive and playback goroutines
func (s *Session) Start() {
	s.wg.Add(2)
	go s.receive()
	go s.playback()
}

// ReadFrame returns the next received PCM frame without blocking
func (s *Session) ReadFrame() ([]byte, bool) {
	select {
	case f := <-s.frames:
		return f, true
	default:
		return nil, false
	}
}

// PollEvent returns the next playback event without blocking
func (s *Session) PollEvent() (PlaybackEvent, bool) {
	select {
	case ev := <-s.events:
		return ev, true
	default:
		return PlaybackEvent{}, false
	}
}

// Play queues an utterance. It returns false when the queue is full.
func (s *Session) Play(utt messages.Utterance) bool {
	select {
	case s.queue <- playItem{gen: s.generation.Load(), utt: utt}:
		return true
	default:
		return false
	}
}

// StopPlayback drops queued utterances and cuts the current one short.
// Interrupted utterances report no end event.
func (s *Session) StopPlayback() {
	s.generation.Add(1)
	for {
		select {
		case <-s.queue:
		case <-s.events:
		default:
			return
		}
	}
}

// Close stops the session and releases its port
func (s *Session) Close() error {
	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()
	if s.ports != nil {
		s.ports.ReleasePort(s.port)
	}
	return err
}

func (s *Session) receive() {
	defer s.wg.Done()
	buf := make([]byte, maxPacketSize)

	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.WithError(err).Debug("RTP read failed")
			continue
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.WithError(err).Debug("Dropping malformed RTP packet")
			continue
		}
		metrics.RecordRTPPacket("inbound")

		s.mu.Lock()
		if s.remote == nil {
			s.remote = addr
		}
		s.mu.Unlock()

		codec := "PCMU"
		switch pkt.PayloadType {
		case PayloadTypePCMU:
		case PayloadTypePCMA:
			codec = "PCMA"
		default:
			continue
		}
		pcm, err := DecodeAudioPayload(pkt.Payload, codec)
		if err != nil || len(pcm) == 0 {
			continue
		}

		select {
		case s.frames <- pcm:
		default:
			s.logger.Debug("Frame queue full, dropping audio")
		}
	}
}

func (s *Session) playback() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case item := <-s.queue:
			if item.gen != s.generation.Load() {
				continue
			}
			s.emit(PlaybackEvent{UserID: item.utt.UserID})
			if s.send(item) {
				s.emit(PlaybackEvent{UserID: item.utt.UserID, Finished: true})
			}
		}
	}
}

// send paces the utterance out. It returns false when playback was
// interrupted.
func (s *Session) send(item playItem) bool {
	if item.utt.SampleRate != 0 && item.utt.SampleRate != SampleRate {
		s.logger.WithField("sample_rate", item.utt.SampleRate).Warn("Utterance is not 8 kHz, playing as is")
	}
	payload := EncodeMuLaw(item.utt.PCM)
	if len(payload) == 0 {
		return true
	}

	ticker := time.NewTicker(packetInterval)
	defer ticker.Stop()

	for off := 0; off < len(payload); off += packetSamples {
		if item.gen != s.generation.Load() {
			return false
		}
		end := off + packetSamples
		if end > len(payload) {
			end = len(payload)
		}
		s.writePacket(payload[off:end], off == 0)

		select {
		case <-s.ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return item.gen == s.generation.Load()
}

func (s *Session) writePacket(payload []byte, marker bool) {
	remote := s.Remote()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    PayloadTypePCMU,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.seq++
	s.timestamp += uint32(len(payload))

	if remote == nil {
		return
	}
	raw, err := pkt.Marshal()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to marshal RTP packet")
		return
	}
	if _, err := s.conn.WriteToUDP(raw, remote); err != nil {
		s.logger.WithError(err).Debug("RTP write failed")
		return
	}
	metrics.RecordRTPPacket("outbound")
}

func (s *Session) emit(ev PlaybackEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.WithField("user_id", ev.UserID).Warn("Playback event queue full")
	}
}
