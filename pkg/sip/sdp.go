package sip

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pion/sdp/v3"

	"translate-hub/pkg/media"
)

var (
	// ErrNoAudio is returned for offers without an active audio stream
	ErrNoAudio = errors.New("sdp: no audio stream")
	// ErrNoCommonCodec is returned when the offer lacks PCMU
	ErrNoCommonCodec = errors.New("sdp: PCMU not offered")
)

const pcmuFormat = "0"

// parseMedia returns the RTP address of the first audio stream that carries
// PCMU. It is used for both offers and answers.
func parseMedia(body []byte) (*net.UDPAddr, error) {
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("sdp: %w", err)
	}

	for _, md := range parsed.MediaDescriptions {
		if md.MediaName.Media != "audio" || md.MediaName.Port.Value == 0 {
			continue
		}
		if !hasFormat(md.MediaName.Formats, pcmuFormat) {
			return nil, ErrNoCommonCodec
		}

		conn := md.ConnectionInformation
		if conn == nil {
			conn = parsed.ConnectionInformation
		}
		if conn == nil || conn.Address == nil {
			return nil, fmt.Errorf("sdp: audio stream without connection address")
		}
		ip := net.ParseIP(conn.Address.Address)
		if ip == nil {
			addrs, err := net.LookupIP(conn.Address.Address)
			if err != nil || len(addrs) == 0 {
				return nil, fmt.Errorf("sdp: unresolvable connection address %q", conn.Address.Address)
			}
			ip = addrs[0]
		}
		return &net.UDPAddr{IP: ip, Port: md.MediaName.Port.Value}, nil
	}
	return nil, ErrNoAudio
}

func hasFormat(formats []string, want string) bool {
	for _, f := range formats {
		if f == want {
			return true
		}
	}
	return false
}

// buildSDP describes one sendrecv PCMU/8000 audio stream at ip:port
func buildSDP(ip string, port int) ([]byte, error) {
	id := uint64(time.Now().UnixNano())
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "translate-hub",
			SessionID:      id,
			SessionVersion: id,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ip,
		},
		SessionName: "translate-hub",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ip},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{pcmuFormat},
			},
			Attributes: []sdp.Attribute{
				{Key: "rtpmap", Value: pcmuFormat + " PCMU/" + strconv.Itoa(media.SampleRate)},
				{Key: "ptime", Value: "20"},
				{Key: "sendrecv"},
			},
		}},
	}
	return desc.Marshal()
}
