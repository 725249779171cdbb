package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/limits"
)

// Payload types and clock rates.
const (
	PayloadTypeDynamic = 96
	PayloadTypeMPA     = 14
	MPAClockRate       = 90000
	OpusClockRate      = 48000
)

// Packetizer owns the RTP header state of one outgoing stream: a random
// SSRC, a running sequence number and the mapping from media time to RTP
// timestamps.
type Packetizer struct {
	ssrc           uint32
	sequenceNumber uint16
	payloadType    uint8
	clockRate      uint32
	maxPayload     int
	packets        uint64
	octets         uint64
}

// NewPacketizer creates packetizer state for one stream.
//
// Parameters:
//   - payloadType: RTP payload type
//   - clockRate: RTP clock rate in Hz
//   - mtu: Largest datagram the packetizer may produce
//
// Returns:
//   - *Packetizer: New packetizer with a random SSRC
//   - error: ErrInvalidMTU, ErrInvalidClockRate or an SSRC generation failure
func NewPacketizer(payloadType uint8, clockRate uint32, mtu int) (*Packetizer, error) {
	if err := limits.ValidateMTU(mtu); err != nil {
		return nil, err
	}
	if clockRate == 0 {
		return nil, ErrInvalidClockRate
	}

	ssrcBytes := make([]byte, 4)
	if _, err := rand.Read(ssrcBytes); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewPacketizer",
			"error":    err.Error(),
		}).Error("Failed to generate SSRC")
		return nil, fmt.Errorf("failed to generate SSRC: %w", err)
	}

	p := &Packetizer{
		ssrc:        binary.BigEndian.Uint32(ssrcBytes),
		payloadType: payloadType,
		clockRate:   clockRate,
		maxPayload:  limits.MaxRTPPayload(mtu),
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewPacketizer",
		"ssrc":         p.ssrc,
		"payload_type": payloadType,
		"clock_rate":   clockRate,
		"mtu":          mtu,
	}).Debug("Packetizer created")

	return p, nil
}

// RTPTime converts a media timestamp to RTP clock units.
func (p *Packetizer) RTPTime(ts time.Duration) uint32 {
	return uint32(uint64(ts) * uint64(p.clockRate) / uint64(time.Second))
}

// Packet marshals one RTP packet and advances the sequence number.
func (p *Packetizer) Packet(payload []byte, timestamp uint32, marker bool) ([]byte, error) {
	if err := limits.ValidatePayloadSize(payload, p.maxPayload); err != nil {
		return nil, err
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.payloadType,
			SequenceNumber: p.sequenceNumber,
			Timestamp:      timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}

	data, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RTP packet: %w", err)
	}

	p.sequenceNumber++
	p.packets++
	p.octets += uint64(len(payload))
	return data, nil
}

// SSRC returns the stream's synchronisation source.
func (p *Packetizer) SSRC() uint32 { return p.ssrc }

// ClockRate returns the RTP clock rate.
func (p *Packetizer) ClockRate() uint32 { return p.clockRate }

// PayloadType returns the RTP payload type.
func (p *Packetizer) PayloadType() uint8 { return p.payloadType }

// MaxPayload returns the payload room per packet.
func (p *Packetizer) MaxPayload() int { return p.maxPayload }

// Packets returns the number of packets produced.
func (p *Packetizer) Packets() uint64 { return p.packets }

// Octets returns the payload octets produced, headers excluded.
func (p *Packetizer) Octets() uint64 { return p.octets }
