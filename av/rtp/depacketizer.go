package rtp

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// ReceiveStats counts what a Depacketizer has seen.
type ReceiveStats struct {
	Packets      uint64
	Octets       uint64
	SequenceGaps uint64
	SSRCChanges  uint64
	ByPayload    map[uint8]uint64
}

// Depacketizer parses incoming RTP datagrams and tracks stream continuity.
// A sender that swaps its processing chain starts a new stream with a new
// SSRC, so an SSRC change is logged and followed rather than rejected.
type Depacketizer struct {
	mu         sync.Mutex
	ssrc       uint32
	hasSSRC    bool
	lastSeq    uint16
	hasLastSeq bool
	stats      ReceiveStats
}

// NewDepacketizer creates a depacketizer.
func NewDepacketizer() *Depacketizer {
	return &Depacketizer{stats: ReceiveStats{ByPayload: make(map[uint8]uint64)}}
}

// Process parses one datagram.
func (d *Depacketizer) Process(data []byte) (*rtp.Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrMalformedPayload)
	}

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Depacketizer.Process",
			"size":     len(data),
			"error":    err.Error(),
		}).Debug("Failed to unmarshal RTP packet")
		return nil, fmt.Errorf("failed to unmarshal RTP packet: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasSSRC || packet.SSRC != d.ssrc {
		if d.hasSSRC {
			d.stats.SSRCChanges++
		}
		logrus.WithFields(logrus.Fields{
			"function":     "Depacketizer.Process",
			"ssrc":         packet.SSRC,
			"payload_type": packet.PayloadType,
		}).Info("Following new RTP stream")
		d.ssrc = packet.SSRC
		d.hasSSRC = true
		d.hasLastSeq = false
	}

	if d.hasLastSeq && packet.SequenceNumber != d.lastSeq+1 {
		d.stats.SequenceGaps++
		logrus.WithFields(logrus.Fields{
			"function":          "Depacketizer.Process",
			"expected_sequence": d.lastSeq + 1,
			"received_sequence": packet.SequenceNumber,
		}).Warn("Sequence gap detected in RTP stream")
	}
	d.lastSeq = packet.SequenceNumber
	d.hasLastSeq = true

	d.stats.Packets++
	d.stats.Octets += uint64(len(packet.Payload))
	d.stats.ByPayload[packet.PayloadType]++

	return packet, nil
}

// Stats returns a copy of the counters.
func (d *Depacketizer) Stats() ReceiveStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.stats
	out.ByPayload = make(map[uint8]uint64, len(d.stats.ByPayload))
	for k, v := range d.stats.ByPayload {
		out.ByPayload[k] = v
	}
	return out
}

// L16ToLittleEndian converts an L16 payload to S16LE.
func L16ToLittleEndian(payload []byte) []byte {
	out := make([]byte, len(payload)&^1)
	for i := 0; i+1 < len(payload); i += 2 {
		binary.LittleEndian.PutUint16(out[i:], binary.BigEndian.Uint16(payload[i:]))
	}
	return out
}

// AC3Reassembler rebuilds AC3 frames from RFC 4184 payloads.
type AC3Reassembler struct {
	partial []byte
	active  bool
}

// Push consumes one payload and returns any completed frames. Complete-frame
// payloads may carry several frames back to back; they are returned as one
// slice.
func (r *AC3Reassembler) Push(payload []byte, marker bool) ([]byte, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: AC3 payload header", ErrMalformedPayload)
	}
	ft := payload[0] & 0x03
	data := payload[2:]

	switch ft {
	case AC3FrameComplete:
		r.partial, r.active = nil, false
		return append([]byte(nil), data...), nil
	case AC3FragmentInitialLarge, AC3FragmentInitialSmall:
		r.partial = append(r.partial[:0], data...)
		r.active = true
	default:
		if !r.active {
			return nil, nil
		}
		r.partial = append(r.partial, data...)
	}

	if marker && r.active {
		frame := r.partial
		r.partial, r.active = nil, false
		return frame, nil
	}
	return nil, nil
}

// MPAReassembler rebuilds MPEG audio frames from RFC 2250 payloads.
type MPAReassembler struct {
	partial []byte
}

// Push consumes one payload. A payload with fragment offset zero starts a new
// frame and flushes the previous one.
func (r *MPAReassembler) Push(payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: MPA payload header", ErrMalformedPayload)
	}
	offset := binary.BigEndian.Uint16(payload[2:])
	data := payload[4:]

	if offset == 0 {
		done := r.partial
		r.partial = append([]byte(nil), data...)
		return done, nil
	}
	if int(offset) != len(r.partial) {
		r.partial = nil
		return nil, nil
	}
	r.partial = append(r.partial, data...)
	return nil, nil
}

// Flush returns the frame being assembled.
func (r *MPAReassembler) Flush() []byte {
	done := r.partial
	r.partial = nil
	return done
}
