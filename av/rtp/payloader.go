package rtp

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/media"
)

// payloaderBase holds what every payloader stage shares.
type payloaderBase struct {
	name    string
	pk      *Packetizer
	sink    media.Caps
	first   time.Duration
	started bool
	closed  bool
}

func newPayloaderBase(prefix string, sink media.Caps, pt uint8, clock uint32, mtu int) (payloaderBase, error) {
	pk, err := NewPacketizer(pt, clock, mtu)
	if err != nil {
		return payloaderBase{}, err
	}
	return payloaderBase{
		name: prefix + "-" + xid.New().String(),
		pk:   pk,
		sink: sink,
	}, nil
}

// Name returns the stage instance name.
func (b *payloaderBase) Name() string { return b.name }

// Caps reports the accepted media on the sink side and RTP on the source side.
func (b *payloaderBase) Caps() (sink, src media.Caps) {
	return b.sink, media.Caps{Encoding: media.EncodingRTP}
}

// Packetizer exposes the stream's header state.
func (b *payloaderBase) Packetizer() *Packetizer { return b.pk }

// Close marks the stage closed.
func (b *payloaderBase) Close() error {
	b.closed = true
	return nil
}

// rtpTime maps a buffer timestamp onto the stream's RTP clock, relative to
// the first buffer seen.
func (b *payloaderBase) rtpTime(ts time.Duration) uint32 {
	if !b.started {
		b.first = ts
		b.started = true
	}
	return b.pk.RTPTime(ts - b.first)
}

// L16Payloader packs S16LE audio into network byte order L16 packets. Packets
// split on frame boundaries so no sample straddles two datagrams.
type L16Payloader struct {
	payloaderBase
	frameBytes int
	maxBytes   int
	samples    uint32
	carry      []byte
}

// NewL16Payloader creates an L16 payloader with dynamic payload type 96 and
// a clock equal to the sample rate.
func NewL16Payloader(rate uint32, channels uint16, mtu int) (*L16Payloader, error) {
	base, err := newPayloaderBase("rtpL16pay", media.RawCaps(rate, channels), PayloadTypeDynamic, rate, mtu)
	if err != nil {
		return nil, err
	}
	frameBytes := int(channels) * 2
	maxBytes := base.pk.MaxPayload() / frameBytes * frameBytes
	if maxBytes == 0 {
		return nil, fmt.Errorf("%w: %d channels in %d bytes", ErrMTUTooSmall, channels, base.pk.MaxPayload())
	}
	return &L16Payloader{payloaderBase: base, frameBytes: frameBytes, maxBytes: maxBytes}, nil
}

// Process splits the buffer into packets. RTP timestamps advance by the
// number of frames sent.
func (l *L16Payloader) Process(buf media.Buffer) ([]media.Buffer, error) {
	if l.closed {
		return nil, ErrClosed
	}
	if !l.started {
		l.rtpTime(buf.Timestamp)
	}

	data := buf.Payload
	if len(l.carry) > 0 {
		data = append(l.carry, data...)
		l.carry = nil
	}
	whole := len(data) / l.frameBytes * l.frameBytes
	if whole < len(data) {
		l.carry = append([]byte(nil), data[whole:]...)
	}

	var out []media.Buffer
	for off := 0; off < whole; off += l.maxBytes {
		end := off + l.maxBytes
		if end > whole {
			end = whole
		}
		be := make([]byte, end-off)
		for i := 0; i+1 < len(be); i += 2 {
			binary.BigEndian.PutUint16(be[i:], binary.LittleEndian.Uint16(data[off+i:]))
		}
		frames := uint32((end - off) / l.frameBytes)

		pkt, err := l.pk.Packet(be, l.samples, false)
		if err != nil {
			return out, err
		}
		out = append(out, media.Buffer{
			Payload:   pkt,
			Timestamp: buf.Timestamp,
			Duration:  time.Duration(frames) * time.Second / time.Duration(l.pk.ClockRate()),
		})
		l.samples += frames
	}
	return out, nil
}

// AC3Payloader implements RFC 4184. Each AC3 frame goes into one packet when
// it fits; larger frames are fragmented.
type AC3Payloader struct {
	payloaderBase
}

// AC3 payload header frame types (RFC 4184 section 4.1.1).
const (
	AC3FrameComplete        = 0
	AC3FragmentInitialLarge = 1 // initial fragment with at least 5/8 of the frame
	AC3FragmentInitialSmall = 2
	AC3FragmentContinuation = 3
)

// NewAC3Payloader creates an AC3 payloader with payload type 96 and a clock
// equal to the sample rate.
func NewAC3Payloader(rate uint32, channels uint16, mtu int) (*AC3Payloader, error) {
	base, err := newPayloaderBase("rtpac3pay",
		media.Caps{Encoding: media.EncodingAC3, SampleRate: rate, Channels: channels},
		PayloadTypeDynamic, rate, mtu)
	if err != nil {
		return nil, err
	}
	return &AC3Payloader{payloaderBase: base}, nil
}

// Process payloads one AC3 frame.
func (a *AC3Payloader) Process(buf media.Buffer) ([]media.Buffer, error) {
	if a.closed {
		return nil, ErrClosed
	}
	ts := a.rtpTime(buf.Timestamp)
	frame := buf.Payload
	room := a.pk.MaxPayload() - 2

	if len(frame) <= room {
		payload := append([]byte{AC3FrameComplete, 1}, frame...)
		pkt, err := a.pk.Packet(payload, ts, true)
		if err != nil {
			return nil, err
		}
		return []media.Buffer{{Payload: pkt, Timestamp: buf.Timestamp, Duration: buf.Duration}}, nil
	}

	nf := (len(frame) + room - 1) / room
	if nf > 255 {
		return nil, fmt.Errorf("%w: %d byte AC3 frame needs %d fragments", ErrMTUTooSmall, len(frame), nf)
	}
	ft := byte(AC3FragmentInitialSmall)
	if room*8 >= len(frame)*5 {
		ft = AC3FragmentInitialLarge
	}

	out := make([]media.Buffer, 0, nf)
	for off := 0; off < len(frame); off += room {
		end := off + room
		if end > len(frame) {
			end = len(frame)
		}
		payload := append([]byte{ft, byte(nf)}, frame[off:end]...)
		pkt, err := a.pk.Packet(payload, ts, end == len(frame))
		if err != nil {
			return out, err
		}
		out = append(out, media.Buffer{Payload: pkt, Timestamp: buf.Timestamp})
		ft = AC3FragmentContinuation
	}
	out[len(out)-1].Duration = buf.Duration

	logrus.WithFields(logrus.Fields{
		"function":  "AC3Payloader.Process",
		"frame":     len(frame),
		"fragments": nf,
	}).Trace("Fragmented AC3 frame")

	return out, nil
}

// MPAPayloader implements RFC 2250 section 3.5 for MPEG audio: static payload
// type 14, a 90kHz clock and a 4 byte header carrying the fragment offset.
type MPAPayloader struct {
	payloaderBase
}

// NewMPAPayloader creates an MPEG audio payloader.
func NewMPAPayloader(rate uint32, channels uint16, mtu int) (*MPAPayloader, error) {
	base, err := newPayloaderBase("rtpmpapay",
		media.Caps{Encoding: media.EncodingMPEG, SampleRate: rate, Channels: channels},
		PayloadTypeMPA, MPAClockRate, mtu)
	if err != nil {
		return nil, err
	}
	return &MPAPayloader{payloaderBase: base}, nil
}

// Process payloads one MPEG audio frame, fragmenting when needed. The marker
// bit is set on the first packet of the stream.
func (m *MPAPayloader) Process(buf media.Buffer) ([]media.Buffer, error) {
	if m.closed {
		return nil, ErrClosed
	}
	first := !m.started
	ts := m.rtpTime(buf.Timestamp)
	frame := buf.Payload
	room := m.pk.MaxPayload() - 4
	if len(frame) > 0xFFFF {
		return nil, fmt.Errorf("%w: %d byte MPEG frame", ErrMTUTooSmall, len(frame))
	}

	var out []media.Buffer
	for off := 0; off < len(frame); off += room {
		end := off + room
		if end > len(frame) {
			end = len(frame)
		}
		payload := make([]byte, 4, 4+end-off)
		binary.BigEndian.PutUint16(payload[2:], uint16(off))
		payload = append(payload, frame[off:end]...)

		pkt, err := m.pk.Packet(payload, ts, first && off == 0)
		if err != nil {
			return out, err
		}
		out = append(out, media.Buffer{Payload: pkt, Timestamp: buf.Timestamp})
	}
	if len(out) > 0 {
		out[len(out)-1].Duration = buf.Duration
	}
	return out, nil
}

// OpusPayloader implements RFC 7587: one Opus packet per RTP packet, dynamic
// payload type 96 and a 48kHz clock.
type OpusPayloader struct {
	payloaderBase
}

// NewOpusPayloader creates an Opus payloader.
func NewOpusPayloader(channels uint16, mtu int) (*OpusPayloader, error) {
	base, err := newPayloaderBase("rtpopuspay",
		media.Caps{Encoding: media.EncodingOpus, SampleRate: OpusClockRate, Channels: channels},
		PayloadTypeDynamic, OpusClockRate, mtu)
	if err != nil {
		return nil, err
	}
	return &OpusPayloader{payloaderBase: base}, nil
}

// Process wraps one Opus packet.
func (o *OpusPayloader) Process(buf media.Buffer) ([]media.Buffer, error) {
	if o.closed {
		return nil, ErrClosed
	}
	ts := o.rtpTime(buf.Timestamp)
	pkt, err := o.pk.Packet(buf.Payload, ts, false)
	if err != nil {
		return nil, err
	}
	return []media.Buffer{{Payload: pkt, Timestamp: buf.Timestamp, Duration: buf.Duration}}, nil
}
