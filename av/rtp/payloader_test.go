package rtp

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rtpsend/limits"
	"github.com/opd-ai/rtpsend/media"
)

func unmarshal(t *testing.T, data []byte) *rtp.Packet {
	t.Helper()
	pkt := &rtp.Packet{}
	require.NoError(t, pkt.Unmarshal(data))
	return pkt
}

func TestNewPacketizer(t *testing.T) {
	tests := []struct {
		name    string
		clock   uint32
		mtu     int
		wantErr error
	}{
		{"valid", 48000, limits.DefaultMTU, nil},
		{"zero_clock", 0, limits.DefaultMTU, ErrInvalidClockRate},
		{"mtu_too_small", 48000, 10, limits.ErrInvalidMTU},
		{"mtu_too_large", 48000, limits.MaxDatagram + 1, limits.ErrInvalidMTU},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPacketizer(PayloadTypeDynamic, tt.clock, tt.mtu)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, limits.DefaultMTU-limits.RTPHeaderSize, p.MaxPayload())
		})
	}
}

func TestPacketizerSequence(t *testing.T) {
	p, err := NewPacketizer(PayloadTypeMPA, MPAClockRate, limits.DefaultMTU)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		data, err := p.Packet([]byte{byte(i)}, uint32(i*10), i == 0)
		require.NoError(t, err)

		pkt := unmarshal(t, data)
		assert.Equal(t, uint8(2), pkt.Version)
		assert.Equal(t, uint16(i), pkt.SequenceNumber)
		assert.Equal(t, uint32(i*10), pkt.Timestamp)
		assert.Equal(t, p.SSRC(), pkt.SSRC)
		assert.Equal(t, uint8(PayloadTypeMPA), pkt.PayloadType)
		assert.Equal(t, i == 0, pkt.Marker)
	}
	assert.Equal(t, uint64(3), p.Packets())
	assert.Equal(t, uint64(3), p.Octets())

	_, err = p.Packet(nil, 0, false)
	assert.ErrorIs(t, err, limits.ErrPayloadEmpty)
	_, err = p.Packet(make([]byte, p.MaxPayload()+1), 0, false)
	assert.ErrorIs(t, err, limits.ErrPayloadTooLarge)
}

func TestRTPTime(t *testing.T) {
	p, err := NewPacketizer(PayloadTypeMPA, MPAClockRate, limits.DefaultMTU)
	require.NoError(t, err)
	assert.Equal(t, uint32(2160), p.RTPTime(24*time.Millisecond))
	assert.Equal(t, uint32(90000), p.RTPTime(time.Second))
}

func TestL16PayloaderSplitsOnFrames(t *testing.T) {
	// 64 byte MTU leaves 52 payload bytes: 13 stereo frames per packet.
	l, err := NewL16Payloader(48000, 2, 64)
	require.NoError(t, err)
	defer l.Close()

	samples := make([]int16, 200) // 100 frames
	for i := range samples {
		samples[i] = int16(i * 3)
	}
	le := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(le[i*2:], uint16(s))
	}

	out, err := l.Process(media.Buffer{Payload: le, Timestamp: time.Second})
	require.NoError(t, err)
	require.Len(t, out, 8)

	var reassembled []byte
	for i, b := range out {
		pkt := unmarshal(t, b.Payload)
		assert.Equal(t, uint32(i*13), pkt.Timestamp)
		assert.Equal(t, uint8(PayloadTypeDynamic), pkt.PayloadType)
		assert.Zero(t, len(pkt.Payload)%4)
		assert.LessOrEqual(t, len(b.Payload), 64)
		reassembled = append(reassembled, pkt.Payload...)
	}

	for i, s := range samples {
		assert.Equal(t, uint16(s), binary.BigEndian.Uint16(reassembled[i*2:]))
	}
	assert.Equal(t, le, L16ToLittleEndian(reassembled))

	sink, src := l.Caps()
	assert.Equal(t, media.RawCaps(48000, 2), sink)
	assert.Equal(t, media.EncodingRTP, src.Encoding)
}

func TestL16PayloaderCarriesPartialFrame(t *testing.T) {
	l, err := NewL16Payloader(8000, 1, limits.DefaultMTU)
	require.NoError(t, err)

	out, err := l.Process(media.Buffer{Payload: []byte{1, 2, 3}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []byte{2, 1}, unmarshal(t, out[0].Payload).Payload)

	out, err = l.Process(media.Buffer{Payload: []byte{4}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	pkt := unmarshal(t, out[0].Payload)
	assert.Equal(t, []byte{4, 3}, pkt.Payload)
	assert.Equal(t, uint32(1), pkt.Timestamp)

	require.NoError(t, l.Close())
	_, err = l.Process(media.Buffer{Payload: []byte{0, 0}})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAC3PayloaderWholeFrame(t *testing.T) {
	a, err := NewAC3Payloader(48000, 2, limits.DefaultMTU)
	require.NoError(t, err)

	frame := bytes.Repeat([]byte{0xAB}, 768)
	frame[0], frame[1] = 0x0B, 0x77

	first, err := a.Process(media.Buffer{Payload: frame, Timestamp: 5 * time.Second, Duration: 32 * time.Millisecond})
	require.NoError(t, err)
	require.Len(t, first, 1)
	pkt := unmarshal(t, first[0].Payload)
	assert.Equal(t, []byte{AC3FrameComplete, 1}, pkt.Payload[:2])
	assert.Equal(t, frame, pkt.Payload[2:])
	assert.Equal(t, uint32(0), pkt.Timestamp)
	assert.True(t, pkt.Marker)

	second, err := a.Process(media.Buffer{Payload: frame, Timestamp: 5*time.Second + 32*time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, uint32(1536), unmarshal(t, second[0].Payload).Timestamp)
}

func TestAC3PayloaderFragments(t *testing.T) {
	a, err := NewAC3Payloader(48000, 2, 200) // 186 bytes room after the 2 byte header
	require.NoError(t, err)

	frame := make([]byte, 500)
	for i := range frame {
		frame[i] = byte(i)
	}

	out, err := a.Process(media.Buffer{Payload: frame, Duration: 32 * time.Millisecond})
	require.NoError(t, err)
	require.Len(t, out, 3)

	var r AC3Reassembler
	var rebuilt []byte
	for i, b := range out {
		pkt := unmarshal(t, b.Payload)
		assert.Equal(t, byte(3), pkt.Payload[1], "NF carries the fragment count")
		switch i {
		case 0:
			assert.Equal(t, byte(AC3FragmentInitialSmall), pkt.Payload[0])
		default:
			assert.Equal(t, byte(AC3FragmentContinuation), pkt.Payload[0])
		}
		assert.Equal(t, i == 2, pkt.Marker)

		got, err := r.Push(pkt.Payload, pkt.Marker)
		require.NoError(t, err)
		if got != nil {
			rebuilt = got
		}
	}
	assert.Equal(t, frame, rebuilt)
	assert.Equal(t, 32*time.Millisecond, out[2].Duration)
}

func TestAC3PayloaderLargeInitialFragment(t *testing.T) {
	a, err := NewAC3Payloader(48000, 2, 200)
	require.NoError(t, err)

	out, err := a.Process(media.Buffer{Payload: make([]byte, 250)})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, byte(AC3FragmentInitialLarge), unmarshal(t, out[0].Payload).Payload[0])
}

func TestMPAPayloader(t *testing.T) {
	m, err := NewMPAPayloader(44100, 2, 300) // 284 bytes room after the 4 byte header
	require.NoError(t, err)

	frame := make([]byte, 417)
	for i := range frame {
		frame[i] = byte(i * 7)
	}

	out, err := m.Process(media.Buffer{Payload: frame, Timestamp: time.Second})
	require.NoError(t, err)
	require.Len(t, out, 2)

	first := unmarshal(t, out[0].Payload)
	second := unmarshal(t, out[1].Payload)
	assert.Equal(t, uint8(PayloadTypeMPA), first.PayloadType)
	assert.True(t, first.Marker)
	assert.False(t, second.Marker)
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(first.Payload[2:]))
	assert.Equal(t, uint16(284), binary.BigEndian.Uint16(second.Payload[2:]))
	assert.Equal(t, first.Timestamp, second.Timestamp)

	var r MPAReassembler
	done, err := r.Push(first.Payload)
	require.NoError(t, err)
	assert.Nil(t, done)
	done, err = r.Push(second.Payload)
	require.NoError(t, err)
	assert.Nil(t, done)
	assert.Equal(t, frame, r.Flush())

	next, err := m.Process(media.Buffer{Payload: frame[:100], Timestamp: time.Second + 26*time.Millisecond})
	require.NoError(t, err)
	require.Len(t, next, 1)
	pkt := unmarshal(t, next[0].Payload)
	assert.False(t, pkt.Marker)
	assert.Equal(t, uint32(2340), pkt.Timestamp)
}

func TestOpusPayloader(t *testing.T) {
	o, err := NewOpusPayloader(2, limits.DefaultMTU)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		out, err := o.Process(media.Buffer{
			Payload:   []byte{0xFC, byte(i)},
			Timestamp: time.Duration(i) * 20 * time.Millisecond,
			Duration:  20 * time.Millisecond,
		})
		require.NoError(t, err)
		require.Len(t, out, 1)

		pkt := unmarshal(t, out[0].Payload)
		assert.Equal(t, uint32(i*960), pkt.Timestamp)
		assert.Equal(t, []byte{0xFC, byte(i)}, pkt.Payload)
	}

	sink, _ := o.Caps()
	assert.Equal(t, media.EncodingOpus, sink.Encoding)
	assert.Equal(t, uint32(OpusClockRate), sink.SampleRate)
}
