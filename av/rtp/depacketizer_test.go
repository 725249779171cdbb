package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rtpsend/limits"
)

func TestDepacketizerTracksStreams(t *testing.T) {
	first, err := NewPacketizer(PayloadTypeDynamic, 48000, limits.DefaultMTU)
	require.NoError(t, err)
	second, err := NewPacketizer(PayloadTypeMPA, MPAClockRate, limits.DefaultMTU)
	require.NoError(t, err)

	d := NewDepacketizer()

	for i := 0; i < 3; i++ {
		data, err := first.Packet([]byte{1, 2}, uint32(i), false)
		require.NoError(t, err)
		if i == 1 {
			continue // lose one packet
		}
		pkt, err := d.Process(data)
		require.NoError(t, err)
		assert.Equal(t, first.SSRC(), pkt.SSRC)
	}

	data, err := second.Packet([]byte{0, 0, 0, 0, 9}, 0, true)
	require.NoError(t, err)
	pkt, err := d.Process(data)
	require.NoError(t, err)
	assert.Equal(t, uint8(PayloadTypeMPA), pkt.PayloadType)

	stats := d.Stats()
	assert.Equal(t, uint64(3), stats.Packets)
	assert.Equal(t, uint64(1), stats.SequenceGaps)
	assert.Equal(t, uint64(1), stats.SSRCChanges)
	assert.Equal(t, uint64(2), stats.ByPayload[PayloadTypeDynamic])
	assert.Equal(t, uint64(1), stats.ByPayload[PayloadTypeMPA])

	_, err = d.Process(nil)
	assert.ErrorIs(t, err, ErrMalformedPayload)
	_, err = d.Process([]byte{0x80})
	assert.Error(t, err)
}

func TestAC3ReassemblerEdgeCases(t *testing.T) {
	var r AC3Reassembler

	_, err := r.Push([]byte{0}, false)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	got, err := r.Push([]byte{AC3FragmentContinuation, 2, 1, 2}, true)
	require.NoError(t, err)
	assert.Nil(t, got, "continuation without an initial fragment is dropped")

	got, err = r.Push([]byte{AC3FrameComplete, 1, 7, 8}, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 8}, got)
}

func TestMPAReassemblerDropsOutOfOrder(t *testing.T) {
	var r MPAReassembler

	_, err := r.Push([]byte{0, 0})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	done, err := r.Push([]byte{0, 0, 0, 0, 1, 2})
	require.NoError(t, err)
	assert.Nil(t, done)

	done, err = r.Push([]byte{0, 0, 0, 5, 3})
	require.NoError(t, err)
	assert.Nil(t, done)
	assert.Nil(t, r.Flush(), "a gap discards the partial frame")

	_, _ = r.Push([]byte{0, 0, 0, 0, 4})
	done, err = r.Push([]byte{0, 0, 0, 0, 5})
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, done)
}
