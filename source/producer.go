package source

import (
	"encoding/binary"
	"time"

	"github.com/opd-ai/rtpsend/media"
)

// Producer generates the audio a LiveSource pushes.
//
// Produce returns the next buffer. sizeHint is advisory; producers with a
// fixed chunk size ignore it. io.EOF marks the natural end of the input.
type Producer interface {
	Descriptor() media.Descriptor
	Produce(sizeHint int) (media.Buffer, error)
	Close() error
}

// Pacer is implemented by producers that want a specific feed interval.
type Pacer interface {
	Interval() time.Duration
}

// DefaultInterval is the feed interval of producers that are not Pacers.
const DefaultInterval = 100 * time.Millisecond

// IntervalOf returns the feed timer interval for p.
func IntervalOf(p Producer) time.Duration {
	if pacer, ok := p.(Pacer); ok && pacer.Interval() > 0 {
		return pacer.Interval()
	}
	return DefaultInterval
}

// packInts encodes samples little-endian at the given bit depth. Eight-bit
// output is unsigned.
func packInts(samples []int, bitDepth int) []byte {
	width := bitDepth / 8
	out := make([]byte, len(samples)*width)
	for i, v := range samples {
		p := out[i*width:]
		switch bitDepth {
		case 8:
			p[0] = byte(v + 128)
		case 16:
			binary.LittleEndian.PutUint16(p, uint16(int16(v)))
		case 24:
			p[0], p[1], p[2] = byte(v), byte(v>>8), byte(v>>16)
		case 32:
			binary.LittleEndian.PutUint32(p, uint32(int32(v)))
		}
	}
	return out
}

// scaleTo16 rescales a sample of the given bit depth to the int16 range.
func scaleTo16(v, bitDepth int) int {
	switch {
	case bitDepth == 16:
		return v
	case bitDepth < 16:
		return v << (16 - bitDepth)
	default:
		return v >> (bitDepth - 16)
	}
}

// clamp16 converts a float sample in [-1, 1] to int16 range.
func clamp16(f float32) int {
	v := int(f * 32767)
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}
