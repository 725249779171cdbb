package audio

import (
	"fmt"
	"time"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// OpusDecoder decodes received Opus packets with the pure Go pion decoder.
// The pion decoder handles SILK-mode packets only; other packets return an
// error and callers fall back to dumping the raw payload.
type OpusDecoder struct {
	decoder opus.Decoder
	output  []byte
	frames  uint64
}

// NewOpusDecoder creates a decoder sized for 20ms stereo frames at 48kHz.
func NewOpusDecoder() *OpusDecoder {
	samples := 48000 * int(OpusFrameDuration/time.Millisecond) / 1000
	return &OpusDecoder{
		decoder: opus.NewDecoder(),
		output:  make([]byte, samples*2*2),
	}
}

// Decode returns interleaved S16 samples, the decoded sample rate and
// whether the packet was stereo.
func (d *OpusDecoder) Decode(packet []byte) ([]int16, uint32, bool, error) {
	if len(packet) == 0 {
		return nil, 0, false, fmt.Errorf("%w: empty opus packet", ErrInvalidFormat)
	}

	bandwidth, isStereo, err := d.decoder.Decode(packet, d.output)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OpusDecoder.Decode",
			"size":     len(packet),
			"error":    err.Error(),
		}).Debug("Opus decode failed")
		return nil, 0, false, fmt.Errorf("opus decode: %w", err)
	}

	rate := uint32(bandwidth.SampleRate())
	channels := 1
	if isStereo {
		channels = 2
	}
	count := int(rate) * int(OpusFrameDuration/time.Millisecond) / 1000 * channels
	if count*2 > len(d.output) {
		count = len(d.output) / 2
	}
	d.frames++

	return BytesToInt16(d.output[:count*2]), rate, isStereo, nil
}

// Frames returns the number of packets decoded.
func (d *OpusDecoder) Frames() uint64 { return d.frames }
