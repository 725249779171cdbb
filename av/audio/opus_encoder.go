package audio

import (
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"

	"github.com/opd-ai/rtpsend/media"
)

// OpusFrameDuration is the duration of one encoded Opus packet.
const OpusFrameDuration = 20 * time.Millisecond

// maxOpusPacket bounds a single encoded packet.
const maxOpusPacket = 4000

// OpusEncoderConfig configures the libopus encoder.
type OpusEncoderConfig struct {
	SampleRate int
	Channels   int
	Bitrate    int // bits per second, 64000 per channel when zero
}

// OpusEncoder encodes S16LE into 20ms Opus packets. Input is accumulated
// until a full frame is available.
type OpusEncoder struct {
	name      string
	config    OpusEncoderConfig
	encoder   *opus.Encoder
	frameSize int // samples per channel
	pending   []int16
	packets   uint64
	start     time.Duration
	started   bool
	closed    bool
}

// NewOpusEncoder creates an encoder in audio (music) mode.
func NewOpusEncoder(config OpusEncoderConfig) (*OpusEncoder, error) {
	switch config.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("%w: opus sample rate %d", ErrInvalidFormat, config.SampleRate)
	}
	if config.Channels < 1 || config.Channels > 2 {
		return nil, fmt.Errorf("%w: opus supports 1 or 2 channels, got %d", ErrInvalidFormat, config.Channels)
	}

	enc, err := opus.NewEncoder(config.SampleRate, config.Channels, opus.AppAudio)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewOpusEncoder",
			"error":    err.Error(),
		}).Error("Failed to create opus encoder")
		return nil, fmt.Errorf("%w: opus: %v", ErrEncoderUnavailable, err)
	}

	if config.Bitrate <= 0 {
		config.Bitrate = 64000 * config.Channels
	}
	if err := enc.SetBitrate(config.Bitrate); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewOpusEncoder",
			"bitrate":  config.Bitrate,
			"error":    err.Error(),
		}).Warn("Failed to set opus bitrate, using encoder default")
	}

	e := &OpusEncoder{
		name:      "opusenc-" + xid.New().String(),
		config:    config,
		encoder:   enc,
		frameSize: config.SampleRate / int(time.Second/OpusFrameDuration),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewOpusEncoder",
		"name":       e.name,
		"rate":       config.SampleRate,
		"channels":   config.Channels,
		"bitrate":    config.Bitrate,
		"frame_size": e.frameSize,
	}).Info("Opus encoder created")

	return e, nil
}

// Name returns the stage instance name.
func (e *OpusEncoder) Name() string { return e.name }

// Caps reports raw input and Opus output.
func (e *OpusEncoder) Caps() (sink, src media.Caps) {
	rate, ch := uint32(e.config.SampleRate), uint16(e.config.Channels)
	return media.RawCaps(rate, ch), media.Caps{Encoding: media.EncodingOpus, SampleRate: rate, Channels: ch}
}

// FrameSize returns the samples per channel in one packet.
func (e *OpusEncoder) FrameSize() int { return e.frameSize }

// Process appends PCM and emits one buffer per complete frame.
func (e *OpusEncoder) Process(buf media.Buffer) ([]media.Buffer, error) {
	if e.closed {
		return nil, ErrStageClosed
	}
	if !e.started {
		e.start = buf.Timestamp
		e.started = true
	}

	e.pending = append(e.pending, BytesToInt16(buf.Payload)...)
	frameSamples := e.frameSize * e.config.Channels

	var out []media.Buffer
	for len(e.pending) >= frameSamples {
		packet := make([]byte, maxOpusPacket)
		n, err := e.encoder.Encode(e.pending[:frameSamples], packet)
		if err != nil {
			return out, fmt.Errorf("opus encode: %w", err)
		}
		e.pending = e.pending[frameSamples:]

		out = append(out, media.Buffer{
			Payload:   packet[:n],
			Timestamp: e.start + time.Duration(e.packets)*OpusFrameDuration,
			Duration:  OpusFrameDuration,
		})
		e.packets++
	}

	if len(e.pending) == 0 {
		e.pending = nil
	}
	return out, nil
}

// Packets returns the number of packets encoded.
func (e *OpusEncoder) Packets() uint64 { return e.packets }

// Close drops buffered input.
func (e *OpusEncoder) Close() error {
	e.closed = true
	e.pending = nil
	return nil
}
