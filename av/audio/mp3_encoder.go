package audio

import (
	"bytes"
	"fmt"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/viert/lame"

	"github.com/opd-ai/rtpsend/media"
)

// DefaultMP3Bitrate is the MP3 bitrate in kbit/s.
const DefaultMP3Bitrate = 192

// MP3EncoderConfig configures the lame encoder.
type MP3EncoderConfig struct {
	SampleRate int
	Channels   int
	Bitrate    int // kbit/s
	Quality    int // lame quality 0 (best) to 9
}

// MP3Encoder encodes S16LE to an MPEG-1 Layer III stream with lame. It is
// the fallback for the AC3 recipe.
type MP3Encoder struct {
	name   string
	config MP3EncoderConfig
	out    *bytes.Buffer
	wr     *lame.LameWriter
	closed bool
}

// NewMP3Encoder initialises a lame writer into an in-memory buffer.
func NewMP3Encoder(config MP3EncoderConfig) (*MP3Encoder, error) {
	if config.Channels < 1 || config.Channels > 2 {
		return nil, fmt.Errorf("%w: mp3 supports 1 or 2 channels, got %d", ErrInvalidFormat, config.Channels)
	}
	switch config.SampleRate {
	case 16000, 22050, 24000, 32000, 44100, 48000:
	default:
		return nil, fmt.Errorf("%w: mp3 sample rate %d", ErrInvalidFormat, config.SampleRate)
	}
	if config.Bitrate <= 0 {
		config.Bitrate = DefaultMP3Bitrate
	}
	if config.Quality <= 0 {
		config.Quality = 5
	}

	out := new(bytes.Buffer)
	wr := lame.NewWriter(out)
	wr.Encoder.SetBitrate(config.Bitrate)
	wr.Encoder.SetQuality(config.Quality)
	wr.Encoder.SetNumChannels(config.Channels)
	wr.Encoder.SetInSamplerate(config.SampleRate)
	if config.Channels == 2 {
		wr.Encoder.SetMode(lame.JOINT_STEREO)
	}
	wr.Encoder.InitParams()

	e := &MP3Encoder{
		name:   "lamemp3enc-" + xid.New().String(),
		config: config,
		out:    out,
		wr:     wr,
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewMP3Encoder",
		"name":     e.name,
		"rate":     config.SampleRate,
		"channels": config.Channels,
		"bitrate":  config.Bitrate,
	}).Info("MP3 encoder created")

	return e, nil
}

// Name returns the stage instance name.
func (e *MP3Encoder) Name() string { return e.name }

// Caps reports raw input and MPEG audio output.
func (e *MP3Encoder) Caps() (sink, src media.Caps) {
	rate, ch := uint32(e.config.SampleRate), uint16(e.config.Channels)
	return media.RawCaps(rate, ch), media.Caps{Encoding: media.EncodingMPEG, SampleRate: rate, Channels: ch}
}

// Process encodes one buffer and returns the bytes lame produced, if any.
func (e *MP3Encoder) Process(buf media.Buffer) ([]media.Buffer, error) {
	if e.closed {
		return nil, ErrStageClosed
	}
	if _, err := e.wr.Write(buf.Payload); err != nil {
		return nil, fmt.Errorf("lame encode: %w", err)
	}
	return e.drain(buf), nil
}

func (e *MP3Encoder) drain(buf media.Buffer) []media.Buffer {
	if e.out.Len() == 0 {
		return nil
	}
	payload := make([]byte, e.out.Len())
	copy(payload, e.out.Bytes())
	e.out.Reset()
	return []media.Buffer{{Payload: payload, Timestamp: buf.Timestamp}}
}

// Close flushes and releases the lame encoder.
func (e *MP3Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.wr.Close(); err != nil {
		return fmt.Errorf("lame close: %w", err)
	}
	return nil
}
