package audio

import (
	"fmt"

	goaudio "github.com/go-audio/audio"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/media"
)

// ConverterConfig describes the converter input and the wanted channel layout.
type ConverterConfig struct {
	SampleRate     uint32
	InputChannels  int
	OutputChannels int
	InputBitDepth  int
	Gain           float64 // 0 means unity
}

// Converter turns interleaved PCM of any supported bit depth into S16LE with
// the requested channel count. Bytes that do not fill a whole frame are
// carried over to the next buffer.
type Converter struct {
	name   string
	config ConverterConfig
	chain  *EffectChain
	carry  []byte
	frames uint64
	closed bool
}

// NewConverter validates config and returns a converter stage.
func NewConverter(config ConverterConfig) (*Converter, error) {
	if err := validateConverterConfig(config); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewConverter",
			"error":    err.Error(),
		}).Error("Converter configuration rejected")
		return nil, err
	}

	chain := NewEffectChain()
	if config.Gain != 0 && config.Gain != 1.0 {
		gain, err := NewGainEffect(config.Gain)
		if err != nil {
			return nil, err
		}
		chain.AddEffect(gain)
	}

	c := &Converter{
		name:   "audioconvert-" + xid.New().String(),
		config: config,
		chain:  chain,
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewConverter",
		"name":            c.name,
		"sample_rate":     config.SampleRate,
		"input_channels":  config.InputChannels,
		"output_channels": config.OutputChannels,
		"input_bit_depth": config.InputBitDepth,
		"effects":         chain.String(),
	}).Debug("Converter created")

	return c, nil
}

func validateConverterConfig(config ConverterConfig) error {
	switch config.InputBitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: bit depth %d", ErrInvalidFormat, config.InputBitDepth)
	}
	if config.InputChannels < 1 || config.InputChannels > int(media.MaxChannels) {
		return fmt.Errorf("%w: input channels %d", ErrInvalidFormat, config.InputChannels)
	}
	if config.OutputChannels < 1 || config.OutputChannels > int(media.MaxChannels) {
		return fmt.Errorf("%w: output channels %d", ErrInvalidFormat, config.OutputChannels)
	}
	if config.SampleRate == 0 {
		return fmt.Errorf("%w: sample rate 0", ErrInvalidFormat)
	}
	return nil
}

// Name returns the stage instance name.
func (c *Converter) Name() string { return c.name }

// Caps reports raw caps on both sides.
func (c *Converter) Caps() (sink, src media.Caps) {
	return media.RawCaps(c.config.SampleRate, uint16(c.config.InputChannels)),
		media.RawCaps(c.config.SampleRate, uint16(c.config.OutputChannels))
}

// Process converts one buffer. Timestamp and duration pass through.
func (c *Converter) Process(buf media.Buffer) ([]media.Buffer, error) {
	if c.closed {
		return nil, ErrStageClosed
	}

	frameBytes := c.config.InputChannels * c.config.InputBitDepth / 8
	data := buf.Payload
	if len(c.carry) > 0 {
		data = append(c.carry, data...)
		c.carry = nil
	}
	whole := len(data) / frameBytes * frameBytes
	if whole < len(data) {
		c.carry = append([]byte(nil), data[whole:]...)
	}
	if whole == 0 {
		return nil, nil
	}

	in := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: c.config.InputChannels,
			SampleRate:  int(c.config.SampleRate),
		},
		Data:           decodeInts(data[:whole], c.config.InputBitDepth),
		SourceBitDepth: c.config.InputBitDepth,
	}

	samples := c.remix(in)
	samples, err := c.chain.Process(samples)
	if err != nil {
		return nil, err
	}
	c.frames += uint64(in.NumFrames())

	return []media.Buffer{{
		Payload:   Int16ToBytes(samples),
		Timestamp: buf.Timestamp,
		Duration:  buf.Duration,
	}}, nil
}

// remix rescales to 16 bit and maps input channels onto output channels.
// Mono output averages every input channel; wider output repeats the input
// layout; narrower output averages the input channels that fold onto it.
func (c *Converter) remix(in *goaudio.IntBuffer) []int16 {
	inCh := in.Format.NumChannels
	outCh := c.config.OutputChannels
	frames := in.NumFrames()
	out := make([]int16, frames*outCh)

	for f := 0; f < frames; f++ {
		frame := in.Data[f*inCh : (f+1)*inCh]
		for o := 0; o < outCh; o++ {
			switch {
			case inCh == outCh:
				out[f*outCh+o] = to16(frame[o], in.SourceBitDepth)
			case outCh > inCh:
				out[f*outCh+o] = to16(frame[o%inCh], in.SourceBitDepth)
			default:
				sum, n := 0, 0
				for i := o; i < inCh; i += outCh {
					sum += frame[i]
					n++
				}
				out[f*outCh+o] = to16(sum/n, in.SourceBitDepth)
			}
		}
	}
	return out
}

// Frames returns the number of input frames converted so far.
func (c *Converter) Frames() uint64 { return c.frames }

// Close releases the effect chain.
func (c *Converter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.carry = nil
	return c.chain.Close()
}
