package audio

import (
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/media"
)

// Resampler converts interleaved S16 audio between sample rates using linear
// interpolation. State carries across calls so a stream can be fed in
// arbitrary chunks.
type Resampler struct {
	inputRate   uint32
	outputRate  uint32
	channels    int
	lastSamples []int16 // last frame of the previous chunk
	position    float64 // fractional read position relative to the current chunk
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  uint32 // Input sample rate in Hz
	OutputRate uint32 // Output sample rate in Hz
	Channels   int    // Number of interleaved channels
}

// NewResampler creates a new audio resampler instance.
//
// Parameters:
//   - config: Resampler configuration
//
// Returns:
//   - *Resampler: New resampler instance
//   - error: ErrInvalidFormat for zero rates or unsupported channel counts
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	if config.InputRate == 0 || config.OutputRate == 0 {
		logrus.WithFields(logrus.Fields{
			"function":    "NewResampler",
			"input_rate":  config.InputRate,
			"output_rate": config.OutputRate,
		}).Error("Sample rate validation failed")
		return nil, fmt.Errorf("%w: input=%d output=%d", ErrInvalidFormat, config.InputRate, config.OutputRate)
	}

	if config.Channels < 1 || config.Channels > int(media.MaxChannels) {
		logrus.WithFields(logrus.Fields{
			"function": "NewResampler",
			"channels": config.Channels,
		}).Error("Channel count validation failed")
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidFormat, config.Channels)
	}

	r := &Resampler{
		inputRate:   config.InputRate,
		outputRate:  config.OutputRate,
		channels:    config.Channels,
		lastSamples: make([]int16, config.Channels),
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  r.inputRate,
		"output_rate": r.outputRate,
		"channels":    r.channels,
		"ratio":       float64(config.InputRate) / float64(config.OutputRate),
	}).Debug("Audio resampler created")

	return r, nil
}

func validateResamplerInput(input []int16, channels int) error {
	if len(input)%channels != 0 {
		return fmt.Errorf("%w: %d samples, %d channels", ErrUnaligned, len(input), channels)
	}
	return nil
}

// interpolateSample returns the sample for channel ch at inputIndex+frac.
// Index -1 refers to the last frame of the previous chunk.
func interpolateSample(input []int16, inputIndex int, frac float64, ch, channels, inputFrames int, lastSamples []int16) int16 {
	var s1, s2 int16
	switch {
	case inputIndex < 0:
		s1 = lastSamples[ch]
		s2 = input[ch]
	case inputIndex >= inputFrames-1:
		return input[(inputFrames-1)*channels+ch]
	default:
		s1 = input[inputIndex*channels+ch]
		s2 = input[(inputIndex+1)*channels+ch]
	}
	return int16(float64(s1)*(1.0-frac) + float64(s2)*frac)
}

// Resample converts one chunk. An empty chunk yields an empty result.
func (r *Resampler) Resample(input []int16) ([]int16, error) {
	if err := validateResamplerInput(input, r.channels); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Resample",
			"error":    err.Error(),
		}).Error("Input validation failed")
		return nil, err
	}
	if len(input) == 0 {
		return nil, nil
	}

	if r.inputRate == r.outputRate {
		out := make([]int16, len(input))
		copy(out, input)
		return out, nil
	}

	step := float64(r.inputRate) / float64(r.outputRate)
	inputFrames := len(input) / r.channels
	output := make([]int16, 0, int(float64(inputFrames)/step+1)*r.channels)

	for r.position < float64(inputFrames-1) {
		base := r.position
		idx := int(base)
		if base < 0 {
			idx = -1
		}
		frac := base - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			output = append(output, interpolateSample(input, idx, frac, ch, r.channels, inputFrames, r.lastSamples))
		}
		r.position += step
	}

	r.position -= float64(inputFrames)
	copy(r.lastSamples, input[len(input)-r.channels:])

	logrus.WithFields(logrus.Fields{
		"function":      "Resample",
		"input_frames":  inputFrames,
		"output_frames": len(output) / r.channels,
		"position":      r.position,
	}).Trace("Chunk resampled")

	return output, nil
}

// GetInputRate returns the configured input sample rate.
func (r *Resampler) GetInputRate() uint32 { return r.inputRate }

// GetOutputRate returns the configured output sample rate.
func (r *Resampler) GetOutputRate() uint32 { return r.outputRate }

// GetChannels returns the configured number of channels.
func (r *Resampler) GetChannels() int { return r.channels }

// CalculateOutputSize estimates the output sample count for inputSize samples.
func (r *Resampler) CalculateOutputSize(inputSize int) int {
	if r.inputRate == r.outputRate {
		return inputSize
	}
	ratio := float64(r.outputRate) / float64(r.inputRate)
	return int(float64(inputSize)*ratio + 0.5)
}

// Reset clears the interpolation state, for use after a discontinuity.
func (r *Resampler) Reset() {
	r.position = 0
	for i := range r.lastSamples {
		r.lastSamples[i] = 0
	}
}

// ResampleStage wraps a Resampler as a graph stage on S16LE buffers.
type ResampleStage struct {
	name      string
	resampler *Resampler
	produced  uint64 // output frames
	start     time.Duration
	started   bool
	closed    bool
}

// NewResampleStage creates a stage converting from inputRate to outputRate.
func NewResampleStage(inputRate, outputRate uint32, channels int) (*ResampleStage, error) {
	r, err := NewResampler(ResamplerConfig{
		InputRate:  inputRate,
		OutputRate: outputRate,
		Channels:   channels,
	})
	if err != nil {
		return nil, err
	}
	return &ResampleStage{
		name:      "audioresample-" + xid.New().String(),
		resampler: r,
	}, nil
}

// Name returns the stage instance name.
func (s *ResampleStage) Name() string { return s.name }

// Caps reports raw caps at the input and output rates.
func (s *ResampleStage) Caps() (sink, src media.Caps) {
	ch := uint16(s.resampler.channels)
	return media.RawCaps(s.resampler.inputRate, ch), media.RawCaps(s.resampler.outputRate, ch)
}

// Process resamples one buffer. Output timestamps follow the produced frame
// count from the first input timestamp, so they stay continuous.
func (s *ResampleStage) Process(buf media.Buffer) ([]media.Buffer, error) {
	if s.closed {
		return nil, ErrStageClosed
	}
	if !s.started {
		s.start = buf.Timestamp
		s.started = true
	}

	out, err := s.resampler.Resample(BytesToInt16(buf.Payload))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	rate := time.Duration(s.resampler.outputRate)
	frames := uint64(len(out) / s.resampler.channels)
	ts := s.start + time.Duration(s.produced)*time.Second/rate
	s.produced += frames

	return []media.Buffer{{
		Payload:   Int16ToBytes(out),
		Timestamp: ts,
		Duration:  time.Duration(frames) * time.Second / rate,
	}}, nil
}

// Close marks the stage closed.
func (s *ResampleStage) Close() error {
	s.closed = true
	return nil
}
