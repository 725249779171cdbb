package source

import (
	"fmt"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/media"
)

// Tone defaults.
const (
	ToneFrequency = 440.0
	ToneAmplitude = 32000.0 // at 16 bits, scaled for other depths
	ToneChunk     = 100 * time.Millisecond
)

// ToneProducer synthesises a continuous sine wave in fixed 0.1s chunks.
type ToneProducer struct {
	desc      media.Descriptor
	frequency float64
	amplitude float64
	phase     float64
	frames    int64
}

// NewToneProducer creates a 440 Hz tone generator for desc.
func NewToneProducer(desc media.Descriptor) (*ToneProducer, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("tone: %w", err)
	}

	amplitude := ToneAmplitude * math.Pow(2, float64(desc.BitDepth)-16)

	logrus.WithFields(logrus.Fields{
		"function":  "NewToneProducer",
		"format":    desc.String(),
		"frequency": ToneFrequency,
	}).Info("Creating tone producer")

	return &ToneProducer{
		desc:      desc,
		frequency: ToneFrequency,
		amplitude: amplitude,
	}, nil
}

// Descriptor returns the tone format.
func (t *ToneProducer) Descriptor() media.Descriptor { return t.desc }

// Interval returns the chunk duration.
func (t *ToneProducer) Interval() time.Duration { return ToneChunk }

// Produce synthesises the next 0.1s of tone. The phase carries across calls.
func (t *ToneProducer) Produce(int) (media.Buffer, error) {
	channels := int(t.desc.Channels)
	frames := t.desc.BytesFor(ToneChunk) / t.desc.BytesPerFrame()

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: int(t.desc.SampleRate)},
		Data:           make([]int, frames*channels),
		SourceBitDepth: int(t.desc.BitDepth),
	}

	step := 2 * math.Pi * t.frequency / float64(t.desc.SampleRate)
	for i := 0; i < frames; i++ {
		v := int(t.amplitude * math.Sin(t.phase))
		for c := 0; c < channels; c++ {
			buf.Data[i*channels+c] = v
		}
		t.phase += step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}

	ts := time.Duration(t.frames * int64(time.Second) / int64(t.desc.SampleRate))
	t.frames += int64(frames)

	return media.Buffer{
		Payload:   packInts(buf.Data, buf.SourceBitDepth),
		Timestamp: ts,
		Duration:  time.Duration(int64(buf.NumFrames()) * int64(time.Second) / int64(t.desc.SampleRate)),
	}, nil
}

// Close does nothing.
func (t *ToneProducer) Close() error { return nil }
