package source

import (
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/media"
)

// CaptureProducer reads the default audio input device in blocking mode,
// one 0.1s chunk per Produce.
type CaptureProducer struct {
	desc    media.Descriptor
	stream  *portaudio.Stream
	samples []int16
	frames  int64
	closed  bool
}

// NewCaptureProducer opens the default input device at rate and channels,
// 16-bit.
func NewCaptureProducer(rate uint32, channels uint16) (*CaptureProducer, error) {
	desc := media.Descriptor{Kind: media.KindPcm, SampleRate: rate, Channels: channels, BitDepth: 16}
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	framesPerBuffer := desc.BytesFor(ToneChunk) / desc.BytesPerFrame()
	samples := make([]int16, framesPerBuffer*int(channels))

	stream, err := portaudio.OpenDefaultStream(int(channels), 0, float64(rate), framesPerBuffer, &samples)
	if err != nil {
		portaudio.Terminate()
		logrus.WithFields(logrus.Fields{
			"function": "NewCaptureProducer",
			"format":   desc.String(),
			"error":    err.Error(),
		}).Error("Failed to open input stream")
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":          "NewCaptureProducer",
		"format":            desc.String(),
		"frames_per_buffer": framesPerBuffer,
	}).Info("Capturing from default input device")

	return &CaptureProducer{desc: desc, stream: stream, samples: samples}, nil
}

func (c *CaptureProducer) Descriptor() media.Descriptor { return c.desc }

func (c *CaptureProducer) Interval() time.Duration { return ToneChunk }

// Produce blocks until the device delivers the next chunk. Input overflow is
// logged and the captured data is still delivered.
func (c *CaptureProducer) Produce(int) (media.Buffer, error) {
	if err := c.stream.Read(); err != nil {
		if err != portaudio.InputOverflowed {
			return media.Buffer{}, fmt.Errorf("capture read: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "CaptureProducer.Produce",
		}).Warn("Input overflowed")
	}

	values := make([]int, len(c.samples))
	for i, s := range c.samples {
		values[i] = int(s)
	}

	frames := int64(len(c.samples) / int(c.desc.Channels))
	rate := int64(c.desc.SampleRate)
	ts := time.Duration(c.frames * int64(time.Second) / rate)
	c.frames += frames

	return media.Buffer{
		Payload:   packInts(values, 16),
		Timestamp: ts,
		Duration:  time.Duration(frames * int64(time.Second) / rate),
	}, nil
}

// Close stops the stream and releases portaudio.
func (c *CaptureProducer) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.stream.Stop(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CaptureProducer.Close",
			"error":    err.Error(),
		}).Warn("Failed to stop input stream")
	}
	if err := c.stream.Close(); err != nil {
		portaudio.Terminate()
		return err
	}
	return portaudio.Terminate()
}
