// Package media defines the data model shared by every stage of the sender:
// audio format descriptors, timestamped buffers, stage capabilities and the
// boundary pad a subgraph exposes to the live source.
package media

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the audio format category a subgraph is built for.
type Kind uint8

const (
	// KindUnknown means no format has been decided yet.
	KindUnknown Kind = iota
	// KindPcm is raw interleaved linear PCM.
	KindPcm
	// KindAc3 is a Dolby AC-3 compressed bitstream.
	KindAc3
	// KindOpus is an Opus compressed stream.
	KindOpus
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPcm:
		return "pcm"
	case KindAc3:
		return "ac3"
	case KindOpus:
		return "opus"
	default:
		return "unknown"
	}
}

// ParseKind maps a user supplied name onto a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pcm", "l16", "raw":
		return KindPcm, nil
	case "ac3", "a52":
		return KindAc3, nil
	case "opus":
		return KindOpus, nil
	default:
		return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
}

// Default descriptor values used when the producer does not report its own.
const (
	DefaultSampleRate uint32 = 48000
	DefaultChannels   uint16 = 2
	DefaultBitDepth   uint16 = 16

	MinSampleRate uint32 = 8000
	MaxSampleRate uint32 = 192000
	MaxChannels   uint16 = 8
)

// Descriptor describes the audio a subgraph is built for. It is treated as
// immutable once a subgraph has been constructed from it.
type Descriptor struct {
	Kind       Kind
	SampleRate uint32
	Channels   uint16
	BitDepth   uint16
}

// DefaultDescriptor returns 48 kHz stereo 16-bit PCM.
func DefaultDescriptor() Descriptor {
	return Descriptor{
		Kind:       KindPcm,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		BitDepth:   DefaultBitDepth,
	}
}

// WithKind returns a copy of d declaring a different format kind.
func (d Descriptor) WithKind(k Kind) Descriptor {
	d.Kind = k
	return d
}

// Validate checks the structural invariants of the descriptor.
func (d Descriptor) Validate() error {
	if d.Kind == KindUnknown {
		return fmt.Errorf("%w: kind not set", ErrInvalidDescriptor)
	}
	if d.SampleRate < MinSampleRate || d.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate %d outside %d..%d",
			ErrInvalidDescriptor, d.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if d.Channels == 0 || d.Channels > MaxChannels {
		return fmt.Errorf("%w: channels %d outside 1..%d", ErrInvalidDescriptor, d.Channels, MaxChannels)
	}
	switch d.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidDescriptor, d.BitDepth)
	}
	return nil
}

// BytesPerFrame returns the size of one interleaved sample frame.
func (d Descriptor) BytesPerFrame() int {
	return int(d.Channels) * int(d.BitDepth) / 8
}

// ByteRate returns the number of payload bytes per second of audio.
func (d Descriptor) ByteRate() int {
	return int(d.SampleRate) * d.BytesPerFrame()
}

// DurationOf converts a byte count into the playback time it represents.
func (d Descriptor) DurationOf(n int) time.Duration {
	rate := d.ByteRate()
	if rate == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// BytesFor returns the frame-aligned byte count covering duration.
func (d Descriptor) BytesFor(duration time.Duration) int {
	frames := int64(d.SampleRate) * int64(duration) / int64(time.Second)
	return int(frames) * d.BytesPerFrame()
}

// String renders the descriptor for logs.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s/%dHz/%dch/%dbit", d.Kind, d.SampleRate, d.Channels, d.BitDepth)
}

// Buffer is a timestamped chunk of audio bytes. A buffer handed to a stage
// belongs to that stage; a stage that needs bytes after returning copies them.
type Buffer struct {
	Payload   []byte
	Timestamp time.Duration
	Duration  time.Duration
}

// Len returns the payload size in bytes.
func (b Buffer) Len() int {
	return len(b.Payload)
}

// End returns the timestamp just past the last sample of the buffer.
func (b Buffer) End() time.Duration {
	return b.Timestamp + b.Duration
}
