package media

import "fmt"

// Encoding names the media type flowing across a link between two stages.
type Encoding string

// Encodings understood by the stage builders.
const (
	EncodingAny  Encoding = "ANY"
	EncodingRaw  Encoding = "audio/x-raw"
	EncodingAC3  Encoding = "audio/x-ac3"
	EncodingMPEG Encoding = "audio/mpeg"
	EncodingOpus Encoding = "audio/x-opus"
	EncodingRTP  Encoding = "application/x-rtp"
)

// Caps describes what a stage accepts on its sink side or produces on its
// source side. Zero rate or channel fields match anything.
type Caps struct {
	Encoding   Encoding
	SampleRate uint32
	Channels   uint16
}

// RawCaps returns S16LE caps for the given rate and channel count.
func RawCaps(rate uint32, channels uint16) Caps {
	return Caps{Encoding: EncodingRaw, SampleRate: rate, Channels: channels}
}

// CanLinkTo reports whether data described by c may flow into a stage
// accepting sink.
func (c Caps) CanLinkTo(sink Caps) bool {
	if c.Encoding != EncodingAny && sink.Encoding != EncodingAny && c.Encoding != sink.Encoding {
		return false
	}
	if c.SampleRate != 0 && sink.SampleRate != 0 && c.SampleRate != sink.SampleRate {
		return false
	}
	if c.Channels != 0 && sink.Channels != 0 && c.Channels != sink.Channels {
		return false
	}
	return true
}

// String renders caps in a gst-like notation for logs.
func (c Caps) String() string {
	return fmt.Sprintf("%s,rate=%d,channels=%d", c.Encoding, c.SampleRate, c.Channels)
}

// Pad is the boundary attachment point of a subgraph. The live source pushes
// into exactly one pad at a time.
type Pad interface {
	Chain(buf Buffer) error
}

// PadFunc adapts a function to the Pad interface.
type PadFunc func(buf Buffer) error

// Chain calls f(buf).
func (f PadFunc) Chain(buf Buffer) error {
	return f(buf)
}
