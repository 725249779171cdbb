package audio

import (
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/media"
)

// FrameHeader describes one compressed frame found by a parser.
type FrameHeader struct {
	Size       int // bytes, header included
	Samples    int // samples per channel
	SampleRate int
	Channels   int
}

// headerFunc inspects b, which begins at a candidate sync position, and
// reports the frame it starts. need > 0 asks for more bytes before a
// decision can be made; ok=false with need=0 means no frame starts here.
type headerFunc func(b []byte) (h FrameHeader, need int, ok bool)

// FrameParser splits an elementary stream into whole frames and stamps each
// with a timestamp derived from the running sample count.
type FrameParser struct {
	name     string
	encoding media.Encoding
	rate     uint32
	channels uint16
	header   headerFunc

	pending []byte
	samples uint64
	frames  uint64
	skipped uint64
	start   time.Duration
	started bool
	closed  bool
}

func newFrameParser(prefix string, encoding media.Encoding, rate uint32, channels uint16, header headerFunc) *FrameParser {
	return &FrameParser{
		name:     prefix + "-" + xid.New().String(),
		encoding: encoding,
		rate:     rate,
		channels: channels,
		header:   header,
	}
}

// Name returns the stage instance name.
func (p *FrameParser) Name() string { return p.name }

// Caps reports the same encoding on both sides.
func (p *FrameParser) Caps() (sink, src media.Caps) {
	c := media.Caps{Encoding: p.encoding, SampleRate: p.rate, Channels: p.channels}
	return c, c
}

// Process appends data and returns every complete frame now available.
// Bytes that do not begin a valid frame are skipped until the next sync.
func (p *FrameParser) Process(buf media.Buffer) ([]media.Buffer, error) {
	if p.closed {
		return nil, ErrStageClosed
	}
	if !p.started {
		p.start = buf.Timestamp
		p.started = true
	}
	p.pending = append(p.pending, buf.Payload...)

	var out []media.Buffer
	for len(p.pending) > 0 {
		h, need, ok := p.header(p.pending)
		if need > 0 {
			break
		}
		if !ok {
			p.pending = p.pending[1:]
			p.skipped++
			continue
		}
		if len(p.pending) < h.Size {
			break
		}

		frame := make([]byte, h.Size)
		copy(frame, p.pending[:h.Size])
		p.pending = p.pending[h.Size:]

		rate := time.Duration(h.SampleRate)
		out = append(out, media.Buffer{
			Payload:   frame,
			Timestamp: p.start + time.Duration(p.samples)*time.Second/rate,
			Duration:  time.Duration(h.Samples) * time.Second / rate,
		})
		p.samples += uint64(h.Samples)
		p.frames++
	}

	if p.skipped > 0 && len(out) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "FrameParser.Process",
			"name":     p.name,
			"skipped":  p.skipped,
		}).Debug("Resynchronised on frame header")
		p.skipped = 0
	}
	if len(p.pending) == 0 {
		p.pending = nil
	}
	return out, nil
}

// Frames returns the number of frames emitted.
func (p *FrameParser) Frames() uint64 { return p.frames }

// Close drops buffered bytes.
func (p *FrameParser) Close() error {
	p.closed = true
	p.pending = nil
	return nil
}

// AC3SamplesPerFrame is the number of samples per channel in one AC3 syncframe.
const AC3SamplesPerFrame = 1536

var ac3SampleRates = [3]int{48000, 44100, 32000}

// ac3FrameWords holds frame sizes in 16-bit words per frmsizecod, one row
// per fscod.
var ac3FrameWords = [3][38]int{
	{64, 64, 80, 80, 96, 96, 112, 112, 128, 128, 160, 160, 192, 192, 224, 224, 256, 256, 320, 320,
		384, 384, 448, 448, 512, 512, 640, 640, 768, 768, 896, 896, 1024, 1024, 1152, 1152, 1280, 1280},
	{69, 70, 87, 88, 104, 105, 121, 122, 139, 140, 174, 175, 208, 209, 243, 244, 278, 279, 348, 349,
		417, 418, 487, 488, 557, 558, 696, 697, 835, 836, 975, 976, 1114, 1115, 1253, 1254, 1393, 1394},
	{96, 96, 120, 120, 144, 144, 168, 168, 192, 192, 240, 240, 288, 288, 336, 336, 384, 384, 480, 480,
		576, 576, 672, 672, 768, 768, 960, 960, 1152, 1152, 1344, 1344, 1536, 1536, 1728, 1728, 1920, 1920},
}

var ac3Channels = [8]int{2, 1, 2, 3, 3, 4, 4, 5}

// ParseAC3Header decodes the AC3 syncinfo at the start of b.
func ParseAC3Header(b []byte) (h FrameHeader, need int, ok bool) {
	if len(b) < 2 {
		return h, 2 - len(b), false
	}
	if b[0] != 0x0B || b[1] != 0x77 {
		return h, 0, false
	}
	if len(b) < 7 {
		return h, 7 - len(b), false
	}
	fscod := int(b[4] >> 6)
	frmsizecod := int(b[4] & 0x3F)
	if fscod > 2 || frmsizecod > 37 {
		return h, 0, false
	}
	acmod := int(b[6] >> 5)
	return FrameHeader{
		Size:       ac3FrameWords[fscod][frmsizecod] * 2,
		Samples:    AC3SamplesPerFrame,
		SampleRate: ac3SampleRates[fscod],
		Channels:   ac3Channels[acmod],
	}, 0, true
}

// NewAC3Parser returns a parser stage for AC3 elementary streams.
func NewAC3Parser(rate uint32, channels uint16) *FrameParser {
	return newFrameParser("ac3parse", media.EncodingAC3, rate, channels, ParseAC3Header)
}

var mpaBitrates = map[[2]int][16]int{
	{1, 1}: {0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, -1},
	{1, 2}: {0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, -1},
	{1, 3}: {0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, -1},
	{2, 1}: {0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, -1},
	{2, 2}: {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, -1},
	{2, 3}: {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, -1},
}

var mpaSampleRates = map[int][3]int{
	1: {44100, 48000, 32000},
	2: {22050, 24000, 16000},
	3: {11025, 12000, 8000}, // MPEG-2.5
}

// ParseMPAHeader decodes an MPEG-1/2/2.5 Layer I/II/III frame header.
// Free-format streams are not supported.
func ParseMPAHeader(b []byte) (h FrameHeader, need int, ok bool) {
	if len(b) < 2 {
		return h, 2 - len(b), false
	}
	if b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return h, 0, false
	}
	if len(b) < 4 {
		return h, 4 - len(b), false
	}

	var version int
	switch (b[1] >> 3) & 0x03 {
	case 3:
		version = 1
	case 2:
		version = 2
	case 0:
		version = 3
	default:
		return h, 0, false
	}
	layer := 4 - int((b[1]>>1)&0x03)
	if layer == 4 {
		return h, 0, false
	}

	table := version
	if table == 3 {
		table = 2
	}
	bitrate := mpaBitrates[[2]int{table, layer}][b[2]>>4] * 1000
	srIndex := int((b[2] >> 2) & 0x03)
	if bitrate <= 0 || srIndex == 3 {
		return h, 0, false
	}
	rate := mpaSampleRates[version][srIndex]
	padding := int((b[2] >> 1) & 0x01)

	channels := 2
	if b[3]>>6 == 3 {
		channels = 1
	}

	var size, samples int
	switch {
	case layer == 1:
		size = (12*bitrate/rate + padding) * 4
		samples = 384
	case layer == 3 && version != 1:
		size = 72*bitrate/rate + padding
		samples = 576
	default:
		size = 144*bitrate/rate + padding
		samples = 1152
	}

	return FrameHeader{Size: size, Samples: samples, SampleRate: rate, Channels: channels}, 0, true
}

// NewMPAParser returns a parser stage for MPEG audio streams.
func NewMPAParser(rate uint32, channels uint16) *FrameParser {
	return newFrameParser("mpegaudioparse", media.EncodingMPEG, rate, channels, ParseMPAHeader)
}
