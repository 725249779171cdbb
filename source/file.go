package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/media"
)

// File pacing.
const (
	ChunkSize    = 4096
	FileInterval = 10 * time.Millisecond
)

// FileProducer emits a byte stream in ChunkSize pieces with timestamps
// derived from the byte count. Decoded formats feed it S16LE.
type FileProducer struct {
	name    string
	desc    media.Descriptor
	next    func() ([]byte, error)
	closer  io.Closer
	pending []byte
	offset  int
	count   int
	done    bool
}

func newFileProducer(name string, desc media.Descriptor, next func() ([]byte, error), closer io.Closer) (*FileProducer, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "newFileProducer",
		"producer": name,
		"format":   desc.String(),
	}).Info("Creating file producer")

	return &FileProducer{name: name, desc: desc, next: next, closer: closer}, nil
}

// NewFileProducer reads raw audio bytes of the given format from r.
func NewFileProducer(r io.Reader, desc media.Descriptor) (*FileProducer, error) {
	block := make([]byte, ChunkSize)
	next := func() ([]byte, error) {
		n, err := r.Read(block)
		out := make([]byte, n)
		copy(out, block[:n])
		return out, err
	}
	return newFileProducer("raw", desc, next, asCloser(r))
}

// NewWAVProducer decodes a WAV stream. Samples are delivered as S16LE.
func NewWAVProducer(r io.ReadSeeker) (*FileProducer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a WAV file", ErrUnsupportedFile)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}

	depth := int(dec.BitDepth)
	channels := int(dec.NumChans)
	if channels == 0 {
		return nil, fmt.Errorf("%w: wav has no channels", ErrUnsupportedFile)
	}
	intBuf := &goaudio.IntBuffer{
		Format:         dec.Format(),
		Data:           make([]int, 1024*channels),
		SourceBitDepth: depth,
	}

	next := func() ([]byte, error) {
		n, err := dec.PCMBuffer(intBuf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, io.EOF
		}
		samples := make([]int, n)
		for i, v := range intBuf.Data[:n] {
			if depth == 8 {
				v -= 128
			}
			samples[i] = scaleTo16(v, depth)
		}
		return packInts(samples, 16), nil
	}

	desc := media.Descriptor{Kind: media.KindPcm, SampleRate: dec.SampleRate, Channels: dec.NumChans, BitDepth: 16}
	return newFileProducer("wav", desc, next, asCloser(r))
}

// NewMP3Producer decodes an MP3 stream. go-mp3 always yields stereo S16LE.
func NewMP3Producer(r io.Reader) (*FileProducer, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %w", ErrUnsupportedFile, err)
	}

	block := make([]byte, ChunkSize)
	next := func() ([]byte, error) {
		n, err := dec.Read(block)
		out := make([]byte, n)
		copy(out, block[:n])
		return out, err
	}

	desc := media.Descriptor{Kind: media.KindPcm, SampleRate: uint32(dec.SampleRate()), Channels: 2, BitDepth: 16}
	return newFileProducer("mp3", desc, next, asCloser(r))
}

// NewFLACProducer decodes a FLAC stream frame by frame.
func NewFLACProducer(r io.Reader) (*FileProducer, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("%w: flac: %w", ErrUnsupportedFile, err)
	}

	depth := int(stream.Info.BitsPerSample)
	channels := int(stream.Info.NChannels)

	next := func() ([]byte, error) {
		frame, err := stream.ParseNext()
		if err != nil {
			return nil, err
		}
		samples := make([]int, 0, int(frame.BlockSize)*channels)
		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < channels; ch++ {
				samples = append(samples, scaleTo16(int(frame.Subframes[ch].Samples[i]), depth))
			}
		}
		return packInts(samples, 16), nil
	}

	desc := media.Descriptor{
		Kind:       media.KindPcm,
		SampleRate: stream.Info.SampleRate,
		Channels:   uint16(channels),
		BitDepth:   16,
	}
	return newFileProducer("flac", desc, next, stream)
}

// NewOggProducer decodes an Ogg Vorbis stream.
func NewOggProducer(r io.Reader) (*FileProducer, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: ogg: %w", ErrUnsupportedFile, err)
	}

	channels := dec.Channels()
	values := make([]float32, 1024*channels)
	next := func() ([]byte, error) {
		n, err := dec.Read(values)
		n -= n % channels
		samples := make([]int, n)
		for i, f := range values[:n] {
			samples[i] = clamp16(f)
		}
		return packInts(samples, 16), err
	}

	desc := media.Descriptor{Kind: media.KindPcm, SampleRate: uint32(dec.SampleRate()), Channels: uint16(channels), BitDepth: 16}
	return newFileProducer("ogg", desc, next, asCloser(r))
}

// OpenFile opens path and picks a decoder from its extension. Unknown
// extensions are read as raw bytes in format raw.
func OpenFile(path string, raw media.Descriptor) (*FileProducer, error) {
	f, err := os.Open(path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OpenFile",
			"path":     path,
			"error":    err.Error(),
		}).Error("Failed to open input file")
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var p *FileProducer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		p, err = NewWAVProducer(f)
	case ".mp3":
		p, err = NewMP3Producer(f)
	case ".flac":
		p, err = NewFLACProducer(f)
	case ".ogg", ".oga":
		p, err = NewOggProducer(f)
	default:
		p, err = NewFileProducer(f, raw)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	p.closer = f
	return p, nil
}

// Descriptor returns the format of the emitted bytes.
func (p *FileProducer) Descriptor() media.Descriptor { return p.desc }

// Interval returns the file pacing.
func (p *FileProducer) Interval() time.Duration { return FileInterval }

// Count returns the number of chunks emitted.
func (p *FileProducer) Count() int { return p.count }

// Produce returns the next frame-aligned chunk of at most ChunkSize bytes.
func (p *FileProducer) Produce(int) (media.Buffer, error) {
	frame := p.desc.BytesPerFrame()
	size := ChunkSize - ChunkSize%frame

	for !p.done && len(p.pending) < size {
		b, err := p.next()
		p.pending = append(p.pending, b...)
		if errors.Is(err, io.EOF) {
			p.done = true
			break
		}
		if err != nil {
			return media.Buffer{}, fmt.Errorf("%s: %w", p.name, err)
		}
	}

	if len(p.pending) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "FileProducer.Produce",
			"producer": p.name,
			"buffers":  p.count,
		}).Info("File transfer complete")
		return media.Buffer{}, io.EOF
	}

	n := min(size, len(p.pending))
	payload := make([]byte, n)
	copy(payload, p.pending[:n])
	p.pending = p.pending[n:]

	start := p.desc.DurationOf(p.offset)
	p.offset += n
	p.count++

	if p.count%100 == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "FileProducer.Produce",
			"producer": p.name,
			"buffers":  p.count,
		}).Info("File buffers sent")
	}

	return media.Buffer{
		Payload:   payload,
		Timestamp: start,
		Duration:  p.desc.DurationOf(p.offset) - start,
	}, nil
}

// Close closes the underlying input.
func (p *FileProducer) Close() error {
	if p.closer == nil {
		return nil
	}
	c := p.closer
	p.closer = nil
	return c.Close()
}

func asCloser(r interface{}) io.Closer {
	if c, ok := r.(io.Closer); ok {
		return c
	}
	return nil
}
