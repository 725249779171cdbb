package source

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/media"
)

// Buffers numbered in [PatternMarkFirst, PatternMarkEnd) start with the
// AC-3 sync word.
const (
	PatternMarkFirst = 20
	PatternMarkEnd   = 40
)

// PatternProducer feeds silent 0.1s buffers, some of them marked with the
// AC-3 sync word. It exercises format detection without real input.
type PatternProducer struct {
	desc  media.Descriptor
	count int
}

// NewPatternProducer creates a pattern feed at 48 kHz stereo 16-bit.
func NewPatternProducer() *PatternProducer {
	return &PatternProducer{desc: media.DefaultDescriptor()}
}

func (p *PatternProducer) Descriptor() media.Descriptor { return p.desc }

func (p *PatternProducer) Interval() time.Duration { return ToneChunk }

// Count returns the number of buffers produced.
func (p *PatternProducer) Count() int { return p.count }

func (p *PatternProducer) Produce(int) (media.Buffer, error) {
	size := p.desc.BytesFor(ToneChunk)
	payload := make([]byte, size)
	if p.count >= PatternMarkFirst && p.count < PatternMarkEnd {
		payload[0], payload[1] = 0x0B, 0x77
	}

	buf := media.Buffer{
		Payload:   payload,
		Timestamp: time.Duration(p.count) * ToneChunk,
		Duration:  ToneChunk,
	}
	p.count++

	if p.count%100 == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "PatternProducer.Produce",
			"buffers":  p.count,
		}).Info("Pattern buffers produced")
	}
	return buf, nil
}

func (p *PatternProducer) Close() error { return nil }
