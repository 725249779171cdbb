package source

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/bus"
	"github.com/opd-ai/rtpsend/media"
)

// DefaultName is the element name a LiveSource reports on the bus.
const DefaultName = "livesrc"

// Stats counts what the source has done since it was created.
type Stats struct {
	Requests  uint64
	Holds     uint64
	Pushed    uint64
	Bytes     uint64
	Discarded uint64
	Rejected  uint64
}

// LiveSource is the long-lived entry point of the graph. It pulls buffers
// from a Producer on demand and pushes them into whichever pad is linked.
//
// A rejected push ends the stream: EOS is published once and every later
// Push or Feed returns ErrEndOfStream without reaching the peer.
type LiveSource struct {
	mu        sync.Mutex
	name      string
	desc      media.Descriptor
	producer  Producer
	bus       *bus.Bus
	peer      media.Pad
	tap       func(media.Buffer)
	flushing  bool
	discard   bool
	suspended bool
	eos       bool
	closed    bool
	stats     Stats
}

// New creates a source fed by producer. A nil producer is allowed for
// callers that only use Push; the descriptor then defaults to 48 kHz
// stereo 16-bit PCM.
func New(producer Producer, b *bus.Bus) *LiveSource {
	desc := media.DefaultDescriptor()
	if producer != nil {
		desc = producer.Descriptor()
	}

	logrus.WithFields(logrus.Fields{
		"function": "source.New",
		"format":   desc.String(),
	}).Info("Creating live source")

	return &LiveSource{
		name:     DefaultName,
		desc:     desc,
		producer: producer,
		bus:      b,
	}
}

// Name returns the element name used on the bus.
func (s *LiveSource) Name() string { return s.name }

// Descriptor returns the format of the produced audio.
func (s *LiveSource) Descriptor() media.Descriptor { return s.desc }

// Producer returns the attached producer.
func (s *LiveSource) Producer() Producer { return s.producer }

// Link attaches pad as the single downstream peer.
func (s *LiveSource) Link(pad media.Pad) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.peer != nil {
		return ErrAlreadyLinked
	}
	s.peer = pad
	return nil
}

// Unlink detaches the current peer, if any.
func (s *LiveSource) Unlink() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = nil
}

// Linked reports whether a peer is attached.
func (s *LiveSource) Linked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer != nil
}

// SetFlushing makes every push fail until cleared.
func (s *LiveSource) SetFlushing(flushing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushing = flushing
}

// SetTap installs a probe run on every buffer before delivery. Nil removes it.
func (s *LiveSource) SetTap(tap func(media.Buffer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tap = tap
}

// SetDiscardUnlinked makes pushes without a peer succeed and drop the buffer.
func (s *LiveSource) SetDiscardUnlinked(discard bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discard = discard
}

// Suspended reports whether backpressure is holding generation.
func (s *LiveSource) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// EndOfStream reports whether EOS has been signalled.
func (s *LiveSource) EndOfStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eos
}

// Stats returns a snapshot of the counters.
func (s *LiveSource) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// RequestMoreData asks the producer for a buffer of about sizeHint bytes and
// pushes it. Failures end the stream and are reported on the bus.
func (s *LiveSource) RequestMoreData(sizeHint int) {
	if err := s.Feed(sizeHint); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "LiveSource.RequestMoreData",
			"size_hint": sizeHint,
			"error":     err.Error(),
		}).Debug("Feed attempt ended")
	}
}

// NotifyBackpressure holds generation until the next RequestMoreData.
func (s *LiveSource) NotifyBackpressure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = true
	s.stats.Holds++
}

// Feed is RequestMoreData with the outcome returned.
func (s *LiveSource) Feed(sizeHint int) error {
	s.mu.Lock()
	if s.eos {
		s.mu.Unlock()
		return ErrEndOfStream
	}
	s.suspended = false
	s.stats.Requests++
	p := s.producer
	s.mu.Unlock()

	if p == nil {
		return ErrNoProducer
	}

	buf, err := p.Produce(sizeHint)
	if err != nil {
		if errors.Is(err, io.EOF) {
			logrus.WithFields(logrus.Fields{
				"function": "LiveSource.Feed",
				"pushed":   s.Stats().Pushed,
			}).Info("Producer finished")
		} else {
			logrus.WithFields(logrus.Fields{
				"function": "LiveSource.Feed",
				"error":    err.Error(),
			}).Error("Producer failed")
		}
		s.endOfStream()
		return fmt.Errorf("produce: %w", err)
	}
	return s.Push(buf)
}

// Push delivers buf to the linked peer.
//
// Returns nil when the buffer was accepted or discarded, otherwise an error
// wrapping ErrRejected and the reason (ErrNotLinked, ErrFlushing or the
// peer's error). A rejection signals end of stream.
func (s *LiveSource) Push(buf media.Buffer) error {
	s.mu.Lock()
	if s.eos {
		s.mu.Unlock()
		return ErrEndOfStream
	}
	tap := s.tap
	s.mu.Unlock()

	if tap != nil {
		tap(buf)
	}

	s.mu.Lock()
	peer, flushing, discard := s.peer, s.flushing, s.discard
	s.mu.Unlock()

	var reason error
	switch {
	case flushing:
		reason = ErrFlushing
	case peer == nil && discard:
		s.mu.Lock()
		s.stats.Discarded++
		s.mu.Unlock()
		return nil
	case peer == nil:
		reason = ErrNotLinked
	default:
		reason = peer.Chain(buf)
	}

	if reason != nil {
		return s.reject(buf, reason)
	}

	s.mu.Lock()
	s.stats.Pushed++
	s.stats.Bytes += uint64(buf.Len())
	s.mu.Unlock()
	return nil
}

func (s *LiveSource) reject(buf media.Buffer, reason error) error {
	s.mu.Lock()
	s.stats.Rejected++
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "LiveSource.Push",
		"size":      buf.Len(),
		"timestamp": buf.Timestamp,
		"reason":    reason.Error(),
	}).Error("Push rejected, ending stream")

	s.endOfStream()
	return fmt.Errorf("%w: %w", ErrRejected, reason)
}

// endOfStream publishes EOS once.
func (s *LiveSource) endOfStream() {
	s.mu.Lock()
	if s.eos {
		s.mu.Unlock()
		return
	}
	s.eos = true
	b := s.bus
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "LiveSource.endOfStream",
		"source":   s.name,
	}).Info("Signalling end of stream")

	if b != nil {
		b.Publish(bus.NewEOS(s.name))
	}
}

// Close releases the producer. Idempotent.
func (s *LiveSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.peer = nil
	s.tap = nil
	p := s.producer
	s.mu.Unlock()

	if p == nil {
		return nil
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("close producer: %w", err)
	}
	return nil
}
