package source

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rtpsend/bus"
	"github.com/opd-ai/rtpsend/media"
)

// countingPad records what reaches the peer.
type countingPad struct {
	chained int
	bytes   int
	err     error
}

func (p *countingPad) Chain(buf media.Buffer) error {
	p.chained++
	p.bytes += buf.Len()
	return p.err
}

func eosCounter(b *bus.Bus) *int {
	n := 0
	b.Subscribe(func(msg bus.Message) {
		if msg.Type == bus.MessageEOS {
			n++
		}
	})
	return &n
}

func newTone(t *testing.T) *ToneProducer {
	tone, err := NewToneProducer(media.DefaultDescriptor())
	require.NoError(t, err)
	return tone
}

func TestRequestMoreDataPushesOneChunk(t *testing.T) {
	b := bus.New()
	src := New(newTone(t), b)
	pad := &countingPad{}
	require.NoError(t, src.Link(pad))

	src.RequestMoreData(4096)
	src.RequestMoreData(4096)

	assert.Equal(t, 2, pad.chained)
	assert.Equal(t, 2*19200, pad.bytes)

	stats := src.Stats()
	assert.Equal(t, uint64(2), stats.Requests)
	assert.Equal(t, uint64(2), stats.Pushed)
	assert.Equal(t, uint64(38400), stats.Bytes)
}

func TestLinkIsExclusive(t *testing.T) {
	src := New(nil, nil)
	require.NoError(t, src.Link(&countingPad{}))
	assert.ErrorIs(t, src.Link(&countingPad{}), ErrAlreadyLinked)
	assert.True(t, src.Linked())

	src.Unlink()
	assert.False(t, src.Linked())
	assert.NoError(t, src.Link(&countingPad{}))
}

func TestPushRejectionEndsStreamOnce(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*LiveSource, *countingPad)
		reason error
	}{
		{"not linked", func(*LiveSource, *countingPad) {}, ErrNotLinked},
		{"flushing", func(s *LiveSource, p *countingPad) {
			require.NoError(t, s.Link(p))
			s.SetFlushing(true)
		}, ErrFlushing},
		{"peer error", func(s *LiveSource, p *countingPad) {
			p.err = errors.New("stage failed")
			require.NoError(t, s.Link(p))
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bus.New()
			eos := eosCounter(b)
			src := New(nil, b)
			pad := &countingPad{}
			tt.setup(src, pad)

			err := src.Push(media.Buffer{Payload: make([]byte, 8)})
			require.ErrorIs(t, err, ErrRejected)
			if tt.reason != nil {
				assert.ErrorIs(t, err, tt.reason)
			}
			assert.Equal(t, 1, *eos)
			assert.True(t, src.EndOfStream())

			chained := pad.chained
			src.SetFlushing(false)
			assert.ErrorIs(t, src.Push(media.Buffer{Payload: make([]byte, 8)}), ErrEndOfStream)
			assert.ErrorIs(t, src.Feed(4096), ErrEndOfStream)
			assert.Equal(t, chained, pad.chained, "no push after EOS")
			assert.Equal(t, 1, *eos)
		})
	}
}

func TestDiscardUnlinked(t *testing.T) {
	b := bus.New()
	eos := eosCounter(b)
	src := New(nil, b)
	src.SetDiscardUnlinked(true)

	require.NoError(t, src.Push(media.Buffer{Payload: make([]byte, 8)}))
	assert.Equal(t, uint64(1), src.Stats().Discarded)
	assert.Equal(t, 0, *eos)
}

func TestTapSeesEveryBuffer(t *testing.T) {
	src := New(nil, nil)
	src.SetDiscardUnlinked(true)

	var seen []int
	src.SetTap(func(buf media.Buffer) { seen = append(seen, buf.Len()) })
	require.NoError(t, src.Push(media.Buffer{Payload: make([]byte, 3)}))
	require.NoError(t, src.Link(&countingPad{}))
	require.NoError(t, src.Push(media.Buffer{Payload: make([]byte, 5)}))

	src.SetTap(nil)
	require.NoError(t, src.Push(media.Buffer{Payload: make([]byte, 7)}))
	assert.Equal(t, []int{3, 5}, seen)
}

func TestBackpressureSuspendsUntilDemand(t *testing.T) {
	src := New(newTone(t), nil)
	require.NoError(t, src.Link(&countingPad{}))

	src.NotifyBackpressure()
	assert.True(t, src.Suspended())
	assert.Equal(t, uint64(1), src.Stats().Holds)

	src.RequestMoreData(4096)
	assert.False(t, src.Suspended())
}

func TestProducerEndEmitsEOS(t *testing.T) {
	b := bus.New()
	eos := eosCounter(b)

	p, err := NewFileProducer(newByteReader(5000), media.DefaultDescriptor())
	require.NoError(t, err)
	src := New(p, b)
	require.NoError(t, src.Link(&countingPad{}))

	require.NoError(t, src.Feed(4096))
	require.NoError(t, src.Feed(4096))
	err = src.Feed(4096)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, *eos)
	assert.ErrorIs(t, src.Feed(4096), ErrEndOfStream)
}

func TestFeedWithoutProducer(t *testing.T) {
	src := New(nil, nil)
	assert.ErrorIs(t, src.Feed(4096), ErrNoProducer)
	assert.False(t, src.EndOfStream())
}

func TestCloseIsIdempotent(t *testing.T) {
	closer := &closeCounter{}
	p, err := NewFileProducer(closer, media.DefaultDescriptor())
	require.NoError(t, err)

	src := New(p, nil)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.Equal(t, 1, closer.closed)
}

func TestIntervalOf(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, IntervalOf(newTone(t)))
	assert.Equal(t, 100*time.Millisecond, IntervalOf(NewPatternProducer()))

	p, err := NewFileProducer(newByteReader(1), media.DefaultDescriptor())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, IntervalOf(p))
}
