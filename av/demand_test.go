package av

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rtpsend/media"
	"github.com/opd-ai/rtpsend/probe"
)

func TestPollDemandFollowsLatency(t *testing.T) {
	m, head, _ := newTestManager(t, fakeRegistry(&stageLog{}))
	clock := newMockTimeProvider()
	m.SetTimeProvider(clock)

	m.PollDemand()
	assert.Empty(t, head.requests, "no subgraph and no detection: nothing requested")

	require.NoError(t, m.Reconfigure(pcm()))

	chunk := media.Buffer{Payload: make([]byte, 19200), Duration: 100 * time.Millisecond}
	require.NoError(t, head.push(chunk))

	m.PollDemand()
	assert.Equal(t, []int{DefaultBlockSize}, head.requests)
	assert.Equal(t, 100*time.Millisecond, m.QueuedDuration())

	require.NoError(t, head.push(chunk))
	require.NoError(t, head.push(chunk))
	m.PollDemand()
	assert.Len(t, head.requests, 1)
	assert.Equal(t, 1, head.holds)

	clock.Advance(150 * time.Millisecond)
	assert.Equal(t, 150*time.Millisecond, m.QueuedDuration())
	m.PollDemand()
	assert.Len(t, head.requests, 2)

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats.DemandRequests)
	assert.Equal(t, uint64(1), stats.BackpressureSignals)
	assert.Equal(t, 300*time.Millisecond, stats.PushedDuration)
}

func TestPollDemandDerivesDurationFromBytes(t *testing.T) {
	m, head, _ := newTestManager(t, fakeRegistry(&stageLog{}))
	m.SetTimeProvider(newMockTimeProvider())
	require.NoError(t, m.Reconfigure(pcm()))

	require.NoError(t, head.push(media.Buffer{Payload: make([]byte, 19200*3)}))
	assert.Equal(t, 300*time.Millisecond, m.QueuedDuration())

	m.PollDemand()
	assert.Empty(t, head.requests)
	assert.Equal(t, 1, head.holds)
}

func TestPollDemandResetsOnSwitch(t *testing.T) {
	m, head, _ := newTestManager(t, fakeRegistry(&stageLog{}))
	m.SetTimeProvider(newMockTimeProvider())
	require.NoError(t, m.Reconfigure(pcm()))
	require.NoError(t, head.push(media.Buffer{Payload: make([]byte, 19200*4)}))

	require.NoError(t, m.Reconfigure(ac3()))
	assert.Equal(t, time.Duration(0), m.QueuedDuration())

	m.PollDemand()
	assert.Len(t, head.requests, 1)
}

func TestPollDemandDuringDetection(t *testing.T) {
	m, head, _ := newTestManager(t, fakeRegistry(&stageLog{}))
	require.NoError(t, m.StartDetection(probe.New()))

	for i := 0; i < 3; i++ {
		m.PollDemand()
	}
	assert.Equal(t, []int{DefaultBlockSize, DefaultBlockSize, DefaultBlockSize}, head.requests)
}

func TestPollDemandWithoutSignaler(t *testing.T) {
	m, err := NewManager(headOnly{newMockHead()}, fakeRegistry(&stageLog{}), nil, nil, StageConfig{})
	require.NoError(t, err)
	assert.NotPanics(t, m.PollDemand)
}

// headOnly hides the demand methods of a mockHead.
type headOnly struct {
	h *mockHead
}

func (o headOnly) Link(pad media.Pad) error { return o.h.Link(pad) }
func (o headOnly) Unlink() { o.h.Unlink() }
func (o headOnly) Linked() bool { return o.h.Linked() }
func (o headOnly) SetFlushing(f bool) { o.h.SetFlushing(f) }
func (o headOnly) Descriptor() media.Descriptor { return o.h.Descriptor() }
func (o headOnly) SetTap(tap func(media.Buffer)) { o.h.SetTap(tap) }
func (o headOnly) SetDiscardUnlinked(discard bool) { o.h.SetDiscardUnlinked(discard) }
