package sender

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/opd-ai/rtpsend/av"
	"github.com/opd-ai/rtpsend/interfaces"
	"github.com/opd-ai/rtpsend/media"
	"github.com/opd-ai/rtpsend/source"
	simnet "github.com/opd-ai/rtpsend/testing"
)

// statusLog collects observer notifications.
type statusLog struct {
	mu     sync.Mutex
	events []Status
}

func (l *statusLog) observe(s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, s)
}

func (l *statusLog) switched() []media.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var kinds []media.Kind
	for _, s := range l.events {
		if s.Event == EventSwitched {
			kinds = append(kinds, s.Format)
		}
	}
	return kinds
}

func (l *statusLog) last() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

// pureRegistry builds every kind with the PCM recipe so no external
// encoder is needed.
func pureRegistry(t *testing.T) *av.Registry {
	r := av.DefaultRegistry()
	pcm, err := r.Recipe(media.KindPcm)
	require.NoError(t, err)
	r.SetRecipe(media.KindAc3, pcm)
	return r
}

func newSim() *simnet.SimulatedSender {
	return simnet.NewSimulatedSender(interfaces.DatagramConfig{UseSimulation: true, Host: "127.0.0.1", Port: 5000})
}

func newTone(t *testing.T) *source.ToneProducer {
	tone, err := source.NewToneProducer(media.DefaultDescriptor())
	require.NoError(t, err)
	return tone
}

func runFor(t *testing.T, s *Session, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Run(ctx)
}

// fastPattern paces the pattern feed faster than real time.
type fastPattern struct {
	*source.PatternProducer
}

func (fastPattern) Interval() time.Duration { return 2 * time.Millisecond }

func TestNewValidates(t *testing.T) {
	sim := newSim()
	tone := newTone(t)

	_, err := New(Config{}, nil, sim, av.DefaultStageConfig())
	assert.ErrorIs(t, err, ErrNoProducer)

	_, err = New(Config{}, tone, nil, av.DefaultStageConfig())
	assert.ErrorIs(t, err, ErrNoSender)

	_, err = New(Config{Mode: ModeFixed}, tone, sim, av.DefaultStageConfig())
	assert.ErrorIs(t, err, ErrNoFormat)

	id := uuid.New()
	s, err := New(Config{}, tone, sim, av.DefaultStageConfig(), WithSessionID(id))
	require.NoError(t, err)
	assert.Equal(t, id, s.ID())
	assert.Equal(t, media.KindPcm, s.config.Format, "demo starts on the first switch kind")
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeDemo, ModeDetect, ModeFixed} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("loop")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestFixedPcmSends(t *testing.T) {
	defer goleak.VerifyNone(t)

	sim := newSim()
	log := &statusLog{}
	s, err := New(Config{Mode: ModeFixed, Format: media.KindPcm, StatusInterval: 50 * time.Millisecond},
		newTone(t), sim, av.DefaultStageConfig())
	require.NoError(t, err)
	s.Observe(log.observe)

	require.NoError(t, runFor(t, s, 350*time.Millisecond))

	assert.Equal(t, []media.Kind{media.KindPcm}, log.switched())
	assert.NotEmpty(t, sim.Delivered())

	final := log.last()
	assert.Equal(t, EventStopped, final.Event)
	assert.Equal(t, av.StateTerminated, final.State)
	assert.NoError(t, final.Err)
	assert.Positive(t, final.Buffers)
	assert.Equal(t, uint64(19200)*final.Buffers, final.Bytes)
	assert.Equal(t, "127.0.0.1:5000", final.Destination)

	assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyRun)
}

func TestDemoAlternatesFormats(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &statusLog{}
	s, err := New(Config{Mode: ModeDemo, SwitchInterval: 60 * time.Millisecond},
		newTone(t), newSim(), av.DefaultStageConfig(), WithRegistry(pureRegistry(t)))
	require.NoError(t, err)
	s.Observe(log.observe)

	require.NoError(t, runFor(t, s, 400*time.Millisecond))

	kinds := log.switched()
	require.GreaterOrEqual(t, len(kinds), 3)
	for i, k := range kinds {
		want := media.KindPcm
		if i%2 == 1 {
			want = media.KindAc3
		}
		assert.Equal(t, want, k, "switch %d", i)
	}
	assert.Equal(t, uint64(len(kinds)), log.last().Switches)
}

func TestEndOfStreamStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	file, err := source.NewFileProducer(newZeroReader(10000), media.DefaultDescriptor())
	require.NoError(t, err)

	log := &statusLog{}
	s, err := New(Config{Mode: ModeFixed, Format: media.KindPcm}, file, newSim(), av.DefaultStageConfig())
	require.NoError(t, err)
	s.Observe(log.observe)

	start := time.Now()
	require.NoError(t, runFor(t, s, 5*time.Second))
	assert.Less(t, time.Since(start), 2*time.Second, "EOS quits before the deadline")

	final := log.last()
	assert.Equal(t, uint64(3), final.Buffers)
	assert.Equal(t, uint64(10000), final.Bytes)
	assert.True(t, s.Source().EndOfStream())
}

func TestConstructionFailureIsFatal(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := av.DefaultRegistry()
	reg.Unregister(av.StageMP3Encode)
	cfg := av.DefaultStageConfig()
	cfg.FFmpegPath = "/nonexistent/rtpsend/ffmpeg"

	sim := newSim()
	s, err := New(Config{Mode: ModeFixed, Format: media.KindAc3}, newTone(t), sim, cfg, WithRegistry(reg))
	require.NoError(t, err)

	err = runFor(t, s, 2*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, av.ErrConstruction)
	assert.Nil(t, s.Manager().ActiveSubgraph())
	assert.Empty(t, sim.Delivered())
}

// rejectingStage wraps a real stage and fails every buffer.
type rejectingStage struct {
	av.Stage
}

var errRejected = errors.New("payload rejected")

func (rejectingStage) Process(media.Buffer) ([]media.Buffer, error) {
	return nil, errRejected
}

func TestStreamingStageFailureIsFatal(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := av.DefaultRegistry()
	reg.Register(av.StageL16Pay, func(ctx av.BuildContext) (av.Stage, error) {
		inner, err := av.DefaultRegistry().Build(av.StageL16Pay, ctx)
		if err != nil {
			return nil, err
		}
		return rejectingStage{inner}, nil
	})

	sim := newSim()
	log := &statusLog{}
	s, err := New(Config{Mode: ModeFixed, Format: media.KindPcm}, newTone(t), sim, av.DefaultStageConfig(), WithRegistry(reg))
	require.NoError(t, err)
	s.Observe(log.observe)

	var mu sync.Mutex
	var states []av.State
	s.Manager().SetStateCallback(func(_, next av.State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, next)
	})

	start := time.Now()
	err = runFor(t, s, 5*time.Second)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "the failure quits before the deadline")
	assert.ErrorIs(t, err, errRejected)
	var se *av.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, av.StageL16Pay, se.Kind)

	mu.Lock()
	assert.Contains(t, states, av.StateError)
	mu.Unlock()
	assert.Equal(t, uint64(1), s.Manager().Stats().Failures)
	assert.Empty(t, sim.Delivered())

	final := log.last()
	assert.Equal(t, EventStopped, final.Event)
	assert.ErrorIs(t, final.Err, errRejected)
}

func TestDemoStartsRotationAtFormat(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name   string
		format media.Kind
		want   []media.Kind
	}{
		{"second kind", media.KindAc3, []media.Kind{media.KindAc3, media.KindPcm, media.KindAc3}},
		{"not a switch kind", media.KindOpus, []media.Kind{media.KindOpus, media.KindPcm, media.KindAc3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := pureRegistry(t)
			pcm, err := reg.Recipe(media.KindPcm)
			require.NoError(t, err)
			reg.SetRecipe(media.KindOpus, pcm)

			log := &statusLog{}
			s, err := New(Config{Mode: ModeDemo, Format: tt.format, SwitchInterval: 60 * time.Millisecond},
				newTone(t), newSim(), av.DefaultStageConfig(), WithRegistry(reg))
			require.NoError(t, err)
			s.Observe(log.observe)

			require.NoError(t, runFor(t, s, 400*time.Millisecond))

			kinds := log.switched()
			require.GreaterOrEqual(t, len(kinds), len(tt.want))
			assert.Equal(t, tt.want, kinds[:len(tt.want)])
		})
	}
}

func TestDetectSwitchesOnPattern(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name     string
		redetect bool
		want     []media.Kind
	}{
		{"one shot", false, []media.Kind{media.KindPcm}},
		{"redetect", true, []media.Kind{media.KindPcm, media.KindAc3, media.KindPcm}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages := av.DefaultStageConfig()
			stages.MaxLatency = time.Hour

			pattern := source.NewPatternProducer()
			log := &statusLog{}
			s, err := New(Config{Mode: ModeDetect, Redetect: tt.redetect, StatusInterval: 10 * time.Millisecond},
				fastPattern{pattern}, newSim(), stages, WithRegistry(pureRegistry(t)))
			require.NoError(t, err)
			s.Observe(log.observe)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			s.Observe(func(st Status) {
				if st.Event == EventTick && pattern.Count() > 45 {
					cancel()
				}
			})

			require.NoError(t, s.Run(ctx))
			assert.Equal(t, tt.want, log.switched())
		})
	}
}

func TestStopFromAnotherGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := New(Config{Mode: ModeFixed, Format: media.KindPcm}, newTone(t), newSim(), av.DefaultStageConfig())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.Equal(t, av.StateTerminated, s.Manager().State())
}

type zeroReader struct{ left int }

func newZeroReader(n int) *zeroReader { return &zeroReader{left: n} }

func (z *zeroReader) Read(p []byte) (int, error) {
	if z.left == 0 {
		return 0, io.EOF
	}
	n := min(len(p), z.left)
	clear(p[:n])
	z.left -= n
	return n, nil
}
