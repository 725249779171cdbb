package av

import (
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/rtpsend/bus"
	"github.com/opd-ai/rtpsend/media"
)

var (
	errHeadLinked   = errors.New("head already linked")
	errHeadUnlinked = errors.New("head not linked")
	errHeadFlushing = errors.New("head flushing")
)

// mockHead stands in for the live source.
type mockHead struct {
	mu       sync.Mutex
	desc     media.Descriptor
	pad      media.Pad
	links    int
	unlinks  int
	flushing bool
	discard  bool
	tap      func(media.Buffer)
	requests []int
	holds    int
}

func newMockHead() *mockHead {
	return &mockHead{desc: media.DefaultDescriptor()}
}

func (h *mockHead) Link(pad media.Pad) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pad != nil {
		return errHeadLinked
	}
	h.pad = pad
	h.links++
	return nil
}

func (h *mockHead) Unlink() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pad != nil {
		h.unlinks++
	}
	h.pad = nil
}

func (h *mockHead) Linked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pad != nil
}

func (h *mockHead) SetFlushing(flushing bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flushing = flushing
}

func (h *mockHead) Flushing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushing
}

func (h *mockHead) Descriptor() media.Descriptor { return h.desc }

func (h *mockHead) SetTap(tap func(media.Buffer)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tap = tap
}

func (h *mockHead) SetDiscardUnlinked(discard bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discard = discard
}

func (h *mockHead) RequestMoreData(sizeHint int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, sizeHint)
}

func (h *mockHead) NotifyBackpressure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.holds++
}

// push mimics the source's push path.
func (h *mockHead) push(buf media.Buffer) error {
	h.mu.Lock()
	tap, pad, flushing, discard := h.tap, h.pad, h.flushing, h.discard
	h.mu.Unlock()

	if tap != nil {
		tap(buf)
	}
	if pad == nil {
		if discard {
			return nil
		}
		return errHeadUnlinked
	}
	if flushing {
		return errHeadFlushing
	}
	return pad.Chain(buf)
}

// stageLog records stage events across a test.
type stageLog struct {
	mu     sync.Mutex
	events []string
}

func (l *stageLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *stageLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *stageLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// fakeStage passes buffers through and logs its lifecycle.
type fakeStage struct {
	name      string
	sink, src media.Caps
	log       *stageLog
	terminal  bool
	delivered int
}

func (s *fakeStage) Name() string { return s.name }
func (s *fakeStage) Caps() (sink, src media.Caps) { return s.sink, s.src }
func (s *fakeStage) Close() error { s.log.add("close:" + s.name); return nil }
func (s *fakeStage) Process(buf media.Buffer) ([]media.Buffer, error) {
	if s.terminal {
		s.delivered++
		return nil, nil
	}
	return []media.Buffer{buf}, nil
}

// asyncStage prerolls through a channel the test controls.
type asyncStage struct {
	fakeStage
	startErr error
	preroll  chan error
	stops    int
}

func (s *asyncStage) Start() error { return s.startErr }
func (s *asyncStage) Preroll() <-chan error { return s.preroll }
func (s *asyncStage) Stop() error { s.stops++; return nil }

func fakeBuilder(kind StageKind, accept, produce media.Encoding, log *stageLog) Builder {
	return func(ctx BuildContext) (Stage, error) {
		if accept != "" {
			if err := requireEncoding(ctx, accept); err != nil {
				return nil, err
			}
		}
		src := ctx.Upstream
		if produce != "" {
			src = media.Caps{Encoding: produce, SampleRate: ctx.Upstream.SampleRate, Channels: ctx.Upstream.Channels}
		}
		s := &fakeStage{name: kind.String(), sink: ctx.Upstream, src: src, log: log}
		if kind == StageUDPSink {
			s.src = media.Caps{}
			s.terminal = true
		}
		return s, nil
	}
}

func unavailableBuilder(ctx BuildContext) (Stage, error) {
	return nil, ErrStageUnavailable
}

// fakeRegistry registers a pass-through builder for every stage kind, with
// the same caps behaviour as the real stages.
func fakeRegistry(log *stageLog) *Registry {
	raw, ac3, mpeg, opus, rtp := media.EncodingRaw, media.EncodingAC3, media.EncodingMPEG, media.EncodingOpus, media.EncodingRTP

	r := NewRegistry()
	r.Register(StageAudioConvert, fakeBuilder(StageAudioConvert, raw, "", log))
	r.Register(StageAudioResample, fakeBuilder(StageAudioResample, raw, "", log))
	r.Register(StageAC3Encode, fakeBuilder(StageAC3Encode, raw, ac3, log))
	r.Register(StageMP3Encode, fakeBuilder(StageMP3Encode, raw, mpeg, log))
	r.Register(StageOpusEncode, fakeBuilder(StageOpusEncode, raw, opus, log))
	r.Register(StageAC3Parse, fakeBuilder(StageAC3Parse, ac3, "", log))
	r.Register(StageMPAParse, fakeBuilder(StageMPAParse, mpeg, "", log))
	r.Register(StageL16Pay, fakeBuilder(StageL16Pay, raw, rtp, log))
	r.Register(StageAC3Pay, fakeBuilder(StageAC3Pay, ac3, rtp, log))
	r.Register(StageMPAPay, fakeBuilder(StageMPAPay, mpeg, rtp, log))
	r.Register(StageOpusPay, fakeBuilder(StageOpusPay, opus, rtp, log))
	r.Register(StageUDPSink, fakeBuilder(StageUDPSink, rtp, "", log))
	return r
}

// recorder collects bus messages.
type recorder struct {
	mu   sync.Mutex
	msgs []bus.Message
}

func record(b *bus.Bus) *recorder {
	r := &recorder{}
	b.Subscribe(func(msg bus.Message) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.msgs = append(r.msgs, msg)
	})
	return r
}

func (r *recorder) ofType(t bus.MessageType) []bus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Message
	for _, m := range r.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) pipelineStates() []string {
	var out []string
	for _, m := range r.ofType(bus.MessageStateChanged) {
		if m.Source == PipelineSource {
			out = append(out, m.OldState+"->"+m.NewState)
		}
	}
	return out
}

func (r *recorder) application(name string) []bus.Message {
	var out []bus.Message
	for _, m := range r.ofType(bus.MessageApplication) {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// mockTimeProvider is a manually advanced clock.
type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) NewTimer(d time.Duration) *time.Timer {
	return time.NewTimer(d)
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
