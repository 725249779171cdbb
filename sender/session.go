package sender

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/av"
	"github.com/opd-ai/rtpsend/bus"
	"github.com/opd-ai/rtpsend/interfaces"
	"github.com/opd-ai/rtpsend/loop"
	"github.com/opd-ai/rtpsend/media"
	"github.com/opd-ai/rtpsend/probe"
	"github.com/opd-ai/rtpsend/source"
)

// Option customises a Session.
type Option func(*options)

type options struct {
	registry *av.Registry
	clock    loop.TimeProvider
	id       uuid.UUID
}

// WithRegistry replaces the default stage registry.
func WithRegistry(r *av.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithTimeProvider sets the clock of the loop and the manager.
func WithTimeProvider(tp loop.TimeProvider) Option {
	return func(o *options) { o.clock = tp }
}

// WithSessionID fixes the session identifier.
func WithSessionID(id uuid.UUID) Option {
	return func(o *options) { o.id = id }
}

// Session drives one sending run: it owns the loop, the bus, the live
// source and the graph manager, and applies the bus policy.
type Session struct {
	id       uuid.UUID
	config   Config
	loop     *loop.Loop
	bus      *bus.Bus
	source   *source.LiveSource
	producer source.Producer
	manager  *av.Manager
	sender   interfaces.DatagramSender
	probe    *probe.Probe
	clock    loop.TimeProvider

	mu        sync.Mutex
	observers []Observer
	kindIndex int
	ran       bool
}

// New creates a session feeding producer into a manager sending through
// sender.
//
// Parameters:
//   - cfg: Mode and timers
//   - producer: Audio input of the live source
//   - sender: Datagram destination
//   - stages: Stage tunables of every subgraph
//
// Returns:
//   - *Session: Ready to Run
//   - error: ErrNoProducer, ErrNoSender, ErrNoFormat or a manager error
func New(cfg Config, producer source.Producer, sender interfaces.DatagramSender, stages av.StageConfig, opts ...Option) (*Session, error) {
	if producer == nil {
		return nil, ErrNoProducer
	}
	if sender == nil {
		return nil, ErrNoSender
	}
	cfg = cfg.withDefaults()
	if cfg.Mode == ModeFixed && cfg.Format == media.KindUnknown {
		return nil, ErrNoFormat
	}

	o := options{id: uuid.New()}
	for _, opt := range opts {
		opt(&o)
	}

	l := loop.New()
	b := bus.New()
	b.SetInvoker(l)
	src := source.New(producer, b)

	mgr, err := av.NewManager(src, o.registry, b, sender, stages)
	if err != nil {
		return nil, fmt.Errorf("create manager: %w", err)
	}
	if o.clock != nil {
		l.SetTimeProvider(o.clock)
		mgr.SetTimeProvider(o.clock)
	} else {
		o.clock = loop.RealTimeProvider{}
	}

	s := &Session{
		id:       o.id,
		config:   cfg,
		loop:     l,
		bus:      b,
		source:   src,
		producer: producer,
		manager:  mgr,
		sender:   sender,
		clock:    o.clock,
	}
	// -1 when Format is not a switch kind, so the first switch goes to
	// SwitchKinds[0].
	s.kindIndex = slices.Index(cfg.SwitchKinds, cfg.Format)

	logrus.WithFields(logrus.Fields{
		"function":    "sender.New",
		"session_id":  s.id.String(),
		"mode":        cfg.Mode.String(),
		"format":      cfg.Format.String(),
		"input":       src.Descriptor().String(),
		"destination": s.destination(),
	}).Info("Created sender session")

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Manager returns the graph manager.
func (s *Session) Manager() *av.Manager { return s.manager }

// Source returns the live source.
func (s *Session) Source() *source.LiveSource { return s.source }

// Bus returns the session bus.
func (s *Session) Bus() *bus.Bus { return s.bus }

// Loop returns the driver loop.
func (s *Session) Loop() *loop.Loop { return s.loop }

// Observe registers fn for status snapshots. Call before Run.
func (s *Session) Observe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Stop asks the loop to quit. Safe from any goroutine.
func (s *Session) Stop() {
	s.loop.Quit(nil)
}

// Run drives the session until end of stream, a fatal error, Stop or ctx
// cancellation. It returns nil on a clean end and the fatal error otherwise.
// Resources are released before it returns.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return ErrAlreadyRun
	}
	s.ran = true
	s.mu.Unlock()

	unsubscribe := s.bus.Subscribe(s.onMessage)
	defer unsubscribe()

	s.loop.Idle(s.begin)
	err := s.loop.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.Run",
			"session_id": s.id.String(),
			"reason":     err.Error(),
		}).Info("Session cancelled")
		err = nil
	}

	s.shutdown(err)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.Run",
			"session_id": s.id.String(),
			"error":      err.Error(),
		}).Error("Session failed")
	}
	return err
}

// begin runs as the first loop callback.
func (s *Session) begin() {
	switch s.config.Mode {
	case ModeDetect:
		s.probe = probe.New()
		if err := s.manager.StartDetection(s.probe); err != nil {
			s.loop.Quit(err)
			return
		}
	default:
		if err := s.reconfigure(s.config.Format); err != nil {
			return
		}
	}

	interval := source.IntervalOf(s.producer)
	s.loop.AddTimeout(interval, func() bool {
		s.manager.PollDemand()
		return true
	})
	if s.config.Mode == ModeDemo {
		s.loop.AddTimeout(s.config.SwitchInterval, s.switchFormat)
	}
	s.loop.AddTimeout(s.config.StatusInterval, func() bool {
		s.notify(EventTick, nil)
		return true
	})

	logrus.WithFields(logrus.Fields{
		"function":      "Session.begin",
		"session_id":    s.id.String(),
		"feed_interval": interval,
	}).Info("Session started")
}

// reconfigure switches to kind. A failure quits the loop with the error.
func (s *Session) reconfigure(kind media.Kind) error {
	desc := s.source.Descriptor().WithKind(kind)
	if err := s.manager.Reconfigure(desc); err != nil {
		s.loop.Quit(err)
		return err
	}
	return nil
}

// switchFormat is the demo switch timer.
func (s *Session) switchFormat() bool {
	s.kindIndex = (s.kindIndex + 1) % len(s.config.SwitchKinds)
	next := s.config.SwitchKinds[s.kindIndex]

	logrus.WithFields(logrus.Fields{
		"function":   "Session.switchFormat",
		"session_id": s.id.String(),
		"next":       next.String(),
	}).Info("Demo format switch")

	return s.reconfigure(next) == nil
}

// applyDetected runs from an idle callback after a format-detected message.
func (s *Session) applyDetected(kind media.Kind) {
	if err := s.reconfigure(kind); err != nil {
		return
	}
	if s.config.Redetect {
		if err := s.manager.RearmDetection(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Session.applyDetected",
				"error":    err.Error(),
			}).Warn("Failed to re-arm detection")
		}
	}
}

// onMessage is the bus policy.
func (s *Session) onMessage(msg bus.Message) {
	switch msg.Type {
	case bus.MessageEOS:
		logrus.WithFields(logrus.Fields{
			"function": "Session.onMessage",
			"source":   msg.Source,
		}).Info("End of stream")
		s.loop.Quit(nil)

	case bus.MessageError:
		logrus.WithFields(logrus.Fields{
			"function": "Session.onMessage",
			"source":   msg.Source,
			"error":    msg.Err,
			"debug":    msg.Debug,
		}).Error("Pipeline error")
		s.loop.Quit(fmt.Errorf("%s: %w", msg.Source, msg.Err))

	case bus.MessageWarning:
		logrus.WithFields(logrus.Fields{
			"function": "Session.onMessage",
			"source":   msg.Source,
			"warning":  msg.Err,
			"debug":    msg.Debug,
		}).Warn("Pipeline warning")

	case bus.MessageStateChanged:
		if msg.Source != av.PipelineSource {
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "Session.onMessage",
			"old":      msg.OldState,
			"new":      msg.NewState,
		}).Info("Pipeline state changed")

	case bus.MessageApplication:
		if kind, ok := av.DetectedKind(msg); ok {
			s.loop.Idle(func() { s.applyDetected(kind) })
			return
		}
		if msg.Name == av.MessageFormatSwitched {
			s.notify(EventSwitched, nil)
		}
	}
}

// Status returns a snapshot of the session. Loop thread only.
func (s *Session) Status() Status {
	stats := s.manager.Stats()
	st := Status{
		SessionID:     s.id.String(),
		Destination:   s.destination(),
		Mode:          s.config.Mode,
		State:         stats.State,
		Buffers:       stats.BuffersPushed,
		Bytes:         stats.BytesPushed,
		Switches:      stats.Switches,
		Packets:       stats.PacketsSent,
		LastTimestamp: stats.LastTimestamp,
		Time:          s.clock.Now(),
	}
	if info := s.manager.ActiveSubgraph(); info != nil {
		st.Format = info.Kind
		for _, stage := range info.Stages {
			st.Stages = append(st.Stages, stage.Kind.String())
		}
	}
	return st
}

func (s *Session) notify(event Event, err error) {
	st := s.Status()
	st.Event = event
	st.Err = err

	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(st)
	}
}

// shutdown releases the graph and the source and tells observers.
func (s *Session) shutdown(cause error) {
	final := s.Status()

	if err := s.manager.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Session.shutdown",
			"error":    err.Error(),
		}).Warn("Manager closed with errors")
	}
	if err := s.source.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Session.shutdown",
			"error":    err.Error(),
		}).Warn("Source closed with errors")
	}

	final.Event = EventStopped
	final.State = s.manager.State()
	final.Err = cause

	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(final)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Session.shutdown",
		"session_id": s.id.String(),
		"buffers":    final.Buffers,
		"switches":   final.Switches,
	}).Info("Session stopped")
}

func (s *Session) destination() string {
	if addr := s.sender.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
