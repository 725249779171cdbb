package av

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/bus"
	"github.com/opd-ai/rtpsend/interfaces"
	"github.com/opd-ai/rtpsend/media"
	"github.com/opd-ai/rtpsend/probe"
)

// PipelineSource is the bus source name of top-level pipeline messages.
const PipelineSource = "pipeline"

// Application message names published by the manager.
const (
	MessageFormatDetected = "format-detected"
	MessageFormatSwitched = "format-switched"
)

// Manager owns the live source attachment and the active subgraph, and swaps
// the subgraph while the source keeps producing.
//
// Reconfigure, PollDemand and Close are meant to be called from the session
// loop thread. Getters are safe from any goroutine.
type Manager struct {
	head     Head
	demand   DemandSignaler
	registry *Registry
	bus      *bus.Bus
	sender   interfaces.DatagramSender
	config   StageConfig

	// reconfMu serializes Reconfigure and Close.
	reconfMu sync.Mutex

	mu             sync.RWMutex
	state          State
	activeFormat   *media.Descriptor
	activeSubgraph *Subgraph
	pipelineState  string
	playingSince   time.Time
	stats          ManagerStats
	probe          *probe.Probe
	detecting      bool

	stateCallback func(old, new State)
	timeProvider  TimeProvider
}

// NewManager creates a manager feeding subgraphs from head. A nil registry
// selects DefaultRegistry and a nil bus a private one. The head also serves
// as the DemandSignaler when it implements it.
func NewManager(head Head, registry *Registry, b *bus.Bus, sender interfaces.DatagramSender, config StageConfig) (*Manager, error) {
	if head == nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewManager",
			"error":    ErrNoSource.Error(),
		}).Error("Cannot create graph manager")
		return nil, ErrNoSource
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	if b == nil {
		b = bus.New()
	}

	m := &Manager{
		head:          head,
		registry:      registry,
		bus:           b,
		sender:        sender,
		config:        config.withDefaults(),
		state:         StateUninitialized,
		pipelineState: stateNull,
		timeProvider:  DefaultTimeProvider{},
	}
	if d, ok := head.(DemandSignaler); ok {
		m.demand = d
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewManager",
		"source":        head.Descriptor().String(),
		"mtu":           m.config.MTU,
		"max_latency":   m.config.MaxLatency,
		"block_size":    m.config.BlockSize,
		"state_timeout": m.config.StateChangeTimeout,
		"demand":        m.demand != nil,
	}).Info("Graph manager created")

	return m, nil
}

// Bus returns the bus the manager publishes on.
func (m *Manager) Bus() *bus.Bus { return m.bus }

// Config returns the effective stage configuration.
func (m *Manager) Config() StageConfig { return m.config }

// SetTimeProvider sets the time provider for deterministic testing.
// If tp is nil, DefaultTimeProvider is used.
func (m *Manager) SetTimeProvider(tp TimeProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	m.timeProvider = tp
}

func (m *Manager) clock() TimeProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeProvider
}

// SetStateCallback registers fn to run after every state change. It runs on
// the goroutine that caused the change, without manager locks held.
func (m *Manager) SetStateCallback(fn func(old, new State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCallback = fn
}

// setState moves to next and reports the transition.
func (m *Manager) setState(next State) State {
	m.mu.Lock()
	old := m.state
	m.state = next
	cb := m.stateCallback
	m.mu.Unlock()

	if old != next {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.setState",
			"old":      old.String(),
			"new":      next.String(),
		}).Debug("Graph manager state changed")
		if cb != nil {
			cb(old, next)
		}
	}
	return old
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ActiveFormat returns a copy of the active descriptor, nil when no subgraph
// is active.
func (m *Manager) ActiveFormat() *media.Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeFormat == nil {
		return nil
	}
	d := *m.activeFormat
	return &d
}

// ActiveSubgraph returns a snapshot of the active subgraph, nil when none.
func (m *Manager) ActiveSubgraph() *SubgraphInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeSubgraph == nil {
		return nil
	}
	info := m.activeSubgraph.Info()
	return &info
}

// Stats returns a copy of the counters, including the active sink's.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.stats
	s.State = m.state
	if m.activeSubgraph != nil {
		if sink, ok := m.activeSubgraph.sinkStats(); ok {
			s.PacketsSent += sink.PacketsSent
			s.OctetsSent += sink.OctetsSent
			s.SendFailures += sink.SendFailures
		}
	}
	return s
}

// setActive records or clears both active fields together.
func (m *Manager) setActive(sg *Subgraph) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sg == nil {
		m.activeFormat = nil
		m.activeSubgraph = nil
		return
	}
	desc := sg.Format()
	m.activeFormat = &desc
	m.activeSubgraph = sg
}

// setPipelineState publishes a top-level pipeline transition.
func (m *Manager) setPipelineState(next string) {
	m.mu.Lock()
	old := m.pipelineState
	m.pipelineState = next
	m.mu.Unlock()

	if old != next {
		m.bus.Publish(bus.NewStateChanged(PipelineSource, old, next, statePending))
	}
}

// Reconfigure switches the active subgraph to desc.Kind.
//
// A request for the active kind does nothing. Otherwise the source is
// paused, the old subgraph torn down, and a new one built, linked, attached
// and started. Any failure after the pause leaves the manager in StateError
// with no subgraph attached and publishes a bus error.
//
// Parameters:
//   - desc: Format to build for; its rate, channels and depth must match
//     the live source
//
// Returns:
//   - error: ErrTerminated, ErrSessionFailed, ErrInvalidDescriptor,
//     ErrDescriptorMismatch, or a failure wrapping ErrConstruction,
//     ErrLinkFailed, ErrStateChangeTimeout or ErrStateChangeFailed
func (m *Manager) Reconfigure(desc media.Descriptor) error {
	m.reconfMu.Lock()
	defer m.reconfMu.Unlock()

	m.mu.RLock()
	state := m.state
	active := m.activeFormat
	m.mu.RUnlock()

	switch state {
	case StateTerminated:
		return ErrTerminated
	case StateError:
		return ErrSessionFailed
	}

	if active != nil && active.Kind == desc.Kind {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Reconfigure",
			"kind":     desc.Kind.String(),
		}).Debug("Format already active, nothing to do")
		return nil
	}

	if err := desc.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Reconfigure",
			"format":   desc.String(),
			"error":    err.Error(),
		}).Error("Rejected format descriptor")
		return fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	if src := m.head.Descriptor(); src.SampleRate != desc.SampleRate ||
		src.Channels != desc.Channels || src.BitDepth != desc.BitDepth {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Reconfigure",
			"format":   desc.String(),
			"source":   src.String(),
		}).Error("Format does not match live source")
		return fmt.Errorf("%w: %s vs source %s", ErrDescriptorMismatch, desc, src)
	}

	from := "none"
	if active != nil {
		from = active.Kind.String()
	}
	logrus.WithFields(logrus.Fields{
		"function": "Manager.Reconfigure",
		"from":     from,
		"to":       desc.Kind.String(),
		"format":   desc.String(),
	}).Info("Switching subgraph")

	m.setState(StateTransitionInProgress)
	m.head.SetFlushing(true)
	m.setPipelineState(statePaused)

	if err := m.teardown(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Reconfigure",
			"error":    err.Error(),
		}).Warn("Old subgraph released with errors")
	}

	sg, err := m.buildAndStart(desc)
	if err != nil {
		m.fail(err)
		return err
	}

	now := m.clock().Now()
	m.mu.Lock()
	m.playingSince = now
	m.stats.PushedDuration = 0
	m.stats.Switches++
	m.mu.Unlock()

	m.setActive(sg)
	m.head.SetFlushing(false)
	m.setState(activeStateFor(desc.Kind))
	m.setPipelineState(statePlaying)

	info := sg.Info()
	stages := make([]string, len(info.Stages))
	for i, s := range info.Stages {
		stages[i] = s.Kind.String()
	}
	m.bus.Publish(bus.NewApplication(PipelineSource, MessageFormatSwitched, map[string]interface{}{
		"kind":     desc.Kind.String(),
		"format":   desc.String(),
		"subgraph": sg.ID(),
		"stages":   stages,
	}))

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Reconfigure",
		"kind":     desc.Kind.String(),
		"subgraph": sg.Name(),
		"stages":   stages,
	}).Info("Subgraph playing")

	return nil
}

// buildAndStart builds, links, attaches and starts a subgraph for desc. On
// failure nothing stays attached and everything built is released.
func (m *Manager) buildAndStart(desc media.Descriptor) (*Subgraph, error) {
	recipe, err := m.registry.Recipe(desc.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConstruction, err)
	}

	sg, err := buildSubgraph(m.registry, recipe, desc, m.config, m.bus, m.sender, m.clock().Now())
	if err != nil {
		return nil, err
	}

	guard := &releaseGuard{}
	defer guard.release()
	guard.add(sg.release)

	if err := sg.link(media.RawCaps(desc.SampleRate, desc.Channels)); err != nil {
		return nil, err
	}

	if err := m.head.Link(media.PadFunc(m.chainFunc(sg))); err != nil {
		return nil, fmt.Errorf("%w: attach to source: %w", ErrLinkFailed, err)
	}
	guard.add(func() error {
		m.head.Unlink()
		return nil
	})

	if err := sg.start(m.config.StateChangeTimeout, m.clock()); err != nil {
		sg.stop()
		return nil, err
	}

	guard.disarm()
	return sg, nil
}

// chainFunc returns the pad function attached to the source for sg. It
// counts what flows into the subgraph for the demand computation.
func (m *Manager) chainFunc(sg *Subgraph) func(media.Buffer) error {
	return func(buf media.Buffer) error {
		if err := sg.Chain(buf); err != nil {
			m.failRuntime(sg, err)
			return err
		}
		d := buf.Duration
		if d == 0 {
			d = sg.Format().DurationOf(buf.Len())
		}
		m.mu.Lock()
		m.stats.BuffersPushed++
		m.stats.BytesPushed += uint64(buf.Len())
		m.stats.PushedDuration += d
		m.stats.LastTimestamp = buf.Timestamp
		m.mu.Unlock()
		return nil
	}
}

// teardown detaches, stops and releases the active subgraph and clears both
// active fields.
func (m *Manager) teardown() error {
	m.mu.RLock()
	sg := m.activeSubgraph
	m.mu.RUnlock()

	if sg == nil {
		return nil
	}

	m.head.Unlink()
	sg.stop()
	m.retire(sg)
	err := sg.release()

	logrus.WithFields(logrus.Fields{
		"function": "Manager.teardown",
		"subgraph": sg.Name(),
	}).Debug("Subgraph torn down")

	return err
}

// fail records a failed reconfiguration.
func (m *Manager) fail(err error) {
	m.setActive(nil)

	m.mu.Lock()
	m.stats.Failures++
	m.mu.Unlock()

	m.setState(StateError)

	logrus.WithFields(logrus.Fields{
		"function": "Manager.fail",
		"error":    err.Error(),
	}).Error("Subgraph reconfiguration failed")

	m.bus.Publish(bus.NewError(PipelineSource, err, stageDebug(err)))
}

// failRuntime moves a streaming subgraph failure to StateError and
// publishes it, so the session ends with the error instead of a plain end of
// stream. The subgraph stays attached until Close.
func (m *Manager) failRuntime(sg *Subgraph, err error) {
	m.mu.Lock()
	if m.state == StateError || m.state == StateTerminated {
		m.mu.Unlock()
		return
	}
	m.stats.Failures++
	m.mu.Unlock()

	m.setState(StateError)

	logrus.WithFields(logrus.Fields{
		"function": "Manager.failRuntime",
		"subgraph": sg.Name(),
		"error":    err.Error(),
	}).Error("Subgraph failed while streaming")

	m.bus.Publish(bus.NewError(sg.Name(), err, stageDebug(err)))
}

// retire folds the sink counters of a subgraph being torn down into the
// manager totals and clears both active fields under one lock, so Stats
// never counts the sink twice.
func (m *Manager) retire(sg *Subgraph) {
	sink, ok := sg.sinkStats()

	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.stats.PacketsSent += sink.PacketsSent
		m.stats.OctetsSent += sink.OctetsSent
		m.stats.SendFailures += sink.SendFailures
	}
	m.activeFormat = nil
	m.activeSubgraph = nil
}

func stageDebug(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return fmt.Sprintf("role=%s stage=%s", se.Role, se.Kind)
	}
	return ""
}

// Close tears down the active subgraph and terminates the manager. Later
// calls return nil.
func (m *Manager) Close() error {
	m.reconfMu.Lock()
	defer m.reconfMu.Unlock()

	if m.State() == StateTerminated {
		return nil
	}

	m.head.SetFlushing(true)
	m.head.SetTap(nil)
	m.setPipelineState(statePaused)
	err := m.teardown()
	m.setPipelineState(stateNull)

	m.mu.Lock()
	m.detecting = false
	m.mu.Unlock()

	m.setState(StateTerminated)

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Close",
		"switches": m.Stats().Switches,
	}).Info("Graph manager closed")

	return err
}
