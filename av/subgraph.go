package av

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/av/rtp"
	"github.com/opd-ai/rtpsend/bus"
	"github.com/opd-ai/rtpsend/interfaces"
	"github.com/opd-ai/rtpsend/media"
)

// releaseGuard collects release functions as resources are acquired and runs
// them in reverse order unless ownership was handed off with disarm.
type releaseGuard struct {
	releases []func() error
	disarmed bool
}

func (g *releaseGuard) add(release func() error) {
	g.releases = append(g.releases, release)
}

func (g *releaseGuard) disarm() {
	g.disarmed = true
}

// release runs the collected functions in reverse order. It is a no-op once
// disarmed or after a previous call.
func (g *releaseGuard) release() error {
	if g.disarmed {
		return nil
	}
	var errs []error
	for i := len(g.releases) - 1; i >= 0; i-- {
		if err := g.releases[i](); err != nil {
			errs = append(errs, err)
		}
	}
	g.releases = nil
	return errors.Join(errs...)
}

type member struct {
	role  Role
	kind  StageKind
	stage Stage
}

// Subgraph is an owned chain of stages ending in the network sink.
type Subgraph struct {
	id      xid.ID
	name    string
	format  media.Descriptor
	members []member
	built   time.Time
	bus     *bus.Bus
	state   string
}

// pipeline-style state names used in state-changed messages.
const (
	stateNull    = "NULL"
	stateReady   = "READY"
	statePaused  = "PAUSED"
	statePlaying = "PLAYING"
	statePending = "VOID_PENDING"
)

// buildSubgraph constructs every role of recipe. On failure everything
// acquired so far is released in reverse order.
func buildSubgraph(reg *Registry, recipe Recipe, desc media.Descriptor, config StageConfig, b *bus.Bus, sender interfaces.DatagramSender, now time.Time) (*Subgraph, error) {
	id := xid.New()
	sg := &Subgraph{
		id:     id,
		name:   fmt.Sprintf("bin-%s-%s", desc.Kind, id.String()),
		format: desc,
		built:  now,
		bus:    b,
		state:  stateNull,
	}

	guard := &releaseGuard{}
	defer guard.release()

	upstream := media.RawCaps(desc.SampleRate, desc.Channels)
	for _, spec := range recipe {
		stage, kind, err := reg.buildRole(spec, BuildContext{
			Format:   desc,
			Upstream: upstream,
			Config:   config,
			Bus:      b,
			Sender:   sender,
			Name:     sg.name,
		})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "buildSubgraph",
				"subgraph": sg.name,
				"role":     spec.Role,
				"built":    len(sg.members),
				"error":    err.Error(),
			}).Error("Subgraph construction failed")
			return nil, err
		}
		guard.add(stage.Close)
		sg.members = append(sg.members, member{role: spec.Role, kind: kind, stage: stage})
		_, upstream = stage.Caps()
	}

	guard.disarm()
	sg.setState(stateReady)
	return sg, nil
}

// Name returns the subgraph bin name.
func (s *Subgraph) Name() string { return s.name }

// ID returns the subgraph instance ID.
func (s *Subgraph) ID() string { return s.id.String() }

// Format returns the descriptor the subgraph was built for.
func (s *Subgraph) Format() media.Descriptor { return s.format }

// link verifies the caps of every adjacent pair, starting at the source.
func (s *Subgraph) link(source media.Caps) error {
	upstream := source
	for i, m := range s.members {
		sink, src := m.stage.Caps()
		if !upstream.CanLinkTo(sink) {
			prev := "source"
			if i > 0 {
				prev = s.members[i-1].stage.Name()
			}
			return fmt.Errorf("%w: %s (%s) -> %s (%s)", ErrLinkFailed, prev, upstream, m.stage.Name(), sink)
		}
		upstream = src
	}
	return nil
}

// Chain pushes buf through every stage. It implements media.Pad.
func (s *Subgraph) Chain(buf media.Buffer) error {
	return s.push(0, buf)
}

func (s *Subgraph) push(i int, buf media.Buffer) error {
	if i >= len(s.members) {
		return nil
	}
	m := s.members[i]
	out, err := m.stage.Process(buf)
	if err != nil {
		return &StageError{Role: m.role, Kind: m.kind, Name: m.stage.Name(), Err: err}
	}
	for _, o := range out {
		if err := s.push(i+1, o); err != nil {
			return err
		}
	}
	return nil
}

// start brings every stage to playing and waits for asynchronous stages to
// preroll within timeout.
func (s *Subgraph) start(timeout time.Duration, tp TimeProvider) error {
	s.setState(statePaused)

	var prerolls []member
	for _, m := range s.members {
		if st, ok := m.stage.(Starter); ok {
			if err := st.Start(); err != nil {
				return &StageError{Role: m.role, Kind: m.kind, Name: m.stage.Name(),
					Err: fmt.Errorf("%w: %w", ErrStateChangeFailed, err)}
			}
		}
		if _, ok := m.stage.(Preroller); ok {
			prerolls = append(prerolls, m)
		}
	}

	if len(prerolls) > 0 {
		timer := tp.NewTimer(timeout)
		defer timer.Stop()

		for _, m := range prerolls {
			select {
			case err := <-m.stage.(Preroller).Preroll():
				if err != nil {
					return &StageError{Role: m.role, Kind: m.kind, Name: m.stage.Name(),
						Err: fmt.Errorf("%w: %w", ErrStateChangeFailed, err)}
				}
			case <-timer.C:
				return &StageError{Role: m.role, Kind: m.kind, Name: m.stage.Name(),
					Err: fmt.Errorf("%w after %v", ErrStateChangeTimeout, timeout)}
			}
		}
	}

	s.setState(statePlaying)
	return nil
}

// stop flushes stages that support it. Failures are logged, not returned:
// the subgraph is being discarded either way.
func (s *Subgraph) stop() {
	if s.state == statePlaying {
		s.setState(statePaused)
	}
	for _, m := range s.members {
		st, ok := m.stage.(Stopper)
		if !ok {
			continue
		}
		if err := st.Stop(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Subgraph.stop",
				"subgraph": s.name,
				"stage":    m.stage.Name(),
				"error":    err.Error(),
			}).Warn("Stage did not stop cleanly")
		}
	}
}

// release closes every stage in reverse order.
func (s *Subgraph) release() error {
	var errs []error
	for i := len(s.members) - 1; i >= 0; i-- {
		if err := s.members[i].stage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.members[i].stage.Name(), err))
		}
	}
	s.setState(stateNull)
	return errors.Join(errs...)
}

func (s *Subgraph) setState(next string) {
	if s.state == next {
		return
	}
	old := s.state
	s.state = next
	if s.bus != nil {
		s.bus.Publish(bus.NewStateChanged(s.name, old, next, statePending))
	}
}

// sinkStats returns the statistics of the network sink, if any.
func (s *Subgraph) sinkStats() (rtp.Statistics, bool) {
	for i := len(s.members) - 1; i >= 0; i-- {
		if sink, ok := s.members[i].stage.(interface{ Stats() rtp.Statistics }); ok {
			return sink.Stats(), true
		}
	}
	return rtp.Statistics{}, false
}

// Info returns a snapshot of the subgraph.
func (s *Subgraph) Info() SubgraphInfo {
	info := SubgraphInfo{
		ID:     s.id.String(),
		Kind:   s.format.Kind,
		Format: s.format,
		Built:  s.built,
		Stages: make([]StageInfo, len(s.members)),
	}
	for i, m := range s.members {
		sink, src := m.stage.Caps()
		info.Stages[i] = StageInfo{Role: m.role, Kind: m.kind, Name: m.stage.Name(), Sink: sink, Src: src}
	}
	return info
}
