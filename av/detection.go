package av

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/bus"
	"github.com/opd-ai/rtpsend/media"
	"github.com/opd-ai/rtpsend/probe"
)

// ProbeSource is the bus source name of detection messages.
const ProbeSource = "probe"

// StartDetection probes pushed buffers with p.
//
// Until a subgraph is attached the source discards its buffers. When p
// decides, a format-detected application message is published with the
// decided kind in Fields["kind"] (a media.Kind). The manager never
// reconfigures from inside a push; whoever handles the message schedules
// Reconfigure on the loop.
func (m *Manager) StartDetection(p *probe.Probe) error {
	if m.State() == StateTerminated {
		return ErrTerminated
	}

	m.mu.Lock()
	m.probe = p
	m.detecting = true
	m.mu.Unlock()

	b := m.bus
	m.head.SetDiscardUnlinked(true)
	m.head.SetTap(func(buf media.Buffer) {
		kind, decided := p.Inspect(buf.Payload)
		if !decided {
			return
		}
		b.Publish(bus.NewApplication(ProbeSource, MessageFormatDetected, map[string]interface{}{
			"kind":      kind,
			"format":    kind.String(),
			"timestamp": buf.Timestamp,
		}))
	})

	logrus.WithFields(logrus.Fields{
		"function": "Manager.StartDetection",
		"decided":  p.Decided(),
	}).Info("Format detection started")

	return nil
}

// RearmDetection lets the probe decide again on the next buffer.
func (m *Manager) RearmDetection() error {
	m.mu.RLock()
	p, detecting := m.probe, m.detecting
	m.mu.RUnlock()

	if !detecting || p == nil {
		return ErrDetectionInactive
	}
	p.Rearm()
	return nil
}

// Detecting reports whether detection mode is on.
func (m *Manager) Detecting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.detecting
}

// DetectedKind extracts the kind from a format-detected message.
func DetectedKind(msg bus.Message) (media.Kind, bool) {
	if msg.Type != bus.MessageApplication || msg.Name != MessageFormatDetected {
		return media.KindUnknown, false
	}
	kind, ok := msg.Fields["kind"].(media.Kind)
	return kind, ok
}
