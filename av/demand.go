package av

import (
	"time"

	"github.com/sirupsen/logrus"
)

// QueuedDuration returns the media time pushed into the active subgraph that
// has not yet been covered by wall-clock time since it started playing.
// Zero without an active subgraph.
func (m *Manager) QueuedDuration() time.Duration {
	now := m.clock().Now()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeSubgraph == nil {
		return 0
	}
	return m.stats.PushedDuration - now.Sub(m.playingSince)
}

// PollDemand runs the feed protocol once. The session's feed timer calls it.
//
// With an active subgraph the source is asked for BlockSize bytes while less
// than MaxLatency of media is queued, and told to hold off otherwise. During
// detection without a subgraph data is always requested so the probe sees it.
func (m *Manager) PollDemand() {
	if m.demand == nil {
		return
	}

	m.mu.RLock()
	state := m.state
	active := m.activeSubgraph != nil
	detecting := m.detecting
	m.mu.RUnlock()

	if !active {
		if detecting && state != StateError && state != StateTerminated {
			m.requestData()
		}
		return
	}
	if !state.Active() {
		return
	}

	queued := m.QueuedDuration()
	if queued < m.config.MaxLatency {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.PollDemand",
			"queued":   queued,
		}).Trace("Requesting more data")
		m.requestData()
		return
	}

	m.mu.Lock()
	m.stats.BackpressureSignals++
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "Manager.PollDemand",
		"queued":      queued,
		"max_latency": m.config.MaxLatency,
	}).Debug("Queue above latency limit, signalling backpressure")
	m.demand.NotifyBackpressure()
}

func (m *Manager) requestData() {
	m.mu.Lock()
	m.stats.DemandRequests++
	m.mu.Unlock()
	m.demand.RequestMoreData(m.config.BlockSize)
}
