// Package probe decides the format category of a live stream.
//
// A Probe is a one-shot latch: the first inspected sample decides the format
// for the session and every later sample is ignored. Rearm reopens the latch
// for callers that want to catch a mid-stream format change.
package probe

import (
	"bytes"
	"sync"

	"github.com/opd-ai/rtpsend/media"
	"github.com/sirupsen/logrus"
)

// AC3SyncWord is the two-byte synchronisation marker opening every AC-3 frame.
var AC3SyncWord = []byte{0x0B, 0x77}

// Probe inspects early buffers and decides the stream format exactly once.
type Probe struct {
	mu       sync.Mutex
	decided  bool
	decision media.Kind
	rearms   int
}

// New creates an undecided probe.
func New() *Probe {
	return &Probe{}
}

// Inspect scans sample for a format signature.
//
// The first call decides: a sample starting with the AC-3 sync word yields
// KindAc3, anything else (including samples shorter than the signature)
// yields KindPcm. Once decided, Inspect returns (KindUnknown, false).
//
// Parameters:
//   - sample: Leading bytes of a buffer
//
// Returns:
//   - media.Kind: The decided kind, KindUnknown when no decision was made
//   - bool: true only on the deciding call
func (p *Probe) Inspect(sample []byte) (media.Kind, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.decided {
		return media.KindUnknown, false
	}

	kind := media.KindPcm
	if len(sample) >= len(AC3SyncWord) && bytes.HasPrefix(sample, AC3SyncWord) {
		kind = media.KindAc3
	}

	p.decided = true
	p.decision = kind

	logrus.WithFields(logrus.Fields{
		"function":    "Probe.Inspect",
		"sample_size": len(sample),
		"decision":    kind.String(),
		"rearms":      p.rearms,
	}).Info("Stream format detected")

	return kind, true
}

// Decided reports whether the latch is closed.
func (p *Probe) Decided() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decided
}

// Decision returns the last decided kind, KindUnknown before any decision.
func (p *Probe) Decision() media.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decision
}

// Rearm reopens the latch so the next inspected sample decides again.
// The previous decision stays readable through Decision until then.
func (p *Probe) Rearm() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.decided = false
	p.rearms++

	logrus.WithFields(logrus.Fields{
		"function":      "Probe.Rearm",
		"last_decision": p.decision.String(),
		"rearms":        p.rearms,
	}).Debug("Format probe re-armed")
}
