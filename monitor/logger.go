package monitor

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/sender"
)

// DefaultLogEvery is the buffer count between progress lines.
const DefaultLogEvery = 100

// StatusLogger writes session status as log lines: every format switch with
// its time, and a progress line every N buffers.
type StatusLogger struct {
	logger logrus.FieldLogger
	every  uint64
	next   uint64
}

// NewStatusLogger creates a logger writing to logger, or the standard
// logrus logger when nil.
func NewStatusLogger(logger logrus.FieldLogger, every uint64) *StatusLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if every == 0 {
		every = DefaultLogEvery
	}
	return &StatusLogger{logger: logger, every: every, next: every}
}

// Observe logs st. It is a sender.Observer.
func (l *StatusLogger) Observe(st sender.Status) {
	fields := logrus.Fields{
		"session_id": st.SessionID,
		"format":     st.Format.String(),
		"buffers":    st.Buffers,
	}

	switch st.Event {
	case sender.EventSwitched:
		fields["time"] = st.Time.Format(time.RFC3339Nano)
		fields["stages"] = st.Stages
		fields["switches"] = st.Switches
		l.logger.WithFields(fields).Info("Format switched")

	case sender.EventTick:
		if st.Buffers < l.next {
			return
		}
		l.next = (st.Buffers/l.every + 1) * l.every
		fields["bytes"] = st.Bytes
		fields["packets"] = st.Packets
		fields["timestamp"] = st.LastTimestamp
		l.logger.WithFields(fields).Info("Buffers sent")

	case sender.EventStopped:
		fields["state"] = st.State.String()
		if st.Err != nil {
			fields["error"] = st.Err.Error()
		}
		l.logger.WithFields(fields).Info("Session finished")
	}
}
