package sender

import (
	"fmt"
	"strings"
	"time"

	"github.com/opd-ai/rtpsend/av"
	"github.com/opd-ai/rtpsend/media"
)

// Mode selects how a session chooses its format.
type Mode uint8

const (
	// ModeDemo alternates formats on a timer.
	ModeDemo Mode = iota
	// ModeDetect probes the input and switches to what it finds.
	ModeDetect
	// ModeFixed sends one format for the whole session.
	ModeFixed
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeDemo:
		return "demo"
	case ModeDetect:
		return "detect"
	case ModeFixed:
		return "fixed"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode maps a name onto a Mode.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "demo":
		return ModeDemo, nil
	case "detect":
		return ModeDetect, nil
	case "fixed":
		return ModeFixed, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

// Session defaults.
const (
	DefaultSwitchInterval = 5 * time.Second
	DefaultStatusInterval = 500 * time.Millisecond
)

// Config selects the session behaviour.
type Config struct {
	Mode Mode
	// Format is the kind sent in fixed mode and the first kind in demo mode.
	Format media.Kind
	// SwitchInterval is the demo mode switch period.
	SwitchInterval time.Duration
	// SwitchKinds are alternated in demo mode. Defaults to Pcm and Ac3.
	SwitchKinds []media.Kind
	// StatusInterval is the period of EventTick notifications.
	StatusInterval time.Duration
	// Redetect re-arms the probe after each detected format, so a later
	// change in the input switches again.
	Redetect bool
}

func (c Config) withDefaults() Config {
	if c.SwitchInterval <= 0 {
		c.SwitchInterval = DefaultSwitchInterval
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if len(c.SwitchKinds) == 0 {
		c.SwitchKinds = []media.Kind{media.KindPcm, media.KindAc3}
	}
	if c.Mode == ModeDemo && c.Format == media.KindUnknown {
		c.Format = c.SwitchKinds[0]
	}
	return c
}

// Event names why an observer is notified.
type Event string

const (
	EventSwitched Event = "switched"
	EventTick     Event = "tick"
	EventStopped  Event = "stopped"
)

// Status is a snapshot of the session handed to observers.
type Status struct {
	Event         Event
	SessionID     string
	Destination   string
	Mode          Mode
	Format        media.Kind
	State         av.State
	Stages        []string
	Buffers       uint64
	Bytes         uint64
	Switches      uint64
	Packets       uint64
	LastTimestamp time.Duration
	Time          time.Time
	Err           error
}

// Observer receives status snapshots on the loop thread. It must not block.
type Observer func(Status)
