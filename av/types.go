package av

import (
	"fmt"
	"time"

	"github.com/opd-ai/rtpsend/media"
)

// State represents the lifecycle state of a graph manager.
type State uint8

const (
	// StateUninitialized means no subgraph was ever built.
	StateUninitialized State = iota
	// StatePcmActive means the raw PCM subgraph is playing.
	StatePcmActive
	// StateAc3Active means the AC-3 subgraph is playing.
	StateAc3Active
	// StateOpusActive means the Opus subgraph is playing.
	StateOpusActive
	// StateTransitionInProgress means a reconfiguration is running.
	StateTransitionInProgress
	// StateError means a reconfiguration failed. It is terminal.
	StateError
	// StateTerminated means the manager was closed.
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StatePcmActive:
		return "PcmActive"
	case StateAc3Active:
		return "Ac3Active"
	case StateOpusActive:
		return "OpusActive"
	case StateTransitionInProgress:
		return "TransitionInProgress"
	case StateError:
		return "Error"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Active reports whether a subgraph is playing in this state.
func (s State) Active() bool {
	return s == StatePcmActive || s == StateAc3Active || s == StateOpusActive
}

func activeStateFor(kind media.Kind) State {
	switch kind {
	case media.KindAc3:
		return StateAc3Active
	case media.KindOpus:
		return StateOpusActive
	default:
		return StatePcmActive
	}
}

// StageKind identifies a buildable stage. The set is closed: every kind has
// exactly one typed builder in a Registry.
type StageKind uint8

const (
	StageAudioConvert StageKind = iota + 1
	StageAudioResample
	StageAC3Encode
	StageMP3Encode
	StageOpusEncode
	StageAC3Parse
	StageMPAParse
	StageL16Pay
	StageAC3Pay
	StageMPAPay
	StageOpusPay
	StageUDPSink
)

var stageKindNames = map[StageKind]string{
	StageAudioConvert:  "audioconvert",
	StageAudioResample: "audioresample",
	StageAC3Encode:     "avenc_ac3",
	StageMP3Encode:     "lamemp3enc",
	StageOpusEncode:    "opusenc",
	StageAC3Parse:      "ac3parse",
	StageMPAParse:      "mpegaudioparse",
	StageL16Pay:        "rtpL16pay",
	StageAC3Pay:        "rtpac3pay",
	StageMPAPay:        "rtpmpapay",
	StageOpusPay:       "rtpopuspay",
	StageUDPSink:       "udpsink",
}

// String returns the element-style name of the stage kind.
func (k StageKind) String() string {
	if name, ok := stageKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", uint8(k))
}

// Role is the position a stage takes in a recipe.
type Role string

const (
	RoleConvert  Role = "convert"
	RoleResample Role = "resample"
	RoleEncode   Role = "encode"
	RoleParse    Role = "parse"
	RolePayload  Role = "payload"
	RoleSink     Role = "sink"
)

// Defaults used by DefaultStageConfig.
const (
	DefaultMaxLatency         = 200 * time.Millisecond
	DefaultBlockSize          = 4096
	DefaultStateChangeTimeout = 2 * time.Second
	DefaultAC3Bitrate         = 192000
	DefaultMP3Bitrate         = 192
	DefaultOpusBitrate        = 128000
	DefaultMP3Quality         = 2
)

// StageConfig holds the tunables handed to every builder, plus the
// manager's feed and state-change limits.
type StageConfig struct {
	MTU         int
	FFmpegPath  string
	AC3Bitrate  int // bits per second
	MP3Bitrate  int // kbit/s
	MP3Quality  int
	OpusBitrate int // bits per second
	Gain        float64

	MaxLatency         time.Duration
	BlockSize          int
	StateChangeTimeout time.Duration
}

// DefaultStageConfig returns the compiled-in defaults.
func DefaultStageConfig() StageConfig {
	return StageConfig{
		MTU:                1400,
		FFmpegPath:         "ffmpeg",
		AC3Bitrate:         DefaultAC3Bitrate,
		MP3Bitrate:         DefaultMP3Bitrate,
		MP3Quality:         DefaultMP3Quality,
		OpusBitrate:        DefaultOpusBitrate,
		MaxLatency:         DefaultMaxLatency,
		BlockSize:          DefaultBlockSize,
		StateChangeTimeout: DefaultStateChangeTimeout,
	}
}

// withDefaults fills zero fields.
func (c StageConfig) withDefaults() StageConfig {
	d := DefaultStageConfig()
	if c.MTU == 0 {
		c.MTU = d.MTU
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = d.FFmpegPath
	}
	if c.AC3Bitrate == 0 {
		c.AC3Bitrate = d.AC3Bitrate
	}
	if c.MP3Bitrate == 0 {
		c.MP3Bitrate = d.MP3Bitrate
	}
	if c.OpusBitrate == 0 {
		c.OpusBitrate = d.OpusBitrate
	}
	if c.MaxLatency == 0 {
		c.MaxLatency = d.MaxLatency
	}
	if c.BlockSize == 0 {
		c.BlockSize = d.BlockSize
	}
	if c.StateChangeTimeout == 0 {
		c.StateChangeTimeout = d.StateChangeTimeout
	}
	return c
}

// StageInfo describes one stage of a built subgraph.
type StageInfo struct {
	Role Role
	Kind StageKind
	Name string
	Sink media.Caps
	Src  media.Caps
}

// SubgraphInfo is a snapshot of a subgraph for observers.
type SubgraphInfo struct {
	ID     string
	Kind   media.Kind
	Format media.Descriptor
	Stages []StageInfo
	Built  time.Time
}

// Roles returns the role of every stage, in order.
func (i SubgraphInfo) Roles() []Role {
	out := make([]Role, len(i.Stages))
	for n, s := range i.Stages {
		out[n] = s.Role
	}
	return out
}

// Kinds returns the kind of every stage, in order.
func (i SubgraphInfo) Kinds() []StageKind {
	out := make([]StageKind, len(i.Stages))
	for n, s := range i.Stages {
		out[n] = s.Kind
	}
	return out
}

// ManagerStats holds counters for observers.
type ManagerStats struct {
	State               State
	Switches            uint64
	Failures            uint64
	BuffersPushed       uint64
	BytesPushed         uint64
	PushedDuration      time.Duration
	LastTimestamp       time.Duration
	DemandRequests      uint64
	BackpressureSignals uint64
	PacketsSent         uint64
	OctetsSent          uint64
	SendFailures        uint64
}

// TimeProvider abstracts time for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	NewTimer(d time.Duration) *time.Timer
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// NewTimer creates a standard timer.
func (DefaultTimeProvider) NewTimer(d time.Duration) *time.Timer { return time.NewTimer(d) }
