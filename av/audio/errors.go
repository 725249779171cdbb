package audio

import "errors"

// Configuration errors
var (
	// ErrInvalidGain indicates a gain outside the supported range
	ErrInvalidGain = errors.New("invalid gain")

	// ErrInvalidFormat indicates an unsupported rate, channel count or bit depth
	ErrInvalidFormat = errors.New("invalid audio format")

	// ErrEncoderUnavailable indicates that an encoder backend is missing on this host
	ErrEncoderUnavailable = errors.New("encoder unavailable")
)

// Runtime errors
var (
	// ErrStageClosed indicates use of a stage after Close
	ErrStageClosed = errors.New("stage closed")

	// ErrNotStarted indicates that a subprocess stage received data before Start
	ErrNotStarted = errors.New("stage not started")

	// ErrUnaligned indicates sample data not aligned to the channel count
	ErrUnaligned = errors.New("samples not aligned to channel count")

	// ErrStopTimeout indicates a subprocess that did not exit after its
	// input was closed and had to be killed
	ErrStopTimeout = errors.New("stop timed out")
)
