package source

import "errors"

// Push errors. A rejected push wraps ErrRejected together with the reason.
var (
	// ErrRejected indicates the head refused a buffer.
	ErrRejected = errors.New("buffer rejected")

	// ErrNotLinked indicates a push with no subgraph attached.
	ErrNotLinked = errors.New("source not linked")

	// ErrFlushing indicates a push while the graph is paused for a switch.
	ErrFlushing = errors.New("source flushing")

	// ErrEndOfStream indicates the source already signalled end of stream.
	ErrEndOfStream = errors.New("end of stream")
)

// Attachment errors.
var (
	// ErrAlreadyLinked indicates a second peer while one is attached.
	ErrAlreadyLinked = errors.New("source already linked")

	// ErrNoProducer indicates a demand signal with no producer attached.
	ErrNoProducer = errors.New("no producer attached")
)

// Producer errors.
var (
	// ErrUnsupportedFile indicates input a decoder cannot read.
	ErrUnsupportedFile = errors.New("unsupported audio file")

	// ErrCaptureUnavailable indicates the audio input device could not be opened.
	ErrCaptureUnavailable = errors.New("audio capture unavailable")
)
