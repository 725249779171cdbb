package sender

import "errors"

// Configuration errors.
var (
	// ErrNoProducer indicates a session without a producer.
	ErrNoProducer = errors.New("no producer")

	// ErrNoSender indicates a session without a datagram sender.
	ErrNoSender = errors.New("no datagram sender")

	// ErrUnknownMode indicates an unrecognised session mode name.
	ErrUnknownMode = errors.New("unknown session mode")

	// ErrNoFormat indicates fixed mode without a format kind.
	ErrNoFormat = errors.New("fixed mode needs a format")
)

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("session already run")
