package media

import "errors"

// Descriptor errors.
var (
	// ErrInvalidDescriptor indicates a descriptor violating its invariants.
	ErrInvalidDescriptor = errors.New("invalid audio format descriptor")

	// ErrUnknownKind indicates an unrecognised format name.
	ErrUnknownKind = errors.New("unknown audio format kind")
)
