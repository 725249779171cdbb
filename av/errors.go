package av

import (
	"errors"
	"fmt"
)

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Lifecycle errors.
var (
	// ErrTerminated indicates use of a manager after Close.
	ErrTerminated = errors.New("graph manager terminated")

	// ErrSessionFailed indicates a manager that already entered the Error state.
	ErrSessionFailed = errors.New("graph manager in error state")

	// ErrNoSource indicates a manager created without a live source head.
	ErrNoSource = errors.New("live source head is required")

	// ErrDetectionInactive indicates a detection call before StartDetection.
	ErrDetectionInactive = errors.New("format detection not started")
)

// Descriptor errors.
var (
	// ErrInvalidDescriptor indicates a descriptor that failed validation.
	ErrInvalidDescriptor = errors.New("invalid format descriptor")

	// ErrDescriptorMismatch indicates a descriptor whose rate, channels or
	// depth differ from what the live source produces.
	ErrDescriptorMismatch = errors.New("descriptor does not match live source")
)

// Construction errors.
var (
	// ErrConstruction indicates that no builder attempt succeeded for a role.
	ErrConstruction = errors.New("subgraph construction failed")

	// ErrLinkFailed indicates adjacent stages with incompatible caps, or a
	// head that refused the subgraph.
	ErrLinkFailed = errors.New("stage link failed")

	// ErrStageUnavailable indicates a builder whose backend is missing. The
	// next attempt for the role is tried.
	ErrStageUnavailable = errors.New("stage unavailable")

	// ErrCapsMismatch indicates a builder that cannot accept the upstream
	// caps. The next attempt for the role is tried.
	ErrCapsMismatch = errors.New("caps mismatch")

	// ErrUnknownStage indicates a stage kind without a registered builder.
	ErrUnknownStage = errors.New("no builder registered for stage")

	// ErrNoRecipe indicates a format kind without a recipe.
	ErrNoRecipe = errors.New("no recipe for format")
)

// State change errors.
var (
	// ErrStateChangeTimeout indicates stages that did not preroll in time.
	ErrStateChangeTimeout = errors.New("state change timed out")

	// ErrStateChangeFailed indicates a stage that failed to start.
	ErrStateChangeFailed = errors.New("state change failed")
)

// StageError carries the stage that produced an error.
type StageError struct {
	Role Role
	Kind StageKind
	Name string
	Err  error
}

// Error implements error.
func (e *StageError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s stage %s (%s): %v", e.Role, e.Kind, e.Name, e.Err)
	}
	return fmt.Sprintf("%s stage %s: %v", e.Role, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// fallsThrough reports whether a builder error lets the role try its next
// attempt.
func fallsThrough(err error) bool {
	return errors.Is(err, ErrStageUnavailable) ||
		errors.Is(err, ErrCapsMismatch) ||
		errors.Is(err, ErrUnknownStage)
}
