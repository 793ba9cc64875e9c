package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks storage failures that abort a whole job run
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLeaseHeld is returned when another worker owns the stage lease
	ErrLeaseHeld = errors.New("lease held by another worker")

	// ErrUnknownStage is returned by RunStage for names outside the pipeline
	ErrUnknownStage = errors.New("unknown stage")

	// ErrFlightNotFound is returned by UpdateFlight when the core row is gone,
	// typically archived between lookup and update
	ErrFlightNotFound = errors.New("flight not found")
)

// ValidationError rejects a single malformed input record
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsFatal reports whether err should abort the current job run
func IsFatal(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
