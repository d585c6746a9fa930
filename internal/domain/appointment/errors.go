package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrForbidden           = errors.New("actor is not permitted to perform this action")
	ErrScheduledInPast     = errors.New("cannot schedule appointment in the past")

	// ErrConcurrentModification means a concurrent writer won: either the row
	// version moved or the storage-level overlap constraint fired. The caller
	// must re-validate against a fresh snapshot before retrying; nothing in
	// this core retries automatically.
	ErrConcurrentModification = errors.New("appointment was modified concurrently; re-validate and retry")
)

// InvalidTransitionError names both the attempted trigger and the status it
// was attempted from. Illegal transitions are never silently ignored.
type InvalidTransitionError struct {
	From    Status
	Trigger Trigger
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot apply %q from status %q", e.Trigger, e.From)
}

// ValidationError reports a missing or malformed mandatory field, such as the
// note on a cancel or reject.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}
