package suite

import "errors"

// Sentinel errors shared by the tracker subsystems.
var (
	// ErrJobNotFound is returned when a job id is unknown to the store.
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when a job id is already tracked.
	ErrDuplicateJob = errors.New("job already exists")
	// ErrInvalidTransition is returned for backward status transitions.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotSubmittable is returned for job types that cannot be submitted.
	ErrNotSubmittable = errors.New("job type cannot be submitted")
	// ErrNotFound is returned by persisters when a key has no entry.
	ErrNotFound = errors.New("entry not found")
	// ErrQuotaExceeded is returned by persisters when a write exceeds capacity.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrNoSession is returned when an operation requires a signed-in user.
	ErrNoSession = errors.New("no active session")
)
