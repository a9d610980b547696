package reservation

import "errors"

// Terminal business outcomes and retryable failures are distinguished by
// sentinel so handlers can map them to the right status code. Nothing in the
// booking path fails silently.
var (
	// ErrInsufficientCapacity means the requested party size exceeded the
	// remaining seats at commit time. Not retried; the caller picks another
	// slot or reduces the party size.
	ErrInsufficientCapacity = errors.New("insufficient capacity for requested party size")

	// ErrNotFound means the referenced booking no longer exists (already
	// cancelled, typo, stale dashboard state).
	ErrNotFound = errors.New("booking not found")

	// ErrTransient wraps store failures and contention beyond the retry
	// budget. Safe for the caller to retry.
	ErrTransient = errors.New("transient store failure")

	// ErrInvalidInput is returned by boundary validation before any
	// transaction is attempted.
	ErrInvalidInput = errors.New("invalid input")
)
