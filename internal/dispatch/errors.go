package dispatch

import "errors"

// Sentinel errors forming the error taxonomy used across the core
// components. Only SubstrateFatal-class failures and programming errors are
// allowed to propagate out of a worker loop; everything else is absorbed and
// turned into either a retry, a notification, or an HTTP 4xx.
var (
	// ErrInvalidCoordinate is returned when a coordinate falls outside
	// [0,N) x [0,M).
	ErrInvalidCoordinate = errors.New("dispatch: coordinate out of grid bounds")

	// ErrNoDriverFound is returned by spiral search when no driver could be
	// locked within MAX_SEARCH_RADIUS.
	ErrNoDriverFound = errors.New("dispatch: no driver found")

	// ErrLockContention is internal to spiral search: a candidate's lock was
	// already held. Callers move on to the next candidate; it never
	// surfaces past the search loop.
	ErrLockContention = errors.New("dispatch: lock contention")

	// ErrStateConflict is returned when an operation's precondition on the
	// ride or lock state no longer holds (e.g. accept on an already
	// cancelled ride). HTTP adapters map this to 400.
	ErrStateConflict = errors.New("dispatch: state conflict")
)

// SubstrateError wraps a failure from the KV substrate (C1), tagging
// whether it is worth retrying with backoff or should be treated as fatal.
type SubstrateError struct {
	Err       error
	Transient bool
}

func (e *SubstrateError) Error() string {
	if e.Transient {
		return "dispatch: substrate transient: " + e.Err.Error()
	}
	return "dispatch: substrate fatal: " + e.Err.Error()
}

func (e *SubstrateError) Unwrap() error { return e.Err }

// PoisonEventError marks a stream message that failed to parse. The
// matching worker acknowledges and drops these rather than letting them
// block the consumer group.
type PoisonEventError struct {
	Reason string
}

func (e *PoisonEventError) Error() string { return "dispatch: poison event: " + e.Reason }
