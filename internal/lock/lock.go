// Package lock implements the per-driver lock manager (C3): a single-holder,
// TTL-bounded claim used to serialize a proposal window against a driver.
package lock

import (
	"context"
	"time"
)

// Manager is the lock contract. The three mutating operations must be
// atomic on the substrate's single-op semantics (set-if-absent-with-ttl for
// TryLock; scripted compare-and-delete for ReleaseIf; scripted
// compare-and-set for Reassign).
type Manager interface {
	// TryLock succeeds iff no lock currently exists for driverID; it sets
	// the value to rideID with the given ttl.
	TryLock(ctx context.Context, driverID int64, rideID string, ttl time.Duration) (bool, error)

	// GetLock returns the current lock value for driverID, if any.
	GetLock(ctx context.Context, driverID int64) (string, bool, error)

	// ReleaseIf releases the lock only if its current value equals rideID
	// (compare-and-delete); it reports whether the release happened.
	ReleaseIf(ctx context.Context, driverID int64, rideID string) (bool, error)

	// Reassign atomically swaps the lock value from fromRideID to toValue
	// (e.g. "assigned:"+rideID) with no TTL, used when an accept promotes a
	// proposal lock to a durable assignment marker.
	Reassign(ctx context.Context, driverID int64, fromRideID, toValue string) (bool, error)
}

// AssignedValue formats the lock value used once a ride has been accepted;
// assigned locks have no TTL and are cleared by ride completion or
// cancellation instead of expiry.
func AssignedValue(rideID string) string {
	return "assigned:" + rideID
}
