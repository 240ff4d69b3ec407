// Package proposal implements the proposal timeout sorted set (C7's data
// structure, SPEC_FULL.md §6 `proposal_timeouts`): members
// "{ride_id}:{driver_id}" scored by absolute deadline, scheduled by the
// matching worker alongside a lock and consumed in batches by the
// timeout reaper.
package proposal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Entry is one due proposal, as returned by DueBefore.
type Entry struct {
	RideID   string
	DriverID int64
}

// Timeouts is the C7 sorted-set contract.
type Timeouts interface {
	// Schedule inserts (or overwrites) the deadline for ride/driver.
	Schedule(ctx context.Context, rideID string, driverID int64, deadline time.Time) error

	// Remove drops the entry. Removing a non-existent member is a no-op.
	// The accept/reject HTTP handlers do not call it: their entries stay
	// until the reaper fetches them, and its ReleaseIf then no-ops because
	// the lock no longer holds the bare ride id.
	Remove(ctx context.Context, rideID string, driverID int64) error

	// DueBefore fetches and removes every entry scored at or before now,
	// returning them for the reaper to act on. The in-memory version does
	// both under one mutex; the Redis version uses two round trips, so two
	// concurrent callers may both receive the same entry.
	DueBefore(ctx context.Context, now time.Time) ([]Entry, error)
}

func member(rideID string, driverID int64) string {
	return fmt.Sprintf("%s:%d", rideID, driverID)
}

// splitMember parses a "{ride_id}:{driver_id}" sorted-set member back
// into its parts. Ride ids (uuid.NewString) never contain ':', so the
// last colon-delimited segment is always the driver id.
func splitMember(m string) (rideID string, driverID int64, ok bool) {
	idx := strings.LastIndex(m, ":")
	if idx < 0 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(m[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return m[:idx], id, true
}
