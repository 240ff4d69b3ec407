// Package presence implements the driver presence index (C2): cell-bucketed
// membership of online drivers on the integer grid, keyed by the bit-exact
// substrate schema in SPEC_FULL.md section 6 (cell:{x}:{y} hash,
// driver_location:{id} string).
package presence

import (
	"context"
	"time"

	"griddispatch/internal/dispatch"
)

// Index is the presence contract. Implementations must tolerate torn
// writes: a heartbeat that removes the old bucket entry but fails before
// adding the new one is repaired by the next heartbeat.
type Index interface {
	// Heartbeat upserts driverID's cell membership and status. The status
	// is stored as given; no status value removes the driver (that is
	// Offline's job). Coordinates outside [0,N) x [0,M) return
	// dispatch.ErrInvalidCoordinate.
	Heartbeat(ctx context.Context, driverID int64, cell dispatch.Coordinate, status dispatch.PresenceStatus) error

	// Offline removes the driver's presence record and bucket membership.
	Offline(ctx context.Context, driverID int64) error

	// CellOccupants returns the driver ids currently in the given cell,
	// sorted ascending for deterministic tie-breaking.
	CellOccupants(ctx context.Context, cell dispatch.Coordinate) ([]int64, error)

	// Location returns the driver's last known cell, if present.
	Location(ctx context.Context, driverID int64) (dispatch.Coordinate, bool, error)
}

// Bounds describes the grid extent, N columns by M rows.
type Bounds struct {
	N int
	M int
}

// Contains reports whether c lies within the bounds.
func (b Bounds) Contains(c dispatch.Coordinate) bool {
	return c.X >= 0 && c.X < b.N && c.Y >= 0 && c.Y < b.M
}

// DefaultHeartbeatTTL bounds how long a presence record survives without a
// refreshing heartbeat; it is swept by a background reconciliation loop
// rather than enforced per-read, matching the design note recommending a
// side-channel expiry key.
const DefaultHeartbeatTTL = 30 * time.Second
