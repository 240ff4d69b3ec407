// Package spiral implements the bounded expanding-ring nearest-driver
// search (C4): given an origin cell, it walks Chebyshev rings of increasing
// radius, batching bucket reads per ring, and attempts to lock candidates in
// driver-id order until one succeeds.
package spiral

import (
	"context"
	"sort"
	"time"

	"griddispatch/internal/dispatch"
	"griddispatch/internal/lock"
	"griddispatch/internal/presence"
)

// DefaultMaxSearchRadius matches the source's MAX_SEARCH_RADIUS.
const DefaultMaxSearchRadius = 20

// Searcher finds and locks the nearest available driver for a ride.
type Searcher struct {
	Presence  presence.Index
	Locks     lock.Manager
	Bounds    presence.Bounds
	MaxRadius int
}

// New builds a Searcher with the default max radius when maxRadius <= 0.
func New(idx presence.Index, locks lock.Manager, bounds presence.Bounds, maxRadius int) *Searcher {
	if maxRadius <= 0 {
		maxRadius = DefaultMaxSearchRadius
	}
	return &Searcher{Presence: idx, Locks: locks, Bounds: bounds, MaxRadius: maxRadius}
}

// Find walks expanding Chebyshev rings around origin, trying to lock the
// nearest unlocked, non-excluded driver for rideID. It returns
// dispatch.ErrNoDriverFound if no driver could be locked within MaxRadius.
func (s *Searcher) Find(ctx context.Context, origin dispatch.Coordinate, rideID string, lockTTL time.Duration, exclude map[int64]struct{}) (int64, error) {
	seen := make(map[int64]struct{})

	tryCandidates := func(ids []int64) (int64, bool, error) {
		unique := make([]int64, 0, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if _, excluded := exclude[id]; excluded {
				continue
			}
			unique = append(unique, id)
		}
		sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })
		for _, id := range unique {
			ok, err := s.Locks.TryLock(ctx, id, rideID, lockTTL)
			if err != nil {
				return 0, false, err
			}
			if ok {
				return id, true, nil
			}
			// ErrLockContention: candidate already locked, move on.
		}
		return 0, false, nil
	}

	occupants, err := s.Presence.CellOccupants(ctx, origin)
	if err != nil {
		return 0, err
	}
	if id, ok, err := tryCandidates(occupants); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}

	for r := 1; r <= s.MaxRadius; r++ {
		cells := ringCells(origin, r, s.Bounds)
		if len(cells) == 0 {
			continue
		}
		var ringOccupants []int64
		for _, cell := range cells {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			default:
			}
			ids, err := s.Presence.CellOccupants(ctx, cell)
			if err != nil {
				return 0, err
			}
			ringOccupants = append(ringOccupants, ids...)
		}
		if id, ok, err := tryCandidates(ringOccupants); err != nil {
			return 0, err
		} else if ok {
			return id, nil
		}
	}
	return 0, dispatch.ErrNoDriverFound
}

// ringCells enumerates the perimeter of the Chebyshev ring of the given
// radius around origin, clipped to the grid bounds: the horizontal sides at
// y = origin.Y +/- radius (for x across the full span) and the vertical
// sides at x = origin.X +/- radius (for y strictly between, to avoid
// double-counting the corners), matching original_source's enumeration
// order exactly.
func ringCells(origin dispatch.Coordinate, radius int, bounds presence.Bounds) []dispatch.Coordinate {
	var cells []dispatch.Coordinate
	add := func(x, y int) {
		c := dispatch.Coordinate{X: x, Y: y}
		if bounds.Contains(c) {
			cells = append(cells, c)
		}
	}
	for dx := -radius; dx <= radius; dx++ {
		add(origin.X+dx, origin.Y+radius)
		add(origin.X+dx, origin.Y-radius)
	}
	for dy := -radius + 1; dy <= radius-1; dy++ {
		add(origin.X+radius, origin.Y+dy)
		add(origin.X-radius, origin.Y+dy)
	}
	return cells
}
