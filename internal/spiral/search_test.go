package spiral

import (
	"context"
	"testing"
	"time"

	"griddispatch/internal/dispatch"
	"griddispatch/internal/lock"
	"griddispatch/internal/presence"
)

func TestSearcher_FindsDriverAtOrigin(t *testing.T) {
	idx := presence.NewMemoryIndex(presence.Bounds{N: 50, M: 50})
	locks := lock.NewMemoryManager()
	defer locks.Close()
	ctx := context.Background()

	origin := dispatch.Coordinate{X: 10, Y: 10}
	idx.Heartbeat(ctx, 7, origin, dispatch.PresenceOnline)

	s := New(idx, locks, presence.Bounds{N: 50, M: 50}, 0)
	driverID, err := s.Find(ctx, origin, "ride-1", time.Minute, nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if driverID != 7 {
		t.Errorf("driverID = %d, want 7", driverID)
	}
}

func TestSearcher_ExpandsRingsToNearestDriver(t *testing.T) {
	idx := presence.NewMemoryIndex(presence.Bounds{N: 50, M: 50})
	locks := lock.NewMemoryManager()
	defer locks.Close()
	ctx := context.Background()

	origin := dispatch.Coordinate{X: 25, Y: 25}
	idx.Heartbeat(ctx, 1, dispatch.Coordinate{X: 25, Y: 28}, dispatch.PresenceOnline) // radius 3
	idx.Heartbeat(ctx, 2, dispatch.Coordinate{X: 27, Y: 25}, dispatch.PresenceOnline) // radius 2

	s := New(idx, locks, presence.Bounds{N: 50, M: 50}, 10)
	driverID, err := s.Find(ctx, origin, "ride-1", time.Minute, nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if driverID != 2 {
		t.Errorf("driverID = %d, want 2 (the nearer driver)", driverID)
	}
}

func TestSearcher_SkipsLockedAndExcludedDrivers(t *testing.T) {
	idx := presence.NewMemoryIndex(presence.Bounds{N: 50, M: 50})
	locks := lock.NewMemoryManager()
	defer locks.Close()
	ctx := context.Background()

	origin := dispatch.Coordinate{X: 0, Y: 0}
	idx.Heartbeat(ctx, 1, origin, dispatch.PresenceOnline)
	idx.Heartbeat(ctx, 2, origin, dispatch.PresenceOnline)
	idx.Heartbeat(ctx, 3, origin, dispatch.PresenceOnline)

	locks.TryLock(ctx, 1, "other-ride", time.Minute)

	s := New(idx, locks, presence.Bounds{N: 50, M: 50}, 10)
	driverID, err := s.Find(ctx, origin, "ride-1", time.Minute, map[int64]struct{}{2: {}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if driverID != 3 {
		t.Errorf("driverID = %d, want 3 (1 locked, 2 excluded)", driverID)
	}
}

func TestSearcher_NoDriverWithinMaxRadius(t *testing.T) {
	idx := presence.NewMemoryIndex(presence.Bounds{N: 50, M: 50})
	locks := lock.NewMemoryManager()
	defer locks.Close()
	ctx := context.Background()

	origin := dispatch.Coordinate{X: 0, Y: 0}
	idx.Heartbeat(ctx, 1, dispatch.Coordinate{X: 49, Y: 49}, dispatch.PresenceOnline)

	s := New(idx, locks, presence.Bounds{N: 50, M: 50}, 2)
	_, err := s.Find(ctx, origin, "ride-1", time.Minute, nil)
	if err != dispatch.ErrNoDriverFound {
		t.Errorf("err = %v, want ErrNoDriverFound", err)
	}
}

func TestNew_DefaultsMaxRadius(t *testing.T) {
	idx := presence.NewMemoryIndex(presence.Bounds{N: 10, M: 10})
	locks := lock.NewMemoryManager()
	defer locks.Close()
	s := New(idx, locks, presence.Bounds{N: 10, M: 10}, 0)
	if s.MaxRadius != DefaultMaxSearchRadius {
		t.Errorf("MaxRadius = %d, want default %d", s.MaxRadius, DefaultMaxSearchRadius)
	}
}
