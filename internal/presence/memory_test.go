package presence

import (
	"context"
	"testing"
	"time"

	"griddispatch/internal/dispatch"
)

func TestMemoryIndex_HeartbeatAndCellOccupants(t *testing.T) {
	idx := NewMemoryIndex(Bounds{N: 10, M: 10})
	ctx := context.Background()

	if err := idx.Heartbeat(ctx, 1, dispatch.Coordinate{X: 2, Y: 3}, dispatch.PresenceOnline); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if err := idx.Heartbeat(ctx, 2, dispatch.Coordinate{X: 2, Y: 3}, dispatch.PresenceOnline); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	occupants, err := idx.CellOccupants(ctx, dispatch.Coordinate{X: 2, Y: 3})
	if err != nil {
		t.Fatalf("CellOccupants failed: %v", err)
	}
	if len(occupants) != 2 || occupants[0] != 1 || occupants[1] != 2 {
		t.Errorf("occupants = %v, want [1 2]", occupants)
	}
}

func TestMemoryIndex_HeartbeatOutOfBounds(t *testing.T) {
	idx := NewMemoryIndex(Bounds{N: 10, M: 10})
	err := idx.Heartbeat(context.Background(), 1, dispatch.Coordinate{X: 50, Y: 0}, dispatch.PresenceOnline)
	if err != dispatch.ErrInvalidCoordinate {
		t.Errorf("err = %v, want ErrInvalidCoordinate", err)
	}
}

func TestMemoryIndex_HeartbeatMovesCells(t *testing.T) {
	idx := NewMemoryIndex(Bounds{N: 10, M: 10})
	ctx := context.Background()
	idx.Heartbeat(ctx, 1, dispatch.Coordinate{X: 0, Y: 0}, dispatch.PresenceOnline)
	idx.Heartbeat(ctx, 1, dispatch.Coordinate{X: 5, Y: 5}, dispatch.PresenceOnline)

	old, err := idx.CellOccupants(ctx, dispatch.Coordinate{X: 0, Y: 0})
	if err != nil {
		t.Fatalf("CellOccupants failed: %v", err)
	}
	if len(old) != 0 {
		t.Errorf("old cell still has occupants: %v", old)
	}

	cur, err := idx.CellOccupants(ctx, dispatch.Coordinate{X: 5, Y: 5})
	if err != nil {
		t.Fatalf("CellOccupants failed: %v", err)
	}
	if len(cur) != 1 || cur[0] != 1 {
		t.Errorf("current cell occupants = %v, want [1]", cur)
	}
}

func TestMemoryIndex_Offline(t *testing.T) {
	idx := NewMemoryIndex(Bounds{N: 10, M: 10})
	ctx := context.Background()
	idx.Heartbeat(ctx, 1, dispatch.Coordinate{X: 1, Y: 1}, dispatch.PresenceOnline)

	if err := idx.Offline(ctx, 1); err != nil {
		t.Fatalf("Offline failed: %v", err)
	}
	if _, ok, _ := idx.Location(ctx, 1); ok {
		t.Error("Location still reports driver present after Offline")
	}
	occupants, _ := idx.CellOccupants(ctx, dispatch.Coordinate{X: 1, Y: 1})
	if len(occupants) != 0 {
		t.Errorf("cell still has occupants after Offline: %v", occupants)
	}
}

func TestMemoryIndex_ReapStale(t *testing.T) {
	idx := NewMemoryIndex(Bounds{N: 10, M: 10})
	ctx := context.Background()
	idx.Heartbeat(ctx, 1, dispatch.Coordinate{X: 1, Y: 1}, dispatch.PresenceOnline)
	idx.lastSeen[1] = time.Now().Add(-time.Minute)

	n, err := idx.ReapStale(ctx, 10*time.Second)
	if err != nil {
		t.Fatalf("ReapStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("reaped %d, want 1", n)
	}
	if _, ok, _ := idx.Location(ctx, 1); ok {
		t.Error("driver still present after ReapStale")
	}
}
