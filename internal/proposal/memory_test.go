package proposal

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTimeouts_ScheduleAndDueBefore(t *testing.T) {
	m := NewMemoryTimeouts()
	ctx := context.Background()
	now := time.Now()

	if err := m.Schedule(ctx, "ride-1", 7, now.Add(-time.Second)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := m.Schedule(ctx, "ride-2", 8, now.Add(time.Hour)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	due, err := m.DueBefore(ctx, now)
	if err != nil {
		t.Fatalf("DueBefore failed: %v", err)
	}
	if len(due) != 1 || due[0].RideID != "ride-1" || due[0].DriverID != 7 {
		t.Errorf("due = %+v, want only ride-1/7", due)
	}

	due, err = m.DueBefore(ctx, now)
	if err != nil {
		t.Fatalf("DueBefore failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("due entries were not removed after first fetch: %+v", due)
	}
}

func TestMemoryTimeouts_Remove(t *testing.T) {
	m := NewMemoryTimeouts()
	ctx := context.Background()
	now := time.Now()

	m.Schedule(ctx, "ride-1", 7, now.Add(-time.Second))
	if err := m.Remove(ctx, "ride-1", 7); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	due, err := m.DueBefore(ctx, now)
	if err != nil {
		t.Fatalf("DueBefore failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("removed entry still due: %+v", due)
	}
}

func TestMemoryTimeouts_RemoveNonexistentIsNoop(t *testing.T) {
	m := NewMemoryTimeouts()
	if err := m.Remove(context.Background(), "missing", 1); err != nil {
		t.Errorf("Remove on missing entry returned error: %v", err)
	}
}

func TestSplitMember_RoundTrip(t *testing.T) {
	m := member("ride-abc-123", 42)
	rideID, driverID, ok := splitMember(m)
	if !ok || rideID != "ride-abc-123" || driverID != 42 {
		t.Errorf("splitMember(%q) = (%q, %d, %v), want (ride-abc-123, 42, true)", m, rideID, driverID, ok)
	}
}

func TestSplitMember_Malformed(t *testing.T) {
	if _, _, ok := splitMember("no-colon-here"); ok {
		t.Error("splitMember accepted a member with no colon")
	}
}
