package lock

import (
	"context"
	"testing"
	"time"
)

func TestMemoryManager_TryLockContention(t *testing.T) {
	m := NewMemoryManager()
	defer m.Close()
	ctx := context.Background()

	ok, err := m.TryLock(ctx, 1, "ride-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}
	ok, err = m.TryLock(ctx, 1, "ride-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("second TryLock on held driver: ok=%v err=%v, want ok=false", ok, err)
	}
}

func TestMemoryManager_GetLockExpires(t *testing.T) {
	m := NewMemoryManager()
	defer m.Close()
	ctx := context.Background()

	m.TryLock(ctx, 1, "ride-a", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok, err := m.GetLock(ctx, 1)
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	if ok {
		t.Error("GetLock still reports held lock past its TTL")
	}
}

func TestMemoryManager_ReleaseIfRequiresMatchingValue(t *testing.T) {
	m := NewMemoryManager()
	defer m.Close()
	ctx := context.Background()

	m.TryLock(ctx, 1, "ride-a", time.Minute)

	released, err := m.ReleaseIf(ctx, 1, "ride-b")
	if err != nil {
		t.Fatalf("ReleaseIf failed: %v", err)
	}
	if released {
		t.Error("ReleaseIf released a lock held by a different value")
	}

	released, err = m.ReleaseIf(ctx, 1, "ride-a")
	if err != nil {
		t.Fatalf("ReleaseIf failed: %v", err)
	}
	if !released {
		t.Error("ReleaseIf failed to release matching lock")
	}

	if _, ok, _ := m.GetLock(ctx, 1); ok {
		t.Error("lock still held after ReleaseIf succeeded")
	}
}

func TestMemoryManager_ReassignToNoTTLMarker(t *testing.T) {
	m := NewMemoryManager()
	defer m.Close()
	ctx := context.Background()

	m.TryLock(ctx, 1, "ride-a", time.Millisecond)

	ok, err := m.Reassign(ctx, 1, "ride-a", "assigned:ride-a")
	if err != nil || !ok {
		t.Fatalf("Reassign: ok=%v err=%v", ok, err)
	}

	time.Sleep(5 * time.Millisecond)
	value, ok, err := m.GetLock(ctx, 1)
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	if !ok || value != "assigned:ride-a" {
		t.Errorf("value=%q ok=%v, want assigned marker surviving past the original TTL", value, ok)
	}
}
