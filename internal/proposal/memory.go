package proposal

import (
	"context"
	"sync"
	"time"
)

// MemoryTimeouts is an in-process fallback, used outside prod or in
// tests in place of the Redis sorted set.
type MemoryTimeouts struct {
	mu       sync.Mutex
	deadline map[string]time.Time
}

func NewMemoryTimeouts() *MemoryTimeouts {
	return &MemoryTimeouts{deadline: make(map[string]time.Time)}
}

func (m *MemoryTimeouts) Schedule(_ context.Context, rideID string, driverID int64, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline[member(rideID, driverID)] = deadline
	return nil
}

func (m *MemoryTimeouts) Remove(_ context.Context, rideID string, driverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadline, member(rideID, driverID))
	return nil
}

func (m *MemoryTimeouts) DueBefore(_ context.Context, now time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Entry
	for key, dl := range m.deadline {
		if dl.After(now) {
			continue
		}
		rideID, driverID, ok := splitMember(key)
		if !ok {
			delete(m.deadline, key)
			continue
		}
		due = append(due, Entry{RideID: rideID, DriverID: driverID})
		delete(m.deadline, key)
	}
	return due, nil
}
