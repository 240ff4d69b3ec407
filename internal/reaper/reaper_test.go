package reaper

import (
	"context"
	"testing"
	"time"

	"griddispatch/internal/dispatch"
	"griddispatch/internal/lock"
	"griddispatch/internal/notify"
	"griddispatch/internal/proposal"
	"griddispatch/internal/streams"

	"github.com/shopspring/decimal"
)

func TestReaper_ExpireOne_ReleasesLockAndRetries(t *testing.T) {
	locks := lock.NewMemoryManager()
	t.Cleanup(locks.Close)
	timeouts := proposal.NewMemoryTimeouts()
	stream := streams.NewMemoryStream(8)
	bus := notify.NewMemoryBus(8)
	rides := dispatch.NewRideStore(nil)
	ctx := context.Background()

	ride, err := rides.Create(ctx, 1, dispatch.Coordinate{X: 0, Y: 0}, dispatch.Coordinate{X: 1, Y: 1}, decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	locks.TryLock(ctx, 7, ride.ID, time.Minute)

	notifications, err := bus.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	r := New(timeouts, locks, stream, bus, rides)
	r.expireOne(ctx, proposal.Entry{RideID: ride.ID, DriverID: 7})

	if _, ok, _ := locks.GetLock(ctx, 7); ok {
		t.Error("lock still held after expireOne")
	}

	retryCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := stream.Read(retryCtx, "reaper-test", 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Event.Kind != dispatch.EventRetryRide {
		t.Fatalf("msgs = %+v, want a single retry_ride event", msgs)
	}
	if len(msgs[0].Event.ExcludeDriverIDs) != 1 || msgs[0].Event.ExcludeDriverIDs[0] != 7 {
		t.Errorf("excluded drivers = %v, want [7]", msgs[0].Event.ExcludeDriverIDs)
	}

	select {
	case env := <-notifications:
		if env.Type != dispatch.NotifyProposalTimeout {
			t.Errorf("notification type = %q, want PROPOSAL_TIMEOUT", env.Type)
		}
		if env.RecipientUserID != ride.PassengerID {
			t.Errorf("recipient = %d, want passenger %d", env.RecipientUserID, ride.PassengerID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PROPOSAL_TIMEOUT notification")
	}
}

func TestReaper_ExpireOne_LockAlreadyReleasedIsNoop(t *testing.T) {
	locks := lock.NewMemoryManager()
	t.Cleanup(locks.Close)
	timeouts := proposal.NewMemoryTimeouts()
	stream := streams.NewMemoryStream(8)
	bus := notify.NewMemoryBus(8)
	rides := dispatch.NewRideStore(nil)
	ctx := context.Background()

	// No lock was ever taken for driver 9 on this ride (already accepted
	// and promoted to a different marker, or released independently).
	r := New(timeouts, locks, stream, bus, rides)
	r.expireOne(ctx, proposal.Entry{RideID: "ride-x", DriverID: 9})

	readCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := stream.Read(readCtx, "reaper-test", 1); err != context.DeadlineExceeded {
		t.Errorf("expected no retry_ride event to be published, got err=%v", err)
	}
}

func TestReaper_Tick_CollectsMultipleDueEntries(t *testing.T) {
	locks := lock.NewMemoryManager()
	t.Cleanup(locks.Close)
	timeouts := proposal.NewMemoryTimeouts()
	stream := streams.NewMemoryStream(8)
	bus := notify.NewMemoryBus(8)
	rides := dispatch.NewRideStore(nil)
	ctx := context.Background()

	for i, driverID := range []int64{1, 2} {
		ride, err := rides.Create(ctx, int64(i), dispatch.Coordinate{X: 0, Y: 0}, dispatch.Coordinate{X: 1, Y: 1}, decimal.NewFromInt(5))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		locks.TryLock(ctx, driverID, ride.ID, time.Minute)
		timeouts.Schedule(ctx, ride.ID, driverID, time.Now().Add(-time.Second))
	}

	r := New(timeouts, locks, stream, bus, rides)
	if err := r.tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	for _, driverID := range []int64{1, 2} {
		if _, ok, _ := locks.GetLock(ctx, driverID); ok {
			t.Errorf("driver %d lock still held after tick", driverID)
		}
	}
}
