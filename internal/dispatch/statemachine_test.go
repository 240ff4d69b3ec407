package dispatch

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestRide(t *testing.T, store *RideStore) Ride {
	t.Helper()
	ride, err := store.Create(context.Background(), 1, Coordinate{X: 0, Y: 0}, Coordinate{X: 5, Y: 5}, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return ride
}

func TestRideStore_FullLifecycle(t *testing.T) {
	store := NewRideStore(nil)
	ride := newTestRide(t, store)
	ctx := context.Background()

	steps := []struct {
		name string
		fn   func() (Ride, error)
		want RideStatus
	}{
		{"accept", func() (Ride, error) { return store.Accept(ctx, ride.ID, 99) }, RideDriverAssigned},
		{"arrive", func() (Ride, error) { return store.Arrive(ctx, ride.ID) }, RideDriverArrived},
		{"board", func() (Ride, error) { return store.Board(ctx, ride.ID) }, RidePassengerOnboard},
		{"start", func() (Ride, error) { return store.Start(ctx, ride.ID) }, RideInProgress},
		{"complete", func() (Ride, error) { return store.Complete(ctx, ride.ID) }, RideCompleted},
	}

	for _, step := range steps {
		got, err := step.fn()
		if err != nil {
			t.Fatalf("%s: unexpected error %v", step.name, err)
		}
		if got.Status != step.want {
			t.Fatalf("%s: status = %s, want %s", step.name, got.Status, step.want)
		}
	}

	if _, err := store.Accept(ctx, ride.ID, 99); err != ErrStateConflict {
		t.Errorf("accepting a completed ride: err = %v, want ErrStateConflict", err)
	}
}

func TestRideStore_CancelPendingRideSucceeds(t *testing.T) {
	store := NewRideStore(nil)
	ride := newTestRide(t, store)
	ctx := context.Background()

	got, err := store.Cancel(ctx, ride.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if got.Status != RideCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

// TestRideStore_CancelAfterDriverAssignedConflicts locks in the §8 S3 fix:
// once a driver holds the ride (driver_assigned or later, all non-terminal),
// Cancel must reject even though the status itself isn't terminal, so a
// racing Accept/Cancel pair resolves to exactly one winner.
func TestRideStore_CancelAfterDriverAssignedConflicts(t *testing.T) {
	transitions := []func(ctx context.Context, s *RideStore, rideID string) error{
		func(ctx context.Context, s *RideStore, rideID string) error { _, err := s.Accept(ctx, rideID, 1); return err },
		func(ctx context.Context, s *RideStore, rideID string) error {
			if _, err := s.Accept(ctx, rideID, 1); err != nil {
				return err
			}
			_, err := s.Arrive(ctx, rideID)
			return err
		},
	}

	for i, setup := range transitions {
		store := NewRideStore(nil)
		ride := newTestRide(t, store)
		ctx := context.Background()
		if err := setup(ctx, store, ride.ID); err != nil {
			t.Fatalf("case %d setup failed: %v", i, err)
		}
		if _, err := store.Cancel(ctx, ride.ID); err != ErrStateConflict {
			t.Errorf("case %d: Cancel err = %v, want ErrStateConflict", i, err)
		}
	}
}

func TestRideStore_CancelTerminalRideConflicts(t *testing.T) {
	store := NewRideStore(nil)
	ride := newTestRide(t, store)
	ctx := context.Background()

	if _, err := store.Cancel(ctx, ride.ID); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	if _, err := store.Cancel(ctx, ride.ID); err != ErrStateConflict {
		t.Errorf("cancelling an already-cancelled ride: err = %v, want ErrStateConflict", err)
	}
}

func TestRideStore_InvalidTransitionsConflict(t *testing.T) {
	cases := []struct {
		name string
		fn   func(ctx context.Context, s *RideStore, rideID string) error
	}{
		{"arrive before accept", func(ctx context.Context, s *RideStore, rideID string) error {
			_, err := s.Arrive(ctx, rideID)
			return err
		}},
		{"board before arrive", func(ctx context.Context, s *RideStore, rideID string) error {
			_, err := s.Board(ctx, rideID)
			return err
		}},
		{"start before board", func(ctx context.Context, s *RideStore, rideID string) error {
			_, err := s.Start(ctx, rideID)
			return err
		}},
		{"complete before start", func(ctx context.Context, s *RideStore, rideID string) error {
			_, err := s.Complete(ctx, rideID)
			return err
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewRideStore(nil)
			ride := newTestRide(t, store)
			if err := tc.fn(context.Background(), store, ride.ID); err != ErrStateConflict {
				t.Errorf("err = %v, want ErrStateConflict", err)
			}
		})
	}
}

func TestRideStore_GetUnknownRide(t *testing.T) {
	store := NewRideStore(nil)
	if _, ok := store.Get(context.Background(), "does-not-exist"); ok {
		t.Error("Get on unknown ride id returned ok=true")
	}
}
