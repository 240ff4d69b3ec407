package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RidePersistence is the durable collaborator behind the ride state
// machine (C10): every transition is saved transactionally with an audit
// event row, mirroring the reference's CreateRideWithEvent /
// UpdateRideWithEvent pattern (storage/events.go, storage/postgres.go).
type RidePersistence interface {
	CreateRideWithEvent(ctx context.Context, ride Ride, eventType string, payload map[string]any) error
	UpdateRideWithEvent(ctx context.Context, ride Ride, eventType string, payload map[string]any) error
	GetRide(ctx context.Context, id string) (Ride, bool, error)
}

// RideStore is the ride state machine (C10, contract in SPEC_FULL.md
// §4.7): it owns the pending -> driver_assigned -> driver_arrived ->
// passenger_onboard -> in_progress -> completed lifecycle (cancellation
// reachable only while no driver is assigned; see Cancel), and updates the persistent
// record transactionally with an audit event. It keeps a read-through,
// write-back in-memory cache so the proposal/accept path never blocks on
// Postgres; db may be nil for pure in-memory operation (tests, dev).
//
// Lock bookkeeping (C3) is deliberately NOT owned here: the contract in
// §4.7 splits "is the lock still mine" (the caller's precondition) from
// "does the ride record advance" (this type). Callers -- the HTTP
// adapter -- check/mutate the lock and then call into RideStore.
type RideStore struct {
	mu    sync.RWMutex
	rides map[string]Ride
	db    RidePersistence
}

func NewRideStore(db RidePersistence) *RideStore {
	return &RideStore{rides: make(map[string]Ride), db: db}
}

// Create inserts a new ride in the pending state. The caller has already
// computed price (see PricingCalculator) and validated both endpoints are
// in-grid.
func (s *RideStore) Create(ctx context.Context, passengerID int64, start, end Coordinate, price decimal.Decimal) (Ride, error) {
	now := time.Now()
	ride := Ride{
		ID:          uuid.NewString(),
		PassengerID: passengerID,
		Status:      RidePending,
		Start:       start,
		End:         end,
		Price:       price,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.mu.Lock()
	s.rides[ride.ID] = ride
	s.mu.Unlock()
	if s.db != nil {
		if err := s.db.CreateRideWithEvent(ctx, ride, "ride_requested", map[string]any{
			"passengerId": ride.PassengerID,
			"statusTo":    ride.Status,
		}); err != nil {
			return Ride{}, &SubstrateError{Err: err, Transient: true}
		}
	}
	return ride, nil
}

// Get returns the ride, checking the in-memory cache before falling back
// to the durable store.
func (s *RideStore) Get(ctx context.Context, id string) (Ride, bool) {
	s.mu.RLock()
	ride, ok := s.rides[id]
	s.mu.RUnlock()
	if ok {
		return ride, true
	}
	if s.db == nil {
		return Ride{}, false
	}
	ride, ok, err := s.db.GetRide(ctx, id)
	if err != nil || !ok {
		return Ride{}, false
	}
	s.mu.Lock()
	s.rides[id] = ride
	s.mu.Unlock()
	return ride, true
}

// Accept transitions pending -> driver_assigned. Precondition per §4.7:
// the caller already verified GetLock(driverID) == rideID, and promotes
// the lock to the "assigned:" marker only after this call succeeds;
// StateConflict here means the ride
// moved on (already assigned, cancelled) between the lock check and this
// call, e.g. the §8 S3 concurrent accept-vs-cancel race.
func (s *RideStore) Accept(ctx context.Context, rideID string, driverID int64) (Ride, error) {
	return s.transition(ctx, rideID, "ride_accepted", func(r *Ride) error {
		if r.Status != RidePending {
			return ErrStateConflict
		}
		r.DriverID = &driverID
		r.Status = RideDriverAssigned
		return nil
	})
}

// Reject keeps the ride pending (no lock was ever promoted for a
// rejected proposal) but records the audit trail; the caller appends the
// retry_ride event excluding the rejecting driver.
func (s *RideStore) Reject(ctx context.Context, rideID string, driverID int64) (Ride, error) {
	return s.transition(ctx, rideID, "ride_rejected", func(r *Ride) error {
		if r.Status != RidePending {
			return ErrStateConflict
		}
		return nil
	})
}

// Arrive, Board, and Start model the remainder of the §4.7 lifecycle
// diagram; SPEC_FULL.md §6 lists no route for them, and the HTTP adapter
// reaches them (and Complete) through AdvanceRide's
// POST /api/rides/{rideID}/{step} route.
func (s *RideStore) Arrive(ctx context.Context, rideID string) (Ride, error) {
	return s.transition(ctx, rideID, "ride_driver_arrived", func(r *Ride) error {
		if r.Status != RideDriverAssigned {
			return ErrStateConflict
		}
		r.Status = RideDriverArrived
		return nil
	})
}

func (s *RideStore) Board(ctx context.Context, rideID string) (Ride, error) {
	return s.transition(ctx, rideID, "ride_passenger_onboard", func(r *Ride) error {
		if r.Status != RideDriverArrived {
			return ErrStateConflict
		}
		r.Status = RidePassengerOnboard
		return nil
	})
}

func (s *RideStore) Start(ctx context.Context, rideID string) (Ride, error) {
	return s.transition(ctx, rideID, "ride_in_progress", func(r *Ride) error {
		if r.Status != RidePassengerOnboard {
			return ErrStateConflict
		}
		r.Status = RideInProgress
		return nil
	})
}

func (s *RideStore) Complete(ctx context.Context, rideID string) (Ride, error) {
	return s.transition(ctx, rideID, "ride_completed", func(r *Ride) error {
		if r.Status != RideInProgress {
			return ErrStateConflict
		}
		r.Status = RideCompleted
		return nil
	})
}

// Cancel moves a still-unassigned, non-terminal ride to cancelled. Once a
// driver has been assigned (r.DriverID != nil) cancellation is rejected
// with ErrStateConflict even though driver_assigned is not itself a
// terminal status: this is what makes the §8 S3 concurrent accept-vs-cancel
// race resolve to exactly one winner -- whichever of Accept/Cancel commits
// its transition first, the other now always loses instead of both
// succeeding. A passenger wanting to back out after a driver is assigned
// needs a separate, driver-aware cancellation path, not this one.
func (s *RideStore) Cancel(ctx context.Context, rideID string) (Ride, error) {
	return s.transition(ctx, rideID, "ride_cancelled", func(r *Ride) error {
		if r.Status.Terminal() || r.DriverID != nil {
			return ErrStateConflict
		}
		r.Status = RideCancelled
		return nil
	})
}

func (s *RideStore) transition(ctx context.Context, rideID, eventType string, mutate func(*Ride) error) (Ride, error) {
	s.mu.Lock()
	ride, ok := s.rides[rideID]
	if !ok {
		s.mu.Unlock()
		if s.db == nil {
			return Ride{}, fmt.Errorf("dispatch: ride %s not found", rideID)
		}
		dbRide, found, err := s.db.GetRide(ctx, rideID)
		if err != nil {
			return Ride{}, &SubstrateError{Err: err, Transient: true}
		}
		if !found {
			return Ride{}, fmt.Errorf("dispatch: ride %s not found", rideID)
		}
		s.mu.Lock()
		ride, ok = s.rides[rideID]
		if !ok {
			ride = dbRide
		}
	}

	before := ride.Status
	if err := mutate(&ride); err != nil {
		s.mu.Unlock()
		return Ride{}, err
	}
	ride.Version++
	ride.UpdatedAt = time.Now()
	s.rides[rideID] = ride
	s.mu.Unlock()

	if s.db != nil {
		if err := s.db.UpdateRideWithEvent(ctx, ride, eventType, map[string]any{
			"statusFrom": before,
			"statusTo":   ride.Status,
		}); err != nil {
			return ride, &SubstrateError{Err: err, Transient: true}
		}
	}
	return ride, nil
}
