// Package reaper implements C7's periodic task: every tick it fetches
// due proposal-timeout entries, conditionally releases the driver's
// lock, and appends a retry_ride event (spec.md §4.6).
package reaper

import (
	"context"
	"errors"
	"log"
	"time"

	"griddispatch/internal/dispatch"
	"griddispatch/internal/lock"
	"griddispatch/internal/notify"
	"griddispatch/internal/proposal"
	"griddispatch/internal/streams"
)

// RideLookup resolves a ride's passenger id for the OQ1 PROPOSAL_TIMEOUT
// notification. Satisfied directly by *dispatch.RideStore.
type RideLookup interface {
	Get(ctx context.Context, id string) (dispatch.Ride, bool)
}

// Reaper is one instance of C7; multiple instances may run concurrently,
// made idempotent by the lock's compare-and-delete (ReleaseIf): two
// reapers may both fetch the same due entry (the Redis fetch-and-remove is
// not atomic), but only one ReleaseIf succeeds and goes on to retry.
type Reaper struct {
	Timeouts proposal.Timeouts
	Locks    lock.Manager
	Producer streams.Producer
	Notify   notify.Bus
	Rides    RideLookup
	Interval time.Duration
}

// New builds a Reaper ticking at the spec default of ~1s.
func New(timeouts proposal.Timeouts, locks lock.Manager, producer streams.Producer, bus notify.Bus, rides RideLookup) *Reaper {
	return &Reaper{
		Timeouts: timeouts,
		Locks:    locks,
		Producer: producer,
		Notify:   bus,
		Rides:    rides,
		Interval: 1 * time.Second,
	}
}

// Run blocks on a ticker until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				log.Printf(`{"component":"reaper","event":"tick_error","err":%q}`, err.Error())
			}
		}
	}
}

func (r *Reaper) tick(ctx context.Context) error {
	due, err := r.Timeouts.DueBefore(ctx, time.Now())
	if err != nil {
		var subErr *dispatch.SubstrateError
		if errors.As(err, &subErr) && subErr.Transient {
			return err
		}
		return err
	}
	for _, entry := range due {
		r.expireOne(ctx, entry)
	}
	return nil
}

func (r *Reaper) expireOne(ctx context.Context, entry proposal.Entry) {
	released, err := r.Locks.ReleaseIf(ctx, entry.DriverID, entry.RideID)
	if err != nil {
		log.Printf(`{"component":"reaper","event":"release_failed","ride_id":%q,"driver_id":%d,"err":%q}`, entry.RideID, entry.DriverID, err.Error())
		return
	}
	if !released {
		// Lock value differs: driver already accepted, the ride moved on,
		// or the lock had already expired on its own. Nothing to do.
		return
	}

	retryEvent := dispatch.RideEvent{RideID: entry.RideID, ExcludeDriverIDs: []int64{entry.DriverID}}
	if err := r.Producer.PublishRetryRide(ctx, retryEvent); err != nil {
		log.Printf(`{"component":"reaper","event":"retry_publish_failed","ride_id":%q,"err":%q}`, entry.RideID, err.Error())
	}
	log.Printf(`{"component":"reaper","event":"proposal_expired","ride_id":%q,"driver_id":%d}`, entry.RideID, entry.DriverID)

	// OQ1: surface PROPOSAL_TIMEOUT to the passenger alongside the retry
	// so a client can show "still searching" instead of going silent.
	if r.Rides == nil {
		return
	}
	ride, ok := r.Rides.Get(ctx, entry.RideID)
	if !ok {
		return
	}
	envelope := dispatch.Envelope{
		RecipientUserID: ride.PassengerID,
		Type:            dispatch.NotifyProposalTimeout,
		Data:            map[string]any{"ride_id": entry.RideID, "driver_id": entry.DriverID},
	}
	if err := r.Notify.PublishPassenger(ctx, envelope); err != nil {
		log.Printf(`{"component":"reaper","event":"publish_failed","ride_id":%q,"err":%q}`, entry.RideID, err.Error())
	}
}
