// Package matching implements C6, the matching worker: it consumes ride
// events off the C5 stream, runs the bounded spiral search, publishes a
// proposal, and schedules the proposal's timeout entry
// (SPEC_FULL.md §4.5 / spec.md §4.5).
package matching

import (
	"context"
	"errors"
	"log"
	"time"

	"griddispatch/internal/dispatch"
	"griddispatch/internal/notify"
	"griddispatch/internal/proposal"
	"griddispatch/internal/spiral"
	"griddispatch/internal/streams"
)

// RideLookup is the read side of the ride state machine the worker needs
// to resolve a retry_ride event's coordinates/price (not carried on the
// event itself) and the passenger id for NO_DRIVERS_AVAILABLE. Satisfied
// directly by *dispatch.RideStore.
type RideLookup interface {
	Get(ctx context.Context, id string) (dispatch.Ride, bool)
}

// Worker is one instance of C6; multiple Workers may run concurrently
// across processes, serialized only by the stream's consumer group and
// the lock manager's TryLock.
type Worker struct {
	Name     string
	Consumer streams.Consumer
	Producer streams.Producer
	Search   *spiral.Searcher
	Timeouts proposal.Timeouts
	Notify   notify.Bus
	Rides    RideLookup

	ProposalTimeout time.Duration
	LockTTL         time.Duration
	BatchSize       int64
	NoDriverBackoff time.Duration

	retryBackoffStart time.Duration
	retryBackoffCap   time.Duration
	retryAttempts     int
}

// New builds a Worker with the spec defaults filled in for zero fields.
func New(name string, consumer streams.Consumer, producer streams.Producer, search *spiral.Searcher, timeouts proposal.Timeouts, bus notify.Bus, rides RideLookup) *Worker {
	return &Worker{
		Name:              name,
		Consumer:          consumer,
		Producer:          producer,
		Search:            search,
		Timeouts:          timeouts,
		Notify:            bus,
		Rides:             rides,
		ProposalTimeout:   25 * time.Second,
		LockTTL:           30 * time.Second,
		BatchSize:         10,
		NoDriverBackoff:   1 * time.Second,
		retryBackoffStart: 200 * time.Millisecond,
		retryBackoffCap:   5 * time.Second,
		retryAttempts:     5,
	}
}

// Run blocks, reading and handling events until ctx is cancelled. It
// returns nil on a clean cancellation. Transient substrate errors from
// Read are logged and the loop goes on with no retry limit; only a
// non-transient Read error is returned (see SPEC_FULL.md §6 on exit
// behaviour).
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		messages, err := w.Consumer.Read(ctx, w.Name, w.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var subErr *dispatch.SubstrateError
			if errors.As(err, &subErr) && subErr.Transient {
				log.Printf(`{"component":"matching","event":"read_error","worker":%q,"err":%q}`, w.Name, subErr.Error())
				continue
			}
			return err
		}
		for _, msg := range messages {
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg streams.Message) {
	if msg.DecodeErr != nil {
		log.Printf(`{"component":"matching","event":"poison_event","stream":%q,"id":%q,"err":%q}`, msg.Stream, msg.ID, msg.DecodeErr.Error())
		_ = w.Consumer.Ack(ctx, msg)
		return
	}
	event := msg.Event

	ride, ok := w.Rides.Get(ctx, event.RideID)
	if !ok {
		log.Printf(`{"component":"matching","event":"ride_not_found","ride_id":%q}`, event.RideID)
		_ = w.Consumer.Ack(ctx, msg)
		return
	}
	if ride.Status.Terminal() || ride.Status != dispatch.RidePending {
		// Already resolved (e.g. cancelled while the event was in flight);
		// nothing left for the matching worker to do.
		_ = w.Consumer.Ack(ctx, msg)
		return
	}

	origin, price := ride.Start, ride.Price
	if event.Kind == dispatch.EventNewRide {
		origin, price = event.Start, event.Price
	}

	exclude := make(map[int64]struct{}, len(event.ExcludeDriverIDs))
	for _, id := range event.ExcludeDriverIDs {
		exclude[id] = struct{}{}
	}

	driverID, err := w.findWithRetry(ctx, origin, event.RideID, exclude)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoDriverFound) {
			w.handleNoDriver(ctx, msg, ride, event)
			return
		}
		// Capped retries exhausted on a transient substrate error: log and
		// leave the message unacknowledged. The Consumer implementations do
		// not redeliver it: it stays in the Redis group's pending list, and
		// MemoryStream has already dropped it.
		log.Printf(`{"component":"matching","event":"search_failed","ride_id":%q,"err":%q}`, event.RideID, err.Error())
		return
	}

	deadline := time.Now().Add(w.ProposalTimeout)
	if err := w.Timeouts.Schedule(ctx, event.RideID, driverID, deadline); err != nil {
		log.Printf(`{"component":"matching","event":"schedule_timeout_failed","ride_id":%q,"driver_id":%d,"err":%q}`, event.RideID, driverID, err.Error())
	}

	envelope := dispatch.Envelope{
		RecipientUserID: driverID,
		Type:            dispatch.NotifyNewOrderProposal,
		Data: map[string]any{
			"ride_id": event.RideID,
			"start":   origin,
			"end":     ride.End,
			"price":   price.String(),
		},
	}
	if err := w.Notify.PublishDriver(ctx, envelope); err != nil {
		log.Printf(`{"component":"matching","event":"publish_failed","ride_id":%q,"driver_id":%d,"err":%q}`, event.RideID, driverID, err.Error())
	}
	log.Printf(`{"component":"matching","event":"proposal_sent","ride_id":%q,"driver_id":%d}`, event.RideID, driverID)
	_ = w.Consumer.Ack(ctx, msg)
}

// findWithRetry retries Search.Find on transient substrate errors with
// capped exponential backoff (200ms start, 5s cap, 5 attempts), per
// spec.md §7 SubstrateTransient policy. ErrNoDriverFound and
// ErrLockContention are not retried here -- the former is a terminal
// result for this event, the latter is already absorbed inside Find.
func (w *Worker) findWithRetry(ctx context.Context, origin dispatch.Coordinate, rideID string, exclude map[int64]struct{}) (int64, error) {
	backoff := w.retryBackoffStart
	var lastErr error
	for attempt := 0; attempt < w.retryAttempts; attempt++ {
		driverID, err := w.Search.Find(ctx, origin, rideID, w.LockTTL, exclude)
		if err == nil {
			return driverID, nil
		}
		if errors.Is(err, dispatch.ErrNoDriverFound) {
			return 0, err
		}
		var subErr *dispatch.SubstrateError
		if !errors.As(err, &subErr) || !subErr.Transient {
			return 0, err
		}
		lastErr = err
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		backoff *= 2
		if backoff > w.retryBackoffCap {
			backoff = w.retryBackoffCap
		}
	}
	return 0, lastErr
}

func (w *Worker) handleNoDriver(ctx context.Context, msg streams.Message, ride dispatch.Ride, event dispatch.RideEvent) {
	envelope := dispatch.Envelope{
		RecipientUserID: ride.PassengerID,
		Type:            dispatch.NotifyNoDriversFound,
		Data:            map[string]any{"ride_id": event.RideID},
	}
	if err := w.Notify.PublishPassenger(ctx, envelope); err != nil {
		log.Printf(`{"component":"matching","event":"publish_failed","ride_id":%q,"err":%q}`, event.RideID, err.Error())
	}
	_ = w.Consumer.Ack(ctx, msg)
	log.Printf(`{"component":"matching","event":"no_drivers","ride_id":%q}`, event.RideID)

	exclude := event.ExcludeDriverIDs
	go w.delayedRetry(ctx, event.RideID, exclude)
}

// delayedRetry waits NoDriverBackoff (>= 1s, per scenario S4: "worker
// does not spin-loop") before appending the explicit retry_ride event,
// never consumer-group redelivery.
func (w *Worker) delayedRetry(ctx context.Context, rideID string, exclude []int64) {
	select {
	case <-time.After(w.NoDriverBackoff):
	case <-ctx.Done():
		return
	}
	retryEvent := dispatch.RideEvent{RideID: rideID, ExcludeDriverIDs: exclude}
	if err := w.Producer.PublishRetryRide(ctx, retryEvent); err != nil {
		log.Printf(`{"component":"matching","event":"retry_publish_failed","ride_id":%q,"err":%q}`, rideID, err.Error())
	}
}
