package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"griddispatch/internal/auth"
	"griddispatch/internal/dispatch"
	"griddispatch/internal/lock"
	"griddispatch/internal/notify"
	"griddispatch/internal/presence"
	"griddispatch/internal/storage"
	"griddispatch/internal/streams"
)

// Handler holds every dependency the thin HTTP adapter needs: the ride
// state machine (C10), presence index (C2), lock manager (C3), the
// producer side of the ride event stream (C5), the connection registry
// (C9), the notification bus (C8), and the pricing calculator. It mirrors
// the reference Handler's shape (store/hub/auth/events/db) generalized
// from lat/lon rides to the grid domain.
type Handler struct {
	Rides    *dispatch.RideStore
	Presence presence.Index
	Locks    lock.Manager
	Producer streams.Producer
	Hub      *dispatch.Hub
	Notify   notify.Bus
	Pricing  dispatch.PricingCalculator
	Bounds   presence.Bounds
	LockTTL  time.Duration

	auth      authConfig
	authStore *auth.InMemoryStore
	events    *storage.Postgres
	idem      *dispatch.IdemCache
	idemDB    IdempotencyDB

	startTime time.Time
	mu        sync.Mutex
	latency   bucketCounter
	requests  int64
	errors    int64
}

// IdempotencyDB is the durable backing for Idempotency-Key reuse across
// process restarts; the in-memory IdemCache is checked first since it
// never requires a round trip.
type IdempotencyDB interface {
	Remember(ctx context.Context, key, rideID string) error
	Lookup(ctx context.Context, key string) (string, bool, error)
}

// NewHandler wires a Handler from its dependencies.
func NewHandler(rides *dispatch.RideStore, pr presence.Index, locks lock.Manager, producer streams.Producer, hub *dispatch.Hub, bus notify.Bus, pricing dispatch.PricingCalculator, bounds presence.Bounds, lockTTL time.Duration, authStore *auth.InMemoryStore, identityDB IdentityDB, authTTL time.Duration, events *storage.Postgres, idemDB IdempotencyDB) *Handler {
	return &Handler{
		Rides:     rides,
		Presence:  pr,
		Locks:     locks,
		Producer:  producer,
		Hub:       hub,
		Notify:    bus,
		Pricing:   pricing,
		Bounds:    bounds,
		LockTTL:   lockTTL,
		auth:      newAuthConfig(authStore, identityDB, authTTL),
		authStore: authStore,
		events:    events,
		idem:      dispatch.NewIdemCache(),
		idemDB:    idemDB,
		startTime: time.Now(),
		latency:   newBucketCounter(map[float64]int64{0.05: 0, 0.1: 0, 0.5: 0, 1: 0, 5: 0}),
	}
}

type coordinateInput struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c coordinateInput) toCoordinate() dispatch.Coordinate {
	return dispatch.Coordinate{X: c.X, Y: c.Y}
}

type createRideRequest struct {
	Start coordinateInput `json:"start"`
	End   coordinateInput `json:"end"`
}

// RequestRide handles POST /api/rides: it validates both endpoints are
// in-grid, computes price via Pricing.Estimate(Manhattan distance),
// creates the ride in the pending state (C10), and appends a new_ride
// event to C5 carrying the full coordinates and price.
func (h *Handler) RequestRide(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.auth.authorized(r)
	if !ok || identity.Role != dispatch.RolePassenger {
		respondError(w, http.StatusForbidden, "passenger token required")
		return
	}

	var req createRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	start, end := req.Start.toCoordinate(), req.End.toCoordinate()
	if !h.Bounds.Contains(start) || !h.Bounds.Contains(end) {
		respondError(w, http.StatusBadRequest, "coordinate out of bounds")
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		if rideID, found := h.idem.Lookup(idemKey); found {
			if ride, ok := h.Rides.Get(r.Context(), rideID); ok {
				respondJSON(w, http.StatusOK, ride)
				return
			}
		} else if h.idemDB != nil {
			if rideID, found, err := h.idemDB.Lookup(r.Context(), idemKey); err == nil && found {
				if ride, ok := h.Rides.Get(r.Context(), rideID); ok {
					h.idem.Remember(idemKey, rideID)
					respondJSON(w, http.StatusOK, ride)
					return
				}
			}
		}
	}

	estimate := h.Pricing.Estimate(start.Manhattan(end))

	ride, err := h.Rides.Create(r.Context(), identity.ID, start, end, estimate.Price)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to create ride")
		return
	}
	if idemKey != "" {
		h.idem.Remember(idemKey, ride.ID)
		if h.idemDB != nil {
			_ = h.idemDB.Remember(r.Context(), idemKey, ride.ID)
		}
	}

	event := dispatch.RideEvent{
		Kind:   dispatch.EventNewRide,
		RideID: ride.ID,
		Start:  start,
		End:    end,
		Price:  estimate.Price,
	}
	if err := h.Producer.PublishNewRide(r.Context(), event); err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to enqueue ride")
		return
	}
	respondJSON(w, http.StatusCreated, ride)
}

// GetRide handles GET /api/rides/{rideID}.
func (h *Handler) GetRide(w http.ResponseWriter, r *http.Request) {
	rideID := chi.URLParam(r, "rideID")
	ride, ok := h.Rides.Get(r.Context(), rideID)
	if !ok {
		respondError(w, http.StatusNotFound, "ride not found")
		return
	}
	respondJSON(w, http.StatusOK, ride)
}

type driverLocationRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// UpdateDriverLocation handles PUT /api/drivers/{driverID}/location: a
// heartbeat upserting the driver's cell membership (C2).
func (h *Handler) UpdateDriverLocation(w http.ResponseWriter, r *http.Request) {
	driverID, ok := h.driverIDFromRequest(w, r)
	if !ok {
		return
	}
	var req driverLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	cell := dispatch.Coordinate{X: req.X, Y: req.Y}
	if err := h.Presence.Heartbeat(r.Context(), driverID, cell, dispatch.PresenceOnline); err != nil {
		if errors.Is(err, dispatch.ErrInvalidCoordinate) {
			respondError(w, http.StatusBadRequest, "coordinate out of bounds")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "failed to record location")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type driverStatusRequest struct {
	Status string `json:"status"`
}

// UpdateDriverStatus handles PUT /api/drivers/{driverID}/status: online
// marks the driver present at its last known cell (or the origin, if
// none yet reported), offline removes it from the index entirely.
func (h *Handler) UpdateDriverStatus(w http.ResponseWriter, r *http.Request) {
	driverID, ok := h.driverIDFromRequest(w, r)
	if !ok {
		return
	}
	var req driverStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	switch dispatch.PresenceStatus(req.Status) {
	case dispatch.PresenceOnline, dispatch.PresenceBusy:
		cell, found, err := h.Presence.Location(r.Context(), driverID)
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "failed to read location")
			return
		}
		if !found {
			cell = dispatch.Coordinate{}
		}
		if err := h.Presence.Heartbeat(r.Context(), driverID, cell, dispatch.PresenceStatus(req.Status)); err != nil {
			respondError(w, http.StatusServiceUnavailable, "failed to update status")
			return
		}
	case "", "offline":
		if err := h.Presence.Offline(r.Context(), driverID); err != nil {
			respondError(w, http.StatusServiceUnavailable, "failed to go offline")
			return
		}
	default:
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcceptRide handles POST /api/drivers/{driverID}/rides/{rideID}/accept.
// Precondition per SPEC_FULL.md §4.7: GetLock(driverID) == rideID and
// ride.status == pending; on success the lock is promoted to its
// "assigned:" marker and the proposal timeout entry is abandoned (the
// reaper's own ReleaseIf will simply no-op against the new value).
func (h *Handler) AcceptRide(w http.ResponseWriter, r *http.Request) {
	driverID, ok := h.driverIDFromRequest(w, r)
	if !ok {
		return
	}
	rideID := chi.URLParam(r, "rideID")

	current, found, err := h.Locks.GetLock(r.Context(), driverID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "lock check failed")
		return
	}
	if !found || current != rideID {
		respondError(w, http.StatusBadRequest, "no pending proposal for this ride")
		return
	}

	ride, err := h.Rides.Accept(r.Context(), rideID, driverID)
	if err != nil {
		if errors.Is(err, dispatch.ErrStateConflict) {
			respondError(w, http.StatusBadRequest, "ride no longer pending")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "failed to accept ride")
		return
	}
	if _, err := h.Locks.Reassign(r.Context(), driverID, rideID, lock.AssignedValue(rideID)); err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to promote lock")
		return
	}

	h.notifyBoth(r.Context(), ride, dispatch.NotifyRideAccepted, map[string]any{"ride_id": rideID, "driver_id": driverID})
	respondJSON(w, http.StatusOK, ride)
}

// RejectRide handles POST /api/drivers/{driverID}/rides/{rideID}/reject:
// releases the proposal lock and emits a retry_ride event excluding the
// rejecting driver, symmetric to the timeout path (C7).
func (h *Handler) RejectRide(w http.ResponseWriter, r *http.Request) {
	driverID, ok := h.driverIDFromRequest(w, r)
	if !ok {
		return
	}
	rideID := chi.URLParam(r, "rideID")

	if _, err := h.Rides.Reject(r.Context(), rideID, driverID); err != nil {
		if errors.Is(err, dispatch.ErrStateConflict) {
			respondError(w, http.StatusBadRequest, "ride no longer pending")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "failed to reject ride")
		return
	}
	if _, err := h.Locks.ReleaseIf(r.Context(), driverID, rideID); err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to release lock")
		return
	}
	if err := h.Producer.PublishRetryRide(r.Context(), dispatch.RideEvent{RideID: rideID, ExcludeDriverIDs: []int64{driverID}}); err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to enqueue retry")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// CancelRide handles POST /api/rides/{rideID}/cancel. The caller may be
// the passenger or an admin; the lock release attempts both the
// pre-accept proposal value and the post-accept "assigned:" value since
// ReleaseIf does exact comparison and the two phases use different
// encodings of the same ride id.
func (h *Handler) CancelRide(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.auth.authorized(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rideID := chi.URLParam(r, "rideID")

	existing, found := h.Rides.Get(r.Context(), rideID)
	if !found {
		respondError(w, http.StatusNotFound, "ride not found")
		return
	}
	if identity.Role == dispatch.RolePassenger && existing.PassengerID != identity.ID {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	ride, err := h.Rides.Cancel(r.Context(), rideID)
	if err != nil {
		if errors.Is(err, dispatch.ErrStateConflict) {
			respondError(w, http.StatusBadRequest, "ride already terminal")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "failed to cancel ride")
		return
	}
	if ride.DriverID != nil {
		driverID := *ride.DriverID
		if _, err := h.Locks.ReleaseIf(r.Context(), driverID, rideID); err != nil {
			respondError(w, http.StatusServiceUnavailable, "failed to release lock")
			return
		}
		if _, err := h.Locks.ReleaseIf(r.Context(), driverID, lock.AssignedValue(rideID)); err != nil {
			respondError(w, http.StatusServiceUnavailable, "failed to release lock")
			return
		}
	}

	h.notifyBoth(r.Context(), ride, dispatch.NotifyRideCancelled, map[string]any{"ride_id": rideID})
	respondJSON(w, http.StatusOK, ride)
}

// AdvanceRide handles the remaining lifecycle transitions
// (driver_arrived / passenger_onboard / in_progress / completed) that
// have no bespoke endpoint of their own; `step` selects the transition.
func (h *Handler) AdvanceRide(w http.ResponseWriter, r *http.Request) {
	rideID := chi.URLParam(r, "rideID")
	step := chi.URLParam(r, "step")

	var (
		ride dispatch.Ride
		err  error
	)
	switch step {
	case "arrive":
		ride, err = h.Rides.Arrive(r.Context(), rideID)
	case "board":
		ride, err = h.Rides.Board(r.Context(), rideID)
	case "start":
		ride, err = h.Rides.Start(r.Context(), rideID)
	case "complete":
		ride, err = h.Rides.Complete(r.Context(), rideID)
	default:
		respondError(w, http.StatusNotFound, "unknown transition")
		return
	}
	if err != nil {
		if errors.Is(err, dispatch.ErrStateConflict) {
			respondError(w, http.StatusBadRequest, "invalid transition for current state")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "failed to advance ride")
		return
	}
	h.notifyBoth(r.Context(), ride, dispatch.NotifyRideStatusUpdate, map[string]any{"ride_id": rideID, "status": ride.Status})
	respondJSON(w, http.StatusOK, ride)
}

// notifyBoth publishes through the shared notification bus (C8) rather
// than delivering straight to this process's Hub, so the recipient is
// reached regardless of which replica's websocket connection it is
// registered on; cmd/server's forwarder is what drains the bus back into
// each replica's own Hub.
func (h *Handler) notifyBoth(ctx context.Context, ride dispatch.Ride, kind dispatch.NotificationKind, data map[string]any) {
	if err := h.Notify.PublishPassenger(ctx, dispatch.Envelope{RecipientUserID: ride.PassengerID, Type: kind, Data: data}); err != nil {
		log.Printf(`{"component":"api","event":"publish_failed","ride_id":%q,"err":%q}`, ride.ID, err.Error())
	}
	if ride.DriverID != nil {
		if err := h.Notify.PublishDriver(ctx, dispatch.Envelope{RecipientUserID: *ride.DriverID, Type: kind, Data: data}); err != nil {
			log.Printf(`{"component":"api","event":"publish_failed","ride_id":%q,"err":%q}`, ride.ID, err.Error())
		}
	}
}

// Notifications handles GET /ws/notifications?token=...: upgrades to a
// websocket registered under the caller's identity id in the
// connection registry (C9).
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.auth.authorized(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.Hub.ServeUser(w, r, identity.ID)
}

type registerRequest struct {
	Role string `json:"role"`
}

// RegisterIdentity handles POST /api/auth/register: issues a bearer
// token bound to a role and a fresh numeric id, the thin substitute for
// the full auth/onboarding system the spec explicitly excludes.
func (h *Handler) RegisterIdentity(w http.ResponseWriter, r *http.Request) {
	if h.authStore == nil {
		respondError(w, http.StatusServiceUnavailable, "auth not configured")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	identity, err := h.authStore.Register(dispatch.IdentityRole(req.Role), h.auth.ttl)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.auth.db != nil {
		if _, err := h.auth.db.Save(r.Context(), identity, h.auth.ttl); err != nil {
			log.Printf(`{"component":"api","event":"identity_save_failed","user_id":%d,"err":%q}`, identity.ID, err.Error())
		}
	}
	respondJSON(w, http.StatusOK, identity)
}

// ListRideEvents handles GET /api/admin/rides/{rideID}/events: the
// durable audit trail kept alongside the ride state machine.
func (h *Handler) ListRideEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondError(w, http.StatusServiceUnavailable, "event log unavailable")
		return
	}
	rideID := chi.URLParam(r, "rideID")
	limit, offset := pagingParams(r)
	events, err := h.events.ListRideEvents(r.Context(), rideID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to fetch events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

func pagingParams(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func (h *Handler) driverIDFromRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	identity, ok := h.auth.authorized(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	driverID, err := strconv.ParseInt(chi.URLParam(r, "driverID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid driver id")
		return 0, false
	}
	if identity.Role != dispatch.RoleAdmin && identity.ID != driverID {
		respondError(w, http.StatusForbidden, "forbidden")
		return 0, false
	}
	return driverID, true
}

// metricsMiddleware records request counts and latency buckets, shown
// on the plaintext /metrics endpoint.
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rec, r)
		h.latency.observe(time.Since(start))
		h.mu.Lock()
		h.requests++
		if rec.status >= 500 {
			h.errors++
		}
		h.mu.Unlock()
	})
}

// Metrics handles GET /metrics: a plaintext snapshot in the same hand
// assembled style as the reference's own metrics endpoint, not a
// Prometheus client library (see DESIGN.md).
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	requests, errs := h.requests, h.errors
	h.mu.Unlock()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fprintMetric(w, "griddispatch_requests_total", float64(requests))
	fprintMetric(w, "griddispatch_errors_total", float64(errs))
	fprintMetric(w, "griddispatch_uptime_seconds", time.Since(h.startTime).Seconds())
	for le, count := range h.latency.snapshot() {
		w.Write([]byte(
			"griddispatch_request_latency_bucket{le=\"" + strconv.FormatFloat(le, 'f', -1, 64) + "\"} " +
				strconv.FormatInt(count, 10) + "\n"))
	}
}

func fprintMetric(w http.ResponseWriter, name string, value float64) {
	w.Write([]byte(name + " " + strconv.FormatFloat(value, 'f', -1, 64) + "\n"))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
