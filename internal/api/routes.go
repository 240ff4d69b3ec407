package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"griddispatch/internal/auth"
	"griddispatch/internal/dispatch"
	"griddispatch/internal/lock"
	"griddispatch/internal/notify"
	"griddispatch/internal/presence"
	"griddispatch/internal/storage"
	"griddispatch/internal/streams"
)

// Dependencies bundles everything AttachRoutes needs to construct the
// Handler, mirroring the shape of the reference's AttachRoutes
// parameter list generalized to the grid domain's components.
type Dependencies struct {
	Rides      *dispatch.RideStore
	Presence   presence.Index
	Locks      lock.Manager
	Producer   streams.Producer
	Hub        *dispatch.Hub
	Notify     notify.Bus
	Pricing    dispatch.PricingCalculator
	Bounds     presence.Bounds
	LockTTL    time.Duration
	AuthStore  *auth.InMemoryStore
	IdentityDB *storage.IdentityStore
	AuthTTL    time.Duration
	Events     *storage.Postgres
	IdemDB     *storage.IdempotencyStore
	Ready      func(ctx context.Context) error
}

// AttachRoutes wires the HTTP surface described in SPEC_FULL.md §6 onto
// r, following the reference AttachRoutes's grouping of public routes
// behind the auth middleware and health/metrics endpoints in front of
// it. IdentityDB/IdemDB are taken as concrete pointers and only wrapped
// into their interface form when non-nil, since a nil *storage.X stored
// directly in an interface field is not itself a nil interface.
func AttachRoutes(r chi.Router, deps Dependencies) {
	var identityDB IdentityDB
	if deps.IdentityDB != nil {
		identityDB = deps.IdentityDB
	}
	var idemDB IdempotencyDB
	if deps.IdemDB != nil {
		idemDB = deps.IdemDB
	}
	handler := NewHandler(deps.Rides, deps.Presence, deps.Locks, deps.Producer, deps.Hub, deps.Notify, deps.Pricing, deps.Bounds, deps.LockTTL, deps.AuthStore, identityDB, deps.AuthTTL, deps.Events, idemDB)

	r.Use(handler.metricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(JSONLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready == nil {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Ready(ctx); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	r.Get("/metrics", handler.Metrics)

	r.Group(func(pr chi.Router) {
		pr.Use(handler.auth.middleware)
		pr.Post("/api/rides", handler.RequestRide)
		pr.Get("/api/rides/{rideID}", handler.GetRide)
		pr.Post("/api/rides/{rideID}/cancel", handler.CancelRide)
		pr.Post("/api/rides/{rideID}/{step}", handler.AdvanceRide)

		pr.Put("/api/drivers/{driverID}/location", handler.UpdateDriverLocation)
		pr.Put("/api/drivers/{driverID}/status", handler.UpdateDriverStatus)
		pr.Post("/api/drivers/{driverID}/rides/{rideID}/accept", handler.AcceptRide)
		pr.Post("/api/drivers/{driverID}/rides/{rideID}/reject", handler.RejectRide)

		pr.Get("/api/admin/rides/{rideID}/events", handler.ListRideEvents)
	})

	r.Post("/api/auth/register", handler.RegisterIdentity)
	r.Get("/ws/notifications", handler.Notifications)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
