package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"griddispatch/internal/api"
	"griddispatch/internal/auth"
	"griddispatch/internal/config"
	"griddispatch/internal/dispatch"
	"griddispatch/internal/lock"
	"griddispatch/internal/matching"
	"griddispatch/internal/notify"
	"griddispatch/internal/presence"
	"griddispatch/internal/proposal"
	"griddispatch/internal/reaper"
	"griddispatch/internal/spiral"
	"griddispatch/internal/storage"
	"griddispatch/internal/streams"
)

func main() {
	cfg := config.Load()
	env := envOrDefault("ENV", "dev")
	bounds := presence.Bounds{N: cfg.GridN, M: cfg.GridM}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisClient, redisUp := connectRedis(ctx, cfg.RedisURL, env)
	pool, pgUp := connectPostgres(ctx, cfg.DatabaseURL, env)

	presenceIdx, locks, timeouts, stream, bus := wireSubstrate(redisClient, redisUp, bounds)

	var persistence dispatch.RidePersistence
	var events *storage.Postgres
	var identityDB *storage.IdentityStore
	var idemDB *storage.IdempotencyStore
	if pgUp {
		pg := storage.NewPostgres(pool)
		persistence = pg
		events = pg
		identityDB = storage.NewIdentityStore(pool)
		if err := identityDB.EnsureSchema(ctx); err != nil {
			log.Printf(`{"component":"main","event":"identity_schema_failed","err":%q}`, err.Error())
			identityDB = nil
		}
		idemDB = storage.NewIdempotencyStore(pool, 30*time.Minute)
		if err := idemDB.EnsureSchema(ctx); err != nil {
			log.Printf(`{"component":"main","event":"idempotency_schema_failed","err":%q}`, err.Error())
			idemDB = nil
		}
	}
	rides := dispatch.NewRideStore(persistence)

	authStore := auth.NewInMemoryStore()
	if identityDB != nil {
		seedIdentities(ctx, identityDB, authStore)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := dispatch.NewHub()
	go hub.Run()
	forwardNotifications(runCtx, hub, bus)

	pricing := dispatch.PricingCalculator{
		BaseFare:     cfg.BaseFare,
		PricePerCell: cfg.PricePerCell,
		MinFare:      cfg.MinFare,
		TimePerCell:  cfg.TimePerCell,
	}

	search := spiral.New(presenceIdx, locks, bounds, cfg.MaxSearchRadius)

	startWorkers(runCtx, cfg, stream, search, timeouts, bus, rides)
	go reaper.New(timeouts, locks, stream.producer, bus, rides).Run(runCtx)
	go pruneStaleDrivers(runCtx, presenceIdx, cfg.HeartbeatTTL)

	r := chi.NewRouter()
	api.AttachRoutes(r, api.Dependencies{
		Rides:      rides,
		Presence:   presenceIdx,
		Locks:      locks,
		Producer:   stream.producer,
		Hub:        hub,
		Notify:     bus,
		Pricing:    pricing,
		Bounds:     bounds,
		LockTTL:    cfg.DriverLockTTL,
		AuthStore:  authStore,
		IdentityDB: identityDB,
		AuthTTL:    cfg.AuthTTL,
		Events:     events,
		IdemDB:     idemDB,
		Ready:      func(ctx context.Context) error { return readyCheck(ctx, pool, pgUp, redisClient, redisUp) },
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf(`{"component":"main","event":"listening","addr":%q,"grid":"%dx%d"}`, cfg.HTTPAddr, cfg.GridN, cfg.GridM)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf(`{"component":"main","event":"server_error","err":%q}`, err.Error())
	}
}

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func connectRedis(ctx context.Context, url, env string) (*redis.Client, bool) {
	if url == "" {
		return nil, false
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Printf(`{"component":"main","event":"redis_url_invalid","err":%q}`, err.Error())
		if env == "prod" {
			log.Fatal("REDIS_URL parse failed in prod")
		}
		return nil, false
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf(`{"component":"main","event":"redis_unreachable","err":%q}`, err.Error())
		if env == "prod" {
			log.Fatal("redis reachable required in prod")
		}
		return nil, false
	}
	log.Printf(`{"component":"main","event":"redis_connected"}`)
	return client, true
}

func connectPostgres(ctx context.Context, url, env string) (*pgxpool.Pool, bool) {
	if url == "" {
		return nil, false
	}
	pool, err := storage.DefaultPool(ctx, url)
	if err != nil {
		log.Printf(`{"component":"main","event":"postgres_connect_failed","err":%q}`, err.Error())
		if env == "prod" {
			log.Fatal("DATABASE_URL required in prod")
		}
		return nil, false
	}
	if err := storage.EnsureSchema(ctx, pool); err != nil {
		log.Printf(`{"component":"main","event":"schema_init_failed","err":%q}`, err.Error())
		if env == "prod" {
			log.Fatal("schema init required in prod")
		}
		return nil, false
	}
	log.Printf(`{"component":"main","event":"postgres_connected"}`)
	return pool, true
}

// wireSubstrate picks the Redis-backed or in-process implementation of
// every C1-adjacent component depending on whether Redis came up,
// mirroring the reference's fallback-to-in-memory pattern for its geo
// index.
func wireSubstrate(client *redis.Client, redisUp bool, bounds presence.Bounds) (presence.Index, lock.Manager, proposal.Timeouts, *streamsBundle, notify.Bus) {
	if !redisUp {
		log.Printf(`{"component":"main","event":"substrate_in_memory"}`)
		mem := streams.NewMemoryStream(256)
		return presence.NewMemoryIndex(bounds), lock.NewMemoryManager(), proposal.NewMemoryTimeouts(), &streamsBundle{producer: mem, consumer: mem}, notify.NewMemoryBus(256)
	}
	rs := streams.NewRedisStream(client)
	if err := rs.EnsureGroups(context.Background()); err != nil {
		log.Printf(`{"component":"main","event":"ensure_groups_failed","err":%q}`, err.Error())
	}
	return presence.NewRedisIndex(client, bounds), lock.NewRedisManager(client), proposal.NewRedisTimeouts(client), &streamsBundle{producer: rs, consumer: rs}, notify.NewRedisBus(client)
}

// streamsBundle lets the same concrete stream implementation satisfy
// both the producer and consumer roles without every caller needing to
// know the concrete type.
type streamsBundle struct {
	producer streams.Producer
	consumer streams.Consumer
}

func startWorkers(ctx context.Context, cfg config.Config, bundle *streamsBundle, search *spiral.Searcher, timeouts proposal.Timeouts, bus notify.Bus, rides *dispatch.RideStore) {
	count := envInt("WORKER_COUNT", 2)
	for i := 0; i < count; i++ {
		name := "matcher-" + strconv.Itoa(i)
		worker := matching.New(name, bundle.consumer, bundle.producer, search, timeouts, bus, rides)
		worker.ProposalTimeout = cfg.ProposalTimeout
		worker.LockTTL = cfg.DriverLockTTL
		go func(w *matching.Worker) {
			if err := w.Run(ctx); err != nil {
				log.Printf(`{"component":"main","event":"worker_exited","worker":%q,"err":%q}`, w.Name, err.Error())
			}
		}(worker)
	}
}

func forwardNotifications(ctx context.Context, hub *dispatch.Hub, bus notify.Bus) {
	ch, err := bus.Listen(ctx)
	if err != nil {
		log.Printf(`{"component":"main","event":"notify_listen_failed","err":%q}`, err.Error())
		return
	}
	go func() {
		for env := range ch {
			hub.Deliver(env)
		}
	}()
}

func pruneStaleDrivers(ctx context.Context, idx presence.Index, ttl time.Duration) {
	reaper, ok := idx.(interface {
		ReapStale(ctx context.Context, ttl time.Duration) (int, error)
	})
	if !ok {
		return
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := reaper.ReapStale(ctx, ttl)
			if err != nil {
				log.Printf(`{"component":"main","event":"prune_failed","err":%q}`, err.Error())
				continue
			}
			if n > 0 {
				log.Printf(`{"component":"main","event":"pruned_stale_drivers","count":%d}`, n)
			}
		}
	}
}

func seedIdentities(ctx context.Context, db *storage.IdentityStore, mem *auth.InMemoryStore) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	all, err := db.All(ctx)
	if err != nil {
		log.Printf(`{"component":"main","event":"identity_preload_failed","err":%q}`, err.Error())
		return
	}
	for _, ident := range all {
		mem.Seed(ident)
	}
}

func readyCheck(ctx context.Context, pool *pgxpool.Pool, pgUp bool, client *redis.Client, redisUp bool) error {
	if pgUp {
		if err := pool.Ping(ctx); err != nil {
			return err
		}
	}
	if redisUp {
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}
