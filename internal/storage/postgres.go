package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"griddispatch/internal/dispatch"
)

// Postgres is the durable collaborator behind C10 (dispatch.RidePersistence)
// plus the admin-facing ride listing/event-audit surface.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema applies schema.sql, mirroring the reference's
// EnsureSchema/ApplySchema split.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return ApplySchema(ctx, pool)
}

func (p *Postgres) saveRide(ctx context.Context, tx pgx.Tx, ride dispatch.Ride) error {
	_, err := tx.Exec(ctx, `
INSERT INTO rides (id, passenger_id, driver_id, status, start_x, start_y, end_x, end_y, price, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
	driver_id = EXCLUDED.driver_id,
	status = EXCLUDED.status,
	price = EXCLUDED.price,
	version = EXCLUDED.version,
	updated_at = EXCLUDED.updated_at
`, ride.ID, ride.PassengerID, ride.DriverID, ride.Status, ride.Start.X, ride.Start.Y, ride.End.X, ride.End.Y, ride.Price, ride.Version, ride.CreatedAt, ride.UpdatedAt)
	return err
}

// CreateRideWithEvent inserts the ride row and its audit event in one
// transaction, mirroring the reference's CreateRideWithEvent pattern
// (events.go) generalized from the lat/lon ride shape to the grid shape.
func (p *Postgres) CreateRideWithEvent(ctx context.Context, ride dispatch.Ride, eventType string, payload map[string]any) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := p.saveRide(ctx, tx, ride); err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, ride.ID, eventType, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateRideWithEvent persists a state-machine transition and its audit
// event transactionally.
func (p *Postgres) UpdateRideWithEvent(ctx context.Context, ride dispatch.Ride, eventType string, payload map[string]any) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := p.saveRide(ctx, tx, ride); err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, ride.ID, eventType, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanRide(row pgx.Row) (dispatch.Ride, error) {
	var r dispatch.Ride
	err := row.Scan(&r.ID, &r.PassengerID, &r.DriverID, &r.Status, &r.Start.X, &r.Start.Y, &r.End.X, &r.End.Y, &r.Price, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

const rideColumns = `id, passenger_id, driver_id, status, start_x, start_y, end_x, end_y, price, version, created_at, updated_at`

func (p *Postgres) GetRide(ctx context.Context, id string) (dispatch.Ride, bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	ride, err := scanRide(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return dispatch.Ride{}, false, nil
		}
		return dispatch.Ride{}, false, err
	}
	return ride, true, nil
}

func (p *Postgres) ListRidesByPassenger(ctx context.Context, passengerID int64, limit, offset int) ([]dispatch.Ride, error) {
	rows, err := p.pool.Query(ctx, `
SELECT `+rideColumns+`
FROM rides
WHERE passenger_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`, passengerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rides []dispatch.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, r)
	}
	return rides, rows.Err()
}

func (p *Postgres) ListRidesByDriver(ctx context.Context, driverID int64, limit, offset int) ([]dispatch.Ride, error) {
	rows, err := p.pool.Query(ctx, `
SELECT `+rideColumns+`
FROM rides
WHERE driver_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`, driverID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rides []dispatch.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, r)
	}
	return rides, rows.Err()
}

func (p *Postgres) HealthCheck(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func DefaultPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnLifetime = time.Hour
	return pgxpool.NewWithConfig(ctx, cfg)
}
