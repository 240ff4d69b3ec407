package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
)

// RideEvent is one row of the durable audit trail kept alongside every
// ride-state transition -- distinct from the C5 Redis stream events,
// which exist only to drive the matching worker, not for history.
type RideEvent struct {
	RideID    string          `json:"rideId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func insertEvent(ctx context.Context, tx pgx.Tx, rideID, eventType string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO ride_events (ride_id, event_type, payload, created_at)
VALUES ($1,$2,$3,NOW())
`, rideID, eventType, raw)
	return err
}

func (p *Postgres) ListRideEvents(ctx context.Context, rideID string, limit, offset int) ([]RideEvent, error) {
	rows, err := p.pool.Query(ctx, `
SELECT ride_id, event_type, payload, created_at
FROM ride_events
WHERE ride_id = $1
ORDER BY created_at ASC
LIMIT $2 OFFSET $3
`, rideID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RideEvent
	for rows.Next() {
		var evt RideEvent
		if err := rows.Scan(&evt.RideID, &evt.Type, &evt.Payload, &evt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (p *Postgres) CountRideEvents(ctx context.Context, rideID string) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ride_events WHERE ride_id = $1`, rideID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
