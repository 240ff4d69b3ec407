package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"griddispatch/internal/dispatch"
)

const heartbeatZSetKey = "driver_heartbeats"

// RedisIndex implements Index against the substrate key schema:
// cell:{x}:{y} hash (field=driver_id, value=status) and
// driver_location:{id} string ("{x}:{y}").
type RedisIndex struct {
	client *redis.Client
	bounds Bounds
}

func NewRedisIndex(client *redis.Client, bounds Bounds) *RedisIndex {
	return &RedisIndex{client: client, bounds: bounds}
}

func cellKey(c dispatch.Coordinate) string {
	return fmt.Sprintf("cell:%d:%d", c.X, c.Y)
}

func locationKey(driverID int64) string {
	return fmt.Sprintf("driver_location:%d", driverID)
}

func (idx *RedisIndex) Heartbeat(ctx context.Context, driverID int64, cell dispatch.Coordinate, status dispatch.PresenceStatus) error {
	if !idx.bounds.Contains(cell) {
		return dispatch.ErrInvalidCoordinate
	}
	driverField := strconv.FormatInt(driverID, 10)

	prev, found, err := idx.Location(ctx, driverID)
	if err != nil {
		return &dispatch.SubstrateError{Err: err, Transient: true}
	}
	if found && prev != cell {
		if err := idx.client.HDel(ctx, cellKey(prev), driverField).Err(); err != nil {
			return &dispatch.SubstrateError{Err: err, Transient: true}
		}
	}
	if err := idx.client.HSet(ctx, cellKey(cell), driverField, string(status)).Err(); err != nil {
		return &dispatch.SubstrateError{Err: err, Transient: true}
	}
	if err := idx.client.Set(ctx, locationKey(driverID), fmt.Sprintf("%d:%d", cell.X, cell.Y), 0).Err(); err != nil {
		return &dispatch.SubstrateError{Err: err, Transient: true}
	}
	if err := idx.client.ZAdd(ctx, heartbeatZSetKey, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: driverField,
	}).Err(); err != nil {
		return &dispatch.SubstrateError{Err: err, Transient: true}
	}
	return nil
}

func (idx *RedisIndex) Offline(ctx context.Context, driverID int64) error {
	driverField := strconv.FormatInt(driverID, 10)
	prev, found, err := idx.Location(ctx, driverID)
	if err != nil {
		return &dispatch.SubstrateError{Err: err, Transient: true}
	}
	if found {
		if err := idx.client.HDel(ctx, cellKey(prev), driverField).Err(); err != nil {
			return &dispatch.SubstrateError{Err: err, Transient: true}
		}
		if err := idx.client.Del(ctx, locationKey(driverID)).Err(); err != nil {
			return &dispatch.SubstrateError{Err: err, Transient: true}
		}
	}
	if err := idx.client.ZRem(ctx, heartbeatZSetKey, driverField).Err(); err != nil {
		return &dispatch.SubstrateError{Err: err, Transient: true}
	}
	return nil
}

func (idx *RedisIndex) CellOccupants(ctx context.Context, cell dispatch.Coordinate) ([]int64, error) {
	fields, err := idx.client.HKeys(ctx, cellKey(cell)).Result()
	if err != nil {
		return nil, &dispatch.SubstrateError{Err: err, Transient: true}
	}
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (idx *RedisIndex) Location(ctx context.Context, driverID int64) (dispatch.Coordinate, bool, error) {
	val, err := idx.client.Get(ctx, locationKey(driverID)).Result()
	if err == redis.Nil {
		return dispatch.Coordinate{}, false, nil
	}
	if err != nil {
		return dispatch.Coordinate{}, false, &dispatch.SubstrateError{Err: err, Transient: true}
	}
	parts := strings.SplitN(val, ":", 2)
	if len(parts) != 2 {
		return dispatch.Coordinate{}, false, nil
	}
	x, errX := strconv.Atoi(parts[0])
	y, errY := strconv.Atoi(parts[1])
	if errX != nil || errY != nil {
		return dispatch.Coordinate{}, false, nil
	}
	return dispatch.Coordinate{X: x, Y: y}, true, nil
}

// ReapStale removes drivers whose last heartbeat is older than ttl. It is
// driven by a background ticker (see cmd/server) rather than enforced per
// read, per the design note recommending a side-channel expiry sweep since
// Redis hash fields carry no per-field TTL.
func (idx *RedisIndex) ReapStale(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	ids, err := idx.client.ZRangeByScore(ctx, heartbeatZSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, &dispatch.SubstrateError{Err: err, Transient: true}
	}
	for _, idStr := range ids {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		_ = idx.Offline(ctx, id)
	}
	return len(ids), nil
}
