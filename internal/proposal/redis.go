package proposal

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"griddispatch/internal/dispatch"
)

const sortedSetKey = "proposal_timeouts"

// RedisTimeouts implements Timeouts against the `proposal_timeouts`
// sorted set (bit-exact key schema, SPEC_FULL.md §6).
type RedisTimeouts struct {
	client *redis.Client
}

func NewRedisTimeouts(client *redis.Client) *RedisTimeouts {
	return &RedisTimeouts{client: client}
}

func (r *RedisTimeouts) Schedule(ctx context.Context, rideID string, driverID int64, deadline time.Time) error {
	err := r.client.ZAdd(ctx, sortedSetKey, redis.Z{
		Score:  float64(deadline.Unix()),
		Member: member(rideID, driverID),
	}).Err()
	if err != nil {
		return &dispatch.SubstrateError{Err: err, Transient: true}
	}
	return nil
}

func (r *RedisTimeouts) Remove(ctx context.Context, rideID string, driverID int64) error {
	if err := r.client.ZRem(ctx, sortedSetKey, member(rideID, driverID)).Err(); err != nil {
		return &dispatch.SubstrateError{Err: err, Transient: true}
	}
	return nil
}

// DueBefore fetches every member scored at or before now and removes it.
// The fetch-then-remove is two round trips rather than one Lua script:
// acting twice on the same due entry is harmless (see the reaper.Reaper
// doc and SPEC_FULL.md §4.6) because the reaper's actual side effect is gated by
// the lock's compare-and-delete, not by sorted-set exclusivity.
func (r *RedisTimeouts) DueBefore(ctx context.Context, now time.Time) ([]Entry, error) {
	max := strconv.FormatInt(now.Unix(), 10)
	members, err := r.client.ZRangeByScore(ctx, sortedSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return nil, &dispatch.SubstrateError{Err: err, Transient: true}
	}
	if len(members) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := r.client.ZRem(ctx, sortedSetKey, args...).Err(); err != nil {
		return nil, &dispatch.SubstrateError{Err: err, Transient: true}
	}
	due := make([]Entry, 0, len(members))
	for _, m := range members {
		rideID, driverID, ok := splitMember(m)
		if !ok {
			continue
		}
		due = append(due, Entry{RideID: rideID, DriverID: driverID})
	}
	return due, nil
}
