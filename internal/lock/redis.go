package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"griddispatch/internal/dispatch"
)

// releaseIfScript deletes the key only if its current value matches the
// expected one, the compare-and-delete primitive ReleaseIf needs.
var releaseIfScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// reassignScript swaps the value only if it currently matches the expected
// "from" value, clearing any TTL (a plain SET without EX or KEEPTTL) in
// the same atomic step.
var reassignScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2])
	return 1
else
	return 0
end
`)

// RedisManager implements Manager against driver_lock:{id} keys.
type RedisManager struct {
	client *redis.Client
}

func NewRedisManager(client *redis.Client) *RedisManager {
	return &RedisManager{client: client}
}

func lockKey(driverID int64) string {
	return fmt.Sprintf("driver_lock:%d", driverID)
}

func (m *RedisManager) TryLock(ctx context.Context, driverID int64, rideID string, ttl time.Duration) (bool, error) {
	ok, err := m.client.SetNX(ctx, lockKey(driverID), rideID, ttl).Result()
	if err != nil {
		return false, &dispatch.SubstrateError{Err: err, Transient: true}
	}
	return ok, nil
}

func (m *RedisManager) GetLock(ctx context.Context, driverID int64) (string, bool, error) {
	val, err := m.client.Get(ctx, lockKey(driverID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, &dispatch.SubstrateError{Err: err, Transient: true}
	}
	return val, true, nil
}

func (m *RedisManager) ReleaseIf(ctx context.Context, driverID int64, rideID string) (bool, error) {
	res, err := releaseIfScript.Run(ctx, m.client, []string{lockKey(driverID)}, rideID).Int64()
	if err != nil {
		return false, &dispatch.SubstrateError{Err: err, Transient: true}
	}
	return res == 1, nil
}

func (m *RedisManager) Reassign(ctx context.Context, driverID int64, fromRideID, toValue string) (bool, error) {
	res, err := reassignScript.Run(ctx, m.client, []string{lockKey(driverID)}, fromRideID, toValue).Int64()
	if err != nil {
		return false, &dispatch.SubstrateError{Err: err, Transient: true}
	}
	return res == 1, nil
}
