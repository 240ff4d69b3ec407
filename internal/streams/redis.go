package streams

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"griddispatch/internal/dispatch"
)

// RedisStream implements Producer and Consumer against the
// `order_events` and `retry_search_events` streams, both read through
// MatchingGroup. Read asks only for never-delivered entries (">"): an
// entry delivered to a worker that never acks it stays in the group's
// pending list, and nothing here claims or redelivers it.
type RedisStream struct {
	client *redis.Client
	block  time.Duration
}

func NewRedisStream(client *redis.Client) *RedisStream {
	return &RedisStream{client: client, block: 2 * time.Second}
}

// EnsureGroups creates MatchingGroup on both streams, tolerating the
// already-exists case. Call once at startup before any Read.
func (s *RedisStream) EnsureGroups(ctx context.Context) error {
	for _, stream := range []string{OrderEvents, RetryEvents} {
		err := s.client.XGroupCreateMkStream(ctx, stream, MatchingGroup, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return &dispatch.SubstrateError{Err: err, Transient: true}
		}
	}
	return nil
}

func (s *RedisStream) PublishNewRide(ctx context.Context, event dispatch.RideEvent) error {
	event.Kind = dispatch.EventNewRide
	return s.publish(ctx, OrderEvents, event)
}

func (s *RedisStream) PublishRetryRide(ctx context.Context, event dispatch.RideEvent) error {
	event.Kind = dispatch.EventRetryRide
	return s.publish(ctx, RetryEvents, event)
}

func (s *RedisStream) publish(ctx context.Context, stream string, event dispatch.RideEvent) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: encodeEvent(event),
	}).Err()
	if err != nil {
		return &dispatch.SubstrateError{Err: err, Transient: true}
	}
	return nil
}

func (s *RedisStream) Read(ctx context.Context, consumerName string, count int64) ([]Message, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    MatchingGroup,
		Consumer: consumerName,
		Streams:  []string{OrderEvents, RetryEvents, ">", ">"},
		Count:    count,
		Block:    s.block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &dispatch.SubstrateError{Err: err, Transient: true}
	}
	var out []Message
	for _, stream := range res {
		for _, xm := range stream.Messages {
			event, decodeErr := decodeEvent(xm.Values)
			out = append(out, Message{
				Stream:    stream.Stream,
				ID:        xm.ID,
				Event:     event,
				DecodeErr: decodeErr,
			})
		}
	}
	return out, nil
}

func (s *RedisStream) Ack(ctx context.Context, msg Message) error {
	if err := s.client.XAck(ctx, msg.Stream, MatchingGroup, msg.ID).Err(); err != nil {
		return &dispatch.SubstrateError{Err: err, Transient: true}
	}
	return nil
}

func encodeEvent(e dispatch.RideEvent) map[string]interface{} {
	exclude := make([]string, len(e.ExcludeDriverIDs))
	for i, id := range e.ExcludeDriverIDs {
		exclude[i] = strconv.FormatInt(id, 10)
	}
	return map[string]interface{}{
		"kind":       string(e.Kind),
		"ride_id":    e.RideID,
		"start_x":    e.Start.X,
		"start_y":    e.Start.Y,
		"end_x":      e.End.X,
		"end_y":      e.End.Y,
		"price":      e.Price.String(),
		"exclude_driver_id": strings.Join(exclude, ","),
	}
}

func decodeEvent(values map[string]interface{}) (dispatch.RideEvent, error) {
	var event dispatch.RideEvent
	kind, _ := values["kind"].(string)
	event.Kind = dispatch.RideEventKind(kind)
	if event.Kind != dispatch.EventNewRide && event.Kind != dispatch.EventRetryRide {
		return event, fmt.Errorf("streams: unrecognized event kind %q", kind)
	}
	rideID, _ := values["ride_id"].(string)
	if rideID == "" {
		return event, fmt.Errorf("streams: missing ride_id")
	}
	event.RideID = rideID

	if event.Kind == dispatch.EventNewRide {
		startX, errSX := intField(values, "start_x")
		startY, errSY := intField(values, "start_y")
		endX, errEX := intField(values, "end_x")
		endY, errEY := intField(values, "end_y")
		if errSX != nil || errSY != nil || errEX != nil || errEY != nil {
			return event, fmt.Errorf("streams: malformed coordinates for ride %s", rideID)
		}
		event.Start = dispatch.Coordinate{X: startX, Y: startY}
		event.End = dispatch.Coordinate{X: endX, Y: endY}
		priceStr, _ := values["price"].(string)
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return event, fmt.Errorf("streams: malformed price for ride %s: %w", rideID, err)
		}
		event.Price = price
	}

	if excludeStr, _ := values["exclude_driver_id"].(string); excludeStr != "" {
		for _, part := range strings.Split(excludeStr, ",") {
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				continue
			}
			event.ExcludeDriverIDs = append(event.ExcludeDriverIDs, id)
		}
	}
	return event, nil
}

func intField(values map[string]interface{}, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	str, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("field %q not a string", key)
	}
	return strconv.Atoi(str)
}
