package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"griddispatch/internal/dispatch"
)

// RedisBus implements Bus over Redis pub/sub against the
// driver_notifications/passenger_notifications channels.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) PublishDriver(ctx context.Context, env dispatch.Envelope) error {
	return b.publish(ctx, DriverChannel, env)
}

func (b *RedisBus) PublishPassenger(ctx context.Context, env dispatch.Envelope) error {
	return b.publish(ctx, PassengerChannel, env)
}

func (b *RedisBus) publish(ctx context.Context, channel string, env dispatch.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return &dispatch.SubstrateError{Err: err, Transient: true}
	}
	return nil
}

func (b *RedisBus) Listen(ctx context.Context) (<-chan dispatch.Envelope, error) {
	sub := b.client.Subscribe(ctx, DriverChannel, PassengerChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, &dispatch.SubstrateError{Err: err, Transient: true}
	}

	out := make(chan dispatch.Envelope, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var env dispatch.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
