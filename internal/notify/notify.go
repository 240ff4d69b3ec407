// Package notify implements C8, the notification bus: a thin pub/sub
// fan-out over the `driver_notifications` and `passenger_notifications`
// channels (SPEC_FULL.md §6) that the connection registry (C9 Hub)
// subscribes to and forwards onto live websocket connections.
package notify

import (
	"context"

	"griddispatch/internal/dispatch"
)

const (
	DriverChannel    = "driver_notifications"
	PassengerChannel = "passenger_notifications"
)

// Bus is the C8 contract. Publish is fire-and-forget: delivery is
// best-effort, matching the spec's explicit non-goal of exactly-once
// notification delivery.
type Bus interface {
	PublishDriver(ctx context.Context, env dispatch.Envelope) error
	PublishPassenger(ctx context.Context, env dispatch.Envelope) error

	// Listen subscribes to both channels and returns a channel of
	// envelopes; it closes the returned channel when ctx is cancelled.
	Listen(ctx context.Context) (<-chan dispatch.Envelope, error)
}
