// Package streams implements C5, the at-least-once ride event stream
// (SPEC_FULL.md §4.5): `order_events` carries new_ride proposals and
// `retry_search_events` carries retry_ride proposals, both consumed by
// the matching worker(s) through a shared `matching_group` consumer
// group, so each entry goes to one worker. Entries left unacknowledged
// by a crashed worker are not reclaimed (see RedisStream).
package streams

import (
	"context"

	"griddispatch/internal/dispatch"
)

const (
	OrderEvents  = "order_events"
	RetryEvents  = "retry_search_events"
	MatchingGroup = "matching_group"
)

// Message is one delivery off a stream: either a freshly decoded
// RideEvent, or a DecodeErr if the payload was malformed (a poison
// message the worker should ack-and-drop rather than loop on forever).
type Message struct {
	Stream   string
	ID       string
	Event    dispatch.RideEvent
	DecodeErr error
}

// Producer appends ride events. The matching worker and the HTTP ride
// creation handler both publish through this, never directly via a
// client, so tests can substitute MemoryStream.
type Producer interface {
	PublishNewRide(ctx context.Context, event dispatch.RideEvent) error
	PublishRetryRide(ctx context.Context, event dispatch.RideEvent) error
}

// Consumer reads and acknowledges deliveries for one named consumer
// within MatchingGroup.
type Consumer interface {
	// Read blocks (up to the implementation's own poll interval) for the
	// next batch of undelivered messages across both streams.
	Read(ctx context.Context, consumerName string, count int64) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
}
