package streams

import (
	"context"
	"fmt"
	"sync"

	"griddispatch/internal/dispatch"
)

// MemoryStream is an in-process fallback used outside prod and in tests:
// a single buffered channel shared by both streams in place of the two
// Redis streams (publishers block while it is full), with no
// consumer-group redelivery semantics since nothing in this mode can
// crash mid-ack.
type MemoryStream struct {
	mu      sync.Mutex
	seq     int
	pending chan Message
}

func NewMemoryStream(buffer int) *MemoryStream {
	return &MemoryStream{pending: make(chan Message, buffer)}
}

func (m *MemoryStream) nextID(stream string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("%s-%d", stream, m.seq)
}

func (m *MemoryStream) PublishNewRide(ctx context.Context, event dispatch.RideEvent) error {
	event.Kind = dispatch.EventNewRide
	return m.publish(ctx, OrderEvents, event)
}

func (m *MemoryStream) PublishRetryRide(ctx context.Context, event dispatch.RideEvent) error {
	event.Kind = dispatch.EventRetryRide
	return m.publish(ctx, RetryEvents, event)
}

func (m *MemoryStream) publish(ctx context.Context, stream string, event dispatch.RideEvent) error {
	msg := Message{Stream: stream, ID: m.nextID(stream), Event: event}
	select {
	case m.pending <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryStream) Read(ctx context.Context, _ string, count int64) ([]Message, error) {
	out := make([]Message, 0, count)
	select {
	case msg := <-m.pending:
		out = append(out, msg)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for int64(len(out)) < count {
		select {
		case msg := <-m.pending:
			out = append(out, msg)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Ack is a no-op: MemoryStream has already handed the message off its
// channel, there is nothing left pending to acknowledge.
func (m *MemoryStream) Ack(ctx context.Context, msg Message) error {
	return nil
}
