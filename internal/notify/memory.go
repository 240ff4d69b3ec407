package notify

import (
	"context"
	"log"

	"griddispatch/internal/dispatch"
)

// MemoryBus is an in-process fallback: publish is non-blocking and drops
// the envelope when the shared buffer between publisher and the single
// hub-forwarder listener is full, rather than blocking the publisher
// (SPEC_FULL.md §1 makes delivery best-effort, not exactly-once). This
// buffer sits between the publisher and the one forwarder goroutine in
// cmd/server, not per websocket client -- the per-client bound lives in
// dispatch.Hub's writer goroutines.
type MemoryBus struct {
	listeners chan chan dispatch.Envelope
	envelopes chan dispatch.Envelope
}

func NewMemoryBus(buffer int) *MemoryBus {
	b := &MemoryBus{
		listeners: make(chan chan dispatch.Envelope, 16),
		envelopes: make(chan dispatch.Envelope, buffer),
	}
	return b
}

func (b *MemoryBus) PublishDriver(ctx context.Context, env dispatch.Envelope) error {
	return b.publish(ctx, env)
}

func (b *MemoryBus) PublishPassenger(ctx context.Context, env dispatch.Envelope) error {
	return b.publish(ctx, env)
}

func (b *MemoryBus) publish(ctx context.Context, env dispatch.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case b.envelopes <- env:
	default:
		log.Printf(`{"component":"notify","event":"envelope_dropped","recipient":%d}`, env.RecipientUserID)
	}
	return nil
}

// Listen returns a new channel fed from the shared envelope buffer by a
// goroutine that stops (and closes it) when ctx is cancelled. MemoryBus
// supports only a single logical listener (the in-process Hub
// forwarder): concurrent listeners would split the envelopes between
// them. This matches how cmd/server wires it.
func (b *MemoryBus) Listen(ctx context.Context) (<-chan dispatch.Envelope, error) {
	out := make(chan dispatch.Envelope, cap(b.envelopes))
	go func() {
		defer close(out)
		for {
			select {
			case env := <-b.envelopes:
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
