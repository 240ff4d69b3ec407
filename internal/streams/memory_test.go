package streams

import (
	"context"
	"testing"
	"time"

	"griddispatch/internal/dispatch"
)

func TestMemoryStream_PublishAndRead(t *testing.T) {
	m := NewMemoryStream(4)
	ctx := context.Background()

	if err := m.PublishNewRide(ctx, dispatch.RideEvent{RideID: "ride-1"}); err != nil {
		t.Fatalf("PublishNewRide failed: %v", err)
	}

	msgs, err := m.Read(ctx, "worker-1", 10)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Stream != OrderEvents {
		t.Errorf("stream = %q, want %q", msgs[0].Stream, OrderEvents)
	}
	if msgs[0].Event.Kind != dispatch.EventNewRide {
		t.Errorf("kind = %q, want new_ride", msgs[0].Event.Kind)
	}
	if msgs[0].Event.RideID != "ride-1" {
		t.Errorf("rideID = %q, want ride-1", msgs[0].Event.RideID)
	}
	if err := m.Ack(ctx, msgs[0]); err != nil {
		t.Errorf("Ack failed: %v", err)
	}
}

func TestMemoryStream_PublishRetryRideTagsKind(t *testing.T) {
	m := NewMemoryStream(4)
	ctx := context.Background()

	if err := m.PublishRetryRide(ctx, dispatch.RideEvent{RideID: "ride-2"}); err != nil {
		t.Fatalf("PublishRetryRide failed: %v", err)
	}
	msgs, err := m.Read(ctx, "worker-1", 10)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Event.Kind != dispatch.EventRetryRide || msgs[0].Stream != RetryEvents {
		t.Errorf("msgs = %+v, want single retry_ride message on %q", msgs, RetryEvents)
	}
}

func TestMemoryStream_ReadBlocksUntilPublish(t *testing.T) {
	m := NewMemoryStream(4)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := m.Read(ctx, "worker-1", 1); err != context.DeadlineExceeded {
		t.Errorf("err = %v, want DeadlineExceeded on empty stream", err)
	}
}

func TestMemoryStream_ReadCapsAtCount(t *testing.T) {
	m := NewMemoryStream(8)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m.PublishNewRide(ctx, dispatch.RideEvent{RideID: "ride"})
	}

	msgs, err := m.Read(ctx, "worker-1", 3)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("got %d messages, want 3", len(msgs))
	}
}
