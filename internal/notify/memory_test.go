package notify

import (
	"context"
	"testing"
	"time"

	"griddispatch/internal/dispatch"
)

func TestMemoryBus_PublishAndListen(t *testing.T) {
	b := NewMemoryBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	want := dispatch.Envelope{RecipientUserID: 42, Type: dispatch.NotifyNewOrderProposal}
	if err := b.PublishDriver(ctx, want); err != nil {
		t.Fatalf("PublishDriver failed: %v", err)
	}

	select {
	case got := <-ch:
		if got.RecipientUserID != want.RecipientUserID || got.Type != want.Type {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestMemoryBus_ListenClosesOnCancel(t *testing.T) {
	b := NewMemoryBus(4)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("channel delivered a value instead of closing")
		}
	case <-time.After(time.Second):
		t.Fatal("channel did not close after context cancellation")
	}
}

func TestMemoryBus_PublishPassengerDeliversToSameListener(t *testing.T) {
	b := NewMemoryBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	if err := b.PublishPassenger(ctx, dispatch.Envelope{RecipientUserID: 1, Type: dispatch.NotifyRideAccepted}); err != nil {
		t.Fatalf("PublishPassenger failed: %v", err)
	}

	select {
	case got := <-ch:
		if got.Type != dispatch.NotifyRideAccepted {
			t.Errorf("type = %q, want RIDE_ACCEPTED", got.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}
