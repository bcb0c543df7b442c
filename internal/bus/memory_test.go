package bus

import (
	"context"
	"testing"
	"time"
)

func recvOne(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	ch, cleanup, err := b.Subscribe(ctx, "fullsend:test")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cleanup()

	if err := b.Publish(ctx, "fullsend:test", map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := recvOne(t, ch)
	if msg.Channel != "fullsend:test" {
		t.Errorf("channel = %q", msg.Channel)
	}
	if string(msg.Data) != `{"type":"ping"}` {
		t.Errorf("data = %s", msg.Data)
	}
}

func TestMemoryBusNoSubscriberIsLost(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	// Publish with nobody listening: success, message gone.
	if err := b.Publish(ctx, "fullsend:test", "early"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ch, cleanup, err := b.Subscribe(ctx, "fullsend:test")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cleanup()

	// No replay of the pre-subscription message.
	select {
	case msg := <-ch:
		t.Fatalf("unexpected replayed message: %s", msg.Data)
	case <-time.After(50 * time.Millisecond):
	}

	if err := b.Publish(ctx, "fullsend:test", "late"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if msg := recvOne(t, ch); string(msg.Data) != "late" {
		t.Errorf("data = %s, want late", msg.Data)
	}
}

func TestMemoryBusMultipleChannels(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	ch, cleanup, err := b.Subscribe(ctx, "a", "b")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cleanup()

	if err := b.Publish(ctx, "b", "on-b"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := recvOne(t, ch)
	if msg.Channel != "b" || string(msg.Data) != "on-b" {
		t.Errorf("got %q on %q", msg.Data, msg.Channel)
	}
}

func TestMemoryBusCleanupStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	ch, cleanup, err := b.Subscribe(ctx, "a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cleanup()

	// Channel is closed after cleanup.
	if _, ok := <-ch; ok {
		t.Error("expected closed subscriber channel")
	}

	// Publishing afterwards must not panic.
	if err := b.Publish(ctx, "a", "after"); err != nil {
		t.Fatalf("publish after cleanup: %v", err)
	}
}
