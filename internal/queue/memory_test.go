package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryBrokerDeliversByPriorityThenFIFO(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	publish := []struct {
		body     string
		priority int
	}{
		{"low-1", 0},
		{"high-1", 5},
		{"low-2", 0},
		{"high-2", 5},
		{"top", 10},
	}
	for _, item := range publish {
		if err := broker.Publish(ctx, "chatgpt", []byte(item.body), item.priority); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	want := []string{"top", "high-1", "high-2", "low-1", "low-2"}
	for _, expected := range want {
		delivery, _, err := broker.tryReserve("chatgpt")
		if err != nil || delivery == nil {
			t.Fatalf("expected delivery, got %v err=%v", delivery, err)
		}
		if string(delivery.Body) != expected {
			t.Fatalf("expected %s, got %s", expected, delivery.Body)
		}
		_ = delivery.Ack(ctx)
	}
}

func TestMemoryBrokerConsumeRespectsPrefetch(t *testing.T) {
	broker := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 6; i++ {
		_ = broker.Publish(ctx, "midjourney", []byte("job"), 0)
	}

	var (
		mu      sync.Mutex
		running int
		peak    int
		handled int
	)
	done := make(chan struct{})
	go func() {
		_ = broker.Consume(ctx, "midjourney", 2, func(ctx context.Context, delivery *Delivery) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			running--
			handled++
			finished := handled == 6
			mu.Unlock()
			_ = delivery.Ack(ctx)
			if finished {
				close(done)
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for deliveries")
	}
	cancel()

	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent handlers, saw %d", peak)
	}
	stats, _ := broker.Stats(context.Background(), "midjourney")
	if stats.Pending != 0 || stats.InFlight != 0 {
		t.Fatalf("expected drained queue, got %+v", stats)
	}
}

func TestMemoryBrokerRejectDropsMessage(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()
	_ = broker.Publish(ctx, "claude", []byte("x"), 1)

	delivery, _, _ := broker.tryReserve("claude")
	stats, _ := broker.Stats(ctx, "claude")
	if stats.InFlight != 1 {
		t.Fatalf("expected one in flight, got %+v", stats)
	}

	_ = delivery.Reject(ctx)
	stats, _ = broker.Stats(ctx, "claude")
	if stats.InFlight != 0 || stats.Pending != 0 {
		t.Fatalf("expected rejected message to be dropped, got %+v", stats)
	}
}

func TestMemoryBrokerRefusesPublishAfterClose(t *testing.T) {
	broker := NewMemoryBroker()
	_ = broker.Close()
	if err := broker.Publish(context.Background(), "claude", []byte("x"), 0); err != ErrBrokerClosed {
		t.Fatalf("expected ErrBrokerClosed, got %v", err)
	}
}
