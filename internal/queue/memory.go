package queue

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBroker is the in-process fallback used when Redis is not configured.
// Messages do not survive a restart.
type MemoryBroker struct {
	mu       sync.Mutex
	queues   map[string]*memoryQueue
	seq      uint64
	closed   bool
	idleWait time.Duration
}

type memoryQueue struct {
	maxPriority int
	pending     messageHeap
	inflight    map[string][]byte
	ready       chan struct{}
}

type memoryMessage struct {
	id       string
	body     []byte
	priority int
	seq      uint64
}

// messageHeap pops the highest priority first, FIFO within a priority.
type messageHeap []memoryMessage

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) { *h = append(*h, x.(memoryMessage)) }

func (h *messageHeap) Pop() any {
	old := *h
	last := old[len(old)-1]
	*h = old[:len(old)-1]
	return last
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:   make(map[string]*memoryQueue),
		idleWait: 100 * time.Millisecond,
	}
}

// queue must be called with b.mu held.
func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{
			maxPriority: MaxPriority,
			inflight:    make(map[string][]byte),
			ready:       make(chan struct{}, 1),
		}
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) DeclareQueue(_ context.Context, name string, maxPriority int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	q := b.queue(name)
	if maxPriority > 0 {
		q.maxPriority = maxPriority
	}
	return nil
}

func (b *MemoryBroker) Publish(ctx context.Context, name string, body []byte, priority int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}

	q := b.queue(name)
	b.seq++
	copied := append([]byte(nil), body...)
	heap.Push(&q.pending, memoryMessage{
		id:       uuid.NewString(),
		body:     copied,
		priority: clampPriority(priority, q.maxPriority),
		seq:      b.seq,
	})
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context, name string, prefetch int, handler func(context.Context, *Delivery)) error {
	return consumeLoop(ctx, prefetch, 0, 0, func(ctx context.Context) (*Delivery, error) {
		return b.reserve(ctx, name)
	}, handler)
}

func (b *MemoryBroker) reserve(ctx context.Context, name string) (*Delivery, error) {
	delivery, ready, err := b.tryReserve(name)
	if err != nil || delivery != nil {
		return delivery, err
	}

	timer := time.NewTimer(b.idleWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ready:
	case <-timer.C:
		return nil, nil
	}

	delivery, _, err = b.tryReserve(name)
	return delivery, err
}

func (b *MemoryBroker) tryReserve(name string) (*Delivery, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrBrokerClosed
	}

	q := b.queue(name)
	if q.pending.Len() == 0 {
		return nil, q.ready, nil
	}
	message := heap.Pop(&q.pending).(memoryMessage)
	q.inflight[message.id] = message.body

	// Leave a signal for other consumers if more work remains.
	if q.pending.Len() > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}

	delivery := NewDelivery(message.id, name, message.body, func(context.Context, bool) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(q.inflight, message.id)
		return nil
	})
	return delivery, q.ready, nil
}

func (b *MemoryBroker) Stats(_ context.Context, name string) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return Stats{Queue: name}, nil
	}
	return Stats{Queue: name, Pending: int64(q.pending.Len()), InFlight: int64(len(q.inflight))}, nil
}

func (b *MemoryBroker) Peek(_ context.Context, name string, limit int) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok || limit <= 0 {
		return [][]byte{}, nil
	}

	ordered := append(messageHeap(nil), q.pending...)
	sort.Slice(ordered, ordered.Less)
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	bodies := make([][]byte, 0, len(ordered))
	for _, message := range ordered {
		bodies = append(bodies, append([]byte(nil), message.body...))
	}
	return bodies, nil
}

func (b *MemoryBroker) Queues(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *MemoryBroker) Reconnect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
