package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MaxPriority is the highest priority a queue accepts. Higher values are clamped.
const MaxPriority = 10

var ErrBrokerClosed = errors.New("broker is closed")

// Stats is a point-in-time view of one queue.
type Stats struct {
	Queue    string `json:"queue"`
	Pending  int64  `json:"pending"`
	InFlight int64  `json:"in_flight"`
}

// Broker is the transport behind Client. Implementations must be safe for
// concurrent use.
type Broker interface {
	DeclareQueue(ctx context.Context, name string, maxPriority int) error
	Publish(ctx context.Context, name string, body []byte, priority int) error
	// Consume blocks, handing each reserved delivery to handler on its own
	// goroutine with at most prefetch handlers running. It returns when ctx is
	// done or the transport fails.
	Consume(ctx context.Context, name string, prefetch int, handler func(context.Context, *Delivery)) error
	Stats(ctx context.Context, name string) (Stats, error)
	Peek(ctx context.Context, name string, limit int) ([][]byte, error)
	Queues(ctx context.Context) ([]string, error)
	Reconnect(ctx context.Context) error
	Close() error
}

// Delivery is one reserved message. Exactly one of Ack or Reject should be
// called; a delivery that is neither acked nor rejected becomes visible again
// once its visibility timeout passes (Redis broker only).
type Delivery struct {
	ID    string
	Queue string
	Body  []byte

	once   sync.Once
	settle func(ctx context.Context, ack bool) error
	touch  func(ctx context.Context) error
}

func (d *Delivery) Ack(ctx context.Context) error {
	return d.finish(ctx, true)
}

// Reject drops the delivery without requeueing it.
func (d *Delivery) Reject(ctx context.Context) error {
	return d.finish(ctx, false)
}

func (d *Delivery) finish(ctx context.Context, ack bool) error {
	var err error
	d.once.Do(func() {
		if d.settle != nil {
			err = d.settle(ctx, ack)
		}
	})
	return err
}

// NewDelivery builds a delivery whose settlement calls settle once. It exists
// for Broker implementations outside this package and for tests.
func NewDelivery(id, queue string, body []byte, settle func(ctx context.Context, ack bool) error) *Delivery {
	return &Delivery{ID: id, Queue: queue, Body: body, settle: settle}
}

type reserveFunc func(ctx context.Context) (*Delivery, error)

// consumeLoop is shared by the brokers: take a prefetch slot, reserve, run the
// handler on its own goroutine, keep the reservation alive while it runs.
func consumeLoop(
	ctx context.Context,
	prefetch int,
	idleWait time.Duration,
	heartbeat time.Duration,
	reserve reserveFunc,
	handler func(context.Context, *Delivery),
) error {
	if prefetch <= 0 {
		prefetch = 1
	}
	slots := make(chan struct{}, prefetch)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case slots <- struct{}{}:
		}

		delivery, err := reserve(ctx)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if delivery == nil {
			<-slots
			if err := sleepContext(ctx, idleWait); err != nil {
				return err
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			stop := keepAlive(ctx, heartbeat, delivery)
			defer stop()
			handler(ctx, delivery)
		}()
	}
}

func keepAlive(ctx context.Context, every time.Duration, delivery *Delivery) func() {
	if delivery.touch == nil || every <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = delivery.touch(ctx)
			}
		}
	}()
	return func() { close(done) }
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func clampPriority(priority, maxPriority int) int {
	if maxPriority <= 0 {
		maxPriority = MaxPriority
	}
	if priority < 0 {
		return 0
	}
	if priority > maxPriority {
		return maxPriority
	}
	return priority
}
