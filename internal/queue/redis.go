package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	//go:embed scripts/reserve.lua
	reserveSource string
	//go:embed scripts/settle.lua
	settleSource string
	//go:embed scripts/touch.lua
	touchSource string

	reserveScript = redis.NewScript(reserveSource)
	settleScript  = redis.NewScript(settleSource)
	touchScript   = redis.NewScript(touchSource)
)

// priorityBand keeps priorities apart in the pending score; the FIFO sequence
// must stay below it.
const priorityBand = 1e12

type RedisConfig struct {
	Addr              string
	Password          string
	DB                int
	Prefix            string
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
}

// RedisBroker keeps each queue as a sorted set of ids scored by priority then
// publish order, a hash of bodies, and a sorted set of in-flight ids scored by
// visibility deadline.
type RedisBroker struct {
	cfg RedisConfig

	mu     sync.RWMutex
	client *redis.Client
	closed bool

	now func() time.Time
}

func NewRedisBroker(ctx context.Context, cfg RedisConfig) (*RedisBroker, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "genbot:q:"
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 15 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}

	client, err := dialRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{cfg: cfg, client: client, now: time.Now}, nil
}

func dialRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (b *RedisBroker) conn() (*redis.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	return b.client, nil
}

func (b *RedisBroker) key(name, part string) string {
	return b.cfg.Prefix + name + ":" + part
}

func (b *RedisBroker) DeclareQueue(ctx context.Context, name string, maxPriority int) error {
	client, err := b.conn()
	if err != nil {
		return err
	}
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, b.cfg.Prefix+"queues", name)
		pipe.HSet(ctx, b.key(name, "meta"), "max_priority", maxPriority, "durable", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

func (b *RedisBroker) Publish(ctx context.Context, name string, body []byte, priority int) error {
	client, err := b.conn()
	if err != nil {
		return err
	}

	seq, err := client.Incr(ctx, b.cfg.Prefix+"seq").Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", name, err)
	}
	id := uuid.NewString()
	rank := MaxPriority - clampPriority(priority, MaxPriority)
	score := float64(rank)*priorityBand + float64(seq)

	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.key(name, "bodies"), id, body)
		pipe.ZAdd(ctx, b.key(name, "pending"), redis.Z{Score: score, Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", name, err)
	}
	return nil
}

func (b *RedisBroker) Consume(ctx context.Context, name string, prefetch int, handler func(context.Context, *Delivery)) error {
	return consumeLoop(ctx, prefetch, b.cfg.PollInterval, b.cfg.VisibilityTimeout/3, func(ctx context.Context) (*Delivery, error) {
		return b.reserve(ctx, name)
	}, handler)
}

func (b *RedisBroker) reserve(ctx context.Context, name string) (*Delivery, error) {
	client, err := b.conn()
	if err != nil {
		return nil, err
	}

	now := b.now()
	deadline := now.Add(b.cfg.VisibilityTimeout)
	result, err := reserveScript.Run(ctx, client,
		[]string{b.key(name, "pending"), b.key(name, "inflight"), b.key(name, "bodies")},
		now.UnixMilli(), deadline.UnixMilli(),
	).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reserve from %s: %w", name, err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("reserve from %s: unexpected reply of %d items", name, len(result))
	}

	id := fmt.Sprint(result[0])
	body := []byte(fmt.Sprint(result[1]))
	inflight := b.key(name, "inflight")
	bodies := b.key(name, "bodies")

	delivery := NewDelivery(id, name, body, func(ctx context.Context, _ bool) error {
		client, err := b.conn()
		if err != nil {
			return err
		}
		// Reject never requeues, so both outcomes drop the message.
		if err := settleScript.Run(ctx, client, []string{inflight, bodies}, id).Err(); err != nil {
			return fmt.Errorf("settle %s/%s: %w", name, id, err)
		}
		return nil
	})
	delivery.touch = func(ctx context.Context) error {
		client, err := b.conn()
		if err != nil {
			return err
		}
		next := b.now().Add(b.cfg.VisibilityTimeout).UnixMilli()
		return touchScript.Run(ctx, client, []string{inflight}, id, next).Err()
	}
	return delivery, nil
}

func (b *RedisBroker) Stats(ctx context.Context, name string) (Stats, error) {
	client, err := b.conn()
	if err != nil {
		return Stats{}, err
	}

	var pending, inflight *redis.IntCmd
	_, err = client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.ZCard(ctx, b.key(name, "pending"))
		inflight = pipe.ZCard(ctx, b.key(name, "inflight"))
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("stats for %s: %w", name, err)
	}
	return Stats{Queue: name, Pending: pending.Val(), InFlight: inflight.Val()}, nil
}

// Peek returns up to limit pending bodies in delivery order without reserving them.
func (b *RedisBroker) Peek(ctx context.Context, name string, limit int) ([][]byte, error) {
	client, err := b.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return [][]byte{}, nil
	}

	ids, err := client.ZRange(ctx, b.key(name, "pending"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("peek %s: %w", name, err)
	}
	if len(ids) == 0 {
		return [][]byte{}, nil
	}

	values, err := client.HMGet(ctx, b.key(name, "bodies"), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("peek %s: %w", name, err)
	}
	bodies := make([][]byte, 0, len(values))
	for _, value := range values {
		switch casted := value.(type) {
		case string:
			bodies = append(bodies, []byte(casted))
		case []byte:
			bodies = append(bodies, casted)
		}
	}
	return bodies, nil
}

// Queues lists every declared queue name.
func (b *RedisBroker) Queues(ctx context.Context) ([]string, error) {
	client, err := b.conn()
	if err != nil {
		return nil, err
	}
	names, err := client.SMembers(ctx, b.cfg.Prefix+"queues").Result()
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	return names, nil
}

// Reconnect swaps in a fresh connection. The old client is closed only after
// the new one answers a ping.
func (b *RedisBroker) Reconnect(ctx context.Context) error {
	client, err := dialRedis(ctx, b.cfg)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = client.Close()
		return ErrBrokerClosed
	}
	old := b.client
	b.client = client
	b.mu.Unlock()

	_ = old.Close()
	return nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}
