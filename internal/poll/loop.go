package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrExhausted = errors.New("poll retries exhausted")
	ErrTerminal  = errors.New("poll failed terminally")
)

type Status int

const (
	StatusPending Status = iota
	StatusDone
	StatusRetryable
	StatusTerminal
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDone:
		return "done"
	case StatusRetryable:
		return "retryable"
	case StatusTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is what one poll attempt reports back to the loop.
type Result[T any] struct {
	Status Status
	Value  T
	Reason error
}

func Pending[T any]() Result[T] {
	return Result[T]{Status: StatusPending}
}

func Done[T any](value T) Result[T] {
	return Result[T]{Status: StatusDone, Value: value}
}

func Retryable[T any](reason error) Result[T] {
	return Result[T]{Status: StatusRetryable, Reason: reason}
}

func Terminal[T any](reason error) Result[T] {
	return Result[T]{Status: StatusTerminal, Reason: reason}
}

type Config struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	MaxRetries   int

	// Sleep replaces the timer wait, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultConfig() Config {
	return Config{
		InitialDelay: 2 * time.Second,
		Factor:       1.5,
		MaxDelay:     30 * time.Second,
		MaxRetries:   20,
	}
}

// Fixed polls at a constant interval.
func Fixed(interval time.Duration, maxRetries int) Config {
	return Config{
		InitialDelay: interval,
		Factor:       1,
		MaxDelay:     interval,
		MaxRetries:   maxRetries,
	}
}

func (c Config) normalized() Config {
	defaults := DefaultConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaults.InitialDelay
	}
	if c.Factor < 1 {
		c.Factor = defaults.Factor
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
	return c
}

// Delays lists the waits the loop would make if every attempt stayed pending.
func (c Config) Delays() []time.Duration {
	c = c.normalized()
	delays := make([]time.Duration, 0, c.MaxRetries)
	delay := c.InitialDelay
	for i := 1; i < c.MaxRetries; i++ {
		delays = append(delays, delay)
		delay = c.next(delay)
	}
	return delays
}

func (c Config) next(delay time.Duration) time.Duration {
	grown := time.Duration(float64(delay) * c.Factor)
	if grown > c.MaxDelay {
		return c.MaxDelay
	}
	return grown
}

// Run calls attempt until it reports Done or Terminal, or the retry budget is
// spent. Pending and Retryable both consume budget. attempt receives the
// 1-based attempt number.
func Run[T any](ctx context.Context, cfg Config, attempt func(ctx context.Context, n int) Result[T]) (T, error) {
	cfg = cfg.normalized()
	var zero T
	var lastReason error
	delay := cfg.InitialDelay

	for n := 1; n <= cfg.MaxRetries; n++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result := attempt(ctx, n)
		switch result.Status {
		case StatusDone:
			return result.Value, nil
		case StatusTerminal:
			if result.Reason == nil {
				return zero, ErrTerminal
			}
			return zero, fmt.Errorf("%w: %w", ErrTerminal, result.Reason)
		case StatusRetryable:
			lastReason = result.Reason
		case StatusPending:
		default:
			return zero, fmt.Errorf("%w: unknown status %s", ErrTerminal, result.Status)
		}

		if n == cfg.MaxRetries {
			break
		}
		if err := cfg.Sleep(ctx, delay); err != nil {
			return zero, err
		}
		delay = cfg.next(delay)
	}

	if lastReason != nil {
		return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, cfg.MaxRetries, lastReason)
	}
	return zero, fmt.Errorf("%w after %d attempts", ErrExhausted, cfg.MaxRetries)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
