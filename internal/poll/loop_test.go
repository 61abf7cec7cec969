package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingConfig(slept *[]time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return cfg
}

func TestRunStopsAfterMaxRetriesWhenAlwaysPending(t *testing.T) {
	var slept []time.Duration
	calls := 0

	_, err := Run(context.Background(), recordingConfig(&slept), func(context.Context, int) Result[string] {
		calls++
		return Pending[string]()
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if calls != 20 {
		t.Fatalf("expected 20 attempts, got %d", calls)
	}
	if len(slept) != 19 {
		t.Fatalf("expected 19 waits between attempts, got %d", len(slept))
	}
}

func TestDelaysAreMonotonicAndCapped(t *testing.T) {
	cfg := DefaultConfig()
	delays := cfg.Delays()
	if len(delays) == 0 || delays[0] != 2*time.Second {
		t.Fatalf("expected first delay of 2s, got %v", delays)
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Fatalf("delay %d decreased: %v < %v", i, delays[i], delays[i-1])
		}
		if delays[i] > cfg.MaxDelay {
			t.Fatalf("delay %d exceeds cap: %v", i, delays[i])
		}
	}
	if delays[1] != 3*time.Second {
		t.Fatalf("expected second delay of 3s, got %v", delays[1])
	}
	if delays[len(delays)-1] != 30*time.Second {
		t.Fatalf("expected delays to reach the 30s cap, got %v", delays[len(delays)-1])
	}
}

func TestRunMatchesDelaysOfConfig(t *testing.T) {
	var slept []time.Duration
	cfg := recordingConfig(&slept)
	_, _ = Run(context.Background(), cfg, func(context.Context, int) Result[int] {
		return Retryable[int](errors.New("503"))
	})

	want := cfg.Delays()
	if len(slept) != len(want) {
		t.Fatalf("expected %d waits, got %d", len(want), len(slept))
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("wait %d: expected %v, got %v", i, want[i], slept[i])
		}
	}
}

func TestRunReturnsValueOnDone(t *testing.T) {
	var slept []time.Duration
	value, err := Run(context.Background(), recordingConfig(&slept), func(_ context.Context, n int) Result[string] {
		if n < 3 {
			return Pending[string]()
		}
		return Done("https://cdn.example/image.png")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "https://cdn.example/image.png" {
		t.Fatalf("unexpected value %q", value)
	}
	if len(slept) != 2 {
		t.Fatalf("expected 2 waits, got %d", len(slept))
	}
}

func TestRunStopsImmediatelyOnTerminal(t *testing.T) {
	var slept []time.Duration
	calls := 0
	reason := errors.New("banned prompt")

	_, err := Run(context.Background(), recordingConfig(&slept), func(context.Context, int) Result[string] {
		calls++
		return Terminal[string](reason)
	})
	if !errors.Is(err, ErrTerminal) || !errors.Is(err, reason) {
		t.Fatalf("expected terminal error wrapping reason, got %v", err)
	}
	if calls != 1 || len(slept) != 0 {
		t.Fatalf("expected a single attempt and no waits, got calls=%d waits=%d", calls, len(slept))
	}
}

func TestRunExhaustionKeepsLastRetryableReason(t *testing.T) {
	cfg := Fixed(time.Millisecond, 3)
	reason := errors.New("connection reset")
	_, err := Run(context.Background(), cfg, func(context.Context, int) Result[string] {
		return Retryable[string](reason)
	})
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, reason) {
		t.Fatalf("expected exhaustion wrapping last reason, got %v", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultConfig()
	cfg.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := Run(ctx, cfg, func(context.Context, int) Result[string] {
		return Pending[string]()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
