package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iago/genbot-dispatch/internal/cache"
)

const (
	DefaultLeaseTTL = time.Hour

	regularMaxGenerate  = 1
	priorityMaxGenerate = 2
)

const (
	RegularWaitMessage  = "⚠️ Wait for your current generation to finish, or subscribe to run several generations at once. 👉 /premium"
	PriorityWaitMessage = "⏳ You already have the maximum number of parallel generations running. Wait until one of them finishes."
)

// Lease is the per-user generation budget stored in the cache.
type Lease struct {
	MaxGenerate    int `json:"max_generate"`
	ActiveGenerate int `json:"active_generate"`
}

type Decision struct {
	Admitted bool
	Key      string
	Lease    Lease
	// Message is the user-facing wait notice when the request was denied.
	Message string
}

type Config struct {
	LeaseTTL time.Duration
}

// Gate is a per-user, tier-aware semaphore kept in a shared cache. Mutations are
// read-modify-write without compare-and-swap; within one process they are
// serialised per key.
type Gate struct {
	store cache.Store
	ttl   time.Duration

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewGate(store cache.Store, config Config) *Gate {
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = DefaultLeaseTTL
	}
	return &Gate{
		store: store,
		ttl:   config.LeaseTTL,
		locks: make(map[string]*keyLock),
	}
}

// LeaseKey builds the cache key for a user's lease. kind is optional and separates
// budgets for different generation families.
func LeaseKey(userID int64, kind string) string {
	key := fmt.Sprintf("%d:generate", userID)
	if kind = strings.TrimSpace(kind); kind != "" {
		key += ":" + kind
	}
	return key
}

// TryAdmit reserves one generation slot for the user or reports why it cannot.
// A denial is a normal outcome, not an error.
func (g *Gate) TryAdmit(ctx context.Context, userID int64, priority bool, kind string) (Decision, error) {
	key := LeaseKey(userID, kind)
	unlock := g.lock(key)
	defer unlock()

	target := regularMaxGenerate
	if priority {
		target = priorityMaxGenerate
	}

	lease, _, found, err := g.load(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if !found {
		lease = Lease{MaxGenerate: target, ActiveGenerate: 1}
		if err := g.save(ctx, key, lease); err != nil {
			return Decision{}, err
		}
		return Decision{Admitted: true, Key: key, Lease: lease}, nil
	}

	adjusted := stepTowards(lease, target)
	if adjusted.ActiveGenerate >= adjusted.MaxGenerate {
		if adjusted != lease {
			if err := g.save(ctx, key, adjusted); err != nil {
				return Decision{}, err
			}
		}
		return Decision{
			Admitted: false,
			Key:      key,
			Lease:    adjusted,
			Message:  waitMessage(priority),
		}, nil
	}

	adjusted.ActiveGenerate++
	if err := g.save(ctx, key, adjusted); err != nil {
		return Decision{}, err
	}
	return Decision{Admitted: true, Key: key, Lease: adjusted}, nil
}

// Release returns one slot. A structured lease is decremented (floored at zero) and
// re-stored with a fresh TTL; a plain flag is deleted; a missing key is a no-op.
func (g *Gate) Release(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	unlock := g.lock(key)
	defer unlock()

	lease, legacy, found, err := g.load(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if legacy {
		if err := g.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete lease flag %s: %w", key, err)
		}
		return nil
	}

	lease.ActiveGenerate--
	if lease.ActiveGenerate < 0 {
		lease.ActiveGenerate = 0
	}
	return g.save(ctx, key, lease)
}

// Inspect returns the current lease without modifying it.
func (g *Gate) Inspect(ctx context.Context, key string) (Lease, bool, error) {
	lease, _, found, err := g.load(ctx, key)
	return lease, found, err
}

func (g *Gate) load(ctx context.Context, key string) (Lease, bool, bool, error) {
	raw, err := g.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return Lease{}, false, false, nil
		}
		return Lease{}, false, false, fmt.Errorf("load lease %s: %w", key, err)
	}

	lease, structured := parseLease(raw)
	if !structured {
		// A bare flag occupies the single regular slot.
		return Lease{MaxGenerate: regularMaxGenerate, ActiveGenerate: regularMaxGenerate}, true, true, nil
	}
	return lease, false, true, nil
}

func (g *Gate) save(ctx context.Context, key string, lease Lease) error {
	encoded, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}
	if err := g.store.Set(ctx, key, encoded, g.ttl); err != nil {
		return fmt.Errorf("store lease %s: %w", key, err)
	}
	return nil
}

func (g *Gate) lock(key string) func() {
	g.locksMu.Lock()
	item, ok := g.locks[key]
	if !ok {
		item = &keyLock{}
		g.locks[key] = item
	}
	item.refs++
	g.locksMu.Unlock()

	item.mu.Lock()
	return func() {
		item.mu.Unlock()
		g.locksMu.Lock()
		item.refs--
		if item.refs == 0 {
			delete(g.locks, key)
		}
		g.locksMu.Unlock()
	}
}

func parseLease(raw []byte) (Lease, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return Lease{}, false
	}
	var lease Lease
	if err := json.Unmarshal([]byte(trimmed), &lease); err != nil {
		return Lease{}, false
	}
	if lease.MaxGenerate <= 0 {
		lease.MaxGenerate = regularMaxGenerate
	}
	if lease.ActiveGenerate < 0 {
		lease.ActiveGenerate = 0
	}
	return lease, true
}

// stepTowards moves MaxGenerate one step toward the tier target. It never drops
// below the in-flight count so ActiveGenerate <= MaxGenerate keeps holding; the
// remaining step is taken on a later check once generations finish.
func stepTowards(lease Lease, target int) Lease {
	switch {
	case lease.MaxGenerate < target:
		lease.MaxGenerate++
	case lease.MaxGenerate > target && lease.MaxGenerate-1 >= lease.ActiveGenerate:
		lease.MaxGenerate--
	}
	return lease
}

func waitMessage(priority bool) string {
	if priority {
		return PriorityWaitMessage
	}
	return RegularWaitMessage
}
