package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrMiss = errors.New("cache miss")

// Store is a key-value store with per-key expiry. It backs both ephemeral caching
// and the admission leases shared between the bot and worker processes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type entry struct {
	value     []byte
	createdAt time.Time
	expiresAt time.Time
}

type MemoryConfig struct {
	MaxEntries int
	Now        func() time.Time
}

// MemoryStore is the single-process Store used when Redis is not configured.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]entry
	maxEntries int
	now        func() time.Time
}

func NewMemoryStore(config MemoryConfig) *MemoryStore {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		entries:    make(map[string]entry),
		maxEntries: config.MaxEntries,
		now:        config.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	item, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrMiss
	}
	if !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, ErrMiss
	}
	return append([]byte(nil), item.value...), nil
}

// Set stores value under key. A non-positive ttl keeps the key until deleted.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	item := entry{
		value:     append([]byte(nil), value...),
		createdAt: now,
	}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.evictOldest()
	}
	s.entries[key] = item
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) evictOldest() {
	if len(s.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value entry
	}
	pairs := make([]pair, 0, len(s.entries))
	for key, value := range s.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.createdAt.Before(pairs[j].value.createdAt)
	})
	delete(s.entries, pairs[0].key)
}
