package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iago/genbot-dispatch/internal/domain"
)

// MemoryLedger stores balances in memory for local development and tests.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[int64]domain.Energy
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[int64]domain.Energy)}
}

// SetBalance creates or overwrites a user's balance.
func (l *MemoryLedger) SetBalance(userID int64, amount domain.Energy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = amount
}

func (l *MemoryLedger) Debit(_ context.Context, userID int64, amount domain.Energy) (domain.Energy, error) {
	if amount < 0 {
		return 0, fmt.Errorf("debit %s: %w", amount, domain.ErrInvalidEnergy)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[userID]
	if !ok {
		return 0, ErrNotFound
	}
	if balance < amount {
		return balance, ErrInsufficientEnergy
	}
	balance -= amount
	l.balances[userID] = balance
	return balance, nil
}

func (l *MemoryLedger) Credit(_ context.Context, userID int64, amount domain.Energy) (domain.Energy, error) {
	if amount < 0 {
		return 0, fmt.Errorf("credit %s: %w", amount, domain.ErrInvalidEnergy)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[userID]
	if !ok {
		return 0, ErrNotFound
	}
	balance += amount
	l.balances[userID] = balance
	return balance, nil
}

func (l *MemoryLedger) Balance(_ context.Context, userID int64) (domain.Energy, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return balance, nil
}

type MemoryDialogStore struct {
	mu       sync.RWMutex
	messages map[int64][]domain.DialogMessage
	now      func() time.Time
}

func NewMemoryDialogStore() *MemoryDialogStore {
	return &MemoryDialogStore{
		messages: make(map[int64][]domain.DialogMessage),
		now:      time.Now,
	}
}

func (s *MemoryDialogStore) Append(_ context.Context, message domain.DialogMessage) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[message.DialogID] = append(s.messages[message.DialogID], message)
	return nil
}

func (s *MemoryDialogStore) Read(_ context.Context, dialogID int64) ([]domain.DialogMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.messages[dialogID]
	out := make([]domain.DialogMessage, len(history))
	copy(out, history)
	return out, nil
}

type MemoryImageStore struct {
	mu     sync.RWMutex
	nextID int64
	tasks  map[int64]domain.ImageTask
	now    func() time.Time
}

func NewMemoryImageStore() *MemoryImageStore {
	return &MemoryImageStore{
		tasks: make(map[int64]domain.ImageTask),
		now:   time.Now,
	}
}

func (s *MemoryImageStore) Create(_ context.Context, task *domain.ImageTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now().UTC()
	task.ID = s.nextID
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.FirstHash == "" {
		task.FirstHash = task.Hash
	}
	s.tasks[task.ID] = *task
	return nil
}

func (s *MemoryImageStore) Get(_ context.Context, id int64) (*domain.ImageTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &task, nil
}

// UpdateHash records the latest derivative. FirstHash is never changed.
func (s *MemoryImageStore) UpdateHash(_ context.Context, id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	task.Hash = hash
	task.UpdatedAt = s.now().UTC()
	s.tasks[id] = task
	return nil
}
