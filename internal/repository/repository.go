package repository

import (
	"context"
	"errors"

	"github.com/iago/genbot-dispatch/internal/domain"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrInsufficientEnergy = errors.New("insufficient energy")
)

// Ledger holds per-user energy balances. Debit never takes a balance below zero.
type Ledger interface {
	Debit(ctx context.Context, userID int64, amount domain.Energy) (domain.Energy, error)
	Credit(ctx context.Context, userID int64, amount domain.Energy) (domain.Energy, error)
	Balance(ctx context.Context, userID int64) (domain.Energy, error)
}

// DialogStore keeps the ordered history of a dialog.
type DialogStore interface {
	Append(ctx context.Context, message domain.DialogMessage) error
	Read(ctx context.Context, dialogID int64) ([]domain.DialogMessage, error)
}

type ImageStore interface {
	// Create assigns task.ID and stores the task.
	Create(ctx context.Context, task *domain.ImageTask) error
	Get(ctx context.Context, id int64) (*domain.ImageTask, error)
	UpdateHash(ctx context.Context, id int64, hash string) error
}
