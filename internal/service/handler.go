package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/iago/genbot-dispatch/internal/domain"
	"github.com/iago/genbot-dispatch/internal/notify"
	"github.com/iago/genbot-dispatch/internal/repository"
	"github.com/rs/zerolog"
)

var (
	ErrUnexpectedJob = errors.New("unexpected job type")
	ErrEmptyReply    = errors.New("provider returned an empty reply")
)

const InsufficientEnergyMessage = "⚡ Not enough energy for this request. Top up your balance or subscribe. 👉 /premium"

// meter debits a job's cost up front and refunds it when the job fails.
type meter struct {
	ledger   repository.Ledger
	notifier notify.Notifier
	logger   zerolog.Logger
}

// charge debits the job cost. It returns false with a nil error when the user
// cannot pay; the user has been told and the job should end quietly.
func (m meter) charge(ctx context.Context, meta *domain.JobMeta) (bool, error) {
	if meta.EnergyCost <= 0 {
		return true, nil
	}

	balance, err := m.ledger.Debit(ctx, meta.UserID, meta.EnergyCost)
	if errors.Is(err, repository.ErrInsufficientEnergy) {
		m.logger.Info().
			Int64("user_id", meta.UserID).
			Str("cost", meta.EnergyCost.String()).
			Str("balance", balance.String()).
			Msg("insufficient energy")
		if delErr := m.notifier.DeletePlaceholder(ctx, meta.UserID, meta.AnswerMessage); delErr != nil {
			m.logger.Warn().Err(delErr).Int64("user_id", meta.UserID).Msg("placeholder not deleted")
		}
		if notifyErr := m.notifier.Notify(ctx, meta.UserID, InsufficientEnergyMessage); notifyErr != nil {
			m.logger.Warn().Err(notifyErr).Int64("user_id", meta.UserID).Msg("insufficient energy notice not delivered")
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("debit energy: %w", err)
	}
	return true, nil
}

// refund credits the cost back. A failed refund is logged and never masks the
// job error.
func (m meter) refund(ctx context.Context, meta *domain.JobMeta) {
	if meta.EnergyCost <= 0 {
		return
	}
	if _, err := m.ledger.Credit(context.WithoutCancel(ctx), meta.UserID, meta.EnergyCost); err != nil {
		m.logger.Error().
			Err(err).
			Int64("user_id", meta.UserID).
			Str("amount", meta.EnergyCost.String()).
			Msg("energy refund failed")
		return
	}
	m.logger.Info().
		Int64("user_id", meta.UserID).
		Str("amount", meta.EnergyCost.String()).
		Str("job_id", meta.ID).
		Msg("energy refunded")
}

// deliverText removes the placeholder once and sends text in chunks.
func deliverText(ctx context.Context, notifier notify.Notifier, meta *domain.JobMeta, text string, chunkSize int) error {
	chunks := SplitMessage(text, chunkSize)
	if len(chunks) == 0 {
		return ErrEmptyReply
	}
	if err := notifier.DeletePlaceholder(ctx, meta.UserID, meta.AnswerMessage); err != nil {
		return fmt.Errorf("delete placeholder: %w", err)
	}
	for i, chunk := range chunks {
		if err := notifier.Notify(ctx, meta.UserID, chunk); err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}
