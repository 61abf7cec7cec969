package service

import (
	"context"
	"fmt"

	"github.com/iago/genbot-dispatch/internal/domain"
	"github.com/iago/genbot-dispatch/internal/notify"
	"github.com/iago/genbot-dispatch/internal/repository"
	"github.com/rs/zerolog"
)

// ReferralHandler credits the referrer once an invited user joined.
type ReferralHandler struct {
	ledger   repository.Ledger
	notifier notify.Notifier
	logger   zerolog.Logger
}

func NewReferralHandler(ledger repository.Ledger, notifier notify.Notifier, logger zerolog.Logger) *ReferralHandler {
	return &ReferralHandler{
		ledger:   ledger,
		notifier: notifier,
		logger:   logger.With().Str("component", "referral_handler").Logger(),
	}
}

func (h *ReferralHandler) Handle(ctx context.Context, job domain.Job) error {
	referral, ok := job.(*domain.ReferralJob)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedJob, job)
	}
	if referral.Bonus <= 0 {
		return fmt.Errorf("referral job %s: bonus must be positive", referral.ID)
	}

	balance, err := h.ledger.Credit(ctx, referral.UserID, referral.Bonus)
	if err != nil {
		return fmt.Errorf("referral job %s: credit bonus: %w", referral.ID, err)
	}
	h.logger.Info().
		Int64("user_id", referral.UserID).
		Int64("invited_user_id", referral.InvitedUserID).
		Str("bonus", referral.Bonus.String()).
		Msg("referral bonus credited")

	text := fmt.Sprintf("🎁 A friend joined with your link. +%s ⚡ energy, balance %s.", referral.Bonus, balance)
	if err := h.notifier.Notify(ctx, referral.UserID, text); err != nil {
		// The credit already happened; the notice is best effort.
		h.logger.Warn().Err(err).Int64("user_id", referral.UserID).Msg("referral notice not delivered")
	}
	return nil
}
