package service

import (
	"context"
	"fmt"

	"github.com/iago/genbot-dispatch/internal/admission"
	"github.com/iago/genbot-dispatch/internal/domain"
	"github.com/rs/zerolog"
)

// SubscriberPriority is used for subscriber jobs that carry no priority of their own.
const SubscriberPriority = 5

// Publisher enqueues typed jobs. *queue.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, job domain.Job, priority int) (domain.Envelope, error)
}

// Admitter is the admission gate. *admission.Gate implements it.
type Admitter interface {
	TryAdmit(ctx context.Context, userID int64, priority bool, kind string) (admission.Decision, error)
	Release(ctx context.Context, key string) error
}

type SubmitResult struct {
	Admitted bool
	Envelope domain.Envelope
	// Message is the wait notice to show when the job was not admitted.
	Message string
}

// Scheduler is the publish side used by the bot front end.
type Scheduler struct {
	gate      Admitter
	publisher Publisher
	logger    zerolog.Logger
}

func NewScheduler(gate Admitter, publisher Publisher, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		gate:      gate,
		publisher: publisher,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// Submit admits a generation job for the user and publishes it. A denied job
// is never published. When publishing fails the lease is given back and the
// error wraps queue.ErrPublishFailed or queue.ErrInvalidEnvelope.
// Referral jobs are not generations and skip the gate.
func (s *Scheduler) Submit(ctx context.Context, job domain.Job, subscriber bool) (SubmitResult, error) {
	if job == nil {
		return SubmitResult{}, fmt.Errorf("submit: nil job")
	}
	meta := job.Meta()

	priority := meta.Priority
	if priority <= 0 && subscriber {
		priority = SubscriberPriority
	}

	if job.Kind() == domain.JobKindReferral {
		envelope, err := s.publisher.Publish(ctx, job, priority)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("enqueue job: %w", err)
		}
		return SubmitResult{Admitted: true, Envelope: envelope}, nil
	}

	decision, err := s.gate.TryAdmit(ctx, meta.UserID, subscriber, "")
	if err != nil {
		return SubmitResult{}, fmt.Errorf("admit user %d: %w", meta.UserID, err)
	}
	if !decision.Admitted {
		s.logger.Info().
			Int64("user_id", meta.UserID).
			Int("active_generate", decision.Lease.ActiveGenerate).
			Int("max_generate", decision.Lease.MaxGenerate).
			Msg("generation denied")
		return SubmitResult{Message: decision.Message}, nil
	}

	meta.LeaseKey = decision.Key
	envelope, err := s.publisher.Publish(ctx, job, priority)
	if err != nil {
		if releaseErr := s.gate.Release(context.WithoutCancel(ctx), decision.Key); releaseErr != nil {
			s.logger.Error().Err(releaseErr).Str("lease_key", decision.Key).Msg("lease release after failed publish")
		}
		return SubmitResult{}, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Debug().
		Str("job_id", envelope.ID).
		Str("queue", envelope.Type).
		Int64("user_id", meta.UserID).
		Int("priority", envelope.Priority).
		Msg("job scheduled")
	return SubmitResult{Admitted: true, Envelope: envelope}, nil
}
