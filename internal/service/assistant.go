package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iago/genbot-dispatch/internal/ai"
	contextbuilder "github.com/iago/genbot-dispatch/internal/context"
	"github.com/iago/genbot-dispatch/internal/domain"
	"github.com/iago/genbot-dispatch/internal/notify"
	"github.com/iago/genbot-dispatch/internal/poll"
	"github.com/iago/genbot-dispatch/internal/repository"
	"github.com/rs/zerolog"
)

// AssistantAPI is the thread/run surface of the assistant provider.
// *ai.AssistantClient implements it.
type AssistantAPI interface {
	CreateThread(ctx context.Context, messages []ai.Message) (string, error)
	StartRun(ctx context.Context, threadID, assistantID string) (ai.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (ai.Run, error)
	LatestReply(ctx context.Context, threadID string) (string, error)
}

var ErrRunFailed = errors.New("assistant run did not complete")

type AssistantDependencies struct {
	Ledger      repository.Ledger
	Dialogs     repository.DialogStore
	Assistant   AssistantAPI
	Builder     *contextbuilder.Builder
	Notifier    notify.Notifier
	Files       FileFetcher
	Transcriber Transcriber
	// Poll defaults to a fixed 2.5 s interval.
	Poll      poll.Config
	ChunkSize int
	Logger    zerolog.Logger
	Now       func() time.Time
}

// AssistantHandler answers gpt_assistant jobs through a thread and a run.
type AssistantHandler struct {
	meter     meter
	dialogs   repository.DialogStore
	assistant AssistantAPI
	builder   *contextbuilder.Builder
	notifier  notify.Notifier
	inputs    InputResolver
	poll      poll.Config
	chunkSize int
	logger    zerolog.Logger
	now       func() time.Time
}

func NewAssistantHandler(deps AssistantDependencies) *AssistantHandler {
	if deps.Builder == nil {
		deps.Builder = contextbuilder.NewBuilder(0)
	}
	if deps.Poll.InitialDelay <= 0 {
		deps.Poll = poll.Fixed(2500*time.Millisecond, 240)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger.With().Str("component", "assistant_handler").Logger()
	return &AssistantHandler{
		meter:     meter{ledger: deps.Ledger, notifier: deps.Notifier, logger: logger},
		dialogs:   deps.Dialogs,
		assistant: deps.Assistant,
		builder:   deps.Builder,
		notifier:  deps.Notifier,
		inputs:    NewInputResolver(deps.Files, deps.Transcriber),
		poll:      deps.Poll,
		chunkSize: deps.ChunkSize,
		logger:    logger,
		now:       deps.Now,
	}
}

func (h *AssistantHandler) Handle(ctx context.Context, job domain.Job) error {
	assistantJob, ok := job.(*domain.AssistantJob)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedJob, job)
	}
	if h.assistant == nil {
		return fmt.Errorf("assistant job %s: %w", assistantJob.ID, ai.ErrProviderUnavailable)
	}
	if checker, ok := h.assistant.(interface{ Available() bool }); ok && !checker.Available() {
		return fmt.Errorf("assistant job %s: %w", assistantJob.ID, ai.ErrProviderUnavailable)
	}
	if strings.TrimSpace(assistantJob.AssistantID) == "" {
		return fmt.Errorf("assistant job %s: assistant id is required", assistantJob.ID)
	}

	charged, err := h.meter.charge(ctx, &assistantJob.JobMeta)
	if err != nil || !charged {
		return err
	}

	if err := h.answer(ctx, assistantJob); err != nil {
		h.meter.refund(ctx, &assistantJob.JobMeta)
		return fmt.Errorf("assistant job %s: %w", assistantJob.ID, err)
	}
	return nil
}

func (h *AssistantHandler) answer(ctx context.Context, job *domain.AssistantJob) error {
	userText, err := h.inputs.Resolve(ctx, job.Message, job.File)
	if err != nil {
		return err
	}
	if err := h.dialogs.Append(ctx, domain.DialogMessage{
		DialogID:  job.DialogID,
		Role:      domain.RoleUser,
		Text:      truncateRunes(userText, domain.MaxStoredMessageRunes),
		CreatedAt: h.now().UTC(),
	}); err != nil {
		return fmt.Errorf("store user turn: %w", err)
	}

	history, err := h.dialogs.Read(ctx, job.DialogID)
	if err != nil {
		return fmt.Errorf("read dialog: %w", err)
	}
	built := h.builder.Build(contextbuilder.BuildInput{History: history})

	threadID, err := h.assistant.CreateThread(ctx, built.Messages)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	run, err := h.assistant.StartRun(ctx, threadID, job.AssistantID)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	if run.Status != ai.RunCompleted {
		runID := run.ID
		if _, err := poll.Run(ctx, h.poll, func(ctx context.Context, _ int) poll.Result[ai.Run] {
			return h.checkRun(ctx, threadID, runID)
		}); err != nil {
			return fmt.Errorf("wait for run %s: %w", runID, err)
		}
	}

	reply, err := h.assistant.LatestReply(ctx, threadID)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return ErrEmptyReply
	}

	if err := h.dialogs.Append(ctx, domain.DialogMessage{
		DialogID:  job.DialogID,
		Role:      domain.RoleAssistant,
		Text:      truncateRunes(reply, domain.MaxStoredMessageRunes),
		CreatedAt: h.now().UTC(),
	}); err != nil {
		return fmt.Errorf("store assistant turn: %w", err)
	}

	h.logger.Info().Str("job_id", job.ID).Str("thread_id", threadID).Msg("assistant job answered")
	return deliverText(ctx, h.notifier, &job.JobMeta, reply, h.chunkSize)
}

func (h *AssistantHandler) checkRun(ctx context.Context, threadID, runID string) poll.Result[ai.Run] {
	run, err := h.assistant.GetRun(ctx, threadID, runID)
	if err != nil {
		if ai.IsRetryable(err) {
			return poll.Retryable[ai.Run](err)
		}
		return poll.Terminal[ai.Run](err)
	}

	switch run.Status {
	case ai.RunCompleted:
		return poll.Done(run)
	case ai.RunQueued, ai.RunInProgress, ai.RunCancelling:
		return poll.Pending[ai.Run]()
	default:
		reason := run.Status
		if run.LastError != nil && run.LastError.Message != "" {
			reason += ": " + run.LastError.Message
		}
		return poll.Terminal[ai.Run](fmt.Errorf("%w: %s", ErrRunFailed, reason))
	}
}
