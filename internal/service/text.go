package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iago/genbot-dispatch/internal/ai"
	contextbuilder "github.com/iago/genbot-dispatch/internal/context"
	"github.com/iago/genbot-dispatch/internal/domain"
	"github.com/iago/genbot-dispatch/internal/notify"
	"github.com/iago/genbot-dispatch/internal/repository"
	"github.com/rs/zerolog"
)

// ProviderRouter picks a chat provider for a queue and model. *ai.Router implements it.
type ProviderRouter interface {
	Select(queue, model string) (ai.ChatProvider, string, error)
}

type TextDependencies struct {
	Ledger      repository.Ledger
	Dialogs     repository.DialogStore
	Router      ProviderRouter
	Builder     *contextbuilder.Builder
	Notifier    notify.Notifier
	Files       FileFetcher
	Transcriber Transcriber
	// MaxOutputTokens caps the provider answer.
	MaxOutputTokens int
	ChunkSize       int
	Logger          zerolog.Logger
	Now             func() time.Time
}

// TextHandler answers chat jobs on the chatgpt and claude queues.
type TextHandler struct {
	meter           meter
	dialogs         repository.DialogStore
	router          ProviderRouter
	builder         *contextbuilder.Builder
	notifier        notify.Notifier
	inputs          InputResolver
	maxOutputTokens int
	chunkSize       int
	logger          zerolog.Logger
	now             func() time.Time
}

func NewTextHandler(deps TextDependencies) *TextHandler {
	if deps.Builder == nil {
		deps.Builder = contextbuilder.NewBuilder(0)
	}
	if deps.MaxOutputTokens <= 0 {
		deps.MaxOutputTokens = 2500
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger.With().Str("component", "text_handler").Logger()
	return &TextHandler{
		meter:           meter{ledger: deps.Ledger, notifier: deps.Notifier, logger: logger},
		dialogs:         deps.Dialogs,
		router:          deps.Router,
		builder:         deps.Builder,
		notifier:        deps.Notifier,
		inputs:          NewInputResolver(deps.Files, deps.Transcriber),
		maxOutputTokens: deps.MaxOutputTokens,
		chunkSize:       deps.ChunkSize,
		logger:          logger,
		now:             deps.Now,
	}
}

func (h *TextHandler) Handle(ctx context.Context, job domain.Job) error {
	textJob, ok := job.(*domain.TextJob)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedJob, job)
	}

	// Resolve the provider first so a misconfigured worker never charges.
	provider, model, err := h.router.Select(textJob.Queue, textJob.Model)
	if err != nil {
		return fmt.Errorf("select provider: %w", err)
	}

	charged, err := h.meter.charge(ctx, &textJob.JobMeta)
	if err != nil || !charged {
		return err
	}

	if err := h.answer(ctx, textJob, provider, model); err != nil {
		h.meter.refund(ctx, &textJob.JobMeta)
		return fmt.Errorf("text job %s: %w", textJob.ID, err)
	}
	return nil
}

func (h *TextHandler) answer(ctx context.Context, job *domain.TextJob, provider ai.ChatProvider, model string) error {
	userText, err := h.inputs.Resolve(ctx, job.Message, job.File)
	if err != nil {
		return err
	}
	userText = quoteLastAnswer(job.LastMessage, userText)

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
	if built.Dropped > 0 {
		h.logger.Debug().Int64("dialog_id", job.DialogID).Int("dropped", built.Dropped).Msg("history trimmed to budget")
	}

	result, err := provider.Complete(ctx, ai.ChatRequest{
		Model:           model,
		Messages:        built.Messages,
		MaxOutputTokens: h.maxOutputTokens,
	})
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	reply := strings.TrimSpace(result.Text)
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

	h.logger.Info().
		Str("job_id", job.ID).
		Int64("user_id", job.UserID).
		Str("model", firstNonEmpty(result.ModelID, model)).
		Int("input_tokens", result.Usage.InputTokens).
		Int("output_tokens", result.Usage.OutputTokens).
		Msg("text job answered")

	return deliverText(ctx, h.notifier, &job.JobMeta, reply, h.chunkSize)
}

// quoteLastAnswer folds the answer the user asked to improve into the new turn.
func quoteLastAnswer(lastAnswer, text string) string {
	lastAnswer = strings.TrimSpace(lastAnswer)
	if lastAnswer == "" {
		return text
	}
	lines := strings.Split(lastAnswer, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n") + "\n\n" + text
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
