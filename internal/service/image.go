package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iago/genbot-dispatch/internal/domain"
	"github.com/iago/genbot-dispatch/internal/imagegen"
	"github.com/iago/genbot-dispatch/internal/notify"
	"github.com/iago/genbot-dispatch/internal/poll"
	"github.com/iago/genbot-dispatch/internal/repository"
	"github.com/rs/zerolog"
)

// ImageProvider submits image tasks and reports their status.
// *imagegen.Client implements it.
type ImageProvider interface {
	Imagine(ctx context.Context, prompt string) (string, error)
	Reroll(ctx context.Context, hash string) (string, error)
	Upscale(ctx context.Context, hash string, choice int) (string, error)
	Variation(ctx context.Context, hash string, choice int) (string, error)
	Check(ctx context.Context, hash string) poll.Result[imagegen.Image]
}

// Translator rewrites a prompt in English. *ai.ChatTranslator implements it.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

var ErrForeignImage = errors.New("image task belongs to another user")

type ImageDependencies struct {
	Ledger   repository.Ledger
	Images   repository.ImageStore
	Provider ImageProvider
	Notifier notify.Notifier
	// Translator is optional; without it prompts are sent as written.
	Translator Translator
	Fetcher    FileFetcher
	Poll       poll.Config
	Logger     zerolog.Logger
}

// ImageHandler runs imagine, reroll, upscale and variation jobs.
type ImageHandler struct {
	meter      meter
	images     repository.ImageStore
	provider   ImageProvider
	notifier   notify.Notifier
	translator Translator
	fetcher    FileFetcher
	poll       poll.Config
	logger     zerolog.Logger
}

func NewImageHandler(deps ImageDependencies) *ImageHandler {
	if deps.Poll.InitialDelay <= 0 {
		deps.Poll = poll.DefaultConfig()
	}
	if deps.Fetcher == nil {
		deps.Fetcher = imagegen.NewFetcher(nil)
	}
	logger := deps.Logger.With().Str("component", "image_handler").Logger()
	return &ImageHandler{
		meter:      meter{ledger: deps.Ledger, notifier: deps.Notifier, logger: logger},
		images:     deps.Images,
		provider:   deps.Provider,
		notifier:   deps.Notifier,
		translator: deps.Translator,
		fetcher:    deps.Fetcher,
		poll:       deps.Poll,
		logger:     logger,
	}
}

func (h *ImageHandler) Handle(ctx context.Context, job domain.Job) error {
	imageJob, ok := job.(*domain.ImageJob)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedJob, job)
	}
	if h.provider == nil {
		return fmt.Errorf("image job %s: no image provider configured", imageJob.ID)
	}
	if checker, ok := h.provider.(interface{ Available() bool }); ok && !checker.Available() {
		return fmt.Errorf("image job %s: image provider has no api key", imageJob.ID)
	}

	charged, err := h.meter.charge(ctx, &imageJob.JobMeta)
	if err != nil || !charged {
		return err
	}

	if err := h.generate(ctx, imageJob); err != nil {
		h.meter.refund(ctx, &imageJob.JobMeta)
		return fmt.Errorf("image job %s (%s): %w", imageJob.ID, imageJob.Action, err)
	}
	return nil
}

func (h *ImageHandler) generate(ctx context.Context, job *domain.ImageJob) error {
	var (
		task *domain.ImageTask
		hash string
		err  error
	)

	if job.Action == domain.ImageActionImagine {
		hash, err = h.provider.Imagine(ctx, h.translate(ctx, job.Prompt))
	} else {
		task, err = h.ownedTask(ctx, job)
		if err != nil {
			return err
		}
		switch job.Action {
		case domain.ImageActionReroll:
			hash, err = h.provider.Reroll(ctx, task.FirstHash)
		case domain.ImageActionUpscale:
			hash, err = h.provider.Upscale(ctx, task.Hash, job.Choice)
		case domain.ImageActionVariation:
			hash, err = h.provider.Variation(ctx, task.Hash, job.Choice)
		default:
			return fmt.Errorf("unknown image action %q", job.Action)
		}
	}
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	image, err := poll.Run(ctx, h.poll, func(ctx context.Context, _ int) poll.Result[imagegen.Image] {
		return h.provider.Check(ctx, hash)
	})
	if err != nil {
		return fmt.Errorf("wait for %s: %w", hash, err)
	}

	// Upscales are single images; the task keeps pointing at its grid.
	switch job.Action {
	case domain.ImageActionImagine:
		task = &domain.ImageTask{
			UserID:    job.UserID,
			Prompt:    job.Prompt,
			Hash:      hash,
			ImageName: image.FileName,
		}
		if err := h.images.Create(ctx, task); err != nil {
			return fmt.Errorf("store image task: %w", err)
		}
	case domain.ImageActionReroll, domain.ImageActionVariation:
		if err := h.images.UpdateHash(ctx, task.ID, hash); err != nil {
			return fmt.Errorf("update image task %d: %w", task.ID, err)
		}
	}

	photo, err := h.photo(ctx, image)
	if err != nil {
		return err
	}
	if job.Action != domain.ImageActionUpscale {
		photo.Keyboard = notify.ImageKeyboard(task.ID)
	}

	if err := h.notifier.DeletePlaceholder(ctx, job.UserID, job.AnswerMessage); err != nil {
		return fmt.Errorf("delete placeholder: %w", err)
	}
	if err := h.notifier.NotifyPhoto(ctx, job.UserID, photo); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Int64("user_id", job.UserID).
		Int64("image_id", task.ID).
		Str("hash", hash).
		Str("action", string(job.Action)).
		Msg("image job delivered")
	return nil
}

func (h *ImageHandler) ownedTask(ctx context.Context, job *domain.ImageJob) (*domain.ImageTask, error) {
	task, err := h.images.Get(ctx, job.ImageID)
	if err != nil {
		return nil, fmt.Errorf("load image task %d: %w", job.ImageID, err)
	}
	if task.UserID != job.UserID {
		return nil, fmt.Errorf("%w: task %d", ErrForeignImage, task.ID)
	}
	return task, nil
}

// translate falls back to the original prompt on any translator failure.
func (h *ImageHandler) translate(ctx context.Context, prompt string) string {
	if h.translator == nil {
		return prompt
	}
	translated, err := h.translator.Translate(ctx, prompt)
	if err != nil || strings.TrimSpace(translated) == "" {
		h.logger.Warn().Err(err).Msg("prompt translation failed, using original prompt")
		return prompt
	}
	return translated
}

// photo sends small images by URL and re-encodes oversized ones.
func (h *ImageHandler) photo(ctx context.Context, image imagegen.Image) (notify.Photo, error) {
	if image.Size <= imagegen.MaxPhotoBytes {
		return notify.Photo{URL: image.URL, FileName: image.FileName}, nil
	}

	data, err := h.fetcher.Fetch(ctx, image.URL)
	if err != nil {
		return notify.Photo{}, err
	}
	shrunk, resized, err := imagegen.Shrink(data, imagegen.MaxPhotoBytes, imagegen.TargetWidth)
	if err != nil {
		return notify.Photo{}, err
	}
	if resized {
		h.logger.Info().Int("original_bytes", len(data)).Int("resized_bytes", len(shrunk)).Msg("image resized")
	}
	return notify.Photo{Data: shrunk, FileName: firstNonEmpty(image.FileName, "image.jpg")}, nil
}
