package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iago/genbot-dispatch/internal/domain"
	"github.com/rs/zerolog"
)

var (
	ErrPublishFailed   = errors.New("publish failed")
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

type ClientConfig struct {
	PublishAttempts int
	RetryDelay      time.Duration
	MaxPriority     int
}

// Client publishes typed jobs and exposes queue administration on top of a Broker.
type Client struct {
	broker Broker
	cfg    ClientConfig
	logger zerolog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewClient(broker Broker, cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.PublishAttempts <= 0 {
		cfg.PublishAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxPriority <= 0 {
		cfg.MaxPriority = MaxPriority
	}
	return &Client{
		broker: broker,
		cfg:    cfg,
		logger: logger.With().Str("component", "queue").Logger(),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

func (c *Client) Broker() Broker {
	return c.broker
}

func (c *Client) DeclareQueue(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("queue name is required")
	}
	return c.broker.DeclareQueue(ctx, name, c.cfg.MaxPriority)
}

// Publish encodes job and enqueues it on its queue. Encoding problems fail
// before any broker call. The returned envelope is what was sent.
func (c *Client) Publish(ctx context.Context, job domain.Job, priority int) (domain.Envelope, error) {
	envelope, err := domain.NewEnvelope(job)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if err := c.PublishEnvelope(ctx, envelope, priority); err != nil {
		return domain.Envelope{}, err
	}
	envelope.Priority = clampPriority(priority, c.cfg.MaxPriority)
	return envelope, nil
}

// PublishEnvelope sends an already built envelope. Type selects the queue.
func (c *Client) PublishEnvelope(ctx context.Context, envelope domain.Envelope, priority int) error {
	if envelope.ID == "" {
		envelope.ID = uuid.NewString()
	}
	envelope.RetryCount = 0
	envelope.Timestamp = c.now().UTC()
	envelope.Priority = clampPriority(priority, c.cfg.MaxPriority)

	body, err := envelope.Encode()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.PublishAttempts; attempt++ {
		lastErr = c.broker.Publish(ctx, envelope.Type, body, envelope.Priority)
		if lastErr == nil {
			c.logger.Debug().
				Str("queue", envelope.Type).
				Str("job_id", envelope.ID).
				Int64("user_id", envelope.UserID).
				Int("priority", envelope.Priority).
				Msg("job published")
			return nil
		}
		if ctx.Err() != nil {
			break
		}

		c.logger.Warn().
			Err(lastErr).
			Str("queue", envelope.Type).
			Int("attempt", attempt).
			Msg("publish attempt failed")
		if attempt == c.cfg.PublishAttempts {
			break
		}

		if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
			lastErr = err
			break
		}
		if err := c.broker.Reconnect(ctx); err != nil {
			c.logger.Warn().Err(err).Str("queue", envelope.Type).Msg("broker reconnect failed")
		}
	}

	c.logger.Error().
		Err(lastErr).
		Str("queue", envelope.Type).
		Str("job_id", envelope.ID).
		Msg("job was not scheduled")
	return fmt.Errorf("%w: queue %s: %w", ErrPublishFailed, envelope.Type, lastErr)
}

func (c *Client) Stats(ctx context.Context, name string) (Stats, error) {
	return c.broker.Stats(ctx, name)
}

// AllStats reports every declared queue, errors queues included.
func (c *Client) AllStats(ctx context.Context) ([]Stats, error) {
	names, err := c.broker.Queues(ctx)
	if err != nil {
		return nil, err
	}
	stats := make([]Stats, 0, len(names))
	for _, name := range names {
		item, err := c.broker.Stats(ctx, name)
		if err != nil {
			return nil, err
		}
		stats = append(stats, item)
	}
	return stats, nil
}

// Peek returns pending envelopes as raw JSON without consuming them.
func (c *Client) Peek(ctx context.Context, name string, limit int) ([]json.RawMessage, error) {
	bodies, err := c.broker.Peek(ctx, name, limit)
	if err != nil {
		return nil, err
	}
	messages := make([]json.RawMessage, 0, len(bodies))
	for _, body := range bodies {
		if !json.Valid(body) {
			encoded, _ := json.Marshal(map[string]string{"raw": string(body)})
			messages = append(messages, encoded)
			continue
		}
		messages = append(messages, json.RawMessage(body))
	}
	return messages, nil
}

func (c *Client) Close() error {
	return c.broker.Close()
}
