package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iago/genbot-dispatch/internal/domain"
	"github.com/iago/genbot-dispatch/internal/queue"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// FailureMessage is sent to the user once when a job fails.
const FailureMessage = "An error occurred while processing your request. Support has been notified."

// Handler processes one typed job. A returned error dead-letters the job; the
// handler has already undone its own side effects (energy refund) by then.
type Handler interface {
	Handle(ctx context.Context, job domain.Job) error
}

type HandlerFunc func(ctx context.Context, job domain.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job domain.Job) error {
	return f(ctx, job)
}

// LeaseReleaser frees an admission lease. *admission.Gate implements it.
type LeaseReleaser interface {
	Release(ctx context.Context, key string) error
}

// UserNotifier is the slice of notify.Notifier the dispatcher needs.
type UserNotifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// Transport is what the dispatcher needs from the queue client.
type Transport interface {
	DeclareQueue(ctx context.Context, name string) error
	PublishEnvelope(ctx context.Context, envelope domain.Envelope, priority int) error
	Broker() queue.Broker
}

type Config struct {
	Prefetch       int
	RestartDelay   time.Duration
	CleanupTimeout time.Duration
	FailureMessage string
}

// Dispatcher consumes every registered queue and routes deliveries to handlers.
type Dispatcher struct {
	transport Transport
	leases    LeaseReleaser
	notifier  UserNotifier
	logger    zerolog.Logger
	cfg       Config

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher(
	transport Transport,
	leases LeaseReleaser,
	notifier UserNotifier,
	cfg Config,
	logger zerolog.Logger,
) *Dispatcher {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 4
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 2 * time.Second
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 10 * time.Second
	}
	if cfg.FailureMessage == "" {
		cfg.FailureMessage = FailureMessage
	}
	return &Dispatcher{
		transport: transport,
		leases:    leases,
		notifier:  notifier,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		cfg:       cfg,
		handlers:  make(map[string]Handler),
	}
}

func (d *Dispatcher) Register(queueName string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[queueName] = handler
}

// Queues lists the registered queue names in a stable order.
func (d *Dispatcher) Queues() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) handler(queueName string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	handler, ok := d.handlers[queueName]
	return handler, ok
}

// Run declares every registered queue with its errors sibling and consumes
// them until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	queues := d.Queues()
	if len(queues) == 0 {
		return errors.New("no handlers registered")
	}
	for _, name := range queues {
		if err := d.transport.DeclareQueue(ctx, name); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}
		if err := d.transport.DeclareQueue(ctx, domain.ErrorsQueue(name)); err != nil {
			return fmt.Errorf("declare %s: %w", domain.ErrorsQueue(name), err)
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range queues {
		name := name
		group.Go(func() error {
			d.consume(groupCtx, name)
			return nil
		})
	}
	d.logger.Info().Strs("queues", queues).Int("prefetch", d.cfg.Prefetch).Msg("dispatcher started")
	return group.Wait()
}

// consume keeps one queue's consume loop alive, restarting it after a pause
// when the transport fails.
func (d *Dispatcher) consume(ctx context.Context, queueName string) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := d.transport.Broker().Consume(ctx, queueName, d.cfg.Prefetch, func(ctx context.Context, delivery *queue.Delivery) {
			d.process(ctx, queueName, delivery)
		})
		if err == nil || ctx.Err() != nil {
			return
		}
		d.logger.Error().Err(err).Str("queue", queueName).Msg("consume loop error")

		timer := time.NewTimer(d.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, queueName string, delivery *queue.Delivery) {
	logger := d.logger.With().Str("queue", queueName).Str("delivery_id", delivery.ID).Logger()

	// Settlement must finish even when shutdown cancels ctx.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CleanupTimeout)
	defer cancel()

	envelope, err := domain.DecodeEnvelope(delivery.Body)
	if err != nil {
		logger.Error().Err(err).Msg("rejecting malformed envelope")
		d.reject(cleanupCtx, logger, delivery)
		return
	}
	if envelope.Type == "" {
		envelope.Type = queueName
	}

	job, err := domain.ParseJob(envelope)
	if err != nil {
		logger.Error().Err(err).Str("job_id", envelope.ID).Msg("rejecting undecodable job")
		d.reject(cleanupCtx, logger, delivery)
		d.release(cleanupCtx, logger, envelope.Key)
		return
	}

	logger = logger.With().Str("job_id", envelope.ID).Int64("user_id", envelope.UserID).Logger()

	handler, ok := d.handler(queueName)
	if !ok {
		err = fmt.Errorf("no handler registered for queue %s", queueName)
	} else {
		err = d.invoke(ctx, handler, job)
	}

	if err == nil {
		if ackErr := delivery.Ack(cleanupCtx); ackErr != nil {
			logger.Error().Err(ackErr).Msg("ack failed")
		}
		d.release(cleanupCtx, logger, envelope.Key)
		logger.Info().Msg("job processed")
		return
	}

	logger.Error().Err(err).Msg("job failed")
	d.deadLetter(cleanupCtx, logger, envelope, err)
	d.reject(cleanupCtx, logger, delivery)
	if notifyErr := d.notifier.Notify(cleanupCtx, envelope.UserID, d.cfg.FailureMessage); notifyErr != nil {
		logger.Warn().Err(notifyErr).Msg("failure notification not delivered")
	}
	d.release(cleanupCtx, logger, envelope.Key)
}

// invoke runs the handler and turns a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, handler Handler, job domain.Job) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v", recovered)
		}
	}()
	return handler.Handle(ctx, job)
}

func (d *Dispatcher) deadLetter(ctx context.Context, logger zerolog.Logger, envelope domain.Envelope, cause error) {
	failed := envelope
	failed.Type = domain.ErrorsQueue(envelope.Type)
	failed.Error = cause.Error()
	if err := d.transport.PublishEnvelope(ctx, failed, envelope.Priority); err != nil {
		logger.Error().Err(err).Msg("dead-letter publish failed")
	}
}

func (d *Dispatcher) reject(ctx context.Context, logger zerolog.Logger, delivery *queue.Delivery) {
	if err := delivery.Reject(ctx); err != nil {
		logger.Error().Err(err).Msg("reject failed")
	}
}

func (d *Dispatcher) release(ctx context.Context, logger zerolog.Logger, key string) {
	if key == "" || d.leases == nil {
		return
	}
	if err := d.leases.Release(ctx, key); err != nil {
		logger.Warn().Err(err).Str("lease_key", key).Msg("lease release failed")
	}
}
