package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/iago/genbot-dispatch/internal/admission"
	"github.com/iago/genbot-dispatch/internal/ai"
	"github.com/iago/genbot-dispatch/internal/cache"
	"github.com/iago/genbot-dispatch/internal/config"
	contextbuilder "github.com/iago/genbot-dispatch/internal/context"
	"github.com/iago/genbot-dispatch/internal/domain"
	"github.com/iago/genbot-dispatch/internal/imagegen"
	"github.com/iago/genbot-dispatch/internal/notify"
	"github.com/iago/genbot-dispatch/internal/poll"
	"github.com/iago/genbot-dispatch/internal/queue"
	"github.com/iago/genbot-dispatch/internal/repository"
	"github.com/iago/genbot-dispatch/internal/service"
	"github.com/iago/genbot-dispatch/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type repositories struct {
	ledger  repository.Ledger
	dialogs repository.DialogStore
	images  repository.ImageStore
}

// setupQueue falls back to the in-memory broker only when Redis is not
// configured. A configured but unreachable Redis fails startup: the bot
// publishes and admits through it from another process.
func setupQueue(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*queue.Client, func(), error) {
	clientCfg := queue.ClientConfig{
		PublishAttempts: cfg.PublishAttempts,
		RetryDelay:      cfg.PublishRetryDelay,
	}

	if cfg.RedisAddr == "" {
		logger.Warn().Msg("REDIS_ADDR not configured, using in-memory broker")
		client := queue.NewClient(queue.NewMemoryBroker(), clientCfg, logger)
		return client, func() { _ = client.Close() }, nil
	}

	broker, err := queue.NewRedisBroker(ctx, queue.RedisConfig{
		Addr:              cfg.RedisAddr,
		Password:          cfg.RedisPassword,
		DB:                cfg.RedisDB,
		Prefix:            cfg.QueuePrefix,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("redis broker %s: %w", cfg.RedisAddr, err)
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("redis broker initialized")
	client := queue.NewClient(broker, clientCfg, logger)
	return client, func() { _ = client.Close() }, nil
}

func setupCache(ctx context.Context, cfg config.Config, logger zerolog.Logger) (cache.Store, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Warn().Msg("REDIS_ADDR not configured, leases are process local")
		return cache.NewMemoryStore(cache.MemoryConfig{}), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis cache %s: %w", cfg.RedisAddr, err)
	}
	return cache.NewRedisStore(client, "genbot:"), func() { _ = client.Close() }, nil
}

func setupRepositories(ctx context.Context, cfg config.Config, migrate bool, logger zerolog.Logger) (repositories, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not configured, using in-memory repositories")
		return repositories{
			ledger:  repository.NewMemoryLedger(),
			dialogs: repository.NewMemoryDialogStore(),
			images:  repository.NewMemoryImageStore(),
		}, func() {}, nil
	}
	store, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return repositories{}, nil, fmt.Errorf("postgres: %w", err)
	}
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return repositories{}, nil, fmt.Errorf("migrate schema: %w", err)
		}
	}
	logger.Info().Msg("postgres repositories initialized")
	return repositories{ledger: store, dialogs: store, images: store}, store.Close, nil
}

func setupNotifier(cfg config.Config, logger zerolog.Logger) notify.Notifier {
	if cfg.TelegramBotToken == "" {
		logger.Warn().Msg("TELEGRAM_BOT_TOKEN not configured, notifications are logged only")
		return notify.NewLogNotifier(logger)
	}
	bot, err := notify.NewBotSender(cfg.TelegramBotToken)
	if err != nil {
		logger.Error().Err(err).Msg("telegram unavailable, notifications are logged only")
		return notify.NewLogNotifier(logger)
	}
	return notify.NewTelegramNotifier(bot, notify.TelegramConfig{RatePerSecond: cfg.TelegramRatePerSecond}, logger)
}

// buildDispatcher registers a handler for every conventional queue.
func buildDispatcher(
	cfg config.Config,
	client *queue.Client,
	gate *admission.Gate,
	repos repositories,
	notifier notify.Notifier,
	logger zerolog.Logger,
) *worker.Dispatcher {
	httpClient := &http.Client{Timeout: 2 * time.Minute}

	chat := ai.NewChatClient(ai.ChatClientConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Timeout:    cfg.ProviderTimeout,
		MaxRetries: cfg.ProviderRetries,
	})
	claude := ai.NewAnthropicClient(ai.AnthropicClientConfig{
		APIKey:     cfg.AnthropicAPIKey,
		BaseURL:    cfg.AnthropicBaseURL,
		Timeout:    cfg.ProviderTimeout,
		MaxRetries: cfg.ProviderRetries,
	})
	router := ai.NewRouter(chat, claude, ai.RouterConfig{
		DefaultChatModel:   cfg.OpenAIModel,
		DefaultClaudeModel: cfg.AnthropicModel,
	})
	transcriber := ai.NewTranscriptionClient(ai.TranscriptionClientConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.ProviderTimeout,
	})
	assistant := ai.NewAssistantClient(ai.AssistantClientConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Timeout:    cfg.ProviderTimeout,
		MaxRetries: cfg.ProviderRetries,
	})
	images := imagegen.NewClient(imagegen.ClientConfig{
		APIKey:  cfg.MidjourneyAPIKey,
		BaseURL: cfg.MidjourneyBaseURL,
	})
	fetcher := imagegen.NewFetcher(httpClient)
	builder := contextbuilder.NewBuilder(0)

	var translator service.Translator
	if cfg.TranslatePrompts && chat.Available() {
		translator = ai.NewChatTranslator(chat, cfg.OpenAIModel)
	}

	text := service.NewTextHandler(service.TextDependencies{
		Ledger:      repos.ledger,
		Dialogs:     repos.dialogs,
		Router:      router,
		Builder:     builder,
		Notifier:    notifier,
		Files:       fetcher,
		Transcriber: transcriber,
		ChunkSize:   cfg.ChunkSize,
		Logger:      logger,
	})
	assistantHandler := service.NewAssistantHandler(service.AssistantDependencies{
		Ledger:      repos.ledger,
		Dialogs:     repos.dialogs,
		Assistant:   assistant,
		Builder:     builder,
		Notifier:    notifier,
		Files:       fetcher,
		Transcriber: transcriber,
		ChunkSize:   cfg.ChunkSize,
		Logger:      logger,
	})
	image := service.NewImageHandler(service.ImageDependencies{
		Ledger:     repos.ledger,
		Images:     repos.images,
		Provider:   images,
		Notifier:   notifier,
		Translator: translator,
		Fetcher:    fetcher,
		Poll: poll.Config{
			InitialDelay: cfg.PollInitialDelay,
			Factor:       cfg.PollBackoffFactor,
			MaxDelay:     cfg.PollMaxDelay,
			MaxRetries:   cfg.PollMaxRetries,
		},
		Logger: logger,
	})
	referral := service.NewReferralHandler(repos.ledger, notifier, logger)

	dispatcher := worker.NewDispatcher(client, gate, notifier, worker.Config{Prefetch: cfg.QueuePrefetch}, logger)
	dispatcher.Register(domain.QueueChatGPT, text)
	dispatcher.Register(domain.QueueClaude, text)
	dispatcher.Register(domain.QueueAssistant, assistantHandler)
	for _, name := range []string{
		domain.QueueMidjourney,
		domain.QueueRerollMidjourney,
		domain.QueueUpscaleMidjourney,
		domain.QueueVariationMidjourney,
	} {
		dispatcher.Register(name, image)
	}
	dispatcher.Register(domain.QueueReferral, referral)
	return dispatcher
}
