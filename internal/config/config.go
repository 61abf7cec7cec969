package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config centralizes runtime settings for the worker and the ops surface.
type Config struct {
	AppEnv   string
	LogLevel string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	QueuePrefix            string
	QueueVisibilityTimeout time.Duration
	QueuePrefetch          int
	PublishAttempts        int
	PublishRetryDelay      time.Duration

	LeaseTTL time.Duration

	DatabaseURL string

	TelegramBotToken      string
	TelegramRatePerSecond float64

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicModel   string
	ProviderTimeout  time.Duration
	ProviderRetries  int

	MidjourneyAPIKey  string
	MidjourneyBaseURL string
	TranslatePrompts  bool

	PollInitialDelay  time.Duration
	PollBackoffFactor float64
	PollMaxDelay      time.Duration
	PollMaxRetries    int

	OpsAddr        string
	OpsToken       string
	RateLimitRPS   float64
	RateLimitBurst int

	ChunkSize int
}

// Load reads .env files (without overriding the process environment) and then
// resolves every key from the environment with defaults.
func Load() Config {
	_ = LoadDotEnv(".env", ".env.local")
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("QUEUE_PREFIX", "genbot:q:")
	v.SetDefault("QUEUE_VISIBILITY_TIMEOUT_SECONDS", 900)
	v.SetDefault("QUEUE_PREFETCH", 4)
	v.SetDefault("PUBLISH_ATTEMPTS", 3)
	v.SetDefault("PUBLISH_RETRY_DELAY_MS", 1000)

	v.SetDefault("LEASE_TTL_SECONDS", 3600)

	v.SetDefault("DATABASE_URL", "")

	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_RATE_PER_SECOND", 25)

	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("ANTHROPIC_API_KEY", "")
	v.SetDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1")
	v.SetDefault("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest")
	v.SetDefault("PROVIDER_TIMEOUT_MS", 60000)
	v.SetDefault("PROVIDER_MAX_RETRIES", 2)

	v.SetDefault("MJ_API_KEY", "")
	v.SetDefault("MJ_BASE_URL", "https://api.userapi.ai")
	v.SetDefault("TRANSLATE_PROMPTS", true)

	v.SetDefault("POLL_INITIAL_DELAY_MS", 2000)
	v.SetDefault("POLL_BACKOFF_FACTOR", 1.5)
	v.SetDefault("POLL_MAX_DELAY_MS", 30000)
	v.SetDefault("POLL_MAX_RETRIES", 20)

	v.SetDefault("OPS_ADDR", ":8081")
	v.SetDefault("OPS_TOKEN", "")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)

	v.SetDefault("CHUNK_SIZE", 4000)
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) Config {
	return Config{
		AppEnv:   v.GetString("APP_ENV"),
		LogLevel: v.GetString("LOG_LEVEL"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		QueuePrefix:            v.GetString("QUEUE_PREFIX"),
		QueueVisibilityTimeout: seconds(v, "QUEUE_VISIBILITY_TIMEOUT_SECONDS"),
		QueuePrefetch:          v.GetInt("QUEUE_PREFETCH"),
		PublishAttempts:        v.GetInt("PUBLISH_ATTEMPTS"),
		PublishRetryDelay:      millis(v, "PUBLISH_RETRY_DELAY_MS"),

		LeaseTTL: seconds(v, "LEASE_TTL_SECONDS"),

		DatabaseURL: v.GetString("DATABASE_URL"),

		TelegramBotToken:      v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramRatePerSecond: v.GetFloat64("TELEGRAM_RATE_PER_SECOND"),

		OpenAIAPIKey:     v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:    v.GetString("OPENAI_BASE_URL"),
		OpenAIModel:      v.GetString("OPENAI_MODEL"),
		AnthropicAPIKey:  v.GetString("ANTHROPIC_API_KEY"),
		AnthropicBaseURL: v.GetString("ANTHROPIC_BASE_URL"),
		AnthropicModel:   v.GetString("ANTHROPIC_MODEL"),
		ProviderTimeout:  millis(v, "PROVIDER_TIMEOUT_MS"),
		ProviderRetries:  v.GetInt("PROVIDER_MAX_RETRIES"),

		MidjourneyAPIKey:  v.GetString("MJ_API_KEY"),
		MidjourneyBaseURL: v.GetString("MJ_BASE_URL"),
		TranslatePrompts:  v.GetBool("TRANSLATE_PROMPTS"),

		PollInitialDelay:  millis(v, "POLL_INITIAL_DELAY_MS"),
		PollBackoffFactor: v.GetFloat64("POLL_BACKOFF_FACTOR"),
		PollMaxDelay:      millis(v, "POLL_MAX_DELAY_MS"),
		PollMaxRetries:    v.GetInt("POLL_MAX_RETRIES"),

		OpsAddr:        v.GetString("OPS_ADDR"),
		OpsToken:       v.GetString("OPS_TOKEN"),
		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),

		ChunkSize: v.GetInt("CHUNK_SIZE"),
	}
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Second
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Millisecond
}
