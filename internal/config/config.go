package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	LogMode     string `envconfig:"LOG_MODE" default:"development"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"closerbrain-uploads"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey      string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL     string `envconfig:"OPENAI_BASE_URL"`
	ChatModel         string `envconfig:"CHAT_MODEL" default:"gpt-4o"`
	EmbeddingModel    string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingsEnabled bool   `envconfig:"EMBEDDINGS_ENABLED" default:"false"`

	// Generation retry policy: attempt k waits RetryBaseDelay * 2^k.
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"2s"`

	MaxSourceChars int           `envconfig:"MAX_SOURCE_CHARS" default:"12000"`
	StaleRunAfter  time.Duration `envconfig:"STALE_RUN_AFTER" default:"15m"`

	RedisAddr    string `envconfig:"REDIS_ADDR"`
	RedisChannel string `envconfig:"REDIS_CHANNEL" default:"closerbrain.progress"`

	SentryDSN        string  `envconfig:"SENTRY_DSN"`
	SentrySampleRate float64 `envconfig:"SENTRY_SAMPLE_RATE" default:"1.0"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CLOSERBRAIN", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}
