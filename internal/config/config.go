package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	SentryDSN        string  `envconfig:"SENTRY_DSN"`
	SentryEnv        string  `envconfig:"SENTRY_ENVIRONMENT" default:"development"`
	SentrySampleRate float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE" default:"0.2"`

	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel   string `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small"`

	// Secondary OpenAI-compatible endpoint tried when the primary fails.
	FallbackAPIKey  string `envconfig:"FALLBACK_API_KEY"`
	FallbackBaseURL string `envconfig:"FALLBACK_BASE_URL"`
	FallbackModel   string `envconfig:"FALLBACK_EMBEDDING_MODEL" default:"text-embedding-3-small"`

	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	EmbeddingMaxChars   int           `envconfig:"EMBEDDING_MAX_CHARS" default:"8000"`
	EmbeddingTimeout    time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"15s"`

	ChunkThreshold int `envconfig:"CHUNK_THRESHOLD" default:"2000"`
	ChunkMaxChars  int `envconfig:"CHUNK_MAX_CHARS" default:"1500"`
	ChunkOverlap   int `envconfig:"CHUNK_OVERLAP" default:"200"`

	SearchRRFK     int `envconfig:"SEARCH_RRF_K" default:"60"`
	SearchLimit    int `envconfig:"SEARCH_LIMIT" default:"10"`
	SearchLimitCap int `envconfig:"SEARCH_LIMIT_CAP" default:"50"`

	BackfillInterval  time.Duration `envconfig:"BACKFILL_INTERVAL" default:"1m"`
	BackfillBatchSize int           `envconfig:"BACKFILL_BATCH_SIZE" default:"20"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("EVERKEEP", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasFallback() bool {
	return c.FallbackAPIKey != "" && c.FallbackBaseURL != ""
}
