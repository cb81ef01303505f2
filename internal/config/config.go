package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

// Config holds runtime configuration. All values are read once at startup.
type Config struct {
	// Server
	Host     string `env:"HOST" envDefault:"0.0.0.0"`
	Port     int    `env:"PORT" envDefault:"8001" validate:"min=1,max=65535"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Model
	ModelName      string `env:"MODEL_NAME" envDefault:"Qwen/Qwen2.5-Embedding-0.6B-Instruct" validate:"required"`
	Device         string `env:"DEVICE" validate:"omitempty,oneof=cpu cuda"` // empty: cuda when available, else cpu
	ModelDir       string `env:"MODEL_DIR"`                                  // local model directory; skips the hub download
	ModelFile      string `env:"MODEL_FILE" envDefault:"onnx/model.onnx"`
	OutputName     string `env:"MODEL_OUTPUT_NAME" envDefault:"last_hidden_state"`
	ORTLibraryPath string `env:"ORT_LIBRARY_PATH"`
	HFToken        string `env:"HF_TOKEN"`
	HFCacheDir     string `env:"HF_CACHE_DIR"`

	// Embedding
	MaxBatchSize       int  `env:"MAX_BATCH_SIZE" envDefault:"32" validate:"min=1"`
	MaxInputLength     int  `env:"MAX_INPUT_LENGTH" envDefault:"8192" validate:"min=1"`
	EmbeddingDimension int  `env:"EMBEDDING_DIMENSION" envDefault:"768"` // reported by /info only
	HonorNormalizeFlag bool `env:"HONOR_NORMALIZE_FLAG" envDefault:"false"`
	BatchConcurrency   int  `env:"BATCH_CONCURRENCY" envDefault:"1" validate:"min=1"`

	// Cache
	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"none" validate:"oneof=none memory redis"`
	CacheTTL      int    `env:"CACHE_TTL" envDefault:"3600" validate:"min=1"` // seconds
	CacheSize     uint64 `env:"CACHE_SIZE" envDefault:"10000"`
	RedisAddr     string `env:"REDIS_ADDR" validate:"required_if=CacheProvider redis"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// NATS transport, disabled when NATS_URL is empty
	NATSURL        string `env:"NATS_URL"`
	NATSSubject    string `env:"NATS_SUBJECT" envDefault:"embeddings.embed"`
	NATSQueueGroup string `env:"NATS_QUEUE_GROUP" envDefault:"embedder"`
}

// Load reads configuration from environment variables with defaults and
// validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Addr is the listen address built from HOST and PORT.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// CacheTTLDuration returns CACHE_TTL as a duration.
func (c Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}
