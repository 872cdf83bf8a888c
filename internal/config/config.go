package config

import (
	"fmt"
	"media-analysis-backend/internal/core/scoring"
	"media-analysis-backend/internal/storage"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type StorageConfig struct {
	S3EndpointURL     string `env:"S3_ENDPOINT_URL" validate:"omitempty,url"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	BlobBucket        string `env:"BLOB_BUCKET" envDefault:"analysis-uploads" validate:"required"`
	BlobPrefix        string `env:"BLOB_PREFIX" envDefault:"uploads" validate:"required"`
	PublicBlobBaseURL string `env:"PUBLIC_BLOB_BASE_URL" validate:"omitempty,url"`
}

func (c StorageConfig) S3() storage.S3ClientConfig {
	return storage.S3ClientConfig{
		Endpoint:        c.S3EndpointURL,
		Region:          c.S3Region,
		AccessKeyID:     c.S3AccessKeyID,
		SecretAccessKey: c.S3SecretAccessKey,
		PublicBaseURL:   c.PublicBlobBaseURL,
	}
}

type QueueConfig struct {
	RabbitMQURL string        `env:"RABBITMQ_URL" validate:"required,url"`
	MessageTTL  time.Duration `env:"QUEUE_MESSAGE_TTL" envDefault:"600000ms" validate:"gt=0"`
}

type InferenceConfig struct {
	URL     string        `env:"INFERENCE_URL" validate:"required,url"`
	Timeout time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"120s" validate:"gt=0"`
}

type ScoringConfig struct {
	PolicyFile          string  `env:"SCORING_POLICY_FILE"`
	DefaultTargetFps    float64 `env:"DEFAULT_TARGET_FPS" envDefault:"25" validate:"gt=0"`
	DefaultMaxLatencyMs float64 `env:"DEFAULT_MAX_LATENCY_MS" envDefault:"40" validate:"gt=0"`
}

// Policy loads the band table (the embedded one unless PolicyFile is set) with
// the configured default baseline.
func (c ScoringConfig) Policy() (*scoring.Policy, error) {
	var policy *scoring.Policy
	var err error
	if c.PolicyFile != "" {
		data, readErr := os.ReadFile(c.PolicyFile)
		if readErr != nil {
			return nil, fmt.Errorf("error reading scoring policy %s: %w", c.PolicyFile, readErr)
		}
		policy, err = scoring.LoadPolicy(data)
	} else {
		policy, err = scoring.DefaultPolicy()
	}
	if err != nil {
		return nil, err
	}

	policy.DefaultBaseline = scoring.Baseline{
		TargetFps:    c.DefaultTargetFps,
		MaxLatencyMs: c.DefaultMaxLatencyMs,
	}
	return policy, nil
}

type TelemetryConfig struct {
	Endpoint string `env:"OTEL_ENDPOINT"`
	Insecure bool   `env:"OTEL_INSECURE" envDefault:"false"`
}

type APIConfig struct {
	DatabaseURL      string `env:"DATABASE_URL" validate:"required"`
	APIPort          string `env:"API_PORT" envDefault:"8001" validate:"required,numeric"`
	InlineLimitBytes int64  `env:"INLINE_LIMIT_BYTES" envDefault:"10485760" validate:"gt=0"`

	Storage   StorageConfig
	Queue     QueueConfig
	Scoring   ScoringConfig
	Telemetry TelemetryConfig
}

type WorkerConfig struct {
	DatabaseURL string `env:"DATABASE_URL" validate:"required"`
	Concurrency int    `env:"CONCURRENCY" envDefault:"1" validate:"gt=0"`

	Storage   StorageConfig
	Queue     QueueConfig
	Inference InferenceConfig
	Scoring   ScoringConfig
	Telemetry TelemetryConfig
}

func (c *WorkerConfig) check() error {
	return checkInferenceTimeout(c.Inference.Timeout, c.Queue.MessageTTL)
}

// LocalConfig runs the API and worker in one process on local disk.
type LocalConfig struct {
	Root             string        `env:"LOCAL_ROOT" envDefault:"./media-analysis-data" validate:"required"`
	APIPort          string        `env:"API_PORT" envDefault:"8001" validate:"required,numeric"`
	InlineLimitBytes int64         `env:"INLINE_LIMIT_BYTES" envDefault:"10485760" validate:"gt=0"`
	Concurrency      int           `env:"CONCURRENCY" envDefault:"1" validate:"gt=0"`
	MessageTTL       time.Duration `env:"QUEUE_MESSAGE_TTL" envDefault:"600000ms" validate:"gt=0"`

	Inference InferenceConfig
	Scoring   ScoringConfig
	Telemetry TelemetryConfig
}

func (c *LocalConfig) check() error {
	return checkInferenceTimeout(c.Inference.Timeout, c.MessageTTL)
}

// checkInferenceTimeout keeps a blocked inference call from outliving half the
// message TTL, so a TTL redelivery cannot overlap the original attempt.
func checkInferenceTimeout(timeout, ttl time.Duration) error {
	if timeout > ttl/2 {
		return fmt.Errorf("INFERENCE_TIMEOUT (%v) must be at most half of QUEUE_MESSAGE_TTL (%v)", timeout, ttl)
	}
	return nil
}

type checker interface {
	check() error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load parses T from the environment and validates it.
func Load[T APIConfig | WorkerConfig | LocalConfig]() (*T, error) {
	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if c, ok := any(&cfg).(checker); ok {
		if err := c.check(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return &cfg, nil
}
