package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"media-analysis-backend/internal/config"
	"media-analysis-backend/internal/storage"
	"media-analysis-backend/internal/telemetry"
	"time"

	"github.com/joho/godotenv"
)

const Version = "0.1.0"

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// NewBlobStore connects to the configured S3 bucket, creating it if needed.
func NewBlobStore(ctx context.Context, cfg config.StorageConfig) (*storage.S3ObjectStore, error) {
	store, err := storage.NewS3ObjectStore(cfg.BlobBucket, cfg.S3())
	if err != nil {
		return nil, fmt.Errorf("error creating blob store: %w", err)
	}

	if err := store.CreateBucket(ctx); err != nil {
		return nil, fmt.Errorf("error creating bucket %s: %w", cfg.BlobBucket, err)
	}

	return store, nil
}

// InitTelemetry installs the OTLP providers and returns a func that flushes
// them on shutdown.
func InitTelemetry(cfg config.TelemetryConfig, service string) func() {
	shutdown, err := telemetry.Init(context.Background(), cfg.Endpoint, service, Version, cfg.Insecure)
	if err != nil {
		log.Fatalf("error initializing telemetry: %v", err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Error("error flushing telemetry", "error", err)
		}
	}
}
