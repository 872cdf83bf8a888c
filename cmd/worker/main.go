package main

import (
	"context"
	"log"
	"media-analysis-backend/cmd"
	"media-analysis-backend/internal/config"
	"media-analysis-backend/internal/core"
	"media-analysis-backend/internal/database"
	"media-analysis-backend/internal/inference"
	"media-analysis-backend/internal/messaging"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.Load[config.WorkerConfig]()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	flushTelemetry := cmd.InitTelemetry(cfg.Telemetry, "media-analysis-worker")
	defer flushTelemetry()

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	blobs, err := cmd.NewBlobStore(context.Background(), cfg.Storage)
	if err != nil {
		log.Fatalf("Worker: Failed to create blob store: %v", err)
	}

	policy, err := cfg.Scoring.Policy()
	if err != nil {
		log.Fatalf("Failed to load scoring policy: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.Queue.RabbitMQURL, messaging.DefaultTopology(cfg.Queue.MessageTTL), cfg.Concurrency)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	events, err := messaging.NewRabbitMQEventPublisher(cfg.Queue.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to create event publisher: %v", err)
	}
	defer events.Close()

	analyzer := inference.NewClient(cfg.Inference.URL, cfg.Inference.Timeout)

	worker := core.NewTaskProcessor(db, blobs, receiver, analyzer, policy, events, cfg.Concurrency)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Start()
	}()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, waiting for workers to finish...")

	worker.Stop()
	<-done

	log.Println("Worker process stopped.")
}
