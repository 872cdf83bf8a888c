package main

import (
	"context"
	"log"
	"log/slog"
	"media-analysis-backend/cmd"
	"media-analysis-backend/internal/api"
	"media-analysis-backend/internal/config"
	"media-analysis-backend/internal/core"
	"media-analysis-backend/internal/database"
	"media-analysis-backend/internal/messaging"
	"media-analysis-backend/internal/notify"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	cfg, err := config.Load[config.APIConfig]()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	flushTelemetry := cmd.InitTelemetry(cfg.Telemetry, "media-analysis-api")
	defer flushTelemetry()

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	blobs, err := cmd.NewBlobStore(context.Background(), cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to create blob store: %v", err)
	}

	policy, err := cfg.Scoring.Policy()
	if err != nil {
		log.Fatalf("Failed to load scoring policy: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.Queue.RabbitMQURL, messaging.DefaultTopology(cfg.Queue.MessageTTL))
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	registry := core.NewRegistry()
	notifier := notify.NewNotifier()

	// Worker events arrive over the broker and fan out to local subscribers.
	events, err := messaging.NewRabbitMQEventReceiver(cfg.Queue.RabbitMQURL, &core.TrackingSink{Registry: registry, Next: notifier})
	if err != nil {
		log.Fatalf("Failed to subscribe to task events: %v", err)
	}
	defer events.Close()

	gateway := core.NewGateway(db, registry, blobs, publisher, cfg.Storage.BlobPrefix, cfg.InlineLimitBytes)

	// --- Chi Router Setup ---
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	apiHandler := api.NewBackendService(db, gateway, registry, notifier, policy)

	r.Route("/api/v1", apiHandler.AddRoutes)

	// Event streams end when shutdown begins.
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelStreams)

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		if active := registry.Snapshot(); len(active) > 0 {
			slog.Warn("shutting down with tracked tasks", "count", len(active), "tasks", active)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
