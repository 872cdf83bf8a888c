package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"media-analysis-backend/cmd"
	"media-analysis-backend/internal/api"
	"media-analysis-backend/internal/config"
	"media-analysis-backend/internal/core"
	"media-analysis-backend/internal/core/scoring"
	"media-analysis-backend/internal/database"
	"media-analysis-backend/internal/inference"
	"media-analysis-backend/internal/messaging"
	"media-analysis-backend/internal/notify"
	"media-analysis-backend/internal/storage"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

const blobRoute = "/blobs"

func createServer(db *gorm.DB, gateway *core.Gateway, registry *core.Registry, notifier *notify.Notifier, policy *scoring.Policy, blobDir, port string) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300, // Cache preflight response for 5 minutes
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	apiHandler := api.NewBackendService(db, gateway, registry, notifier, policy)

	r.Route("/api/v1", apiHandler.AddRoutes)

	// Uploaded media and result images, addressed by the URLs the local store hands out.
	r.Handle(blobRoute+"/*", http.StripPrefix(blobRoute, http.FileServer(http.Dir(blobDir))))

	// Event streams end when shutdown begins.
	baseCtx, cancel := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:        ":" + port,
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancel)

	return server
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.Load[config.LocalConfig]()
	if err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.APIPort, "inference_url", cfg.Inference.URL)

	flushTelemetry := cmd.InitTelemetry(cfg.Telemetry, "media-analysis-local")
	defer flushTelemetry()

	dbPath := filepath.Join(cfg.Root, "db", "media-analysis.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := database.NewSqliteDatabase(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	blobDir := filepath.Join(cfg.Root, "blobs")
	blobs, err := storage.NewLocalObjectStore(blobDir, fmt.Sprintf("http://localhost:%s%s", cfg.APIPort, blobRoute))
	if err != nil {
		log.Fatalf("Failed to create blob store: %v", err)
	}
	if err := blobs.CreateBucket(context.Background()); err != nil {
		log.Fatalf("Failed to create blob directory: %v", err)
	}

	policy, err := cfg.Scoring.Policy()
	if err != nil {
		log.Fatalf("Failed to load scoring policy: %v", err)
	}

	queue := messaging.NewInMemoryQueue(cfg.MessageTTL)

	registry := core.NewRegistry()
	notifier := notify.NewNotifier()
	events := &core.TrackingSink{Registry: registry, Next: notifier}

	gateway := core.NewGateway(db, registry, blobs, queue, core.DefaultBlobPrefix, cfg.InlineLimitBytes)

	analyzer := inference.NewClient(cfg.Inference.URL, cfg.Inference.Timeout)
	worker := core.NewTaskProcessor(db, blobs, queue, analyzer, policy, events, cfg.Concurrency)

	server := createServer(db, gateway, registry, notifier, policy, blobDir, cfg.APIPort)

	slog.Info("starting worker")
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Start()
	}()

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	<-workerDone
	if dead := queue.DeadLetters(); len(dead) > 0 {
		slog.Warn("tasks left in dead-letter list", "count", len(dead))
	}

	slog.Info("server stopped")
}
