package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fraud-pipeline/cmd"
	"fraud-pipeline/internal/api"
	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/database"
	"fraud-pipeline/internal/messaging"
	"fraud-pipeline/internal/metrics"
	"fraud-pipeline/internal/pipeline"
	"fraud-pipeline/internal/prediction"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

type Config struct {
	Root           string `env:"ROOT" envDefault:"./fraud-pipeline"`
	Port           int    `env:"PORT" envDefault:"3001"`
	TrackingBucket string `env:"TRACKING_BUCKET" envDefault:"experiment-tracking"`

	Pipeline cmd.PipelineConfig
}

func createDatabase(root string) *gorm.DB {
	db, err := database.NewDatabase("sqlite://" + filepath.Join(root, "db", "fraud-pipeline.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	return db
}

// createQueue returns an in memory queue holding the entry stage of every
// run that was submitted but never picked up before the last shutdown.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	queue := messaging.NewInMemoryQueue()

	err := cmd.RecoverRuns(context.Background(), db, func(rc pipeline.RunContext, task pipeline.Task) error {
		return queue.PublishStageTask(context.Background(), messaging.NewStageTaskPayload(rc, task))
	})
	if err != nil {
		log.Fatalf("Failed to recover runs: %v", err)
	}

	return queue
}

func createServer(db *gorm.DB, executor *pipeline.Executor, queue messaging.Publisher, predictor *prediction.Predictor, m *metrics.PipelineMetrics, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, executor, queue, predictor, m)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port, "pipeline_config", cfg.Pipeline.ConfigPath)

	cm, err := config.NewConfigurationManagerFromFile(cfg.Pipeline.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load pipeline config: %v", err)
	}

	db := createDatabase(cfg.Root)

	storageCfg := cmd.StorageConfig{
		LocalStorageDir: filepath.Join(cfg.Root, "storage"),
		TrackingBucket:  cfg.TrackingBucket,
	}
	store, err := cmd.NewStorage(storageCfg)
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}
	if err := cmd.EnsureBuckets(context.Background(), store, cfg.TrackingBucket, cm.Config().ModelEvalPush.S3BucketName); err != nil {
		log.Fatalf("%v", err)
	}

	stages, err := cmd.NewStages(cm, db, store, storageCfg, cfg.Pipeline)
	if err != nil {
		log.Fatalf("Failed to build pipeline stages: %v", err)
	}

	predictor, err := cmd.NewPredictor(cm, store)
	if err != nil {
		log.Fatalf("Failed to create predictor: %v", err)
	}

	queue := createQueue(db)

	m := metrics.DefaultPipelineMetrics()
	executor := pipeline.NewExecutor(stages, pipeline.NewDBRecorder(db), m)

	worker := messaging.NewStageProcessor(executor, queue, queue)

	server := createServer(db, executor, queue, predictor, m, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("starting worker")
	go worker.Start(ctx)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		cancel()
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
