package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"fraud-pipeline/cmd"
	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/database"
	"fraud-pipeline/internal/messaging"
	"fraud-pipeline/internal/metrics"
	"fraud-pipeline/internal/pipeline"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerConfig struct {
	DatabaseURL string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty,required"`
	MetricsPort string `env:"WORKER_METRICS_PORT" envDefault:"9101"`

	Storage  cmd.StorageConfig
	Pipeline cmd.PipelineConfig
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cm, err := config.NewConfigurationManagerFromFile(cfg.Pipeline.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load pipeline config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := cmd.NewStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("Worker: Failed to create storage client: %v", err)
	}
	if err := cmd.EnsureBuckets(ctx, store, cfg.Storage.TrackingBucket, cm.Config().ModelEvalPush.S3BucketName); err != nil {
		log.Fatalf("Worker: %v", err)
	}

	stages, err := cmd.NewStages(cm, db, store, cfg.Storage, cfg.Pipeline)
	if err != nil {
		log.Fatalf("Worker: Failed to build pipeline stages: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to start RabbitMQ consumer: %v", err)
	}

	m := metrics.DefaultPipelineMetrics()
	executor := pipeline.NewExecutor(stages, pipeline.NewDBRecorder(db), m)

	// Stages share the artifact directories on disk, so each worker process
	// runs one stage at a time. Scale out with more processes.
	processor := messaging.NewStageProcessor(executor, publisher, reciever)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":"+cfg.MetricsPort, mux); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Start(ctx)
	}()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	<-ctx.Done()
	log.Println("Shutdown signal received, waiting for the current stage to finish...")

	processor.Stop()
	<-done

	log.Println("Worker process stopped.")
}
