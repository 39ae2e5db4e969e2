package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"fraud-pipeline/cmd"
	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/database"
	"fraud-pipeline/internal/metrics"
	"fraud-pipeline/internal/pipeline"

	"github.com/caarlos0/env/v11"
)

type RunConfig struct {
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://artifacts/pipeline.db"`

	Storage  cmd.StorageConfig
	Pipeline cmd.PipelineConfig
}

func main() {
	var name string
	flag.StringVar(&name, "pipeline", pipeline.ETL, "pipeline to run (etl or train)")

	cmd.LoadEnvFile()

	if !slices.Contains(pipeline.Pipelines(), name) {
		log.Fatalf("unknown pipeline %q, expected one of %v", name, pipeline.Pipelines())
	}

	var cfg RunConfig
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
		log.Fatalf("Failed to create storage: %v", err)
	}
	if err := cmd.EnsureBuckets(ctx, store, cfg.Storage.TrackingBucket, cm.Config().ModelEvalPush.S3BucketName); err != nil {
		log.Fatalf("%v", err)
	}

	stages, err := cmd.NewStages(cm, db, store, cfg.Storage, cfg.Pipeline)
	if err != nil {
		log.Fatalf("Failed to build pipeline stages: %v", err)
	}

	executor := pipeline.NewExecutor(stages, pipeline.NewDBRecorder(db), metrics.DefaultPipelineMetrics())

	summary, err := pipeline.NewRunner(executor).Run(ctx, name)
	if err != nil {
		slog.Error("pipeline run failed", "pipeline", name, "run_id", summary.Run.RunId, "error", err)
		os.Exit(1)
	}

	slog.Info("pipeline run finished", "pipeline", name, "run_id", summary.Run.RunId, "run_name", summary.Run.RunName, "stages", summary.Stages, "branch", summary.Branch)
}
