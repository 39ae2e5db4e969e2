package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/database"
	"fraud-pipeline/internal/drift"
	"fraud-pipeline/internal/evaluation"
	"fraud-pipeline/internal/ingest"
	"fraud-pipeline/internal/pipeline"
	"fraud-pipeline/internal/prediction"
	"fraud-pipeline/internal/storage"
	"fraud-pipeline/internal/tracking"
	"fraud-pipeline/internal/training"
	"fraud-pipeline/internal/transform"
	"fraud-pipeline/internal/versioning"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

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

// StorageConfig selects the blob store. LOCAL_STORAGE_DIR takes precedence
// over the S3 settings.
type StorageConfig struct {
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	LocalStorageDir   string `env:"LOCAL_STORAGE_DIR"`
	TrackingBucket    string `env:"TRACKING_BUCKET" envDefault:"experiment-tracking"`
}

type PipelineConfig struct {
	ConfigPath      string        `env:"PIPELINE_CONFIG" envDefault:"config/config.yaml"`
	DownloadTimeout time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"30m"`
}

func NewStorage(cfg StorageConfig) (storage.Provider, error) {
	if cfg.LocalStorageDir != "" {
		slog.Info("using local storage", "dir", cfg.LocalStorageDir)
		return storage.NewLocalProvider(cfg.LocalStorageDir)
	}
	return storage.NewS3Provider(storage.S3ProviderConfig{
		S3EndpointURL:     cfg.S3EndpointURL,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		S3Region:          cfg.S3Region,
	})
}

// EnsureBuckets creates every non-empty bucket name that does not exist yet.
func EnsureBuckets(ctx context.Context, store storage.Provider, buckets ...string) error {
	for _, bucket := range buckets {
		if bucket == "" {
			continue
		}
		if err := store.CreateBucket(ctx, bucket); err != nil {
			return fmt.Errorf("error creating bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// NewStages builds the executor for every stage of both pipelines. Each
// stage section of the config is validated here, so a broken config fails
// the process at startup instead of the first run that reaches it.
func NewStages(cm *config.ConfigurationManager, db *gorm.DB, store storage.Provider, scfg StorageConfig, pcfg PipelineConfig) (pipeline.Stages, error) {
	ingestCfg, err := cm.DataIngestion()
	if err != nil {
		return pipeline.Stages{}, err
	}
	transformCfg, err := cm.DataTransformation()
	if err != nil {
		return pipeline.Stages{}, err
	}
	driftCfg, err := cm.DataDrift()
	if err != nil {
		return pipeline.Stages{}, err
	}
	trainCfg, err := cm.ModelTraining()
	if err != nil {
		return pipeline.Stages{}, err
	}
	pushCfg, err := cm.ModelEvalPush()
	if err != nil {
		return pipeline.Stages{}, err
	}

	pwd, err := os.Getwd()
	if err != nil {
		return pipeline.Stages{}, fmt.Errorf("error getting working directory: %w", err)
	}

	fetcher := &ingest.AutoFetcher{
		HTTP:   ingest.NewHTTPFetcher(pcfg.DownloadTimeout, os.Stderr),
		Getter: ingest.NewGetterFetcher(pwd),
	}
	tracker := tracking.NewDBTracker(db, store, scfg.TrackingBucket)

	return pipeline.Stages{
		Ingestion:      ingest.NewDataIngestion(ingestCfg, fetcher, ingest.ZipExtractor{}),
		Transformation: transform.NewDataTransformation(transformCfg),
		Drift:          drift.NewDataDrift(driftCfg, tracker),
		Trainer:        training.NewModelTrainer(trainCfg, tracker),
		EvalPush:       evaluation.NewModelEvalPush(pushCfg, store),
		Versioner:      versioning.New(cm.Versioning()),
	}, nil
}

// NewPredictor returns nil when the prediction section is absent so that a
// process can still serve the run endpoints.
func NewPredictor(cm *config.ConfigurationManager, store storage.Provider) (*prediction.Predictor, error) {
	cfg, err := cm.Prediction()
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			slog.Warn("prediction disabled", "error", err)
			return nil, nil
		}
		return nil, err
	}
	return prediction.NewPredictor(cfg, store), nil
}

// RecoverRuns re-queues runs that never started and fails runs that were
// interrupted mid-stage, since their stage outputs were lost with the
// process.
func RecoverRuns(ctx context.Context, db *gorm.DB, publish func(pipeline.RunContext, pipeline.Task) error) error {
	var runs []database.PipelineRun
	if err := db.WithContext(ctx).Where("status IN ?", []string{database.JobQueued, database.JobRunning}).Find(&runs).Error; err != nil {
		return fmt.Errorf("error fetching unfinished runs: %w", err)
	}

	for _, run := range runs {
		if run.Status == database.JobRunning {
			slog.Warn("failing interrupted run", "run_id", run.Id, "pipeline", run.Pipeline)
			if err := database.FailPipelineRun(ctx, db, run.Id, "run interrupted by restart"); err != nil {
				return err
			}
			continue
		}

		g, err := pipeline.GraphFor(run.Pipeline)
		if err != nil {
			return err
		}
		rc := pipeline.RunContext{
			RunId:          run.Id,
			Pipeline:       run.Pipeline,
			RunName:        run.RunName,
			ExperimentName: run.ExperimentName,
			StartedAt:      run.CreationTime,
		}
		slog.Info("re-queueing run", "run_id", run.Id, "pipeline", run.Pipeline)
		if err := publish(rc, pipeline.Task{Stage: g.Entry}); err != nil {
			return fmt.Errorf("error re-queueing run %s: %w", run.Id, err)
		}
	}
	return nil
}
