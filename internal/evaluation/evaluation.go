package evaluation

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"fraud-pipeline/internal/artifacts"
	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/storage"
)

type Outcome struct {
	Pushed          bool
	ModelKey        string
	PreprocessorKey string
}

type ModelEvalPush struct {
	cfg   config.ModelEvalPushConfig
	store storage.Provider
}

func NewModelEvalPush(cfg config.ModelEvalPushConfig, store storage.Provider) *ModelEvalPush {
	return &ModelEvalPush{cfg: cfg, store: store}
}

func (m *ModelEvalPush) ModelKey() string {
	return storage.ArtifactKey(m.cfg.S3ArtifactDir, m.cfg.S3ModelName)
}

func (m *ModelEvalPush) PreprocessorKey() string {
	return storage.ArtifactKey(m.cfg.S3ArtifactDir, m.cfg.S3PreprocessorName)
}

// Initiate publishes the trained model and the fitted preprocessor when the
// model's f1 reaches the expected score. Nothing touches the store otherwise.
func (m *ModelEvalPush) Initiate(ctx context.Context, result artifacts.TrainingResult) (Outcome, error) {
	if result.F1 < m.cfg.ExpectedScore {
		slog.Info("model below expected score, skipping push", "f1", result.F1, "expected_score", m.cfg.ExpectedScore)
		return Outcome{}, nil
	}

	// Both files are read before anything is uploaded so a missing
	// preprocessor does not leave a lone model in the bucket.
	model, err := os.ReadFile(result.TrainedModelPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("error reading trained model: %w", err)
	}
	preprocessor, err := os.ReadFile(m.cfg.PreprocessorObjectPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("error reading preprocessor: %w", err)
	}

	outcome := Outcome{Pushed: true, ModelKey: m.ModelKey(), PreprocessorKey: m.PreprocessorKey()}

	if err := m.store.PutObject(ctx, m.cfg.S3BucketName, outcome.ModelKey, bytes.NewReader(model)); err != nil {
		return Outcome{}, fmt.Errorf("error uploading model to %s/%s: %w", m.cfg.S3BucketName, outcome.ModelKey, err)
	}
	if err := m.store.PutObject(ctx, m.cfg.S3BucketName, outcome.PreprocessorKey, bytes.NewReader(preprocessor)); err != nil {
		return Outcome{}, fmt.Errorf("error uploading preprocessor to %s/%s: %w", m.cfg.S3BucketName, outcome.PreprocessorKey, err)
	}

	slog.Info("model pushed", "bucket", m.cfg.S3BucketName, "model_key", outcome.ModelKey, "preprocessor_key", outcome.PreprocessorKey, "f1", result.F1)
	return outcome, nil
}
