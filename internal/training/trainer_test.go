package training_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/core"
	"fraud-pipeline/internal/training"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryTracker struct {
	experiments []string
	metrics     map[string]float64
	artifacts   []string
	failMetrics bool
}

func (m *memoryTracker) StartRun(ctx context.Context, experiment, runName string) (uuid.UUID, error) {
	m.experiments = append(m.experiments, experiment)
	if m.metrics == nil {
		m.metrics = map[string]float64{}
	}
	return uuid.New(), nil
}

func (m *memoryTracker) LogMetric(ctx context.Context, runId uuid.UUID, name string, value float64) error {
	if m.failMetrics {
		return errors.New("tracker unavailable")
	}
	m.metrics[name] = value
	return nil
}

func (m *memoryTracker) LogArtifact(ctx context.Context, runId uuid.UUID, localPath, artifactPath string) error {
	m.artifacts = append(m.artifacts, localPath)
	return nil
}

func (m *memoryTracker) EndRun(ctx context.Context, runId uuid.UUID, status string) error {
	return nil
}

func writeTrainingData(t *testing.T, path string) {
	var b strings.Builder
	b.WriteString("amt,age,city_pop,merch_long,is_fraud\n")
	for i := 0; i < 200; i++ {
		amt := float64(i%100)/25 - 2
		label := 0
		if amt > 0 {
			label = 1
		}
		fmt.Fprintf(&b, "%g,%g,%g,%g,%d\n", amt, float64(i%7)/7, float64(i%5)/5, float64(i%3)/3, label)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
}

func trainingConfig(dir string) config.ModelTrainingConfig {
	return config.ModelTrainingConfig{
		DirName:          dir,
		TrainingDataPath: filepath.Join(dir, "train.csv"),
		TrainedModelPath: filepath.Join(dir, "model", "model.json"),
		TrainTestRatio:   0.2,
		TargetColumn:     "is_fraud",
		MaxIterations:    300,
		LearningRate:     0.5,
	}
}

func TestModelTrainer(t *testing.T) {
	dir := t.TempDir()
	cfg := trainingConfig(dir)
	writeTrainingData(t, cfg.TrainingDataPath)

	tracker := &memoryTracker{}
	result, err := training.NewModelTrainer(cfg, tracker).Initiate(context.Background(), "experiment_20250101_000000")
	require.NoError(t, err)

	assert.Equal(t, cfg.TrainedModelPath, result.TrainedModelPath)
	assert.Greater(t, result.F1, 0.8)
	assert.FileExists(t, result.TrainedModelPath)

	model, err := core.LoadClassifier(result.TrainedModelPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"amt", "age", "city_pop", "merch_long"}, model.Features)

	assert.Equal(t, []string{"experiment_20250101_000000_model_training"}, tracker.experiments)
	assert.Equal(t, result.F1, tracker.metrics["f1_score"])
	assert.Contains(t, tracker.metrics, "accuracy")
	assert.Equal(t, []string{cfg.TrainedModelPath}, tracker.artifacts)
}

func TestModelTrainerFailsFast(t *testing.T) {
	cfg := trainingConfig(t.TempDir())

	_, err := training.NewModelTrainer(cfg, &memoryTracker{}).Initiate(context.Background(), "e")
	var trainingErr *training.TrainingError
	require.True(t, errors.As(err, &trainingErr))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestModelTrainerTrackerFailureIsTrainingError(t *testing.T) {
	dir := t.TempDir()
	cfg := trainingConfig(dir)
	writeTrainingData(t, cfg.TrainingDataPath)

	_, err := training.NewModelTrainer(cfg, &memoryTracker{failMetrics: true}).Initiate(context.Background(), "e")
	var trainingErr *training.TrainingError
	assert.True(t, errors.As(err, &trainingErr))
}
