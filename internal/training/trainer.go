package training

import (
	"context"
	"fmt"
	"log/slog"

	"fraud-pipeline/internal/artifacts"
	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/core"
	"fraud-pipeline/internal/database"
	"fraud-pipeline/internal/tracking"
)

type TrainingError struct {
	Err error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("model training failed: %v", e.Err)
}

func (e *TrainingError) Unwrap() error {
	return e.Err
}

const RunName = "model_training"

type ModelTrainer struct {
	cfg     config.ModelTrainingConfig
	tracker tracking.Tracker
}

func NewModelTrainer(cfg config.ModelTrainingConfig, tracker tracking.Tracker) *ModelTrainer {
	return &ModelTrainer{cfg: cfg, tracker: tracker}
}

// ExperimentName is the tracker experiment training results are logged to.
func ExperimentName(runExperiment string) string {
	return runExperiment + "_model_training"
}

// Initiate fits and persists a model. Unlike ingestion and transformation it
// has no status flag: every failure is returned as a *TrainingError.
func (m *ModelTrainer) Initiate(ctx context.Context, experiment string) (artifacts.TrainingResult, error) {
	result, metrics, err := m.train()
	if err != nil {
		slog.Error("model training failed", "error", err)
		return artifacts.TrainingResult{}, &TrainingError{Err: err}
	}

	if err := m.logRun(ctx, ExperimentName(experiment), metrics); err != nil {
		return artifacts.TrainingResult{}, &TrainingError{Err: err}
	}
	return result, nil
}

func (m *ModelTrainer) train() (artifacts.TrainingResult, core.Metrics, error) {
	table, err := core.ReadCSV(m.cfg.TrainingDataPath)
	if err != nil {
		return artifacts.TrainingResult{}, core.Metrics{}, err
	}

	rawLabels, err := table.Column(m.cfg.TargetColumn)
	if err != nil {
		return artifacts.TrainingResult{}, core.Metrics{}, err
	}
	labels := make([]int, len(rawLabels))
	for i, raw := range rawLabels {
		if labels[i], err = core.NormalizeLabel(raw); err != nil {
			return artifacts.TrainingResult{}, core.Metrics{}, fmt.Errorf("row %d: %w", i+1, err)
		}
	}

	var features []string
	for _, col := range table.Columns {
		if col != m.cfg.TargetColumn {
			features = append(features, col)
		}
	}
	x, err := table.Matrix(features)
	if err != nil {
		return artifacts.TrainingResult{}, core.Metrics{}, err
	}

	split, err := core.TrainTestSplit(x, labels, m.cfg.TrainTestRatio, core.SplitSeed)
	if err != nil {
		return artifacts.TrainingResult{}, core.Metrics{}, err
	}

	model, err := core.Fit(features, split.TrainX, split.TrainY, core.TrainOptions{
		MaxIterations: m.cfg.MaxIterations,
		LearningRate:  m.cfg.LearningRate,
	})
	if err != nil {
		return artifacts.TrainingResult{}, core.Metrics{}, err
	}

	predicted, err := model.PredictAll(split.TestX)
	if err != nil {
		return artifacts.TrainingResult{}, core.Metrics{}, err
	}
	metrics := core.Score(split.TestY, predicted)

	if err := model.Save(m.cfg.TrainedModelPath); err != nil {
		return artifacts.TrainingResult{}, core.Metrics{}, err
	}

	slog.Info("model trained", "accuracy", metrics.Accuracy, "f1", metrics.F1, "precision", metrics.Precision, "recall", metrics.Recall, "model", m.cfg.TrainedModelPath)
	return artifacts.TrainingResult{
		TrainedModelPath: m.cfg.TrainedModelPath,
		F1:               metrics.F1,
		Precision:        metrics.Precision,
		Recall:           metrics.Recall,
	}, metrics, nil
}

func (m *ModelTrainer) logRun(ctx context.Context, experiment string, metrics core.Metrics) error {
	runId, err := m.tracker.StartRun(ctx, experiment, RunName)
	if err != nil {
		return err
	}

	status := database.JobCompleted
	defer func() {
		if err := m.tracker.EndRun(ctx, runId, status); err != nil {
			slog.Error("error ending tracker run", "run_id", runId, "error", err)
		}
	}()

	for _, metric := range []struct {
		name  string
		value float64
	}{
		{"f1_score", metrics.F1},
		{"precision_score", metrics.Precision},
		{"recall_score", metrics.Recall},
		{"accuracy", metrics.Accuracy},
	} {
		if err := m.tracker.LogMetric(ctx, runId, metric.name, metric.value); err != nil {
			status = database.JobFailed
			return err
		}
	}

	if err := m.tracker.LogArtifact(ctx, runId, m.cfg.TrainedModelPath, "model"); err != nil {
		status = database.JobFailed
		return err
	}
	return nil
}
