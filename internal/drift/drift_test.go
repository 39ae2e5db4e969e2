package drift_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/drift"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideBranch(t *testing.T) {
	// A low share selects retraining; this mirrors the deployed comparison.
	assert.Equal(t, drift.BranchTrain, drift.DecideBranch(0.1))
	assert.Equal(t, drift.BranchTrain, drift.DecideBranch(0.2))
	assert.Equal(t, drift.BranchTrain, drift.DecideBranch(0))
	assert.Equal(t, drift.BranchEnd, drift.DecideBranch(0.21))
	assert.Equal(t, drift.BranchEnd, drift.DecideBranch(1))

	for i := 0; i < 10; i++ {
		assert.Equal(t, drift.BranchTrain, drift.DecideBranch(0.1))
	}
}

type recordingTracker struct {
	experiment string
	runName    string
	metrics    map[string]float64
	artifacts  []string
	ended      string
}

func (r *recordingTracker) StartRun(ctx context.Context, experiment, runName string) (uuid.UUID, error) {
	r.experiment, r.runName = experiment, runName
	r.metrics = map[string]float64{}
	return uuid.New(), nil
}

func (r *recordingTracker) LogMetric(ctx context.Context, runId uuid.UUID, name string, value float64) error {
	r.metrics[name] = value
	return nil
}

func (r *recordingTracker) LogArtifact(ctx context.Context, runId uuid.UUID, localPath, artifactPath string) error {
	r.artifacts = append(r.artifacts, artifactPath+":"+filepath.Base(localPath))
	return nil
}

func (r *recordingTracker) EndRun(ctx context.Context, runId uuid.UUID, status string) error {
	r.ended = status
	return nil
}

func writeCSV(t *testing.T, path string, offset int) {
	var b strings.Builder
	b.WriteString("amt,age,is_fraud\n")
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&b, "%d,%d,%d\n", i+offset, 30+i%20, i%2)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
}

func driftConfig(dir string) config.DataDriftConfig {
	return config.DataDriftConfig{
		DirName:             filepath.Join(dir, "drift"),
		FileName:            "report.html",
		ReferenceDataPath:   filepath.Join(dir, "reference.csv"),
		TransformedDataPath: filepath.Join(dir, "current.csv"),
	}
}

func TestDetectWithoutDriftTrains(t *testing.T) {
	dir := t.TempDir()
	cfg := driftConfig(dir)
	writeCSV(t, cfg.ReferenceDataPath, 0)
	writeCSV(t, cfg.TransformedDataPath, 0)

	tracker := &recordingTracker{}
	decision, err := drift.NewDataDrift(cfg, tracker).Detect(context.Background(), "experiment_x", "drift_check_x")
	require.NoError(t, err)

	assert.Equal(t, drift.BranchTrain, decision.Branch)
	assert.Zero(t, decision.Share)
	assert.FileExists(t, decision.ReportPath)
	assert.Equal(t, "experiment_x", tracker.experiment)
	assert.Equal(t, "drift_check_x", tracker.runName)
	assert.Equal(t, []string{"evidently_report:report.html"}, tracker.artifacts)
	assert.Equal(t, "COMPLETED", tracker.ended)
}

func TestDetectWithDriftEnds(t *testing.T) {
	dir := t.TempDir()
	cfg := driftConfig(dir)
	writeCSV(t, cfg.ReferenceDataPath, 0)
	writeCSV(t, cfg.TransformedDataPath, 5000)

	decision, err := drift.NewDataDrift(cfg, &recordingTracker{}).Detect(context.Background(), "e", "r")
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, decision.Share, 1e-9)
	assert.Equal(t, drift.BranchEnd, decision.Branch)
}

func TestDetectMissingReferenceUsesCurrent(t *testing.T) {
	dir := t.TempDir()
	cfg := driftConfig(dir)
	writeCSV(t, cfg.TransformedDataPath, 0)

	decision, err := drift.NewDataDrift(cfg, &recordingTracker{}).Detect(context.Background(), "e", "r")
	require.NoError(t, err)
	assert.Equal(t, drift.BranchTrain, decision.Branch)
}

func TestDetectMissingCurrentFails(t *testing.T) {
	_, err := drift.NewDataDrift(driftConfig(t.TempDir()), &recordingTracker{}).Detect(context.Background(), "e", "r")
	assert.Error(t, err)
}
