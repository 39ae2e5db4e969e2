package metrics_test

import (
	"testing"
	"time"

	"fraud-pipeline/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPipelineMetrics(t *testing.T) {
	m := metrics.NewPipelineMetrics(prometheus.NewRegistry())

	m.ObserveStage("train", "drift_check", "completed", time.Second)
	m.ObserveStage("train", "drift_check", "completed", time.Second)
	m.ObserveStage("train", "model_train", "failed", time.Second)
	m.ObserveBranch("model_train")
	m.ObservePrediction("Legitimate transaction")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StageRunsTotal.WithLabelValues("train", "drift_check", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageRunsTotal.WithLabelValues("train", "model_train", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BranchDecisionsTotal.WithLabelValues("model_train")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("Legitimate transaction")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.PipelineMetrics
	m.ObserveStage("etl", "extract", "completed", time.Second)
	m.ObserveBranch("end_pipeline")
	m.ObservePrediction("Fraudulent transaction")
}
