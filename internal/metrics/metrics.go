package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PipelineMetrics struct {
	StageRunsTotal       *prometheus.CounterVec
	StageSeconds         *prometheus.HistogramVec
	BranchDecisionsTotal *prometheus.CounterVec
	PredictionsTotal     *prometheus.CounterVec
}

func DefaultPipelineMetrics() *PipelineMetrics {
	return NewPipelineMetrics(prometheus.DefaultRegisterer)
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)

	return &PipelineMetrics{
		StageRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraud_pipeline_stage_runs_total",
				Help: "Pipeline stage executions by outcome",
			},
			[]string{"pipeline", "stage", "status"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fraud_pipeline_stage_seconds",
				Help:    "Wall time spent executing a pipeline stage",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800},
			},
			[]string{"pipeline", "stage"},
		),
		BranchDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraud_pipeline_branch_decisions_total",
				Help: "Branch tokens chosen by the drift check",
			},
			[]string{"branch"},
		),
		PredictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraud_pipeline_predictions_total",
				Help: "Predictions served by label",
			},
			[]string{"label"},
		),
	}
}

// The recorders below are safe on a nil receiver so metrics stay optional.

func (m *PipelineMetrics) ObserveStage(pipeline, stage, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StageRunsTotal.WithLabelValues(pipeline, stage, status).Inc()
	m.StageSeconds.WithLabelValues(pipeline, stage).Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) ObserveBranch(branch string) {
	if m == nil {
		return
	}
	m.BranchDecisionsTotal.WithLabelValues(branch).Inc()
}

func (m *PipelineMetrics) ObservePrediction(label string) {
	if m == nil {
		return
	}
	m.PredictionsTotal.WithLabelValues(label).Inc()
}
