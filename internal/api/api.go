package api

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"fraud-pipeline/internal/database"
	"fraud-pipeline/internal/messaging"
	"fraud-pipeline/internal/metrics"
	"fraud-pipeline/internal/pipeline"
	"fraud-pipeline/internal/prediction"
	"fraud-pipeline/internal/tracking"
	"fraud-pipeline/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

const defaultListLimit = 50

type BackendService struct {
	db        *gorm.DB
	executor  *pipeline.Executor
	publisher messaging.Publisher
	predictor *prediction.Predictor
	metrics   *metrics.PipelineMetrics
}

func NewBackendService(db *gorm.DB, executor *pipeline.Executor, pub messaging.Publisher, predictor *prediction.Predictor, m *metrics.PipelineMetrics) *BackendService {
	return &BackendService{db: db, executor: executor, publisher: pub, predictor: predictor, metrics: m}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitRun))
		r.Get("/", RestHandler(s.ListRuns))
		r.Get("/{run_id}", RestHandler(s.GetRun))
	})
	r.Get("/experiments/runs/{run_id}", RestHandler(s.GetExperimentRun))

	r.Get("/predict", s.PredictForm)
	r.Post("/predict", s.PredictForm)
	r.Post("/predictions", RestHandler(s.Predict))
	r.Get("/models", RestHandler(s.ListModelArtifacts))
	r.Post("/models/reload", RestHandler(s.ReloadModel))
}

func (s *BackendService) SubmitRun(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SubmitRunRequest](r)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(pipeline.Pipelines(), req.Pipeline) {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "invalid pipeline '%s', expected one of %v", req.Pipeline, pipeline.Pipelines())
	}

	rc, err := messaging.SubmitRun(r.Context(), s.executor, s.publisher, req.Pipeline)
	if err != nil {
		slog.Error("error submitting pipeline run", "pipeline", req.Pipeline, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue pipeline run")
	}

	slog.Info("submitted pipeline run", "run_id", rc.RunId, "pipeline", rc.Pipeline)
	return api.SubmitRunResponse{
		RunId:          rc.RunId,
		Pipeline:       rc.Pipeline,
		RunName:        rc.RunName,
		ExperimentName: rc.ExperimentName,
	}, nil
}

func (s *BackendService) ListRuns(r *http.Request) (any, error) {
	params, err := ParseRequestForm[api.ListRunsParams](r)
	if err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		params.Limit = defaultListLimit
	}

	query := s.db.WithContext(r.Context()).Order("creation_time DESC").Limit(params.Limit)
	if params.Pipeline != "" {
		query = query.Where("pipeline = ?", params.Pipeline)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}

	var runs []database.PipelineRun
	if err := query.Find(&runs).Error; err != nil {
		slog.Error("error listing pipeline runs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving pipeline runs")
	}
	return convertRuns(runs), nil
}

func (s *BackendService) GetRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := database.GetPipelineRun(r.Context(), s.db, runId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "pipeline run not found")
		}
		slog.Error("error getting pipeline run", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving pipeline run")
	}
	return convertRun(run), nil
}

func (s *BackendService) GetExperimentRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := tracking.GetRun(r.Context(), s.db, runId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "experiment run not found")
		}
		slog.Error("error getting experiment run", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving experiment run")
	}
	return convertExperimentRun(run), nil
}
