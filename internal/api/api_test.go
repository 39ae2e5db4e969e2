package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	backend "fraud-pipeline/internal/api"
	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/core"
	"fraud-pipeline/internal/database"
	"fraud-pipeline/internal/messaging"
	"fraud-pipeline/internal/metrics"
	"fraud-pipeline/internal/pipeline"
	"fraud-pipeline/internal/prediction"
	"fraud-pipeline/internal/storage"
	"fraud-pipeline/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	db     *gorm.DB
	queue  *messaging.InMemoryQueue
	store  *storage.LocalProvider
	cfg    config.PredictionConfig
	router chi.Router
}

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func setup(t *testing.T, create ...any) testEnv {
	env, service := setupService(t, true, create...)
	env.router = chi.NewRouter()
	service.AddRoutes(env.router)
	return env
}

func setupService(t *testing.T, withPredictor bool, create ...any) (testEnv, *backend.BackendService) {
	db := createDB(t, create...)
	queue := messaging.NewInMemoryQueue()
	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	cfg := config.PredictionConfig{
		S3BucketName:       "models",
		S3ModelName:        "model.json",
		S3ArtifactDir:      "production",
		S3PreprocessorName: "preprocessor.json",
		DownloadLocation:   t.TempDir(),
	}

	m := metrics.NewPipelineMetrics(prometheus.NewRegistry())
	executor := pipeline.NewExecutor(pipeline.Stages{}, pipeline.NewDBRecorder(db), m)
	var predictor *prediction.Predictor
	if withPredictor {
		predictor = prediction.NewPredictor(cfg, store)
	}
	service := backend.NewBackendService(db, executor, queue, predictor, m)
	return testEnv{db: db, queue: queue, store: store, cfg: cfg}, service
}

func (env testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env testEnv) publishModel(t *testing.T) {
	dir := t.TempDir()
	pre := &core.Preprocessor{
		Features: core.DefaultFeatures,
		Scaler:   core.StandardScaler{Mean: []float64{0, 0, 0, 0}, Scale: []float64{1, 1, 1, 1}},
	}
	model := &core.Classifier{Features: core.DefaultFeatures, Weights: []float64{1, 0, 0, 0}, Bias: -100}
	require.NoError(t, pre.Save(filepath.Join(dir, "pre.json")))
	require.NoError(t, model.Save(filepath.Join(dir, "model.json")))

	for key, file := range map[string]string{"production/model.json": "model.json", "production/preprocessor.json": "pre.json"} {
		data, err := os.ReadFile(filepath.Join(dir, file))
		require.NoError(t, err)
		require.NoError(t, env.store.PutObject(context.Background(), env.cfg.S3BucketName, key, bytes.NewReader(data)))
	}
}

func TestHealth(t *testing.T) {
	env := setup(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitRun(t *testing.T) {
	env := setup(t)

	body, err := json.Marshal(api.SubmitRunRequest{Pipeline: pipeline.Train})
	require.NoError(t, err)
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var res api.SubmitRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, pipeline.Train, res.Pipeline)
	assert.True(t, strings.HasPrefix(res.RunName, "drift_check_"))
	assert.True(t, strings.HasPrefix(res.ExperimentName, "experiment_"))

	select {
	case task := <-env.queue.Tasks():
		var payload messaging.StageTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.Equal(t, pipeline.StageDriftCheck, payload.Stage)
		assert.Equal(t, res.RunId, payload.Run.RunId)
	default:
		t.Fatal("no stage task was queued")
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/runs/"+res.RunId.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var run api.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, database.JobQueued, run.Status)
	assert.Equal(t, res.RunName, run.RunName)
}

func TestSubmitRunInvalidPipeline(t *testing.T) {
	env := setup(t)

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{"Pipeline":"nightly"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRuns(t *testing.T) {
	now := time.Now().UTC()
	etl := uuid.New()
	train := uuid.New()
	env := setup(t,
		&database.PipelineRun{Id: etl, Pipeline: pipeline.ETL, RunName: "etl_1", Status: database.JobCompleted, CreationTime: now.Add(-time.Hour)},
		&database.PipelineRun{Id: train, Pipeline: pipeline.Train, RunName: "drift_check_1", Status: database.JobFailed, CreationTime: now},
	)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []api.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, train, runs[0].Id)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/runs?pipeline=etl", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	runs = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, etl, runs[0].Id)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/runs?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunErrors(t *testing.T) {
	env := setup(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/runs/"+uuid.New().String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/runs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/experiments/runs/"+uuid.New().String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictForm(t *testing.T) {
	env := setup(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="trans_date_trans_time"`)

	form := url.Values{
		"trans_date_trans_time": {"2020-06-21 12:14:25"},
		"dob":                   {"1968-03-19"},
		"amt":                   {"500"},
		"city_pop":              {"3495"},
		"merch_long":            {"-80.9"},
	}
	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return env.do(t, req)
	}

	rec = post()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no model has been published yet")

	env.publishModel(t)
	rec = post()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), prediction.LabelFraudulent)
}

func TestPredictJSON(t *testing.T) {
	env := setup(t)
	env.publishModel(t)

	body := `{"trans_date_trans_time":"2020-06-21 12:14:25","dob":"1968-03-19","amt":10,"city_pop":3495,"merch_long":-80.9}`
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/predictions", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var res api.PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, prediction.LabelLegitimate, res.Prediction)
	assert.False(t, res.Fraudulent)

	bad := `{"trans_date_trans_time":"soon","dob":"1968-03-19","amt":10}`
	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/predictions", strings.NewReader(bad)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/models/reload", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPredictFormUnderPrefix(t *testing.T) {
	env, service := setupService(t, true)
	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		service.AddRoutes(r)
	})
	env.router = router
	env.publishModel(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/predict", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `action="/predict"`)
	assert.Contains(t, rec.Body.String(), `<form method="post">`)

	form := url.Values{
		"trans_date_trans_time": {"2020-06-21 12:14:25"},
		"dob":                   {"1968-03-19"},
		"amt":                   {"500"},
		"city_pop":              {"3495"},
		"merch_long":            {"-80.9"},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = env.do(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), prediction.LabelFraudulent)
}

func TestPredictionDisabled(t *testing.T) {
	env, service := setupService(t, false)
	env.router = chi.NewRouter()
	service.AddRoutes(env.router)

	body := `{"trans_date_trans_time":"2020-06-21 12:14:25","dob":"1968-03-19","amt":10,"city_pop":3495,"merch_long":-80.9}`
	requests := []*http.Request{
		httptest.NewRequest(http.MethodPost, "/models/reload", nil),
		httptest.NewRequest(http.MethodGet, "/models", nil),
		httptest.NewRequest(http.MethodPost, "/predictions", strings.NewReader(body)),
	}
	for _, req := range requests {
		var rec *httptest.ResponseRecorder
		assert.NotPanics(t, func() { rec = env.do(t, req) })
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, req.URL.Path)
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	form := url.Values{"trans_date_trans_time": {"2020-06-21 12:14:25"}, "dob": {"1968-03-19"}}
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = env.do(t, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "prediction is not configured")
}

func TestListModelArtifacts(t *testing.T) {
	env := setup(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var artifacts []api.ModelArtifact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifacts))
	assert.Empty(t, artifacts)

	env.publishModel(t)
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifacts))
	require.Len(t, artifacts, 2)
	assert.Equal(t, "production/model.json", artifacts[0].Key)
	assert.Equal(t, "production/preprocessor.json", artifacts[1].Key)
}
