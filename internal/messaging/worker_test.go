package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fraud-pipeline/internal/artifacts"
	"fraud-pipeline/internal/database"
	"fraud-pipeline/internal/messaging"
	"fraud-pipeline/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type staticIngestor struct {
	result artifacts.IngestionResult
}

func (s staticIngestor) Initiate(ctx context.Context) (artifacts.IngestionResult, error) {
	return s.result, nil
}

type passTransformer struct {
	inputs []artifacts.IngestionResult
}

func (p *passTransformer) Initiate(input artifacts.IngestionResult) artifacts.TransformationResult {
	p.inputs = append(p.inputs, input)
	return artifacts.TransformationResult{TransformedObjectPath: "pre.json", TransformedDataPath: "data.csv", Succeeded: true}
}

type fakeTask struct {
	queue   string
	payload []byte
	result  string
}

func (t *fakeTask) Type() string    { return t.queue }
func (t *fakeTask) Payload() []byte { return t.payload }
func (t *fakeTask) Ack() error      { t.result = "ack"; return nil }
func (t *fakeTask) Nack() error     { t.result = "nack"; return nil }
func (t *fakeTask) Reject() error   { t.result = "reject"; return nil }

type failingRecorder struct {
	pipeline.NopRecorder
}

func (failingRecorder) StageStarted(context.Context, pipeline.RunContext, string, artifacts.Envelope) error {
	return errors.New("database unavailable")
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "runs.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())
	return db
}

// drain processes queued tasks until the queue is empty and returns the
// stages in the order they ran.
func drain(t *testing.T, proc *messaging.StageProcessor, queue *messaging.InMemoryQueue) []string {
	var stages []string
	for {
		select {
		case task := <-queue.Tasks():
			payload := decodePayload(t, task)
			stages = append(stages, payload.Stage)
			proc.ProcessTask(context.Background(), task)
		default:
			return stages
		}
	}
}

func decodePayload(t *testing.T, task messaging.Task) messaging.StageTaskPayload {
	var payload messaging.StageTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	return payload
}

func TestETLThroughQueue(t *testing.T) {
	db := setupDB(t)
	queue := messaging.NewInMemoryQueue()
	transformer := &passTransformer{}
	exec := pipeline.NewExecutor(pipeline.Stages{
		Ingestion:      staticIngestor{result: artifacts.IngestionResult{UnzippedFilePath: "unzipped/fraud.csv", Succeeded: true}},
		Transformation: transformer,
	}, pipeline.NewDBRecorder(db), nil)
	proc := messaging.NewStageProcessor(exec, queue, queue)

	rc, err := messaging.SubmitRun(context.Background(), exec, queue, pipeline.ETL)
	require.NoError(t, err)

	stages := drain(t, proc, queue)
	assert.Equal(t, []string{"extract", "dvc_version_raw_data", "transform", "load"}, stages)
	assert.Equal(t, []artifacts.IngestionResult{{UnzippedFilePath: "unzipped/fraud.csv", Succeeded: true}}, transformer.inputs)

	run, err := database.GetPipelineRun(context.Background(), db, rc.RunId)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, run.Status)
	assert.Len(t, run.Stages, 4)
}

func TestStageFailureIsAcked(t *testing.T) {
	db := setupDB(t)
	queue := messaging.NewInMemoryQueue()
	exec := pipeline.NewExecutor(pipeline.Stages{
		Ingestion: staticIngestor{result: artifacts.IngestionResult{UnzippedFilePath: "unzipped/fraud.csv"}},
	}, pipeline.NewDBRecorder(db), nil)
	proc := messaging.NewStageProcessor(exec, queue, queue)

	rc, err := messaging.SubmitRun(context.Background(), exec, queue, pipeline.ETL)
	require.NoError(t, err)

	queued := <-queue.Tasks()
	task := &fakeTask{queue: queued.Type(), payload: queued.Payload()}
	proc.ProcessTask(context.Background(), task)

	assert.Equal(t, "ack", task.result)
	assert.Empty(t, drain(t, proc, queue))

	run, err := database.GetPipelineRun(context.Background(), db, rc.RunId)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, run.Status)
}

func TestRecorderFailureIsNacked(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	exec := pipeline.NewExecutor(pipeline.Stages{}, failingRecorder{}, nil)
	proc := messaging.NewStageProcessor(exec, queue, queue)

	rc, err := pipeline.NewRunContext(pipeline.Train, time.Now())
	require.NoError(t, err)
	body, err := json.Marshal(messaging.NewStageTaskPayload(rc, pipeline.Task{Stage: pipeline.StageDriftCheck}))
	require.NoError(t, err)

	task := &fakeTask{queue: messaging.StageQueue, payload: body}
	proc.ProcessTask(context.Background(), task)
	assert.Equal(t, "nack", task.result)
}

func TestMalformedTasksAreRejected(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	proc := messaging.NewStageProcessor(pipeline.NewExecutor(pipeline.Stages{}, nil, nil), queue, queue)

	malformed := &fakeTask{queue: messaging.StageQueue, payload: []byte("{not json")}
	proc.ProcessTask(context.Background(), malformed)
	assert.Equal(t, "reject", malformed.result)

	unknown := &fakeTask{queue: "retired_queue", payload: []byte("{}")}
	proc.ProcessTask(context.Background(), unknown)
	assert.Equal(t, "reject", unknown.result)
}

func TestStartStopsOnClose(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	proc := messaging.NewStageProcessor(pipeline.NewExecutor(pipeline.Stages{}, nil, nil), queue, queue)

	done := make(chan struct{})
	go func() {
		proc.Start(context.Background())
		close(done)
	}()

	proc.Stop()
	<-done
}

func TestPublishAfterClose(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	queue.Close()
	queue.Close()

	rc, err := pipeline.NewRunContext(pipeline.Train, time.Now())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		err = queue.PublishStageTask(context.Background(), messaging.NewStageTaskPayload(rc, pipeline.Task{Stage: pipeline.StageModelTrain}))
	})
	assert.ErrorIs(t, err, messaging.ErrQueueClosed)
}

func TestCloseUnblocksFullQueue(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	rc, err := pipeline.NewRunContext(pipeline.ETL, time.Now())
	require.NoError(t, err)
	payload := messaging.NewStageTaskPayload(rc, pipeline.Task{Stage: pipeline.StageExtract})

	for i := 0; i < 100; i++ {
		require.NoError(t, queue.PublishStageTask(context.Background(), payload))
	}

	errs := make(chan error, 1)
	go func() {
		errs <- queue.PublishStageTask(context.Background(), payload)
	}()

	queue.Close()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, messaging.ErrQueueClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("publish stayed blocked after close")
	}
}
