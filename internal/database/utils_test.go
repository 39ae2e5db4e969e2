package database_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fraud-pipeline/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := database.NewDatabase("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func createRun(t *testing.T, db *gorm.DB) uuid.UUID {
	run := database.PipelineRun{
		Id:           uuid.New(),
		Pipeline:     "train",
		RunName:      "drift_check_20240101_000000",
		Status:       database.JobQueued,
		CreationTime: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&run).Error)
	return run.Id
}

func TestPipelineRunLifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	runId := createRun(t, db)

	require.NoError(t, database.UpdatePipelineRunStatus(ctx, db, runId, database.JobRunning))
	run, err := database.GetPipelineRun(ctx, db, runId)
	require.NoError(t, err)
	assert.Equal(t, database.JobRunning, run.Status)
	assert.False(t, run.CompletionTime.Valid)

	require.NoError(t, database.SetPipelineRunBranch(ctx, db, runId, "model_train"))
	require.NoError(t, database.UpdatePipelineRunStatus(ctx, db, runId, database.JobCompleted))

	run, err = database.GetPipelineRun(ctx, db, runId)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, run.Status)
	assert.Equal(t, "model_train", run.Branch.String)
	assert.True(t, run.CompletionTime.Valid)
}

func TestFailPipelineRun(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	runId := createRun(t, db)

	require.NoError(t, database.FailPipelineRun(ctx, db, runId, "download failed"))

	run, err := database.GetPipelineRun(ctx, db, runId)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, run.Status)
	assert.Equal(t, "download failed", run.Error.String)
	assert.True(t, run.CompletionTime.Valid)
}

func TestStageRunAttempts(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	runId := createRun(t, db)

	input := datatypes.JSON(`{"kind":"training_result"}`)
	require.NoError(t, database.StartStageRun(ctx, db, runId, "model_eval_push", input))
	require.NoError(t, database.StartStageRun(ctx, db, runId, "model_eval_push", input))
	require.NoError(t, database.FinishStageRun(ctx, db, runId, "model_eval_push", database.JobFailed, nil, errors.New("bucket missing")))

	run, err := database.GetPipelineRun(ctx, db, runId)
	require.NoError(t, err)
	require.Len(t, run.Stages, 1)

	stage := run.Stages[0]
	assert.Equal(t, 2, stage.Attempts)
	assert.Equal(t, database.JobFailed, stage.Status)
	assert.Equal(t, "bucket missing", stage.Error.String)
	assert.JSONEq(t, string(input), string(stage.Input))
	assert.True(t, stage.CompletionTime.Valid)
}

func TestSkipStageRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	runId := createRun(t, db)

	require.NoError(t, database.SkipStageRun(ctx, db, runId, "end_pipeline"))
	require.NoError(t, database.SkipStageRun(ctx, db, runId, "end_pipeline"))

	run, err := database.GetPipelineRun(ctx, db, runId)
	require.NoError(t, err)
	require.Len(t, run.Stages, 1)
	assert.Equal(t, database.JobSkipped, run.Stages[0].Status)
}

func TestGetPipelineRunNotFound(t *testing.T) {
	_, err := database.GetPipelineRun(context.Background(), setupDB(t), uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPipelineRunBranchIsSetOnce(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	runId := createRun(t, db)

	require.NoError(t, database.SetPipelineRunBranch(ctx, db, runId, "end_pipeline"))
	require.NoError(t, database.SetPipelineRunBranch(ctx, db, runId, "end_pipeline"))

	err := database.SetPipelineRunBranch(ctx, db, runId, "model_train")
	assert.ErrorIs(t, err, database.ErrBranchConflict)

	run, err := database.GetPipelineRun(ctx, db, runId)
	require.NoError(t, err)
	assert.Equal(t, "end_pipeline", run.Branch.String)
}
