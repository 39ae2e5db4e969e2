package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fraud-pipeline/internal/artifacts"
	"fraud-pipeline/internal/database"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Recorder persists the progress of a run.
type Recorder interface {
	RunStarted(ctx context.Context, rc RunContext) error
	// CompletedStage returns the recorded output of a stage that already
	// completed in this run, for tasks that are delivered more than once.
	CompletedStage(ctx context.Context, rc RunContext, stage string) (artifacts.Envelope, bool, error)
	StageStarted(ctx context.Context, rc RunContext, stage string, input artifacts.Envelope) error
	StageFinished(ctx context.Context, rc RunContext, stage, status string, output artifacts.Envelope, stageErr error) error
	BranchChosen(ctx context.Context, rc RunContext, branch string, skipped []string) error
	// RunFinished marks the run completed, or failed when runErr is set.
	RunFinished(ctx context.Context, rc RunContext, runErr error) error
}

type NopRecorder struct{}

func (NopRecorder) RunStarted(context.Context, RunContext) error { return nil }

func (NopRecorder) CompletedStage(context.Context, RunContext, string) (artifacts.Envelope, bool, error) {
	return nil, false, nil
}

func (NopRecorder) StageStarted(context.Context, RunContext, string, artifacts.Envelope) error {
	return nil
}

func (NopRecorder) StageFinished(context.Context, RunContext, string, string, artifacts.Envelope, error) error {
	return nil
}

func (NopRecorder) BranchChosen(context.Context, RunContext, string, []string) error { return nil }

func (NopRecorder) RunFinished(context.Context, RunContext, error) error { return nil }

type DBRecorder struct {
	db *gorm.DB
}

func NewDBRecorder(db *gorm.DB) *DBRecorder {
	return &DBRecorder{db: db}
}

func (r *DBRecorder) RunStarted(ctx context.Context, rc RunContext) error {
	run := database.PipelineRun{
		Id:             rc.RunId,
		Pipeline:       rc.Pipeline,
		RunName:        rc.RunName,
		ExperimentName: rc.ExperimentName,
		Status:         database.JobQueued,
		CreationTime:   time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("error creating pipeline run: %w", err)
	}
	return nil
}

func (r *DBRecorder) CompletedStage(ctx context.Context, rc RunContext, stage string) (artifacts.Envelope, bool, error) {
	stageRun, err := database.GetStageRun(ctx, r.db, rc.RunId, stage)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error loading stage run: %w", err)
	}
	if stageRun.Status != database.JobCompleted {
		return nil, false, nil
	}

	var output artifacts.Envelope
	if len(stageRun.Output) > 0 {
		if err := json.Unmarshal(stageRun.Output, &output); err != nil {
			return nil, false, fmt.Errorf("error decoding recorded output of %s: %w", stage, err)
		}
	}
	return output, true, nil
}

func (r *DBRecorder) StageStarted(ctx context.Context, rc RunContext, stage string, input artifacts.Envelope) error {
	data, err := envelopeJSON(input)
	if err != nil {
		return err
	}
	if err := database.StartStageRun(ctx, r.db, rc.RunId, stage, data); err != nil {
		return err
	}
	return database.UpdatePipelineRunStatus(ctx, r.db, rc.RunId, database.JobRunning)
}

func (r *DBRecorder) StageFinished(ctx context.Context, rc RunContext, stage, status string, output artifacts.Envelope, stageErr error) error {
	data, err := envelopeJSON(output)
	if err != nil {
		return err
	}
	return database.FinishStageRun(ctx, r.db, rc.RunId, stage, status, data, stageErr)
}

func (r *DBRecorder) BranchChosen(ctx context.Context, rc RunContext, branch string, skipped []string) error {
	return r.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := database.SetPipelineRunBranch(ctx, txn, rc.RunId, branch); err != nil {
			return err
		}
		for _, stage := range skipped {
			if err := database.SkipStageRun(ctx, txn, rc.RunId, stage); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *DBRecorder) RunFinished(ctx context.Context, rc RunContext, runErr error) error {
	if runErr != nil {
		return database.FailPipelineRun(ctx, r.db, rc.RunId, runErr.Error())
	}
	return database.UpdatePipelineRunStatus(ctx, r.db, rc.RunId, database.JobCompleted)
}

func envelopeJSON(env artifacts.Envelope) (datatypes.JSON, error) {
	if len(env) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("error encoding envelope: %w", err)
	}
	return datatypes.JSON(data), nil
}
