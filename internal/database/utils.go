package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func isTerminal(status string) bool {
	return status == JobCompleted || status == JobFailed || status == JobSkipped
}

func UpdatePipelineRunStatus(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if isTerminal(status) {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&PipelineRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating pipeline run status", "run_id", runId, "status", status, "error", err)
		return err
	}
	return nil
}

// ErrBranchConflict is returned when a run already took a different branch.
var ErrBranchConflict = errors.New("run already took a different branch")

// SetPipelineRunBranch stores the branch a run took. Storing the same branch
// again is a no-op, a different one fails with ErrBranchConflict.
func SetPipelineRunBranch(ctx context.Context, txn *gorm.DB, runId uuid.UUID, branch string) error {
	result := txn.WithContext(ctx).Model(&PipelineRun{}).
		Where("id = ? AND (branch IS NULL OR branch = ?)", runId, branch).
		Update("branch", sql.NullString{String: branch, Valid: true})
	if result.Error != nil {
		slog.Error("error saving pipeline branch", "run_id", runId, "branch", branch, "error", result.Error)
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	run, err := GetPipelineRun(ctx, txn, runId)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: run %s took %q, got %q", ErrBranchConflict, runId, run.Branch.String, branch)
}

func FailPipelineRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID, errorMessage string) error {
	updates := map[string]any{
		"status":          JobFailed,
		"error":           sql.NullString{String: errorMessage, Valid: true},
		"completion_time": time.Now().UTC(),
	}
	if err := txn.WithContext(ctx).Model(&PipelineRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error saving pipeline run failure", "run_id", runId, "error", err)
		return err
	}
	return nil
}

// StartStageRun records a stage attempt. Redelivered tasks increment the
// attempt count on the existing row.
func StartStageRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID, stage string, input datatypes.JSON) error {
	now := time.Now().UTC()

	return txn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing StageRun
		err := tx.Where("run_id = ? AND stage = ?", runId, stage).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&StageRun{
				RunId:        runId,
				Stage:        stage,
				Status:       JobRunning,
				Attempts:     1,
				Input:        input,
				CreationTime: now,
				StartTime:    sql.NullTime{Time: now, Valid: true},
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).Updates(map[string]any{
			"status":     JobRunning,
			"attempts":   existing.Attempts + 1,
			"input":      input,
			"start_time": sql.NullTime{Time: now, Valid: true},
		}).Error
	})
}

func FinishStageRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID, stage string, status string, output datatypes.JSON, stageErr error) error {
	updates := map[string]any{
		"status":          status,
		"completion_time": time.Now().UTC(),
	}
	if output != nil {
		updates["output"] = output
	}
	if stageErr != nil {
		updates["error"] = sql.NullString{String: stageErr.Error(), Valid: true}
	}

	if err := txn.WithContext(ctx).Model(&StageRun{}).Where("run_id = ? AND stage = ?", runId, stage).Updates(updates).Error; err != nil {
		slog.Error("error updating stage run", "run_id", runId, "stage", stage, "status", status, "error", err)
		return err
	}
	return nil
}

func GetPipelineRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID) (PipelineRun, error) {
	var run PipelineRun
	err := txn.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("creation_time ASC") }).
		First(&run, "id = ?", runId).Error
	return run, err
}

func GetStageRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID, stage string) (StageRun, error) {
	var stageRun StageRun
	err := txn.WithContext(ctx).First(&stageRun, "run_id = ? AND stage = ?", runId, stage).Error
	return stageRun, err
}

// SkipStageRun records a graph stage that was not selected by a branch.
func SkipStageRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID, stage string) error {
	now := time.Now().UTC()
	err := txn.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&StageRun{
		RunId:          runId,
		Stage:          stage,
		Status:         JobSkipped,
		CreationTime:   now,
		CompletionTime: sql.NullTime{Time: now, Valid: true},
	}).Error
	if err != nil {
		slog.Error("error recording skipped stage", "run_id", runId, "stage", stage, "error", err)
		return err
	}
	return nil
}
