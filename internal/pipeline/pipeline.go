package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	ETL   = "etl"
	Train = "train"
)

const (
	StageExtract             = "extract"
	StageVersionRawData      = "dvc_version_raw_data"
	StageTransform           = "transform"
	StageLoad                = "load"
	StageDriftCheck          = "drift_check"
	StageModelTrain          = "model_train"
	StageEndPipeline         = "end_pipeline"
	StageVersionTrainedModel = "dvc_version_trained_model"
	StageModelEvalPush       = "model_eval_push"
)

const timestampLayout = "20060102_150405"

// RunContext identifies one pipeline run. It travels with every stage task
// so that stages never depend on process state to learn which run they
// belong to.
type RunContext struct {
	RunId          uuid.UUID `json:"run_id"`
	Pipeline       string    `json:"pipeline"`
	RunName        string    `json:"run_name"`
	ExperimentName string    `json:"experiment_name"`
	StartedAt      time.Time `json:"started_at"`
}

func NewRunContext(pipeline string, now time.Time) (RunContext, error) {
	ts := now.Format(timestampLayout)
	rc := RunContext{RunId: uuid.New(), Pipeline: pipeline, StartedAt: now.UTC()}

	switch pipeline {
	case ETL:
		rc.RunName = "etl_" + ts
	case Train:
		rc.RunName = "drift_check_" + ts
		rc.ExperimentName = "experiment_" + ts
	default:
		return RunContext{}, fmt.Errorf("unknown pipeline %q", pipeline)
	}
	return rc, nil
}

func Pipelines() []string {
	return []string{ETL, Train}
}
