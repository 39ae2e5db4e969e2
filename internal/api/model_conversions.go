package api

import (
	"database/sql"
	"encoding/json"
	"time"

	"fraud-pipeline/internal/database"
	"fraud-pipeline/pkg/api"
)

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func rawJSON(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}

func convertStage(s database.StageRun) api.Stage {
	return api.Stage{
		Stage:          s.Stage,
		Status:         s.Status,
		Attempts:       s.Attempts,
		Input:          rawJSON(s.Input),
		Output:         rawJSON(s.Output),
		Error:          s.Error.String,
		StartTime:      nullTime(s.StartTime),
		CompletionTime: nullTime(s.CompletionTime),
	}
}

func convertRun(r database.PipelineRun) api.Run {
	run := api.Run{
		Id:             r.Id,
		Pipeline:       r.Pipeline,
		RunName:        r.RunName,
		ExperimentName: r.ExperimentName,
		Status:         r.Status,
		Branch:         r.Branch.String,
		Error:          r.Error.String,
		CreationTime:   r.CreationTime,
		CompletionTime: nullTime(r.CompletionTime),
	}
	for _, s := range r.Stages {
		run.Stages = append(run.Stages, convertStage(s))
	}
	return run
}

func convertRuns(rs []database.PipelineRun) []api.Run {
	runs := make([]api.Run, 0, len(rs))
	for _, r := range rs {
		runs = append(runs, convertRun(r))
	}
	return runs
}

func convertExperimentRun(r database.ExperimentRun) api.ExperimentRun {
	run := api.ExperimentRun{
		Id:        r.Id,
		Name:      r.Name,
		Status:    r.Status,
		StartTime: r.StartTime,
		EndTime:   nullTime(r.EndTime),
		Metrics:   make([]api.Metric, 0, len(r.Metrics)),
		Artifacts: make([]api.Artifact, 0, len(r.Artifacts)),
	}
	for _, m := range r.Metrics {
		run.Metrics = append(run.Metrics, api.Metric{Name: m.Name, Value: m.Value})
	}
	for _, a := range r.Artifacts {
		run.Artifacts = append(run.Artifacts, api.Artifact{Path: a.Path, Bucket: a.Bucket, Key: a.Key, Size: a.Size})
	}
	return run
}
