package pipeline

import (
	"errors"
	"fmt"

	"fraud-pipeline/internal/artifacts"
	"fraud-pipeline/internal/config"
	"fraud-pipeline/internal/training"
)

type ErrorKind string

const (
	TransientIO   ErrorKind = "transient_io"
	Training      ErrorKind = "training"
	Serialization ErrorKind = "serialization"
	Configuration ErrorKind = "configuration"
)

// ErrStageReportedFailure is the cause recorded when a stage reports
// succeeded=false instead of returning an error.
var ErrStageReportedFailure = errors.New("stage reported failure")

// StageError aborts a run. Any error surfaced by a stage is converted to one
// so the orchestrator has a single failure path.
type StageError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func classify(stage string, err error) *StageError {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr
	}

	kind := TransientIO
	var cfgErr *config.ConfigurationError
	var trainErr *training.TrainingError
	switch {
	case errors.As(err, &cfgErr):
		kind = Configuration
	case errors.Is(err, artifacts.ErrSerialization):
		kind = Serialization
	case errors.As(err, &trainErr):
		kind = Training
	}
	return &StageError{Kind: kind, Stage: stage, Err: err}
}
