package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fraud-pipeline/internal/artifacts"
	"fraud-pipeline/internal/database"
	"fraud-pipeline/internal/drift"
	"fraud-pipeline/internal/evaluation"
	"fraud-pipeline/internal/metrics"
	"fraud-pipeline/internal/versioning"
)

type Ingestor interface {
	Initiate(ctx context.Context) (artifacts.IngestionResult, error)
}

type Transformer interface {
	Initiate(input artifacts.IngestionResult) artifacts.TransformationResult
}

type DriftDetector interface {
	Detect(ctx context.Context, experiment, runName string) (drift.Decision, error)
}

type Trainer interface {
	Initiate(ctx context.Context, experiment string) (artifacts.TrainingResult, error)
}

type ModelPublisher interface {
	Initiate(ctx context.Context, result artifacts.TrainingResult) (evaluation.Outcome, error)
}

// Stages holds the executors behind each graph node. Only the stages of the
// pipelines a process runs need to be set.
type Stages struct {
	Ingestion      Ingestor
	Transformation Transformer
	Drift          DriftDetector
	Trainer        Trainer
	EvalPush       ModelPublisher
	Versioner      versioning.Versioner
}

// Task is a unit of work for one stage. Input is the envelope produced by
// the preceding stage, empty for entry stages and branch targets.
type Task struct {
	Stage string             `json:"stage"`
	Input artifacts.Envelope `json:"input,omitempty"`
}

type StepResult struct {
	Output  artifacts.Envelope
	Branch  string
	Skipped []string
	Next    []Task
}

type Executor struct {
	stages   Stages
	recorder Recorder
	metrics  *metrics.PipelineMetrics
	now      func() time.Time
}

func NewExecutor(stages Stages, recorder Recorder, m *metrics.PipelineMetrics) *Executor {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if stages.Versioner == nil {
		stages.Versioner = versioning.NopVersioner{}
	}
	return &Executor{stages: stages, recorder: recorder, metrics: m, now: time.Now}
}

// Begin records a new run and returns the task for its entry stage.
func (e *Executor) Begin(ctx context.Context, pipeline string) (RunContext, Task, error) {
	rc, err := NewRunContext(pipeline, e.now())
	if err != nil {
		return RunContext{}, Task{}, err
	}
	g, err := GraphFor(pipeline)
	if err != nil {
		return RunContext{}, Task{}, err
	}
	if err := e.recorder.RunStarted(ctx, rc); err != nil {
		return RunContext{}, Task{}, fmt.Errorf("error recording run start: %w", err)
	}
	slog.Info("pipeline run started", "run_id", rc.RunId, "pipeline", pipeline, "run_name", rc.RunName)
	return rc, Task{Stage: g.Entry}, nil
}

// Abort marks a run failed without running a stage, for failures outside
// any stage such as being unable to queue the next task.
func (e *Executor) Abort(ctx context.Context, rc RunContext, cause error) error {
	slog.Error("aborting run", "run_id", rc.RunId, "pipeline", rc.Pipeline, "error", cause)
	return e.recorder.RunFinished(ctx, rc, cause)
}

// Keys of the recorded output of a branch stage.
const (
	DecisionBranchKey = "branch"
	DecisionReportKey = "report_path"
)

// Execute runs Step and records its outcome. A *StageError means the run was
// aborted and has been recorded as failed; any other error comes from the
// recorder and leaves the task safe to retry. A stage that already completed
// in this run is not run again: its recorded output is replayed, so a
// redelivered branch stage keeps the branch it took the first time.
func (e *Executor) Execute(ctx context.Context, rc RunContext, task Task) (StepResult, error) {
	recorded, done, err := e.recorder.CompletedStage(ctx, rc, task.Stage)
	if err != nil {
		return StepResult{}, fmt.Errorf("error checking stage record: %w", err)
	}
	if done {
		slog.Warn("stage already completed, replaying recorded result", "run_id", rc.RunId, "pipeline", rc.Pipeline, "stage", task.Stage)
		result, err := e.replay(rc, task.Stage, recorded)
		if err != nil {
			if recErr := e.recorder.RunFinished(ctx, rc, err); recErr != nil {
				return StepResult{}, fmt.Errorf("error recording run failure: %w", recErr)
			}
			return StepResult{}, err
		}
		if err := e.advance(ctx, rc, task.Stage, result); err != nil {
			return StepResult{}, err
		}
		return result, nil
	}

	if err := e.recorder.StageStarted(ctx, rc, task.Stage, task.Input); err != nil {
		return StepResult{}, fmt.Errorf("error recording stage start: %w", err)
	}

	start := e.now()
	result, stepErr := e.Step(ctx, rc, task)
	elapsed := e.now().Sub(start)

	if stepErr != nil {
		slog.Error("stage failed, aborting run", "run_id", rc.RunId, "pipeline", rc.Pipeline, "stage", task.Stage, "error", stepErr)
		e.metrics.ObserveStage(rc.Pipeline, task.Stage, database.JobFailed, elapsed)
		if err := e.recorder.StageFinished(ctx, rc, task.Stage, database.JobFailed, nil, stepErr); err != nil {
			return StepResult{}, fmt.Errorf("error recording stage failure: %w", err)
		}
		if err := e.recorder.RunFinished(ctx, rc, stepErr); err != nil {
			return StepResult{}, fmt.Errorf("error recording run failure: %w", err)
		}
		return StepResult{}, stepErr
	}

	e.metrics.ObserveStage(rc.Pipeline, task.Stage, database.JobCompleted, elapsed)
	if err := e.recorder.StageFinished(ctx, rc, task.Stage, database.JobCompleted, result.Output, nil); err != nil {
		return StepResult{}, fmt.Errorf("error recording stage completion: %w", err)
	}
	if err := e.advance(ctx, rc, task.Stage, result); err != nil {
		return StepResult{}, err
	}
	return result, nil
}

// advance records what follows a completed stage. Every write is idempotent
// so it can be repeated for a replayed stage.
func (e *Executor) advance(ctx context.Context, rc RunContext, stage string, result StepResult) error {
	if result.Branch != "" {
		if err := e.recorder.BranchChosen(ctx, rc, result.Branch, result.Skipped); err != nil {
			return fmt.Errorf("error recording branch: %w", err)
		}
	}
	if len(result.Next) == 0 {
		if err := e.recorder.RunFinished(ctx, rc, nil); err != nil {
			return fmt.Errorf("error recording run completion: %w", err)
		}
		slog.Info("pipeline run completed", "run_id", rc.RunId, "pipeline", rc.Pipeline, "last_stage", stage)
	}
	return nil
}

func (e *Executor) replay(rc RunContext, stage string, output artifacts.Envelope) (StepResult, error) {
	node, err := nodeFor(rc.Pipeline, stage)
	if err != nil {
		return StepResult{}, err
	}
	var branch string
	if node.Branch {
		branch, _ = output[DecisionBranchKey].(string)
	}
	return follow(node, stage, output, branch)
}

// Step runs a single stage and computes the tasks that follow it. Artifacts
// reporting succeeded=false stop the chain here, on the way in as well as on
// the way out.
func (e *Executor) Step(ctx context.Context, rc RunContext, task Task) (StepResult, error) {
	node, err := nodeFor(rc.Pipeline, task.Stage)
	if err != nil {
		return StepResult{}, err
	}

	if err := guard(task.Stage, task.Input); err != nil {
		return StepResult{}, err
	}

	output, branch, err := e.run(ctx, rc, task)
	if err != nil {
		return StepResult{}, classify(task.Stage, err)
	}
	// Branch stages output their decision rather than an artifact.
	if !node.Branch {
		if err := guard(task.Stage, output); err != nil {
			return StepResult{}, err
		}
	}

	result, err := follow(node, task.Stage, output, branch)
	if err != nil {
		return StepResult{}, err
	}
	if result.Branch != "" {
		e.metrics.ObserveBranch(result.Branch)
	}
	return result, nil
}

func nodeFor(pipeline, stage string) (Node, error) {
	g, err := GraphFor(pipeline)
	if err != nil {
		return Node{}, &StageError{Kind: Configuration, Stage: stage, Err: err}
	}
	node, err := g.Node(stage)
	if err != nil {
		return Node{}, &StageError{Kind: Configuration, Stage: stage, Err: err}
	}
	return node, nil
}

// follow computes the tasks after a stage. The stage chosen by a branch gets
// no input.
func follow(node Node, stage string, output artifacts.Envelope, branch string) (StepResult, error) {
	result := StepResult{Output: output}
	if node.Branch {
		skipped, err := node.choose(branch)
		if err != nil {
			return StepResult{}, &StageError{Kind: Configuration, Stage: stage, Err: err}
		}
		result.Branch = branch
		result.Skipped = skipped
		result.Next = []Task{{Stage: branch}}
		return result, nil
	}

	for _, next := range node.Successors {
		result.Next = append(result.Next, Task{Stage: next, Input: output})
	}
	return result, nil
}

func guard(stage string, env artifacts.Envelope) error {
	if len(env) == 0 {
		return nil
	}
	a, err := artifacts.Decode(env)
	if err != nil {
		return classify(stage, err)
	}
	if !artifacts.Succeeded(a) {
		return &StageError{Kind: TransientIO, Stage: stage, Err: fmt.Errorf("%w: %s", ErrStageReportedFailure, a.Kind())}
	}
	return nil
}

func (e *Executor) run(ctx context.Context, rc RunContext, task Task) (artifacts.Envelope, string, error) {
	switch task.Stage {
	case StageExtract:
		if e.stages.Ingestion == nil {
			return nil, "", missingStage(task.Stage)
		}
		result, err := e.stages.Ingestion.Initiate(ctx)
		if err != nil {
			return nil, "", err
		}
		out, err := artifacts.Encode(result)
		return out, "", err

	case StageVersionRawData:
		in, err := decodeAs[artifacts.IngestionResult](task.Input)
		if err != nil {
			return nil, "", err
		}
		return task.Input, "", e.stages.Versioner.TrackRawData(ctx, in.UnzippedFilePath)

	case StageTransform:
		if e.stages.Transformation == nil {
			return nil, "", missingStage(task.Stage)
		}
		in, err := decodeAs[artifacts.IngestionResult](task.Input)
		if err != nil {
			return nil, "", err
		}
		out, err := artifacts.Encode(e.stages.Transformation.Initiate(in))
		return out, "", err

	case StageLoad:
		in, err := decodeAs[artifacts.TransformationResult](task.Input)
		if err != nil {
			return nil, "", err
		}
		return task.Input, "", e.stages.Versioner.TrackTransformed(ctx, in.TransformedObjectPath, in.TransformedDataPath)

	case StageDriftCheck:
		if e.stages.Drift == nil {
			return nil, "", missingStage(task.Stage)
		}
		decision, err := e.stages.Drift.Detect(ctx, rc.ExperimentName, rc.RunName)
		if err != nil {
			return nil, "", err
		}
		out := artifacts.Envelope{DecisionBranchKey: decision.Branch, DecisionReportKey: decision.ReportPath}
		return out, decision.Branch, nil

	case StageModelTrain:
		if e.stages.Trainer == nil {
			return nil, "", missingStage(task.Stage)
		}
		result, err := e.stages.Trainer.Initiate(ctx, rc.ExperimentName)
		if err != nil {
			return nil, "", err
		}
		out, err := artifacts.Encode(result)
		return out, "", err

	case StageEndPipeline:
		slog.Info("no retraining needed", "run_id", rc.RunId)
		return nil, "", nil

	case StageVersionTrainedModel:
		in, err := decodeAs[artifacts.TrainingResult](task.Input)
		if err != nil {
			return nil, "", err
		}
		return task.Input, "", e.stages.Versioner.TrackModel(ctx, in.TrainedModelPath)

	case StageModelEvalPush:
		if e.stages.EvalPush == nil {
			return nil, "", missingStage(task.Stage)
		}
		in, err := decodeAs[artifacts.TrainingResult](task.Input)
		if err != nil {
			return nil, "", err
		}
		outcome, err := e.stages.EvalPush.Initiate(ctx, in)
		if err != nil {
			return nil, "", err
		}
		slog.Info("evaluation finished", "run_id", rc.RunId, "pushed", outcome.Pushed, "model_key", outcome.ModelKey)
		return task.Input, "", nil

	default:
		return nil, "", &StageError{Kind: Configuration, Stage: task.Stage, Err: fmt.Errorf("no executor for stage %q", task.Stage)}
	}
}

func missingStage(stage string) error {
	return &StageError{Kind: Configuration, Stage: stage, Err: fmt.Errorf("stage %q is not configured in this process", stage)}
}

func decodeAs[T artifacts.Artifact](env artifacts.Envelope) (T, error) {
	var zero T
	a, err := artifacts.Decode(env)
	if err != nil {
		return zero, err
	}
	v, ok := a.(T)
	if !ok {
		return zero, &artifacts.DecodeError{Kind: string(a.Kind()), Reason: fmt.Sprintf("expected %s artifact", zero.Kind())}
	}
	return v, nil
}
