package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"fraud-pipeline/internal/pipeline"
)

// StageProcessor consumes stage tasks, runs them and publishes whatever the
// pipeline graph says comes next.
type StageProcessor struct {
	executor  *pipeline.Executor
	publisher Publisher
	reciever  Reciever
}

func NewStageProcessor(executor *pipeline.Executor, publisher Publisher, reciever Reciever) *StageProcessor {
	return &StageProcessor{executor: executor, publisher: publisher, reciever: reciever}
}

// Start processes tasks until the context is cancelled or the reciever is
// closed. A stage that is already running when ctx is cancelled is allowed
// to finish.
func (proc *StageProcessor) Start(ctx context.Context) {
	slog.Info("starting stage processor")

	taskCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-proc.reciever.Tasks():
			if !ok {
				return
			}
			proc.ProcessTask(taskCtx, task)
		}
	}
}

func (proc *StageProcessor) Stop() {
	slog.Info("stopping stage processor")

	proc.publisher.Close()
	proc.reciever.Close()
}

func (proc *StageProcessor) ProcessTask(ctx context.Context, task Task) {
	var err error

	switch task.Type() {
	case StageQueue:
		var payload StageTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling stage task", "error", err)
			if err := task.Reject(); err != nil {
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processStageTask(ctx, payload)
	default:
		slog.Error("received task with unknown type", "type", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	var stageErr *pipeline.StageError
	if err != nil && !errors.As(err, &stageErr) {
		slog.Error("error processing task", "type", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
		return
	}

	// A stage error has already been recorded against the run, which is
	// finished; redelivering the task would only repeat the failure.
	if err := task.Ack(); err != nil {
		slog.Error("error acknowledging message from queue", "error", err)
	}
}

func (proc *StageProcessor) processStageTask(ctx context.Context, payload StageTaskPayload) error {
	if payload.Stage == "" {
		return &pipeline.StageError{Kind: pipeline.Configuration, Err: fmt.Errorf("stage task for run %s has no stage", payload.Run.RunId)}
	}

	slog.Info("processing stage", "run_id", payload.Run.RunId, "pipeline", payload.Run.Pipeline, "stage", payload.Stage)

	result, err := proc.executor.Execute(ctx, payload.Run, payload.Task())
	if err != nil {
		return err
	}

	for _, next := range result.Next {
		if err := proc.publisher.PublishStageTask(ctx, NewStageTaskPayload(payload.Run, next)); err != nil {
			return fmt.Errorf("error publishing stage %s: %w", next.Stage, err)
		}
	}
	return nil
}

// SubmitRun records a new run and queues its entry stage.
func SubmitRun(ctx context.Context, executor *pipeline.Executor, publisher Publisher, pipelineName string) (pipeline.RunContext, error) {
	rc, entry, err := executor.Begin(ctx, pipelineName)
	if err != nil {
		return pipeline.RunContext{}, err
	}
	if err := publisher.PublishStageTask(ctx, NewStageTaskPayload(rc, entry)); err != nil {
		err = fmt.Errorf("error queueing run %s: %w", rc.RunId, err)
		if abortErr := executor.Abort(ctx, rc, err); abortErr != nil {
			slog.Error("error recording failed submission", "run_id", rc.RunId, "error", abortErr)
		}
		return pipeline.RunContext{}, err
	}
	return rc, nil
}
