package pipeline

import (
	"context"
	"log/slog"

	"fraud-pipeline/internal/artifacts"
)

type Summary struct {
	Run     RunContext
	Stages  []string
	Branch  string
	Outputs map[string]artifacts.Envelope
}

// Runner executes a whole pipeline in the calling goroutine. It is used by
// the one-shot command and by tests; services hand stages to workers through
// the queue instead.
type Runner struct {
	exec *Executor
}

func NewRunner(exec *Executor) *Runner {
	return &Runner{exec: exec}
}

func (r *Runner) Run(ctx context.Context, pipeline string) (Summary, error) {
	rc, entry, err := r.exec.Begin(ctx, pipeline)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Run: rc, Outputs: map[string]artifacts.Envelope{}}
	queue := []Task{entry}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			if recErr := r.exec.recorder.RunFinished(context.WithoutCancel(ctx), rc, err); recErr != nil {
				slog.Error("error recording cancelled run", "run_id", rc.RunId, "error", recErr)
			}
			return summary, err
		}

		task := queue[0]
		queue = queue[1:]

		result, err := r.exec.Execute(ctx, rc, task)
		if err != nil {
			return summary, err
		}
		summary.Stages = append(summary.Stages, task.Stage)
		if result.Output != nil {
			summary.Outputs[task.Stage] = result.Output
		}
		if result.Branch != "" {
			summary.Branch = result.Branch
		}
		queue = append(queue, result.Next...)
	}
	return summary, nil
}
