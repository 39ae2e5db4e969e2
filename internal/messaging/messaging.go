package messaging

import (
	"context"
	"time"

	"fraud-pipeline/internal/artifacts"
	"fraud-pipeline/internal/pipeline"
)

const (
	StageQueue      = "pipeline_stage_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// StageTaskPayload asks a worker to run one stage of a run. The run context
// is carried in full so any worker can pick up any stage.
type StageTaskPayload struct {
	Run   pipeline.RunContext `json:"run"`
	Stage string              `json:"stage"`
	Input artifacts.Envelope  `json:"input,omitempty"`
}

func NewStageTaskPayload(rc pipeline.RunContext, task pipeline.Task) StageTaskPayload {
	return StageTaskPayload{Run: rc, Stage: task.Stage, Input: task.Input}
}

func (p StageTaskPayload) Task() pipeline.Task {
	return pipeline.Task{Stage: p.Stage, Input: p.Input}
}

type Publisher interface {
	PublishStageTask(ctx context.Context, payload StageTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
