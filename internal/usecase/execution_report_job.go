package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"UltraFlow/pkg/queue"
)

// ExecutionReportJob adapts the execution reports handler to the Redis queue.
// Deployments without Kafka push reports through the queue instead; the
// transitions applied to the guard are identical.
type ExecutionReportJob struct {
	handler *ExecutionReportsHandler
}

func NewExecutionReportJob(handler *ExecutionReportsHandler) *ExecutionReportJob {
	return &ExecutionReportJob{handler: handler}
}

func (j *ExecutionReportJob) Name() string { return "execution-report" }

func (j *ExecutionReportJob) Type() string { return "execution_report" }

func (j *ExecutionReportJob) Handle(ctx context.Context, payload interface{}) error {
	var b []byte
	switch v := payload.(type) {
	case json.RawMessage:
		b = v
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		var err error
		if b, err = json.Marshal(v); err != nil {
			return fmt.Errorf("execution report payload: %w", err)
		}
	}
	return j.handler.Handle(ctx, b)
}

var _ queue.Job = (*ExecutionReportJob)(nil)
