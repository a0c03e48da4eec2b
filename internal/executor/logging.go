package executor

import (
	"context"
	"log/slog"
)

// LogExecutor completes every task immediately after logging its payload.
type LogExecutor struct {
	logger *slog.Logger
}

var _ Executor = (*LogExecutor)(nil)

func NewLogExecutor(logger *slog.Logger) *LogExecutor {
	return &LogExecutor{logger: logger}
}

func (l *LogExecutor) Execute(ctx context.Context, spec TaskSpec) (TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return TaskResult{}, err
	}
	l.logger.Info("task executed", "job_id", spec.JobID, "task_id", spec.TaskID, "task_type", spec.TaskType, "payload", string(spec.Payload))
	spec.log(string(spec.Payload))
	return TaskResult{Output: spec.Payload}, nil
}

func (l *LogExecutor) Capabilities() Capabilities {
	return Capabilities{Name: "log"}
}
