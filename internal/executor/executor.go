package executor

import (
	"context"
	"encoding/json"
)

// Executor runs tasks of the types it is registered for.
type Executor interface {
	// Execute runs spec. The context carries the task timeout.
	Execute(ctx context.Context, spec TaskSpec) (TaskResult, error)

	// Capabilities reports what this executor supports.
	Capabilities() Capabilities
}

// TaskSpec is a task as handed to an executor.
type TaskSpec struct {
	ID       string          `json:"id"`
	JobID    string          `json:"job_id"`
	TaskID   string          `json:"task_id"`
	TaskType string          `json:"task_type"`
	Payload  json.RawMessage `json:"payload"`
	WorkDir  string          `json:"work_dir"`
	TimeoutS int             `json:"timeout_s"`

	// LogWriter receives log lines as they are produced.
	LogWriter func(line string) `json:"-"`
}

// TaskResult is what an executor reports for a task that ran.
type TaskResult struct {
	ExitCode   int    `json:"exit_code"`
	Output     []byte `json:"output"`
	Error      string `json:"error"`
	DurationMS int    `json:"duration_ms"`
}

// Capabilities describes an executor.
type Capabilities struct {
	Name           string `json:"name"`
	MaxConcurrency int    `json:"max_concurrency"`
}

func (s TaskSpec) log(line string) {
	if s.LogWriter != nil {
		s.LogWriter(line)
	}
}
