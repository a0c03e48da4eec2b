package model

import (
	"encoding/json"
	"time"
)

// Task is an indivisible piece of executable work. The payload is opaque to
// everything except the executor registered for TaskType.
type Task struct {
	JobID    string          `json:"job_id"`
	TaskID   string          `json:"task_id"`
	TaskType string          `json:"task_type"`
	Assignee string          `json:"assignee,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Task execution status constants, used by the cluster layer.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

var validTaskTransitions = map[string]map[string]bool{
	TaskPending: {
		TaskRunning: true,
		TaskFailed:  true,
	},
	TaskRunning: {
		TaskCompleted: true,
		TaskFailed:    true,
	},
}

// ValidTaskTransition reports whether a task record may move from one status to another.
func ValidTaskTransition(from, to string) bool {
	targets, ok := validTaskTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TaskRecord is the cluster-side execution record of a submitted task.
type TaskRecord struct {
	ID         string          `json:"id"`
	JobID      string          `json:"job_id"`
	TaskID     string          `json:"task_id"`
	TaskType   string          `json:"task_type"`
	Assignee   string          `json:"assignee,omitempty"`
	Status     string          `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Output     []byte          `json:"output,omitempty"`
	ExitCode   *int            `json:"exit_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS *int            `json:"duration_ms,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// LogLine represents a single persisted log line from a task execution.
type LogLine struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Seq       int       `json:"seq"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}
