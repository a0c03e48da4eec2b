package store

import (
	"context"
	"errors"

	"github.com/seantiz/concord/internal/model"
)

var (
	// ErrNotFound is returned when a job or task record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned when a status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// JobStats holds aggregate job statistics of one Master.
type JobStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByType   map[string]int `json:"count_by_type"`
}

// TaskStats holds aggregate execution statistics of one cluster.
type TaskStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByType   map[string]int `json:"count_by_type"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// JobStore persists the Master's job status records.
type JobStore interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	UpdateJobStatus(ctx context.Context, id, status, errMsg string) error
	GetJobStats(ctx context.Context) (*JobStats, error)
}

// TaskStore persists cluster task records and their log lines.
type TaskStore interface {
	CreateTask(ctx context.Context, r *model.TaskRecord) error
	GetTask(ctx context.Context, id string) (*model.TaskRecord, error)
	ListTasks(ctx context.Context, limit, offset int) ([]*model.TaskRecord, int, error)
	UpdateTaskStatus(ctx context.Context, id, status string) error
	FinishTask(ctx context.Context, r *model.TaskRecord) error
	GetTaskStats(ctx context.Context) (*TaskStats, error)
	InsertLogLine(ctx context.Context, taskID string, seq int, line string) error
	GetLogLines(ctx context.Context, taskID string) ([]model.LogLine, error)
}

// Store is the full persistence surface backed by one database.
type Store interface {
	JobStore
	TaskStore
	Close() error
}
