package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/concord/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestJob(jobType string) *model.Job {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Job{
		ID:        model.NewJobID("party-a"),
		Type:      jobType,
		Status:    model.StatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func makeTestTask() *model.TaskRecord {
	return &model.TaskRecord{
		ID:        model.NewID(),
		JobID:     "party-a-job",
		TaskID:    "party-a-job-task_local_0",
		TaskType:  "dummy",
		Status:    model.TaskPending,
		Payload:   []byte(`{"message":"hi"}`),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob("dummy")

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID {
		t.Errorf("ID = %q, want %q", got.ID, j.ID)
	}
	if got.Type != "dummy" {
		t.Errorf("Type = %q, want dummy", got.Type)
	}
	if got.Status != model.StatusWaiting {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusWaiting)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetJob(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob error = %v, want ErrNotFound", err)
	}
}

func TestUpdateJobStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []string
		wantErr error
	}{
		{"happy path", []string{model.StatusProposal, model.StatusRunning, model.StatusSuccess}, nil},
		{"fail before proposal", []string{model.StatusFailed}, nil},
		{"fail while running", []string{model.StatusProposal, model.StatusRunning, model.StatusFailed}, nil},
		{"skip proposal", []string{model.StatusRunning}, ErrInvalidTransition},
		{"leave failed", []string{model.StatusFailed, model.StatusRunning}, ErrInvalidTransition},
		{"fail twice", []string{model.StatusFailed, model.StatusFailed}, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()
			j := makeTestJob("paddle_fl")
			if err := s.CreateJob(ctx, j); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}

			var err error
			for _, status := range tt.path {
				if err = s.UpdateJobStatus(ctx, j.ID, status, ""); err != nil {
					break
				}
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpdateJobStatusKeepsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob("paddle_fl")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.UpdateJobStatus(ctx, j.ID, model.StatusFailed, "compile error"); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Error != "compile error" {
		t.Errorf("Error = %q, want %q", got.Error, "compile error")
	}

	if err := s.UpdateJobStatus(ctx, "missing", model.StatusFailed, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateJobStatus(missing) = %v, want ErrNotFound", err)
	}
}

func TestListJobsAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		j := makeTestJob("dummy")
		if i%2 == 0 {
			j.Type = "paddle_fl"
		}
		j.CreatedAt = j.CreatedAt.Add(time.Duration(i) * time.Second)
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		if i == 0 {
			if err := s.UpdateJobStatus(ctx, j.ID, model.StatusFailed, "boom"); err != nil {
				t.Fatalf("UpdateJobStatus: %v", err)
			}
		}
	}

	jobs, total, err := s.ListJobs(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	if !jobs[0].CreatedAt.After(jobs[1].CreatedAt) {
		t.Errorf("jobs not ordered newest first: %v, %v", jobs[0].CreatedAt, jobs[1].CreatedAt)
	}

	stats, err := s.GetJobStats(ctx)
	if err != nil {
		t.Fatalf("GetJobStats: %v", err)
	}
	if stats.Total != 5 {
		t.Errorf("Total = %d, want 5", stats.Total)
	}
	if stats.CountByStatus[model.StatusFailed] != 1 || stats.CountByStatus[model.StatusWaiting] != 4 {
		t.Errorf("CountByStatus = %v", stats.CountByStatus)
	}
	if stats.CountByType["paddle_fl"] != 3 || stats.CountByType["dummy"] != 2 {
		t.Errorf("CountByType = %v", stats.CountByType)
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestTask()

	if err := s.CreateTask(ctx, r); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.UpdateTaskStatus(ctx, r.ID, model.TaskRunning); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	got, err := s.GetTask(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt not set on running")
	}
	if string(got.Payload) != `{"message":"hi"}` {
		t.Errorf("Payload = %s", got.Payload)
	}

	exit := 0
	dur := 42
	now := time.Now().UTC()
	if err := s.FinishTask(ctx, &model.TaskRecord{
		ID:         r.ID,
		Status:     model.TaskCompleted,
		Output:     []byte("done\n"),
		ExitCode:   &exit,
		DurationMS: &dur,
		FinishedAt: &now,
	}); err != nil {
		t.Fatalf("FinishTask: %v", err)
	}

	got, err = s.GetTask(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != model.TaskCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("timestamps missing after finish")
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", got.ExitCode)
	}

	if err := s.UpdateTaskStatus(ctx, r.ID, model.TaskRunning); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("completed -> running = %v, want ErrInvalidTransition", err)
	}
	if err := s.UpdateTaskStatus(ctx, "missing", model.TaskRunning); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTaskStatus(missing) = %v, want ErrNotFound", err)
	}
}

func TestListTasksAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		r := makeTestTask()
		r.CreatedAt = r.CreatedAt.Add(time.Duration(i) * time.Second)
		if err := s.CreateTask(ctx, r); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		if i == 0 {
			dur := 100
			now := time.Now().UTC()
			if err := s.FinishTask(ctx, &model.TaskRecord{ID: r.ID, Status: model.TaskFailed, Error: "boom", DurationMS: &dur, FinishedAt: &now}); err != nil {
				t.Fatalf("FinishTask: %v", err)
			}
		}
	}

	records, total, err := s.ListTasks(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if total != 3 || len(records) != 3 {
		t.Fatalf("total = %d, len = %d, want 3", total, len(records))
	}

	stats, err := s.GetTaskStats(ctx)
	if err != nil {
		t.Fatalf("GetTaskStats: %v", err)
	}
	if stats.CountByStatus[model.TaskFailed] != 1 || stats.CountByStatus[model.TaskPending] != 2 {
		t.Errorf("CountByStatus = %v", stats.CountByStatus)
	}
	if stats.AvgDurationMS != 100 {
		t.Errorf("AvgDurationMS = %v, want 100", stats.AvgDurationMS)
	}
}

func TestLogLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		if err := s.InsertLogLine(ctx, "task-1", i, fmt.Sprintf("line %d", i)); err != nil {
			t.Fatalf("InsertLogLine: %v", err)
		}
	}
	if err := s.InsertLogLine(ctx, "task-2", 0, "other"); err != nil {
		t.Fatalf("InsertLogLine: %v", err)
	}

	lines, err := s.GetLogLines(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetLogLines: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for i, l := range lines {
		if l.Seq != i || l.Line != fmt.Sprintf("line %d", i) {
			t.Errorf("lines[%d] = %+v", i, l)
		}
	}
}

func TestFileStoreConcurrentWriters(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "concord.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for range writers {
		wg.Go(func() {
			r := makeTestTask()
			if err := s.CreateTask(ctx, r); err != nil {
				errs <- err
				return
			}
			if err := s.UpdateTaskStatus(ctx, r.ID, model.TaskRunning); err != nil {
				errs <- err
				return
			}
			for i := range 20 {
				if err := s.InsertLogLine(ctx, r.ID, i, fmt.Sprintf("line %d", i)); err != nil {
					errs <- err
					return
				}
			}
		})
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent write: %v", err)
	}

	stats, err := s.GetTaskStats(ctx)
	if err != nil {
		t.Fatalf("GetTaskStats: %v", err)
	}
	if stats.CountByStatus[model.TaskRunning] != writers {
		t.Errorf("running = %d, want %d", stats.CountByStatus[model.TaskRunning], writers)
	}
}
