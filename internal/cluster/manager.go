package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/concord/internal/executor"
	"github.com/seantiz/concord/internal/model"
	"github.com/seantiz/concord/internal/rpc"
	"github.com/seantiz/concord/internal/store"
)

// DefaultTimeoutS is the task timeout when none is configured.
const DefaultTimeoutS = 3600

// Config holds the settings of a Manager.
type Config struct {
	WorkerID string
	WorkDir  string
	TimeoutS int
}

// Manager runs tasks and hands out endpoints for one party.
type Manager struct {
	cfg      Config
	store    store.TaskStore
	registry *executor.Registry
	ports    *PortAllocator
	logger   *slog.Logger
	wg       sync.WaitGroup
	broker   *LogBroker
}

// NewManager creates a new execution manager.
func NewManager(cfg Config, s store.TaskStore, reg *executor.Registry, ports *PortAllocator, logger *slog.Logger) *Manager {
	if cfg.TimeoutS <= 0 {
		cfg.TimeoutS = DefaultTimeoutS
	}
	return &Manager{
		cfg:      cfg,
		store:    s,
		registry: reg,
		ports:    ports,
		logger:   logger.With("worker_id", cfg.WorkerID),
		broker:   NewLogBroker(),
	}
}

// Broker returns the manager's log broker for SSE subscription.
func (m *Manager) Broker() *LogBroker {
	return m.broker
}

// RequestResources reserves n endpoints on this worker.
func (m *Manager) RequestResources(n int) (*rpc.ResourceResponse, error) {
	endpoints, err := m.ports.Allocate(n)
	if err != nil {
		resourceRequestsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("allocate %d endpoints: %w", n, err)
	}
	resourceRequestsTotal.WithLabelValues("success").Inc()
	m.logger.Info("endpoints allocated", "endpoints", endpoints)
	return &rpc.ResourceResponse{
		Status:    rpc.ClusterSuccess,
		WorkerID:  m.cfg.WorkerID,
		Endpoints: endpoints,
	}, nil
}

// ReleaseResources returns endpoints to the pool before their lease ends.
func (m *Manager) ReleaseResources(endpoints []string) {
	m.ports.Release(endpoints)
	m.logger.Info("endpoints released", "endpoints", endpoints)
}

// Submit creates a task record and launches asynchronous execution in a
// goroutine. The record is stored as pending before returning.
func (m *Manager) Submit(ctx context.Context, task model.Task) (*model.TaskRecord, error) {
	rec := &model.TaskRecord{
		ID:        model.NewID(),
		JobID:     task.JobID,
		TaskID:    task.TaskID,
		TaskType:  task.TaskType,
		Assignee:  task.Assignee,
		Status:    model.TaskPending,
		Payload:   task.Payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateTask(ctx, rec); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	recCopy := *rec
	m.wg.Go(func() {
		m.execute(&recCopy)
	})

	return rec, nil
}

// Wait blocks until all in-flight task goroutines complete.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// execute runs the task lifecycle: pending -> running -> completed/failed.
func (m *Manager) execute(rec *model.TaskRecord) {
	defer m.broker.Close(rec.ID)
	logger := m.logger.With("job_id", rec.JobID, "task_id", rec.TaskID, "record_id", rec.ID)

	if err := m.store.UpdateTaskStatus(context.Background(), rec.ID, model.TaskRunning); err != nil {
		logger.Error("failed to transition to running", "error", err)
		m.finishFailed(rec, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}
	tasksRunning.Inc()
	defer tasksRunning.Dec()

	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(m.cfg.TimeoutS)*time.Second)
	defer cancel()

	// LogWriter persists each line for history, then publishes it for SSE.
	var seq atomic.Int32
	spec := executor.TaskSpec{
		ID:       rec.ID,
		JobID:    rec.JobID,
		TaskID:   rec.TaskID,
		TaskType: rec.TaskType,
		Payload:  rec.Payload,
		WorkDir:  m.cfg.WorkDir,
		TimeoutS: m.cfg.TimeoutS,
		LogWriter: func(line string) {
			currentSeq := int(seq.Add(1) - 1)
			if err := m.store.InsertLogLine(context.Background(), rec.ID, currentSeq, line); err != nil {
				logger.Error("failed to persist log line", "seq", currentSeq, "error", err)
			}
			m.broker.Publish(rec.ID, line)
		},
	}

	ex, err := m.registry.Resolve(rec.TaskType)
	if err != nil {
		m.finishFailed(rec, &start, fmt.Sprintf("resolve executor: %v", err))
		return
	}

	result, err := ex.Execute(ctx, spec)
	durationMS := int(time.Since(start).Milliseconds())

	if err != nil {
		errMsg := err.Error()
		if ctx.Err() == context.DeadlineExceeded {
			errMsg = fmt.Sprintf("task timed out after %ds", m.cfg.TimeoutS)
		}
		m.finishFailed(rec, &start, errMsg)
		return
	}

	now := time.Now().UTC()
	dur := durationMS
	if result.DurationMS > 0 {
		dur = result.DurationMS
	}
	status := model.TaskCompleted
	if result.ExitCode != 0 {
		status = model.TaskFailed
	}

	finished := &model.TaskRecord{
		ID:         rec.ID,
		Status:     status,
		Output:     result.Output,
		ExitCode:   &result.ExitCode,
		Error:      result.Error,
		DurationMS: &dur,
		StartedAt:  &start,
		FinishedAt: &now,
	}
	if err := m.store.FinishTask(context.Background(), finished); err != nil {
		logger.Error("failed to record finished task", "error", err)
		return
	}
	tasksTotal.WithLabelValues(rec.TaskType, status).Inc()
	taskDuration.WithLabelValues(rec.TaskType).Observe(float64(dur) / 1000)
	logger.Info("task finished", "status", status, "exit_code", result.ExitCode, "duration_ms", dur)
}

// finishFailed marks a task as failed with the given error message.
// startedAt may be nil if execution never started.
func (m *Manager) finishFailed(rec *model.TaskRecord, startedAt *time.Time, errMsg string) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(time.Since(*startedAt).Milliseconds())
	}

	failed := &model.TaskRecord{
		ID:         rec.ID,
		Status:     model.TaskFailed,
		Error:      errMsg,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}

	tasksTotal.WithLabelValues(rec.TaskType, model.TaskFailed).Inc()
	m.logger.Warn("task failed", "task_id", rec.TaskID, "record_id", rec.ID, "error", errMsg)
	if err := m.store.FinishTask(context.Background(), failed); err != nil {
		m.logger.Error("failed to record failed task", "record_id", rec.ID, "error", err)
	}
}
