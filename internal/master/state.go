package master

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/concord/internal/job"
	"github.com/seantiz/concord/internal/model"
	"github.com/seantiz/concord/internal/store"
)

// State is the process-wide job registry and dispatch queues of one Master.
type State struct {
	partyID string
	jobs    store.JobStore

	// JobQueue holds submitted jobs waiting for the pipeline.
	JobQueue *Queue[job.Job]
	// TaskQueue holds tasks waiting to be forwarded to the cluster, both
	// local tasks of our own jobs and tasks won from other parties.
	TaskQueue *Queue[model.Task]
}

// NewState creates an empty State backed by jobs.
func NewState(partyID string, jobs store.JobStore) *State {
	return &State{
		partyID:   partyID,
		jobs:      jobs,
		JobQueue:  NewQueue[job.Job](),
		TaskQueue: NewQueue[model.Task](),
	}
}

// NewJobID returns a fresh id scoped to this party.
func (s *State) NewJobID() string {
	return model.NewJobID(s.partyID)
}

// Submit records j as WAITING and queues it for the pipeline.
func (s *State) Submit(ctx context.Context, j job.Job) error {
	now := time.Now().UTC()
	if err := s.jobs.CreateJob(ctx, &model.Job{
		ID:        j.ID(),
		Type:      j.Type(),
		Status:    model.StatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("record job: %w", err)
	}
	jobsTotal.WithLabelValues(model.StatusWaiting).Inc()
	s.JobQueue.Push(j)
	return nil
}

// Status returns the job's status, or model.StatusNotFound for an unknown id.
func (s *State) Status(ctx context.Context, jobID string) (string, error) {
	j, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return model.StatusNotFound, nil
	}
	if err != nil {
		return "", err
	}
	return j.Status, nil
}

// SetStatus moves a job to status.
func (s *State) SetStatus(ctx context.Context, jobID, status, errMsg string) error {
	if err := s.jobs.UpdateJobStatus(ctx, jobID, status, errMsg); err != nil {
		return fmt.Errorf("set job %s to %s: %w", jobID, status, err)
	}
	jobsTotal.WithLabelValues(status).Inc()
	return nil
}
