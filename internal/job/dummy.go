package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seantiz/concord/internal/model"
	"github.com/seantiz/concord/internal/rpc"
)

// DummyType is the job type of DummyJob.
const DummyType = "dummy"

// DummyConfig is the job_config of a dummy job.
type DummyConfig struct {
	RemoteTasks       int     `json:"remote_tasks"`
	LocalTasks        int     `json:"local_tasks"`
	MinimumAcceptance *int    `json:"minimum_acceptance,omitempty"`
	MaximumAcceptance *int    `json:"maximum_acceptance,omitempty"`
	ProposalWaitTime  float64 `json:"proposal_wait_time"`
	Message           string  `json:"message"`
}

// DummyMessage is the payload of every dummy task.
type DummyMessage struct {
	Message string `json:"message"`
	Index   int    `json:"index"`
}

// DummyJob needs no resources and compiles to nothing. It offers
// RemoteTasks tasks to other parties and keeps LocalTasks for itself.
type DummyJob struct {
	id  string
	cfg DummyConfig
}

// LoadDummy is the Loader for DummyType. A null config yields one remote
// and one local task with a five second proposal window.
func LoadDummy(jobID string, config json.RawMessage, _ string) (Job, error) {
	cfg := DummyConfig{RemoteTasks: 1, LocalTasks: 1, ProposalWaitTime: 5, Message: "hello"}
	if len(config) > 0 && string(config) != "null" {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if cfg.RemoteTasks < 1 {
		return nil, fmt.Errorf("remote_tasks must be positive, got %d", cfg.RemoteTasks)
	}
	if cfg.LocalTasks < 0 {
		return nil, fmt.Errorf("local_tasks must not be negative, got %d", cfg.LocalTasks)
	}
	return &DummyJob{id: jobID, cfg: cfg}, nil
}

func (j *DummyJob) ID() string   { return j.id }
func (j *DummyJob) Type() string { return DummyType }

func (j *DummyJob) ResourceRequired() *rpc.ResourceRequest { return nil }

func (j *DummyJob) SetRequiredResource(*rpc.ResourceResponse) error { return nil }

func (j *DummyJob) Compile(context.Context) error { return nil }

func (j *DummyJob) ProposalRequest() (*rpc.ProposalRequest, error) {
	maximum := j.cfg.RemoteTasks
	if j.cfg.MaximumAcceptance != nil {
		maximum = *j.cfg.MaximumAcceptance
	}
	minimum := maximum
	if j.cfg.MinimumAcceptance != nil {
		minimum = *j.cfg.MinimumAcceptance
	}

	tasks := make([]model.Task, j.cfg.RemoteTasks)
	for i := range tasks {
		t, err := j.task(fmt.Sprintf("remote_%d", i), i, "")
		if err != nil {
			return nil, err
		}
		tasks[i] = t
	}

	return &rpc.ProposalRequest{
		JobID:             j.id,
		JobType:           DummyType,
		Tasks:             tasks,
		WaitTime:          time.Duration(j.cfg.ProposalWaitTime * float64(time.Second)),
		MinimumAcceptance: minimum,
		MaximumAcceptance: maximum,
	}, nil
}

func (j *DummyJob) LocalTasks() ([]model.Task, error) {
	tasks := make([]model.Task, j.cfg.LocalTasks)
	for i := range tasks {
		t, err := j.task(fmt.Sprintf("local_%d", i), i, "")
		if err != nil {
			return nil, err
		}
		tasks[i] = t
	}
	return tasks, nil
}

func (j *DummyJob) task(name string, index int, assignee string) (model.Task, error) {
	payload, err := json.Marshal(DummyMessage{Message: j.cfg.Message, Index: index})
	if err != nil {
		return model.Task{}, fmt.Errorf("encode payload: %w", err)
	}
	return model.Task{
		JobID:    j.id,
		TaskID:   TaskID(j.id, name),
		TaskType: DummyType,
		Assignee: assignee,
		Payload:  payload,
	}, nil
}
