// Package job defines the capability interface a job type implements and the
// registry the Master loads submitted jobs through.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/seantiz/concord/internal/model"
	"github.com/seantiz/concord/internal/rpc"
)

// ErrUnknownJobType is returned by Registry.Load for an unregistered type.
var ErrUnknownJobType = errors.New("unknown job type")

// Job is one submitted unit of work as seen by the Master pipeline.
type Job interface {
	ID() string
	Type() string

	// ResourceRequired returns nil when the job needs no cluster resources.
	ResourceRequired() *rpc.ResourceRequest
	SetRequiredResource(resp *rpc.ResourceResponse) error

	// Compile prepares the job. A failing external step returns *CompileError.
	Compile(ctx context.Context) error

	ProposalRequest() (*rpc.ProposalRequest, error)
	LocalTasks() ([]model.Task, error)
}

// CompileError reports a compile step that ran but did not succeed.
type CompileError struct {
	JobID    string
	ExitCode int
	Detail   string
}

func (e *CompileError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("compile job %s: exit code %d", e.JobID, e.ExitCode)
	}
	return fmt.Sprintf("compile job %s: exit code %d: %s", e.JobID, e.ExitCode, e.Detail)
}

// Loader builds a Job of one type from the submitted configuration.
type Loader func(jobID string, config json.RawMessage, algorithmConfig string) (Job, error)

// Registry maps job types to loaders. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

// Register adds or replaces the loader for jobType.
func (r *Registry) Register(jobType string, l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[jobType] = l
}

// Load builds a job of jobType.
func (r *Registry) Load(jobType, jobID string, config json.RawMessage, algorithmConfig string) (Job, error) {
	r.mu.RLock()
	l, ok := r.loaders[jobType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	j, err := l(jobID, config, algorithmConfig)
	if err != nil {
		return nil, fmt.Errorf("load %s job: %w", jobType, err)
	}
	return j, nil
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.loaders))
	for t := range r.loaders {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// TaskID derives a task id unique within the job.
func TaskID(jobID, name string) string {
	return jobID + "-task_" + name
}
