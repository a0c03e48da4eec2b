package executor

import (
	"fmt"
	"sort"
	"sync"
)

// Info pairs a task type with the capabilities of its executor.
type Info struct {
	TaskType     string       `json:"task_type"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry maps task types to executors, with an optional fallback for
// types nobody registered.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	fallback  Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// Register adds an executor for taskType.
func (r *Registry) Register(taskType string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[taskType] = e
}

// SetFallback sets the executor used for unregistered task types.
func (r *Registry) SetFallback(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = e
}

// Resolve returns the executor for taskType.
func (r *Registry) Resolve(taskType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.executors[taskType]; ok {
		return e, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no executor registered for task type %q", taskType)
}

// List returns the registered executors sorted by task type.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.executors))
	for taskType, e := range r.executors {
		infos = append(infos, Info{
			TaskType:     taskType,
			Capabilities: e.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].TaskType < infos[j].TaskType
	})
	return infos
}
