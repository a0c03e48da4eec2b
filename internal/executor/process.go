package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/seantiz/concord/internal/procexec"
)

// ProcessExecutor runs tasks whose payload is a procexec.Spec. Each task
// gets its own directory under the task's work dir unless the spec names one.
type ProcessExecutor struct {
	maxConcurrency int
}

var _ Executor = (*ProcessExecutor)(nil)

func NewProcessExecutor(maxConcurrency int) *ProcessExecutor {
	return &ProcessExecutor{maxConcurrency: maxConcurrency}
}

func (p *ProcessExecutor) Execute(ctx context.Context, spec TaskSpec) (TaskResult, error) {
	var ps procexec.Spec
	if err := json.Unmarshal(spec.Payload, &ps); err != nil {
		return TaskResult{}, fmt.Errorf("decode process spec: %w", err)
	}
	if ps.Dir == "" {
		ps.Dir = filepath.Join(spec.WorkDir, "jobs", spec.JobID, spec.TaskID)
	}
	if ps.TimeoutS <= 0 || (spec.TimeoutS > 0 && spec.TimeoutS < ps.TimeoutS) {
		ps.TimeoutS = spec.TimeoutS
	}
	if ps.Env == nil {
		ps.Env = make(map[string]string)
	}
	ps.Env["CONCORD_JOB_ID"] = spec.JobID
	ps.Env["CONCORD_TASK_ID"] = spec.TaskID

	res, err := procexec.Run(ctx, ps, spec.log)
	if err != nil {
		return TaskResult{}, err
	}
	return TaskResult{
		ExitCode:   res.ExitCode,
		Output:     []byte(res.Output),
		Error:      res.Error,
		DurationMS: res.DurationMS,
	}, nil
}

func (p *ProcessExecutor) Capabilities() Capabilities {
	return Capabilities{Name: "process", MaxConcurrency: p.maxConcurrency}
}
