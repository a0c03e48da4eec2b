package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/concord/internal/job"
	"github.com/seantiz/concord/internal/model"
	"github.com/seantiz/concord/internal/rpc"
)

// ErrResourceDenied is returned when the cluster refuses a resource request.
var ErrResourceDenied = errors.New("cluster denied resources")

// ProposalError reports a proposal that did not end in SUCCESS.
type ProposalError struct {
	Status rpc.ProposalStatus
}

func (e *ProposalError) Error() string {
	return fmt.Sprintf("proposal ended with %s", e.Status)
}

// Proposer posts a proposal to the Coordinator.
type Proposer interface {
	Propose(ctx context.Context, req *rpc.ProposalRequest) (rpc.ProposalStatus, error)
}

// ResourceAcquirer reserves cluster resources for a job and hands them back
// when the job fails before its tasks run.
type ResourceAcquirer interface {
	RequestResources(ctx context.Context, req *rpc.ResourceRequest) (*rpc.ResourceResponse, error)
	ReleaseResources(ctx context.Context, endpoints []string) error
}

const releaseTimeout = 10 * time.Second

// Pipeline drains the job queue and drives every job through its lifecycle
// in its own goroutine, so a slow negotiation never holds up other jobs.
type Pipeline struct {
	state     *State
	proposer  Proposer
	resources ResourceAcquirer
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewPipeline creates a pipeline over state.
func NewPipeline(state *State, proposer Proposer, resources ResourceAcquirer, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		state:     state,
		proposer:  proposer,
		resources: resources,
		logger:    logger,
	}
}

// Run pops jobs until ctx ends.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		j, err := p.state.JobQueue.Pop(ctx)
		if err != nil {
			return
		}
		p.wg.Go(func() {
			p.process(ctx, j)
		})
	}
}

// Wait blocks until every started job has left the pipeline.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// process runs one job. Errors and panics end the job as FAILED and never
// reach other jobs.
func (p *Pipeline) process(ctx context.Context, j job.Job) {
	logger := p.logger.With("job_id", j.ID(), "job_type", j.Type())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job pipeline panicked", "panic", r)
			p.markFailed(j.ID(), fmt.Sprintf("panic: %v", r), logger)
		}
	}()

	if err := p.runJob(ctx, j, logger); err != nil {
		logger.Error("job failed", "error", err)
		p.markFailed(j.ID(), err.Error(), logger)
		return
	}
	logger.Info("job running")
}

func (p *Pipeline) runJob(ctx context.Context, j job.Job, logger *slog.Logger) (err error) {
	if req := j.ResourceRequired(); req != nil {
		resp, reqErr := p.resources.RequestResources(ctx, req)
		if reqErr != nil {
			return fmt.Errorf("request resources: %w", reqErr)
		}
		if resp.Status != rpc.ClusterSuccess {
			return fmt.Errorf("%w: %s", ErrResourceDenied, resp.Error)
		}
		defer func() {
			if r := recover(); r != nil {
				p.release(ctx, resp.Endpoints, logger)
				panic(r)
			}
			if err != nil {
				p.release(ctx, resp.Endpoints, logger)
			}
		}()
		if err := j.SetRequiredResource(resp); err != nil {
			return fmt.Errorf("set resources: %w", err)
		}
		logger.Info("resources acquired", "worker_id", resp.WorkerID, "endpoints", resp.Endpoints)
	}

	if err := j.Compile(ctx); err != nil {
		return err
	}
	logger.Info("job compiled")

	req, err := j.ProposalRequest()
	if err != nil {
		return fmt.Errorf("build proposal: %w", err)
	}
	if err := p.state.SetStatus(ctx, j.ID(), model.StatusProposal, ""); err != nil {
		return err
	}

	status, err := p.proposer.Propose(ctx, req)
	if err != nil {
		return fmt.Errorf("propose: %w", err)
	}
	if status != rpc.ProposalSuccess {
		return &ProposalError{Status: status}
	}

	if err := p.state.SetStatus(ctx, j.ID(), model.StatusRunning, ""); err != nil {
		return err
	}

	tasks, err := j.LocalTasks()
	if err != nil {
		return fmt.Errorf("build local tasks: %w", err)
	}
	for _, t := range tasks {
		p.state.TaskQueue.Push(t)
	}
	logger.Info("local tasks queued", "count", len(tasks))
	return nil
}

// release returns endpoints of a failed job. It outlives a cancelled ctx.
func (p *Pipeline) release(ctx context.Context, endpoints []string, logger *slog.Logger) {
	if len(endpoints) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := p.resources.ReleaseResources(ctx, endpoints); err != nil {
		logger.Warn("release resources", "error", err, "endpoints", endpoints)
		return
	}
	logger.Info("resources released", "endpoints", endpoints)
}

// markFailed sets FAILED unless the job already ended there. It uses a
// fresh context so a cancelled pipeline still records the failure.
func (p *Pipeline) markFailed(jobID, reason string, logger *slog.Logger) {
	ctx := context.Background()
	status, err := p.state.Status(ctx, jobID)
	if err != nil {
		logger.Error("read job status", "error", err)
		return
	}
	if status == model.StatusFailed {
		return
	}
	if err := p.state.SetStatus(ctx, jobID, model.StatusFailed, reason); err != nil {
		logger.Error("mark job failed", "error", err)
	}
}
