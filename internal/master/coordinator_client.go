package master

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"github.com/seantiz/concord/internal/model"
	"github.com/seantiz/concord/internal/rpc"
)

// AcceptPolicy decides whether the party answers a proposal of jobType.
type AcceptPolicy func(jobType string) bool

// AllowJobTypes accepts exactly the listed job types.
func AllowJobTypes(types ...string) AcceptPolicy {
	allowed := slices.Clone(types)
	return func(jobType string) bool {
		return slices.Contains(allowed, jobType)
	}
}

// SubscribeError reports a subscription the Coordinator refused.
type SubscribeError struct {
	Status rpc.SubscribeStatus
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe refused: %s", e.Status)
}

// CoordinatorClient is the party's session with the Coordinator. It keeps a
// Subscribe stream open, answers acceptable proposals with FetchTask and
// pushes won tasks onto the cluster-task queue.
type CoordinatorClient struct {
	partyID  string
	jobTypes []string
	policy   AcceptPolicy
	tasks    *Queue[model.Task]
	retry    time.Duration
	logger   *slog.Logger

	conn    *grpc.ClientConn
	stub    rpc.CoordinatorClient
	leaving atomic.Bool
	fetches sync.WaitGroup
}

// CoordinatorClientConfig configures a CoordinatorClient.
type CoordinatorClientConfig struct {
	Address       string
	PartyID       string
	JobTypes      []string
	Policy        AcceptPolicy
	RetryInterval time.Duration
	DialOptions   []grpc.DialOption
}

// NewCoordinatorClient creates the client. No connection is attempted until
// Connect.
func NewCoordinatorClient(cfg CoordinatorClientConfig, tasks *Queue[model.Task], logger *slog.Logger) (*CoordinatorClient, error) {
	conn, err := rpc.Dial(cfg.Address, cfg.DialOptions...)
	if err != nil {
		return nil, err
	}
	policy := cfg.Policy
	if policy == nil {
		policy = AllowJobTypes(cfg.JobTypes...)
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	return &CoordinatorClient{
		partyID:  cfg.PartyID,
		jobTypes: cfg.JobTypes,
		policy:   policy,
		tasks:    tasks,
		retry:    retry,
		logger:   logger.With("component", "coordinator_client", "party_id", cfg.PartyID),
		conn:     conn,
		stub:     rpc.NewCoordinatorClient(conn),
	}, nil
}

// Connect blocks until the channel is ready or ctx ends.
func (c *CoordinatorClient) Connect(ctx context.Context) error {
	return waitUntilReady(ctx, c.conn, c.retry, c.logger)
}

// Run keeps the subscription alive until ctx ends, Leave is called or the
// Coordinator refuses the subscription. A broken stream is re-established
// after the retry interval. Run returns after the fetches it started.
func (c *CoordinatorClient) Run(ctx context.Context) error {
	defer c.fetches.Wait()
	for {
		err := c.subscribeOnce(ctx)
		var refused *SubscribeError
		switch {
		case c.leaving.Load() || ctx.Err() != nil:
			return nil
		case errors.As(err, &refused):
			return err
		case err == nil:
			c.logger.Warn("subscription closed by coordinator, resubscribing", "retry_in", c.retry)
		default:
			c.logger.Warn("subscription broken, resubscribing", "error", err, "retry_in", c.retry)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.retry):
		}
		if err := c.Connect(ctx); err != nil {
			return nil
		}
	}
}

func (c *CoordinatorClient) subscribeOnce(ctx context.Context) error {
	stream, err := c.stub.Subscribe(ctx, &rpc.SubscribeRequest{PartyID: c.partyID, JobTypes: c.jobTypes})
	if err != nil {
		return fmt.Errorf("open subscribe stream: %w", err)
	}
	c.logger.Info("subscribed", "job_types", c.jobTypes)

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if msg.Status != rpc.SubscribeSuccess {
			return &SubscribeError{Status: msg.Status}
		}
		c.handle(ctx, msg)
	}
}

func (c *CoordinatorClient) handle(ctx context.Context, msg *rpc.SubscribeResponse) {
	logger := c.logger.With("proposal_id", msg.ProposalID, "job_type", msg.JobType)
	if !c.policy(msg.JobType) {
		logger.Info("proposal skipped by policy")
		return
	}
	c.fetches.Go(func() {
		c.fetch(ctx, msg.ProposalID, logger)
	})
}

func (c *CoordinatorClient) fetch(ctx context.Context, proposalID string, logger *slog.Logger) {
	resp, err := c.stub.FetchTask(ctx, &rpc.FetchTaskRequest{PartyID: c.partyID, ProposalID: proposalID})
	if err != nil {
		logger.Warn("fetch task failed", "error", err)
		return
	}
	if resp.Status != rpc.FetchReady || resp.Task == nil {
		logger.Info("proposal not won", "status", resp.Status)
		return
	}
	tasksWonTotal.Inc()
	logger.Info("task won", "task_id", resp.Task.TaskID, "task_type", resp.Task.TaskType)
	c.tasks.Push(*resp.Task)
}

// Propose posts req and waits for the Coordinator's verdict.
func (c *CoordinatorClient) Propose(ctx context.Context, req *rpc.ProposalRequest) (rpc.ProposalStatus, error) {
	resp, err := c.stub.Proposal(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Leave withdraws the party from the Coordinator. Run returns afterwards.
func (c *CoordinatorClient) Leave(ctx context.Context) (rpc.LeaveStatus, error) {
	c.leaving.Store(true)
	resp, err := c.stub.Leave(ctx, &rpc.LeaveRequest{PartyID: c.partyID})
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Close closes the channel. In-flight fetches fail fast and are waited
// for by Run.
func (c *CoordinatorClient) Close() error {
	return c.conn.Close()
}
