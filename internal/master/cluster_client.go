package master

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"

	"github.com/seantiz/concord/internal/model"
	"github.com/seantiz/concord/internal/rpc"
)

// ClusterClient connects the Master to its own execution layer.
type ClusterClient struct {
	tasks  *Queue[model.Task]
	retry  time.Duration
	logger *slog.Logger
	conn   *grpc.ClientConn
	stub   rpc.ClusterManagerClient
}

// NewClusterClient creates the client. No connection is attempted until
// Connect.
func NewClusterClient(addr string, retry time.Duration, tasks *Queue[model.Task], logger *slog.Logger, opts ...grpc.DialOption) (*ClusterClient, error) {
	conn, err := rpc.Dial(addr, opts...)
	if err != nil {
		return nil, err
	}
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	return &ClusterClient{
		tasks:  tasks,
		retry:  retry,
		logger: logger.With("component", "cluster_client"),
		conn:   conn,
		stub:   rpc.NewClusterManagerClient(conn),
	}, nil
}

// Connect blocks until the channel is ready or ctx ends.
func (c *ClusterClient) Connect(ctx context.Context) error {
	return waitUntilReady(ctx, c.conn, c.retry, c.logger)
}

// RequestResources asks the cluster for the resources a job needs.
func (c *ClusterClient) RequestResources(ctx context.Context, req *rpc.ResourceRequest) (*rpc.ResourceResponse, error) {
	resp, err := c.stub.TaskResourceRequire(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("task resource require: %w", err)
	}
	return resp, nil
}

// ReleaseResources hands endpoints back to the cluster.
func (c *ClusterClient) ReleaseResources(ctx context.Context, endpoints []string) error {
	resp, err := c.stub.TaskResourceRelease(ctx, &rpc.ResourceReleaseRequest{Endpoints: endpoints})
	if err != nil {
		return fmt.Errorf("task resource release: %w", err)
	}
	if resp.Status != rpc.ClusterSuccess {
		return fmt.Errorf("task resource release: %s", resp.Status)
	}
	return nil
}

// Run forwards queued tasks to the cluster one at a time in FIFO order until
// ctx ends. A task the cluster does not accept is logged and dropped.
func (c *ClusterClient) Run(ctx context.Context) {
	for {
		task, err := c.tasks.Pop(ctx)
		if err != nil {
			return
		}
		c.submit(ctx, task)
	}
}

func (c *ClusterClient) submit(ctx context.Context, task model.Task) {
	logger := c.logger.With("job_id", task.JobID, "task_id", task.TaskID)

	resp, err := c.stub.TaskSubmit(ctx, &rpc.TaskSubmitRequest{Task: task})
	switch {
	case err != nil:
		tasksForwardedTotal.WithLabelValues("failed").Inc()
		logger.Error("submit task failed", "error", err)
	case resp.Status != rpc.ClusterSuccess:
		tasksForwardedTotal.WithLabelValues("failed").Inc()
		logger.Error("cluster rejected task", "error", resp.Error)
	default:
		tasksForwardedTotal.WithLabelValues("success").Inc()
		logger.Info("task submitted")
	}
}

// Close closes the channel.
func (c *ClusterClient) Close() error {
	return c.conn.Close()
}
