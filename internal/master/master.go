package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/seantiz/concord/internal/job"
	"github.com/seantiz/concord/internal/store"
)

// Config holds the settings of one Master.
type Config struct {
	PartyID         string
	JobTypes        []string
	CoordinatorAddr string
	ClusterAddr     string
	RetryInterval   time.Duration
	ShutdownGrace   time.Duration

	// DialOptions are appended to every client connection, e.g. a custom
	// dialer in tests.
	DialOptions []grpc.DialOption
}

// Service is a component with a start/stop lifecycle, such as the REST
// submission surface.
type Service interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Master is one party's job owner.
type Master struct {
	cfg      Config
	logger   *slog.Logger
	registry *job.Registry
	state    *State

	coordinator *CoordinatorClient
	cluster     *ClusterClient
	pipeline    *Pipeline
	http        Service

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Master. Nothing is started until Start.
func New(cfg Config, jobs store.JobStore, registry *job.Registry, logger *slog.Logger) (*Master, error) {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = time.Second
	}
	logger = logger.With("party_id", cfg.PartyID)
	state := NewState(cfg.PartyID, jobs)

	cluster, err := NewClusterClient(cfg.ClusterAddr, cfg.RetryInterval, state.TaskQueue, logger, cfg.DialOptions...)
	if err != nil {
		return nil, fmt.Errorf("cluster client: %w", err)
	}
	coordinator, err := NewCoordinatorClient(CoordinatorClientConfig{
		Address:       cfg.CoordinatorAddr,
		PartyID:       cfg.PartyID,
		JobTypes:      cfg.JobTypes,
		RetryInterval: cfg.RetryInterval,
		DialOptions:   cfg.DialOptions,
	}, state.TaskQueue, logger)
	if err != nil {
		cluster.Close()
		return nil, fmt.Errorf("coordinator client: %w", err)
	}

	return &Master{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		state:       state,
		coordinator: coordinator,
		cluster:     cluster,
		pipeline:    NewPipeline(state, coordinator, cluster, logger.With("component", "pipeline")),
	}, nil
}

// AttachHTTP sets the REST service started and stopped with the Master.
func (m *Master) AttachHTTP(svc Service) {
	m.http = svc
}

// HealthChecks reports the state of the Master's two gRPC channels.
func (m *Master) HealthChecks() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"coordinator": func(context.Context) error { return channelHealth(m.coordinator.conn) },
		"cluster":     func(context.Context) error { return channelHealth(m.cluster.conn) },
	}
}

// State exposes the Master's shared state.
func (m *Master) State() *State {
	return m.state
}

// Start brings the Master up: cluster channel and task dispatch first, then
// the REST surface, then the Coordinator channel, the subscription and the
// job pipeline. It blocks until both channels are ready or ctx ends.
func (m *Master) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	if err := m.cluster.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("connect cluster: %w", err)
	}
	m.wg.Go(func() { m.cluster.Run(runCtx) })

	if m.http != nil {
		if err := m.http.Start(); err != nil {
			cancel()
			return fmt.Errorf("start http: %w", err)
		}
	}

	if err := m.coordinator.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("connect coordinator: %w", err)
	}
	m.wg.Go(func() {
		if err := m.coordinator.Run(runCtx); err != nil {
			m.logger.Error("subscription ended", "error", err)
		}
	})
	m.wg.Go(func() { m.pipeline.Run(runCtx) })

	m.logger.Info("master started", "job_types", m.cfg.JobTypes)
	return nil
}

// Stop leaves the federation, closes the Coordinator channel, shuts the REST
// surface down within the grace period and finally closes the cluster
// channel. Tasks still queued are dropped.
func (m *Master) Stop(ctx context.Context) error {
	var errs []error

	leaveCtx, cancelLeave := context.WithTimeout(ctx, m.cfg.ShutdownGrace)
	if st, err := m.coordinator.Leave(leaveCtx); err != nil {
		m.logger.Warn("leave failed", "error", err)
	} else {
		m.logger.Info("left federation", "status", st)
	}
	cancelLeave()

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	if err := m.coordinator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close coordinator channel: %w", err))
	}

	if m.http != nil {
		httpCtx, cancelHTTP := context.WithTimeout(ctx, m.cfg.ShutdownGrace)
		if err := m.http.Shutdown(httpCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http: %w", err))
		}
		cancelHTTP()
	}

	m.wg.Wait()
	m.pipeline.Wait()

	if err := m.cluster.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cluster channel: %w", err))
	}
	if n := m.state.TaskQueue.Len(); n > 0 {
		m.logger.Warn("dropping undispatched tasks", "count", n)
	}
	m.logger.Info("master stopped")
	return errors.Join(errs...)
}

// SubmitJob loads a job through the registry, records it as WAITING and
// queues it for the pipeline.
func (m *Master) SubmitJob(ctx context.Context, jobType string, config json.RawMessage, algorithmConfig string) (string, error) {
	jobID := m.state.NewJobID()
	j, err := m.registry.Load(jobType, jobID, config, algorithmConfig)
	if err != nil {
		return "", err
	}
	if err := m.state.Submit(ctx, j); err != nil {
		return "", err
	}
	m.logger.Info("job submitted", "job_id", jobID, "job_type", jobType)
	return jobID, nil
}

// JobStatus returns the status of jobID, or NOTFOUND.
func (m *Master) JobStatus(ctx context.Context, jobID string) (string, error) {
	return m.state.Status(ctx, jobID)
}
