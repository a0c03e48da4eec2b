package cluster

import (
	"context"

	"github.com/seantiz/concord/internal/rpc"
)

// GRPCServer exposes a Manager as the ClusterManager service.
type GRPCServer struct {
	m *Manager
}

// NewGRPCServer wraps m for registration with rpc.RegisterClusterManagerServer.
func NewGRPCServer(m *Manager) *GRPCServer {
	return &GRPCServer{m: m}
}

// TaskResourceRequire allocates the requested endpoints. Allocation errors
// are reported in the response status so the caller can fail its job.
func (s *GRPCServer) TaskResourceRequire(_ context.Context, req *rpc.ResourceRequest) (*rpc.ResourceResponse, error) {
	resp, err := s.m.RequestResources(req.NumEndpoints)
	if err != nil {
		return &rpc.ResourceResponse{Status: rpc.ClusterFailed, Error: err.Error()}, nil
	}
	return resp, nil
}

// TaskResourceRelease returns endpoints reserved for a job that will not
// use them.
func (s *GRPCServer) TaskResourceRelease(_ context.Context, req *rpc.ResourceReleaseRequest) (*rpc.ResourceReleaseResponse, error) {
	s.m.ReleaseResources(req.Endpoints)
	return &rpc.ResourceReleaseResponse{Status: rpc.ClusterSuccess}, nil
}

// TaskSubmit records the task and starts it in the background.
func (s *GRPCServer) TaskSubmit(ctx context.Context, req *rpc.TaskSubmitRequest) (*rpc.TaskSubmitResponse, error) {
	if _, err := s.m.Submit(ctx, req.Task); err != nil {
		return &rpc.TaskSubmitResponse{Status: rpc.ClusterFailed, Error: err.Error()}, nil
	}
	return &rpc.TaskSubmitResponse{Status: rpc.ClusterSuccess}, nil
}
