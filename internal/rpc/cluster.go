package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/seantiz/concord/internal/model"
)

// ClusterStatus is the outcome of a cluster manager call.
type ClusterStatus string

const (
	ClusterSuccess ClusterStatus = "SUCCESS"
	ClusterFailed  ClusterStatus = "FAILED"
)

type ResourceRequest struct {
	NumEndpoints int `json:"num_endpoints"`
}

type ResourceResponse struct {
	Status    ClusterStatus `json:"status"`
	WorkerID  string        `json:"worker_id,omitempty"`
	Endpoints []string      `json:"endpoints,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type ResourceReleaseRequest struct {
	Endpoints []string `json:"endpoints"`
}

type ResourceReleaseResponse struct {
	Status ClusterStatus `json:"status"`
}

type TaskSubmitRequest struct {
	Task model.Task `json:"task"`
}

type TaskSubmitResponse struct {
	Status ClusterStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
}

const (
	clusterService       = "concord.ClusterManager"
	clusterResourceRPC   = "/" + clusterService + "/TaskResourceRequire"
	clusterReleaseRPC    = "/" + clusterService + "/TaskResourceRelease"
	clusterTaskSubmitRPC = "/" + clusterService + "/TaskSubmit"
)

// ClusterManagerServer is the service implemented by the execution layer.
type ClusterManagerServer interface {
	TaskResourceRequire(context.Context, *ResourceRequest) (*ResourceResponse, error)
	TaskResourceRelease(context.Context, *ResourceReleaseRequest) (*ResourceReleaseResponse, error)
	TaskSubmit(context.Context, *TaskSubmitRequest) (*TaskSubmitResponse, error)
}

func RegisterClusterManagerServer(s grpc.ServiceRegistrar, srv ClusterManagerServer) {
	s.RegisterService(&ClusterManagerServiceDesc, srv)
}

var ClusterManagerServiceDesc = grpc.ServiceDesc{
	ServiceName: clusterService,
	HandlerType: (*ClusterManagerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TaskResourceRequire", Handler: clusterResourceHandler},
		{MethodName: "TaskResourceRelease", Handler: clusterReleaseHandler},
		{MethodName: "TaskSubmit", Handler: clusterTaskSubmitHandler},
	},
	Metadata: "concord/cluster",
}

func clusterResourceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ResourceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterManagerServer).TaskResourceRequire(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: clusterResourceRPC}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ClusterManagerServer).TaskResourceRequire(ctx, req.(*ResourceRequest))
	})
}

func clusterReleaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ResourceReleaseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterManagerServer).TaskResourceRelease(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: clusterReleaseRPC}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ClusterManagerServer).TaskResourceRelease(ctx, req.(*ResourceReleaseRequest))
	})
}

func clusterTaskSubmitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TaskSubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterManagerServer).TaskSubmit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: clusterTaskSubmitRPC}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ClusterManagerServer).TaskSubmit(ctx, req.(*TaskSubmitRequest))
	})
}

// ClusterManagerClient is the Master-side stub of the execution layer.
type ClusterManagerClient interface {
	TaskResourceRequire(ctx context.Context, in *ResourceRequest, opts ...grpc.CallOption) (*ResourceResponse, error)
	TaskResourceRelease(ctx context.Context, in *ResourceReleaseRequest, opts ...grpc.CallOption) (*ResourceReleaseResponse, error)
	TaskSubmit(ctx context.Context, in *TaskSubmitRequest, opts ...grpc.CallOption) (*TaskSubmitResponse, error)
}

type clusterManagerClient struct {
	cc grpc.ClientConnInterface
}

func NewClusterManagerClient(cc grpc.ClientConnInterface) ClusterManagerClient {
	return &clusterManagerClient{cc: cc}
}

func (c *clusterManagerClient) TaskResourceRequire(ctx context.Context, in *ResourceRequest, opts ...grpc.CallOption) (*ResourceResponse, error) {
	out := new(ResourceResponse)
	if err := c.cc.Invoke(ctx, clusterResourceRPC, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clusterManagerClient) TaskResourceRelease(ctx context.Context, in *ResourceReleaseRequest, opts ...grpc.CallOption) (*ResourceReleaseResponse, error) {
	out := new(ResourceReleaseResponse)
	if err := c.cc.Invoke(ctx, clusterReleaseRPC, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clusterManagerClient) TaskSubmit(ctx context.Context, in *TaskSubmitRequest, opts ...grpc.CallOption) (*TaskSubmitResponse, error) {
	out := new(TaskSubmitResponse)
	if err := c.cc.Invoke(ctx, clusterTaskSubmitRPC, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
