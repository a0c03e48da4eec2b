package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/seantiz/concord/internal/model"
)

// SubscribeStatus is the status carried by every Subscribe stream message.
type SubscribeStatus string

const (
	SubscribeSuccess         SubscribeStatus = "SUCCESS"
	SubscribeDuplicateEnroll SubscribeStatus = "DUPLICATE_ENROLL"
	SubscribeNotServing      SubscribeStatus = "NOT_SERVING"
)

// ProposalStatus is the outcome of a Proposal call.
type ProposalStatus string

const (
	ProposalSuccess              ProposalStatus = "SUCCESS"
	ProposalReject               ProposalStatus = "REJECT"
	ProposalNotEnoughSubscribers ProposalStatus = "NOT_ENOUGH_SUBSCRIBERS"
	ProposalNotEnoughResponders  ProposalStatus = "NOT_ENOUGH_RESPONDERS"
)

// FetchStatus is the outcome of a FetchTask call.
type FetchStatus string

const (
	FetchReady     FetchStatus = "READY"
	FetchNotFound  FetchStatus = "NOT_FOUND"
	FetchNotAllow  FetchStatus = "NOT_ALLOW"
	FetchTimeout   FetchStatus = "TIMEOUT"
	FetchCanceled  FetchStatus = "CANCELED"
	FetchRandomOut FetchStatus = "RANDOM_OUT"
)

// LeaveStatus is the outcome of a Leave call.
type LeaveStatus string

const (
	LeaveSuccess  LeaveStatus = "SUCCESS"
	LeaveNotFound LeaveStatus = "NOT_FOUND"
)

type SubscribeRequest struct {
	PartyID  string   `json:"party_id"`
	JobTypes []string `json:"job_types"`
}

// SubscribeResponse is one stream message. It never carries a task payload;
// a party must call FetchTask to learn what it is being offered.
type SubscribeResponse struct {
	Status     SubscribeStatus `json:"status"`
	ProposalID string          `json:"proposal_id,omitempty"`
	JobType    string          `json:"job_type,omitempty"`
}

type ProposalRequest struct {
	JobID             string        `json:"job_id"`
	JobType           string        `json:"job_type"`
	Tasks             []model.Task  `json:"tasks"`
	WaitTime          time.Duration `json:"wait_time"`
	MinimumAcceptance int           `json:"minimum_acceptance"`
	MaximumAcceptance int           `json:"maximum_acceptance"`
}

type ProposalResponse struct {
	Status ProposalStatus `json:"status"`
}

type FetchTaskRequest struct {
	PartyID    string `json:"party_id"`
	ProposalID string `json:"proposal_id"`
}

type FetchTaskResponse struct {
	Status FetchStatus `json:"status"`
	Task   *model.Task `json:"task,omitempty"`
}

type LeaveRequest struct {
	PartyID string `json:"party_id"`
}

type LeaveResponse struct {
	Status LeaveStatus `json:"status"`
}

const (
	coordinatorService      = "concord.Coordinator"
	coordinatorSubscribeRPC = "/" + coordinatorService + "/Subscribe"
	coordinatorProposalRPC  = "/" + coordinatorService + "/Proposal"
	coordinatorFetchTaskRPC = "/" + coordinatorService + "/FetchTask"
	coordinatorLeaveRPC     = "/" + coordinatorService + "/Leave"
)

// CoordinatorServer is the service implemented by the Coordinator.
type CoordinatorServer interface {
	Subscribe(*SubscribeRequest, SubscribeServerStream) error
	Proposal(context.Context, *ProposalRequest) (*ProposalResponse, error)
	FetchTask(context.Context, *FetchTaskRequest) (*FetchTaskResponse, error)
	Leave(context.Context, *LeaveRequest) (*LeaveResponse, error)
}

// SubscribeServerStream is the server side of a Subscribe stream.
type SubscribeServerStream interface {
	Send(*SubscribeResponse) error
	grpc.ServerStream
}

type subscribeServerStream struct {
	grpc.ServerStream
}

func (s *subscribeServerStream) Send(m *SubscribeResponse) error {
	return s.ServerStream.SendMsg(m)
}

// RegisterCoordinatorServer registers srv on the given gRPC server.
func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&CoordinatorServiceDesc, srv)
}

// CoordinatorServiceDesc describes the Coordinator service for grpc.
var CoordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: coordinatorService,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Proposal", Handler: coordinatorProposalHandler},
		{MethodName: "FetchTask", Handler: coordinatorFetchTaskHandler},
		{MethodName: "Leave", Handler: coordinatorLeaveHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: coordinatorSubscribeHandler, ServerStreams: true},
	},
	Metadata: "concord/coordinator",
}

func coordinatorSubscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CoordinatorServer).Subscribe(in, &subscribeServerStream{stream})
}

func coordinatorProposalHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ProposalRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).Proposal(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: coordinatorProposalRPC}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(CoordinatorServer).Proposal(ctx, req.(*ProposalRequest))
	})
}

func coordinatorFetchTaskHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FetchTaskRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).FetchTask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: coordinatorFetchTaskRPC}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(CoordinatorServer).FetchTask(ctx, req.(*FetchTaskRequest))
	})
}

func coordinatorLeaveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(LeaveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).Leave(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: coordinatorLeaveRPC}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(CoordinatorServer).Leave(ctx, req.(*LeaveRequest))
	})
}

// CoordinatorClient is the party-side stub of the Coordinator service.
type CoordinatorClient interface {
	Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (SubscribeClientStream, error)
	Proposal(ctx context.Context, in *ProposalRequest, opts ...grpc.CallOption) (*ProposalResponse, error)
	FetchTask(ctx context.Context, in *FetchTaskRequest, opts ...grpc.CallOption) (*FetchTaskResponse, error)
	Leave(ctx context.Context, in *LeaveRequest, opts ...grpc.CallOption) (*LeaveResponse, error)
}

// SubscribeClientStream is the client side of a Subscribe stream.
type SubscribeClientStream interface {
	Recv() (*SubscribeResponse, error)
	grpc.ClientStream
}

type coordinatorClient struct {
	cc grpc.ClientConnInterface
}

// NewCoordinatorClient returns a Coordinator stub bound to cc.
func NewCoordinatorClient(cc grpc.ClientConnInterface) CoordinatorClient {
	return &coordinatorClient{cc: cc}
}

func (c *coordinatorClient) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (SubscribeClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &CoordinatorServiceDesc.Streams[0], coordinatorSubscribeRPC, opts...)
	if err != nil {
		return nil, err
	}
	x := &subscribeClientStream{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type subscribeClientStream struct {
	grpc.ClientStream
}

func (x *subscribeClientStream) Recv() (*SubscribeResponse, error) {
	m := new(SubscribeResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *coordinatorClient) Proposal(ctx context.Context, in *ProposalRequest, opts ...grpc.CallOption) (*ProposalResponse, error) {
	out := new(ProposalResponse)
	if err := c.cc.Invoke(ctx, coordinatorProposalRPC, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) FetchTask(ctx context.Context, in *FetchTaskRequest, opts ...grpc.CallOption) (*FetchTaskResponse, error) {
	out := new(FetchTaskResponse)
	if err := c.cc.Invoke(ctx, coordinatorFetchTaskRPC, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) Leave(ctx context.Context, in *LeaveRequest, opts ...grpc.CallOption) (*LeaveResponse, error) {
	out := new(LeaveResponse)
	if err := c.cc.Invoke(ctx, coordinatorLeaveRPC, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
