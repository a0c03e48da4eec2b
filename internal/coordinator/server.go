package coordinator

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/seantiz/concord/internal/rpc"
)

// GRPCServer exposes a Coordinator as the concord.Coordinator service.
type GRPCServer struct {
	c *Coordinator
}

var _ rpc.CoordinatorServer = (*GRPCServer)(nil)

// NewGRPCServer wraps c.
func NewGRPCServer(c *Coordinator) *GRPCServer {
	return &GRPCServer{c: c}
}

// Subscribe enrolls the caller and streams notifications until the party
// leaves, the coordinator shuts down or the client goes away.
func (s *GRPCServer) Subscribe(req *rpc.SubscribeRequest, stream rpc.SubscribeServerStream) error {
	if req.PartyID == "" {
		return status.Error(codes.InvalidArgument, "party_id is required")
	}

	sub, st := s.c.Enroll(req.PartyID, req.JobTypes)
	if st != rpc.SubscribeSuccess {
		return stream.Send(&rpc.SubscribeResponse{Status: st})
	}
	defer sub.Close()

	ctx := stream.Context()
	for {
		msg, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return status.FromContextError(err).Err()
		}
		if err := stream.Send(&msg); err != nil {
			s.c.logger.Warn("subscribe stream broken", "party_id", req.PartyID, "error", err)
			return err
		}
		sub.Done()
	}
}

func (s *GRPCServer) Proposal(ctx context.Context, req *rpc.ProposalRequest) (*rpc.ProposalResponse, error) {
	st, err := s.c.Propose(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.ProposalResponse{Status: st}, nil
}

func (s *GRPCServer) FetchTask(ctx context.Context, req *rpc.FetchTaskRequest) (*rpc.FetchTaskResponse, error) {
	st, task, err := s.c.FetchTask(ctx, req.PartyID, req.ProposalID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.FetchTaskResponse{Status: st, Task: task}, nil
}

func (s *GRPCServer) Leave(ctx context.Context, req *rpc.LeaveRequest) (*rpc.LeaveResponse, error) {
	st, err := s.c.Leave(ctx, req.PartyID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.LeaveResponse{Status: st}, nil
}

func toStatus(err error) error {
	if errors.Is(err, ErrInvalidProposal) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.FromContextError(err).Err()
}
