package node

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gossipsim/internal/api"
	"gossipsim/internal/gossip"
)

// Server implements the Gossip gRPC service on top of a gossip node.
type Server struct {
	gossip *gossip.Node
	logger *zap.Logger
}

// NewServer creates a gRPC server adapter for g.
func NewServer(g *gossip.Node, logger *zap.Logger) *Server {
	return &Server{gossip: g, logger: logger}
}

// Deliver handles one inbound gossip hop.
func (s *Server) Deliver(ctx context.Context, req *api.DeliverRequest) (*api.DeliverResponse, error) {
	if req.Message == "" || req.SenderID == "" {
		return nil, status.Error(codes.InvalidArgument, "message and sender_id cannot be empty")
	}
	if req.SentAt == nil {
		return nil, status.Error(codes.InvalidArgument, "sent_at is required")
	}

	ack, err := s.gossip.Deliver(ctx, api.ToDelivery(req))
	switch {
	case err == nil:
		return &api.DeliverResponse{Details: ack.Details}, nil
	case errors.Is(err, gossip.ErrClosed):
		return nil, status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, gossip.ErrInvalidDelivery):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	default:
		s.logger.Error("deliver failed", zap.String("message", req.Message), zap.Error(err))
		return nil, status.Error(codes.Internal, err.Error())
	}
}

// Status reports the node's neighbor table and received count.
func (s *Server) Status(ctx context.Context, req *api.StatusRequest) (*api.StatusResponse, error) {
	return api.FromStatus(s.gossip.Status()), nil
}
