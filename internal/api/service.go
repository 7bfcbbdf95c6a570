package api

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName   = "gossip.v1.Gossip"
	DeliverMethod = "/gossip.v1.Gossip/Deliver"
	StatusMethod  = "/gossip.v1.Gossip/Status"
)

// GossipServer is the server API of the Gossip service.
type GossipServer interface {
	Deliver(context.Context, *DeliverRequest) (*DeliverResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
}

// GossipClient is the client API of the Gossip service.
type GossipClient interface {
	Deliver(ctx context.Context, in *DeliverRequest, opts ...grpc.CallOption) (*DeliverResponse, error)
	Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error)
}

type gossipClient struct {
	cc grpc.ClientConnInterface
}

// NewGossipClient returns a client that speaks the JSON codec on cc.
func NewGossipClient(cc grpc.ClientConnInterface) GossipClient {
	return &gossipClient{cc: cc}
}

func (c *gossipClient) Deliver(ctx context.Context, in *DeliverRequest, opts ...grpc.CallOption) (*DeliverResponse, error) {
	out := new(DeliverResponse)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := c.cc.Invoke(ctx, DeliverMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *gossipClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := c.cc.Invoke(ctx, StatusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterGossipServer registers srv on s.
func RegisterGossipServer(s grpc.ServiceRegistrar, srv GossipServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeliverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GossipServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DeliverMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GossipServer).Deliver(ctx, req.(*DeliverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GossipServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GossipServer).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the Gossip service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GossipServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gossip/v1/gossip.json",
}
