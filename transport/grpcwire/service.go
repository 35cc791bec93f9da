package grpcwire

import (
	"context"

	"google.golang.org/grpc"

	"github.com/webitel/actorbridge/wire"
)

// serviceName and methodName identify the single bidi-streaming RPC this
// package exposes. There is no .proto: the ServiceDesc below is written by
// hand, matching what grpc would generate for a
// `rpc Bridge(stream Envelope) returns (stream Envelope)` definition.
const (
	serviceName = "actorbridge.Bridge"
	methodName  = "Bridge"
)

// bridgeServer is implemented by whatever wants to accept inbound streams
// (transport.Listener's grpc backend).
type bridgeServer interface {
	handle(grpc.ServerStream) error
}

func bridgeStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(bridgeServer).handle(stream)
}

// ServiceDesc is registered against a *grpc.Server via RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*bridgeServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    methodName,
			Handler:       bridgeStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "actorbridge/bridge.proto",
}

// bridgeClient is the hand-written analogue of a generated grpc client stub
// for the single Bridge RPC.
type bridgeClient struct {
	cc *grpc.ClientConn
}

func (c *bridgeClient) open(ctx context.Context) (grpc.ClientStream, error) {
	desc := &grpc.StreamDesc{
		StreamName:    methodName,
		ServerStreams: true,
		ClientStreams: true,
	}
	return c.cc.NewStream(ctx, desc, "/"+serviceName+"/"+methodName,
		grpc.CallContentSubtype(codecName))
}

func sendEnvelope(stream interface {
	SendMsg(m any) error
}, env wire.Envelope) error {
	e := env
	return stream.SendMsg(&e)
}

func recvEnvelope(stream interface {
	RecvMsg(m any) error
}) (wire.Envelope, error) {
	var env wire.Envelope
	if err := stream.RecvMsg(&env); err != nil {
		return wire.Envelope{}, err
	}
	return env, nil
}
