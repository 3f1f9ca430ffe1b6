package nodev1

import (
	"context"

	"google.golang.org/grpc"
)

const Comm_Exchange_FullMethodName = "/nodev1.Comm/Exchange"

// CommClient is the client API for the Comm service.
type CommClient interface {
	Exchange(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[Request, Response], error)
}

type commClient struct {
	cc grpc.ClientConnInterface
}

func NewCommClient(cc grpc.ClientConnInterface) CommClient {
	return &commClient{cc}
}

func (c *commClient) Exchange(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[Request, Response], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &Comm_ServiceDesc.Streams[0], Comm_Exchange_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[Request, Response]{ClientStream: stream}, nil
}

type Comm_ExchangeClient = grpc.BidiStreamingClient[Request, Response]

// CommServer is the server API for the Comm service.
type CommServer interface {
	Exchange(grpc.BidiStreamingServer[Request, Response]) error
}

type Comm_ExchangeServer = grpc.BidiStreamingServer[Request, Response]

func RegisterCommServer(s grpc.ServiceRegistrar, srv CommServer) {
	s.RegisterService(&Comm_ServiceDesc, srv)
}

func _Comm_Exchange_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(CommServer).Exchange(&grpc.GenericServerStream[Request, Response]{ServerStream: stream})
}

var Comm_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "nodev1.Comm",
	HandlerType: (*CommServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       _Comm_Exchange_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "node/v1/comm.proto",
}
