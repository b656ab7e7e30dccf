package remotesink

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName  = "scrollback.v1.Collector"
	uploadMethod = "/" + serviceName + "/Upload"

	// Metadata keys carried by an Upload call.
	mdName   = "x-scrollback-name"
	mdFormat = "x-scrollback-format"
)

// collectorServer is the server half of the Collector service. Upload is a
// client stream of BytesValue chunks answered with the stored byte count.
type collectorServer interface {
	Upload(stream grpc.ServerStream) error
}

var uploadStreamDesc = grpc.StreamDesc{
	StreamName:    "Upload",
	ClientStreams: true,
}

var collectorServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*collectorServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Upload",
		ClientStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			return srv.(collectorServer).Upload(stream)
		},
	}},
	Metadata: "scrollback/v1/collector.proto",
}

func newChunk(data []byte) *wrapperspb.BytesValue {
	return wrapperspb.Bytes(data)
}
