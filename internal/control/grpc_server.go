package control

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/launch-tube-controller/internal/logging"
	"github.com/signalsfoundry/launch-tube-controller/internal/observability"
)

// NewGRPCServer builds a grpc.Server with the request-id, tracing and
// metrics interceptors chained in that order. collector may be nil.
func NewGRPCServer(log logging.Logger, collector *observability.ControlCollector, opts ...grpc.ServerOption) *grpc.Server {
	unary := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	stream := []grpc.StreamServerInterceptor{
		RequestIDStreamServerInterceptor(log),
		TracingStreamServerInterceptor(),
	}
	if collector != nil {
		unary = append(unary, collector.UnaryServerInterceptor())
		stream = append(stream, collector.StreamServerInterceptor())
	}

	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}
	return grpc.NewServer(append(base, opts...)...)
}

// Register installs srv on s.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	RegisterTubeControlServer(gs, s)
}
