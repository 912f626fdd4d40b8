package control

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TubeHealthName is the health service name reported for tube n.
func TubeHealthName(n int) string { return fmt.Sprintf("tube-%d", n) }

// NewHealthServer returns a health server with TubeControl and every tube
// NOT_SERVING until the tubes report in.
func NewHealthServer(tubes []int) *health.Server {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	for _, n := range tubes {
		hs.SetServingStatus(TubeHealthName(n), healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return hs
}

// HealthHook returns a tube lifecycle hook that mirrors each tube's run state
// onto hs.
func HealthHook(hs *health.Server) func(tube int, running bool) {
	return func(tube int, running bool) {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if running {
			st = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(TubeHealthName(tube), st)
	}
}

// RegisterHealth registers hs on s and marks TubeControl serving.
func RegisterHealth(s grpc.ServiceRegistrar, hs *health.Server) {
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}
