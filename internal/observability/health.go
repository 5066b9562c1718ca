package observability

import (
	"errors"
	"net"

	"github.com/signalsfoundry/tanknet-simulator/internal/logging"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SimulatorService is the health service name reported by the daemon.
const SimulatorService = "tanksim.Simulator"

// HealthServer is a gRPC server carrying only the standard health service.
// The overall status ("") tracks process liveness; SimulatorService tracks
// whether the tick loop is running unpaused.
type HealthServer struct {
	Server *grpc.Server
	health *health.Server
}

// NewHealthServer builds the server with otelgrpc spans, a per-request
// logger and, when c is non-nil, the Prometheus request interceptor.
func NewHealthServer(c *SimCollector, log logging.Logger) *HealthServer {
	interceptors := []grpc.UnaryServerInterceptor{RequestLoggerUnaryServerInterceptor(log)}
	if c != nil {
		interceptors = append(interceptors, c.UnaryServerInterceptor())
	}
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(SimulatorService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{Server: srv, health: hs}
}

// SetSimulatorServing flips the simulator service status.
func (h *HealthServer) SetSimulatorServing(serving bool) {
	if h == nil {
		return
	}
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(SimulatorService, st)
}

// Serve blocks serving lis until Stop is called. Stopping before Serve
// starts is not an error.
func (h *HealthServer) Serve(lis net.Listener) error {
	if err := h.Server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.Server.GracefulStop()
}
