package admin

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthServer wraps the standard gRPC health service, wired the same
// way every service in the fleet wires its liveness probe: a plain
// grpc.Server hosting grpc_health_v1, with reflection enabled outside
// production.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
}

// NewHealthServer builds the gRPC health server. enableReflection
// should be false in production, matching the teacher's convention of
// only registering reflection in non-prod environments.
func NewHealthServer(enableReflection bool) *HealthServer {
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	if enableReflection {
		reflection.Register(grpcServer)
	}

	return &HealthServer{grpcServer: grpcServer, health: healthSrv}
}

// SetServing marks the bridge as healthy under the overall (empty)
// service name; no per-component statuses are set. Called once startup has finished,
// including the re-subscription pass over the Subscription Registry.
func (h *HealthServer) SetServing() {
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// SetNotServing marks the bridge unhealthy, called at the start of
// graceful shutdown so load balancers stop routing new traffic.
func (h *HealthServer) SetNotServing() {
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
}

// Serve blocks accepting gRPC health checks on lis.
func (h *HealthServer) Serve(lis net.Listener) error {
	return h.grpcServer.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (h *HealthServer) Stop() {
	h.grpcServer.GracefulStop()
}
