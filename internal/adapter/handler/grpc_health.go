package handler

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// InventoryHealthService is the service name billing probes.
const InventoryHealthService = "inventory"

// GRPCHealth exposes grpc.health.v1.Health for the inventory service.
type GRPCHealth struct {
	server *health.Server
}

func NewGRPCHealth() *GRPCHealth {
	return &GRPCHealth{server: health.NewServer()}
}

func (g *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, g.server)
}

// SetServing flips both the named service and the overall server status.
func (g *GRPCHealth) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.server.SetServingStatus(InventoryHealthService, status)
	g.server.SetServingStatus("", status)
}

// Shutdown marks everything NOT_SERVING and ignores later updates.
func (g *GRPCHealth) Shutdown() {
	g.server.Shutdown()
}
