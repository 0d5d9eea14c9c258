package server

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer hosts the health and reflection services. Typed RPC
// surfaces register themselves on Server() before Start.
type GRPCServer struct {
	log    zerolog.Logger
	addr   string
	server *grpc.Server
	health *health.Server
}

func NewGRPCServer(log zerolog.Logger, addr string) *GRPCServer {
	s := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	reflection.Register(s)
	return &GRPCServer{
		log:    log.With().Str("component", "grpc").Logger(),
		addr:   addr,
		server: s,
		health: h,
	}
}

func (g *GRPCServer) Server() *grpc.Server { return g.server }

// SetServing flips the health service between SERVING and NOT_SERVING.
func (g *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
}

// Start serves until Stop is called. Blocking.
func (g *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.addr, err)
	}
	g.log.Info().Str("addr", g.addr).Msg("grpc server listening")
	return g.server.Serve(lis)
}

// Stop drains in-flight RPCs and shuts the server down.
func (g *GRPCServer) Stop() {
	g.SetServing(false)
	g.server.GracefulStop()
}
