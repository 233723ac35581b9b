package grpc

import (
	"net"

	"github.com/sirupsen/logrus"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server is the gateway's gRPC listener: the standard health service plus
// the credential and quota interceptors for every other registered service.
type Server struct {
	grpc   *gogrpc.Server
	health *health.Server
}

func NewServer(guard *Guard, opts ...gogrpc.ServerOption) *Server {
	opts = append(opts,
		gogrpc.ChainUnaryInterceptor(guard.UnaryInterceptor()),
		gogrpc.ChainStreamInterceptor(guard.StreamInterceptor()),
	)
	grpcServer := gogrpc.NewServer(opts...)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &Server{grpc: grpcServer, health: healthServer}
}

// Registrar exposes the underlying server for service registration.
func (s *Server) Registrar() gogrpc.ServiceRegistrar {
	return s.grpc
}

func (s *Server) Serve(lis net.Listener) error {
	logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
	return s.grpc.Serve(lis)
}

// Shutdown marks the server NOT_SERVING and drains in-flight calls.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
