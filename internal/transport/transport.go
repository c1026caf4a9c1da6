// Package transport serves the HTTP API and the gRPC health service on a
// single port. cmux routes HTTP/2 requests whose content-type is
// application/grpc to the gRPC server and everything else to net/http, so
// load balancers can probe grpc.health.v1 and clients reach the REST API on
// the same address.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ShutdownTimeout bounds how long in-flight HTTP requests may take to finish
// once the context passed to Serve is cancelled.
const ShutdownTimeout = 20 * time.Second

// Server bundles the HTTP server, the gRPC server and its health service.
type Server struct {
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// New wires handler behind an http.Server with the usual timeouts and
// registers the standard gRPC health service.
func New(handler http.Handler, logger *slog.Logger) *Server {
	g := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(g, hs)

	return &Server{
		http: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 90 * time.Second, // /ia/analyze and /compare wait on the LLM
			IdleTimeout:  120 * time.Second,
		},
		grpc:   g,
		health: hs,
		logger: logger,
	}
}

// SetServing flips the overall health status reported over gRPC.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Serve accepts connections on lis until ctx is cancelled or one of the
// servers fails, then shuts both down gracefully. It always closes lis.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	m := cmux.New(lis)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	errc := make(chan error, 3)
	go func() {
		if err := s.grpc.Serve(grpcL); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go func() {
		if err := s.http.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		if err := m.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
			errc <- fmt.Errorf("cmux: %w", err)
		}
	}()

	s.SetServing(true)
	s.logger.Info("server listening", "addr", lis.Addr().String())

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case serveErr = <-errc:
	}

	s.health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("http shutdown: %w", err)
	}
	s.grpc.GracefulStop()
	_ = lis.Close()

	return serveErr
}
