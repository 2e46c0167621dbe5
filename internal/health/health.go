// Package health exposes the server state through the standard gRPC health
// checking protocol so orchestrators can probe it.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
)

const gracefulStopTimeout = 5 * time.Second

// Reporter publishes serving status for the overall server and a named
// service. A nil Reporter ignores updates.
type Reporter struct {
	server  *grpchealth.Server
	service string
}

// NewReporter creates a Reporter that starts NOT_SERVING.
func NewReporter(service string) *Reporter {
	r := &Reporter{server: grpchealth.NewServer(), service: service}
	r.SetServing(false)
	return r
}

// SetServing toggles between SERVING and NOT_SERVING.
func (r *Reporter) SetServing(serving bool) {
	if r == nil {
		return
	}
	status := healthgrpc.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthgrpc.HealthCheckResponse_SERVING
	}
	r.server.SetServingStatus("", status)
	if r.service != "" {
		r.server.SetServingStatus(r.service, status)
	}
}

// Register attaches the health service to s.
func (r *Reporter) Register(s *grpc.Server) {
	healthgrpc.RegisterHealthServer(s, r.server)
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (r *Reporter) Shutdown() {
	if r == nil {
		return
	}
	r.server.Shutdown()
}

// Serve runs a gRPC server carrying only the health service on lis until ctx
// is cancelled.
func Serve(ctx context.Context, lis net.Listener, r *Reporter, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "health", "addr", lis.Addr().String())

	grpcServer := grpc.NewServer()
	r.Register(grpcServer)

	go func() {
		<-ctx.Done()
		r.Shutdown()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(gracefulStopTimeout):
			log.Warn("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}
	}()

	log.Info("health server listening")
	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
