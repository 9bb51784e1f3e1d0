package rpc

import (
	"context"
	"net"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"PRelay/tools/errs"
)

// ServiceName is the health entry for the relay itself. The empty name
// reports overall server health.
const ServiceName = "relay.Presence"

// HealthServer exposes grpc.health.v1 so orchestrators can probe the relay.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	log    *zap.Logger
}

func NewHealthServer(log *zap.Logger) *HealthServer {
	if log == nil {
		log = zap.NewNop()
	}
	h := &HealthServer{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		log:    log,
	}
	grpc_health_v1.RegisterHealthServer(h.srv, h.health)
	h.SetServing(false)
	return h
}

func (h *HealthServer) SetServing(ok bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ok {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", st)
	h.health.SetServingStatus(ServiceName, st)
}

// Listen binds port and serves in the calling goroutine.
func (h *HealthServer) Listen(port int) error {
	addr := net.JoinHostPort("", strconv.Itoa(port))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.ErrTransport.WrapMsg("grpc listen", "addr", addr, "err", err)
	}
	return h.Serve(lis)
}

func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
	if err := h.srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return errs.ErrTransport.WrapMsg("grpc serve", "err", err)
	}
	return nil
}

// Stop marks the relay NOT_SERVING and drains in-flight calls.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}

// Check asks target for the status of service. It is what `relay -probe` runs.
func Check(ctx context.Context, target, service string, opts ...grpc.DialOption) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, errs.ErrTransport.WrapMsg("grpc dial", "target", target, "err", err)
	}
	defer conn.Close()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, errs.ErrTransport.WrapMsg("health check", "target", target, "err", err)
	}
	return resp.GetStatus(), nil
}
