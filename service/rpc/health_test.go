package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestHealthServer(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	h := NewHealthServer(nil)
	go func() { _ = h.Serve(lis) }()
	t.Cleanup(h.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	check := func(service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		st, err := Check(ctx, "passthrough:///bufnet", service, dialer)
		require.NoError(t, err)
		return st
	}

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(ServiceName))

	h.SetServing(true)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(ServiceName))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(""))

	h.SetServing(false)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(""))
}

func TestCheckUnknownService(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	h := NewHealthServer(nil)
	go func() { _ = h.Serve(lis) }()
	t.Cleanup(h.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Check(ctx, "passthrough:///bufnet", "nope", grpc.WithContextDialer(
		func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	assert.Error(t, err)
}
