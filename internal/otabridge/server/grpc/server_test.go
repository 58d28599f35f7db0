package grpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/autopeer-io/otabridge/pkg/options"
)

func TestHealthFollowsReadiness(t *testing.T) {
	connected := false
	s := NewServer(options.NewGrpcOptions(), func() bool { return connected })

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.Status
	}

	s.refresh()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(ServiceName))

	connected = true
	s.refresh()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(ServiceName))
}

func TestStartStops(t *testing.T) {
	opts := options.NewGrpcOptions()
	opts.Addr = "127.0.0.1:0"
	s := NewServer(opts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	cancel()

	assert.NoError(t, <-done)
}
