package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func deadlineOf(ctx context.Context, _ any) (any, error) {
	d, ok := ctx.Deadline()
	if !ok {
		return nil, nil
	}
	return d, nil
}

func TestUnaryTimeoutSetsDeadline(t *testing.T) {
	before := time.Now()
	out, err := UnaryTimeout(time.Second)(context.Background(), nil, &grpc.UnaryServerInfo{}, deadlineOf)
	require.NoError(t, err)

	d, ok := out.(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(time.Second), d, 500*time.Millisecond)
}

func TestUnaryTimeoutKeepsCallerDeadline(t *testing.T) {
	want := time.Now().Add(time.Hour)
	ctx, cancel := context.WithDeadline(context.Background(), want)
	defer cancel()

	out, err := UnaryTimeout(time.Second)(ctx, nil, &grpc.UnaryServerInfo{}, deadlineOf)
	require.NoError(t, err)
	assert.Equal(t, want, out)
}

func TestUnaryTimeoutDefault(t *testing.T) {
	before := time.Now()
	out, err := UnaryTimeout(0)(context.Background(), nil, &grpc.UnaryServerInfo{}, deadlineOf)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(DefaultRPCTimeout), out.(time.Time), 500*time.Millisecond)
}
