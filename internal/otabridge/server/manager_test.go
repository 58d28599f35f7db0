package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcServer func(ctx context.Context) error

func (f funcServer) Start(ctx context.Context) error { return f(ctx) }

func TestManagerStopsAllOnError(t *testing.T) {
	var stopped atomic.Int32
	blocking := funcServer(func(ctx context.Context) error {
		<-ctx.Done()
		stopped.Add(1)
		return nil
	})
	failing := funcServer(func(context.Context) error {
		return errors.New("listen tcp: address already in use")
	})

	m := &Manager{servers: []Server{blocking, blocking, failing}}

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()

	select {
	case err := <-done:
		assert.EqualError(t, err, "listen tcp: address already in use")
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
	assert.Equal(t, int32(2), stopped.Load())
}

func TestManagerStopsOnCancel(t *testing.T) {
	m := &Manager{servers: []Server{funcServer(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Start(ctx))
}
