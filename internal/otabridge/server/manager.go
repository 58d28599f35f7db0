package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/otabridge/internal/otabridge/server/grpc"
	"github.com/autopeer-io/otabridge/internal/otabridge/server/http"
	"github.com/autopeer-io/otabridge/internal/otabridge/server/mqtt"
	"github.com/autopeer-io/otabridge/pkg/log"
)

// Server defines the common interface for all sub-servers (grpc, mqtt, http)
// and background workers.
type Server interface {
	Start(ctx context.Context) error
}

// Manager manages the lifecycle of all protocol servers.
type Manager struct {
	servers []Server
}

// NewManager creates the protocol servers for svc. Workers run alongside them.
func NewManager(cfg *Config, svc *Service, workers ...Server) *Manager {
	servers := append([]Server(nil), workers...)

	// MQTT ingress: bridge requests and the device agent protocol.
	servers = append(servers, mqtt.NewServer(svc.Client, cfg.MqttOptions.BaseTopic, cfg.LegacyAPI, cfg.Shared, svc.Fleet, svc.Orchestrator))

	// HTTP: health, metrics and the device API.
	servers = append(servers, http.NewServer(cfg.HttpOptions, svc.Fleet, svc.Orchestrator, svc.Client.IsConnected))

	// gRPC health checking, unless disabled.
	if cfg.GrpcOptions != nil && cfg.GrpcOptions.Addr != "" {
		servers = append(servers, grpc.NewServer(cfg.GrpcOptions, svc.Client.IsConnected))
	}

	return &Manager{servers: servers}
}

// Start launches all servers in parallel and waits for termination.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range m.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	log.Info("All servers starting...", "count", len(m.servers))
	return g.Wait()
}
