package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/otabridge/internal/fleet"
	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/otabridge/pkg/log"
	pkgmqtt "github.com/autopeer-io/otabridge/pkg/mqtt"
	"github.com/autopeer-io/otabridge/pkg/mqtt/topic"
)

const qos = 1

// Server implements the MQTT ingress layer.
type Server struct {
	client pkgmqtt.Client
	base   *topic.Builder
	legacy bool
	shared bool
	fleet  *fleet.Fleet
	orch   *ota.Orchestrator
}

// NewServer creates a new MQTT server (client). With shared set, requests are
// load balanced between replicas, which must then coordinate through the
// orchestrator's Coordinator.
func NewServer(client pkgmqtt.Client, baseTopic string, legacy, shared bool, f *fleet.Fleet, orch *ota.Orchestrator) *Server {
	return &Server{
		client: client,
		base:   topic.NewBuilder(baseTopic),
		legacy: legacy,
		shared: shared,
		fleet:  f,
		orch:   orch,
	}
}

// Start connects to the broker and subscribes to topics.
func (s *Server) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return err
	}

	defer func() {
		log.Info("Disconnecting MQTT client...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.client.Disconnect(shutdownCtx)
		log.Info("MQTT client disconnected")
	}()

	log.Info("Waiting for MQTT connection...")
	if err := s.client.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.Info("MQTT Connected")

	if err := s.subscribe(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	return nil
}

// Subscriptions returns every topic filter the server listens on with its handler.
// Handlers run with ctx so in-flight operations stop on shutdown.
func (s *Server) Subscriptions(ctx context.Context) map[string]pkgmqtt.MessageHandler {
	subs := make(map[string]pkgmqtt.MessageHandler)

	command := func(_ context.Context, t string, payload []byte) {
		// Errors are logged and answered by the orchestrator.
		_ = s.orch.HandleCommand(ctx, t, payload)
	}
	requests := s.base
	if s.shared {
		requests = s.base.Shared(paths.GroupBridge)
	}
	subs[requests.BuildWildcard(paths.OTARequestCurrent)] = command
	if s.legacy {
		subs[requests.BuildWildcard(paths.OTALegacy)] = command
	}

	// Registrations are retained and acks return to the replica holding the
	// pending command, so only next-image requests are load balanced.
	agents := topic.NewBuilder(s.fleet.TopicRoot())
	for segment, handler := range s.fleet.Routes() {
		b := agents
		if s.shared && segment == paths.OTARequest {
			b = agents.Shared(paths.GroupBridge)
		}
		subs[b.BuildWildcard(segment)] = func(_ context.Context, t string, payload []byte) {
			handler(ctx, t, payload)
		}
	}
	return subs
}

func (s *Server) subscribe(ctx context.Context) error {
	for filter, handler := range s.Subscriptions(ctx) {
		if err := s.client.Subscribe(ctx, filter, qos, handler); err != nil {
			return fmt.Errorf("failed to subscribe to topic: %s, err: %w", filter, err)
		}
		log.Debug("Subscribed", "topic", filter)
	}
	return nil
}
