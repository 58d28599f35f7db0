package otabridge

import (
	"context"
	"fmt"

	"github.com/autopeer-io/otabridge/internal/fleet"
	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/internal/otabridge/notifier"
	"github.com/autopeer-io/otabridge/internal/otabridge/server"
	"github.com/autopeer-io/otabridge/internal/pkg/eventbus"
	"github.com/autopeer-io/otabridge/pkg/log"
	"github.com/autopeer-io/otabridge/pkg/options"
)

type Config struct {
	HttpOptions  *options.HttpOptions
	GrpcOptions  *options.GrpcOptions
	MqttOptions  *options.MqttOptions
	S3Options    *options.S3Options
	RedisOptions *options.RedisOptions
	OTAOptions   *options.OTAOptions
}

// NewServer assembles the bridge. ctx bounds the connection checks made here.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	// 1. Infrastructure: state store and firmware catalog
	stateStore, err := InitializeStateStore(ctx, cfg.RedisOptions)
	if err != nil {
		return nil, err
	}

	index, err := InitializeIndex(ctx, cfg.S3Options, cfg.OTAOptions)
	if err != nil {
		_ = stateStore.Close()
		return nil, fmt.Errorf("failed to init firmware index: %w", err)
	}

	// 2. Infrastructure: separate ingress and egress connections
	ingress, err := InitializeMQTTClient(cfg.MqttOptions, "")
	if err != nil {
		_ = stateStore.Close()
		return nil, err
	}
	egress, err := InitializeMQTTClient(cfg.MqttOptions, "notifier")
	if err != nil {
		_ = stateStore.Close()
		return nil, fmt.Errorf("failed to init notifier: %w", err)
	}
	n := notifier.NewMQTTNotifier(egress, cfg.MqttOptions.BaseTopic)

	// 3. Domain: device directory and orchestrator
	f := fleet.New(fleet.Config{
		TopicRoot:      cfg.MqttOptions.DeviceTopicRoot,
		RequestTimeout: cfg.OTAOptions.RequestTimeout,
		UpdateTimeout:  cfg.OTAOptions.UpdateTimeout,
	}, n.Publisher(), index, log.Std())

	orchOpts := []ota.Option{ota.WithStateStore(stateStore)}
	// Replicas can only share the request subscriptions when they share leases.
	coordinator, shared := stateStore.(ota.Coordinator)
	if shared {
		orchOpts = append(orchOpts, ota.WithCoordinator(coordinator))
	} else {
		log.Info("Running as the single active instance, request subscriptions are not shared")
	}

	bus := eventbus.New()
	orch := ota.New(ota.Config{
		BaseTopic:             cfg.MqttOptions.BaseTopic,
		DisableAutomaticCheck: cfg.OTAOptions.DisableAutomaticUpdateCheck,
		CheckInterval:         cfg.OTAOptions.UpdateCheckInterval,
		LegacyAPI:             cfg.OTAOptions.LegacyAPI,
		LeaseTTL:              cfg.OTAOptions.LeaseTTL(),
	}, f, n, lifecycle{bus: bus}, orchOpts...)

	wireEvents(bus, f, orch, n)

	// 4. Servers and background workers
	manager := server.NewManager(&server.Config{
		HttpOptions: cfg.HttpOptions,
		GrpcOptions: cfg.GrpcOptions,
		MqttOptions: cfg.MqttOptions,
		LegacyAPI:   cfg.OTAOptions.LegacyAPI,
		Shared:      shared,
	}, &server.Service{
		Client:       ingress,
		Fleet:        f,
		Orchestrator: orch,
	}, n, index, bus)

	return &Server{
		orchestrator:  orch,
		serverManager: manager,
		store:         stateStore,
	}, nil
}
