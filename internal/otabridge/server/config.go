package server

import (
	"github.com/autopeer-io/otabridge/internal/fleet"
	"github.com/autopeer-io/otabridge/internal/ota"
	pkgmqtt "github.com/autopeer-io/otabridge/pkg/mqtt"
	"github.com/autopeer-io/otabridge/pkg/options"
)

// Config holds the listener settings of the protocol servers.
type Config struct {
	HttpOptions *options.HttpOptions
	GrpcOptions *options.GrpcOptions
	MqttOptions *options.MqttOptions
	LegacyAPI   bool

	// Shared load balances requests between replicas with shared subscriptions.
	Shared bool
}

// Service is the domain the servers expose.
type Service struct {
	Client       pkgmqtt.Client
	Fleet        *fleet.Fleet
	Orchestrator *ota.Orchestrator
}
