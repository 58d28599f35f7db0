package otabridge

import (
	"context"
	"fmt"
	"os"

	"github.com/autopeer-io/otabridge/internal/firmware"
	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/internal/store"
	"github.com/autopeer-io/otabridge/pkg/log"
	"github.com/autopeer-io/otabridge/pkg/mqtt"
	"github.com/autopeer-io/otabridge/pkg/options"
)

// StateStore is a closable ota.StateStore.
type StateStore interface {
	ota.StateStore
	Close() error
}

// InitializeMQTTClient creates a client whose id ends in suffix. Without an
// explicit client id, the hostname is used.
func InitializeMQTTClient(opts *options.MqttOptions, suffix string) (mqtt.Client, error) {
	cfg := opts.ToClientConfig()

	if cfg.ClientID == "" {
		hostname, _ := os.Hostname()
		cfg.ClientID = fmt.Sprintf("otabridge-%s", hostname)
	}
	if suffix != "" {
		cfg.ClientID += "-" + suffix
	}

	mqttclient, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "failed to new mqtt client")
		return nil, err
	}

	return mqttclient, nil
}

// InitializeStateStore connects to redis when configured and falls back to memory.
func InitializeStateStore(ctx context.Context, opts *options.RedisOptions) (StateStore, error) {
	if !opts.Enabled() {
		log.Info("No redis configured, update state is kept in memory")
		return store.NewMemory(), nil
	}

	s, err := store.NewRedis(ctx, opts)
	if err != nil {
		log.Error(err, "failed to connect to redis", "addr", opts.Addr)
		return nil, err
	}
	return s, nil
}

// InitializeIndex wires the firmware index to its source and, when configured,
// to object storage.
func InitializeIndex(ctx context.Context, s3 *options.S3Options, opts *options.OTAOptions) (*firmware.Index, error) {
	var objects *firmware.ObjectStore
	if s3.Enabled() {
		var err error
		if objects, err = firmware.NewObjectStore(s3); err != nil {
			return nil, fmt.Errorf("failed to init object storage: %w", err)
		}
		if err := objects.CheckBucket(ctx); err != nil {
			log.Warn("Firmware bucket is not reachable", "bucket", s3.BucketName, "error", err)
		}
	}

	source, err := firmware.NewSource(opts.ActiveIndexLocation(), objects)
	if err != nil {
		return nil, err
	}
	log.Info("Using firmware index", "source", source.String())

	return firmware.NewIndex(source,
		firmware.WithObjectStore(objects),
		firmware.WithRefreshInterval(opts.IndexRefreshInterval),
	), nil
}
