package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/autopeer-io/otabridge/internal/fleet"
	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/internal/pkg/eventbus"
	"github.com/autopeer-io/otabridge/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/otabridge/pkg/log"
	pkgmqtt "github.com/autopeer-io/otabridge/pkg/mqtt"
	"github.com/autopeer-io/otabridge/pkg/mqtt/topic"
)

// MQTTNotifier publishes everything the bridge emits under the base topic.
// It owns a dedicated egress connection.
type MQTTNotifier struct {
	client pkgmqtt.Client
	topics *topic.Builder
}

var _ ota.Publisher = (*MQTTNotifier)(nil)

func NewMQTTNotifier(client pkgmqtt.Client, baseTopic string) *MQTTNotifier {
	return &MQTTNotifier{
		client: client,
		topics: topic.NewBuilder(baseTopic),
	}
}

// Start keeps the egress connection up until ctx is done.
func (n *MQTTNotifier) Start(ctx context.Context) error {
	if err := n.client.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n.client.Disconnect(shutdownCtx)
		log.Info("MQTT notifier disconnected")
	}()

	if err := n.client.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.Info("MQTT notifier connected")

	<-ctx.Done()
	return nil
}

// Publisher exposes the egress connection for device commands.
func (n *MQTTNotifier) Publisher() pkgmqtt.Publisher {
	return n.client
}

// PublishState publishes the retained device state to {base}/{name}.
func (n *MQTTNotifier) PublishState(ctx context.Context, device ota.Device, payload ota.StatePayload) error {
	return n.publishJSON(ctx, n.topics.Join(device.Name()), true, payload)
}

// PublishResponse answers a request on {base}/bridge/response/device/ota_update/{action}.
func (n *MQTTNotifier) PublishResponse(ctx context.Context, action ota.Action, response ota.Response) error {
	return n.publishJSON(ctx, n.topics.Join(paths.OTAResponseCurrent, string(action)), false, response)
}

// PublishLog publishes a legacy message on {base}/bridge/log.
func (n *MQTTNotifier) PublishLog(ctx context.Context, message ota.LogMessage) error {
	return n.publishJSON(ctx, n.topics.Join(paths.BridgeLog), false, message)
}

// PublishEvent publishes a lifecycle event on {base}/bridge/event.
func (n *MQTTNotifier) PublishEvent(ctx context.Context, event eventbus.Event) error {
	return n.publishJSON(ctx, n.topics.Join(paths.BridgeEvent), false, event)
}

// PublishDevices publishes the retained device list on {base}/bridge/devices.
func (n *MQTTNotifier) PublishDevices(ctx context.Context, devices []fleet.Registration) error {
	if devices == nil {
		devices = []fleet.Registration{}
	}
	return n.publishJSON(ctx, n.topics.Join(paths.BridgeDevices), true, devices)
}

func (n *MQTTNotifier) publishJSON(ctx context.Context, t string, retain bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, t, 1, retain, payload)
}
