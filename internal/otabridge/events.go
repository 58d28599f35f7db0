package otabridge

import (
	"context"

	"github.com/autopeer-io/otabridge/internal/fleet"
	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/internal/otabridge/notifier"
	"github.com/autopeer-io/otabridge/internal/pkg/eventbus"
	"github.com/autopeer-io/otabridge/pkg/log"
)

// lifecycle turns orchestrator notifications into bus events.
type lifecycle struct {
	bus *eventbus.Bus
}

var _ ota.LifecycleEvents = lifecycle{}

func (l lifecycle) EmitReconfigure(device ota.Device) {
	l.bus.Emit(eventbus.Event{Type: eventbus.EventDeviceReconfigure, DeviceID: device.ID(), Device: device.Name()})
}

func (l lifecycle) EmitDevicesChanged() {
	l.bus.Emit(eventbus.Event{Type: eventbus.EventDevicesChanged})
}

// wireEvents connects the fleet, the orchestrator and the notifier through bus.
func wireEvents(bus *eventbus.Bus, f *fleet.Fleet, orch *ota.Orchestrator, n *notifier.MQTTNotifier) {
	logger := log.Std().WithName("events")

	f.OnDeviceMessage(orch.HandleDeviceMessage)
	f.OnChange(lifecycle{bus: bus}.EmitDevicesChanged)
	f.OnRemove(func(id string) {
		bus.Emit(eventbus.Event{Type: eventbus.EventDeviceRemoved, DeviceID: id})
	})

	bus.Subscribe(func(ctx context.Context, e eventbus.Event) {
		if err := n.PublishEvent(ctx, e); err != nil {
			logger.Warn("Failed to publish event", "type", e.Type, "error", err)
		}
	}, eventbus.EventDeviceReconfigure, eventbus.EventDevicesChanged, eventbus.EventDeviceRemoved)

	bus.Subscribe(func(ctx context.Context, e eventbus.Event) {
		if err := orch.Forget(ctx, e.DeviceID); err != nil {
			logger.Warn("Failed to forget removed device", "device", e.DeviceID, "error", err)
		}
	}, eventbus.EventDeviceRemoved)

	bus.Subscribe(func(ctx context.Context, e eventbus.Event) {
		if err := f.Reconfigure(ctx, e.DeviceID); err != nil {
			logger.Warn("Failed to reconfigure device", "device", e.Device, "error", err)
		}
	}, eventbus.EventDeviceReconfigure)

	bus.Subscribe(func(ctx context.Context, _ eventbus.Event) {
		list := f.List()
		devices := make([]fleet.Registration, 0, len(list))
		for _, d := range list {
			devices = append(devices, d.Info())
		}
		if err := n.PublishDevices(ctx, devices); err != nil {
			logger.Warn("Failed to publish device list", "error", err)
		}
	}, eventbus.EventDevicesChanged)
}
