package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/otabridge/internal/fleet"
	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/internal/pkg/eventbus"
	pkgmqtt "github.com/autopeer-io/otabridge/pkg/mqtt"
)

type message struct {
	topic   string
	retain  bool
	payload string
}

type fakeClient struct {
	mu           sync.Mutex
	msgs         []message
	started      bool
	disconnected bool
}

var _ pkgmqtt.Client = (*fakeClient)(nil)

func (c *fakeClient) Publish(_ context.Context, topic string, _ int, retain bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, message{topic: topic, retain: retain, payload: string(payload)})
	return nil
}

func (c *fakeClient) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

func (c *fakeClient) Disconnect(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) Subscribe(context.Context, string, int, pkgmqtt.MessageHandler) error {
	return nil
}
func (c *fakeClient) Unsubscribe(context.Context, string) error { return nil }

func (c *fakeClient) AwaitConnection(context.Context) error { return nil }

func (c *fakeClient) IsConnected() bool { return true }

type device struct{ id, name string }

func (d device) ID() string { return d.id }

func (d device) Name() string { return d.name }

func (d device) HasDefinition() bool { return true }

func (d device) OTA() ota.Provider { return nil }

func (d device) ReadFirmwareIdentity(context.Context) (*ota.FirmwareIdentity, error) {
	return nil, nil
}

func (d device) RespondNoImageAvailable(context.Context, uint8) error { return nil }

func i64(v int64) *int64 { return &v }

func TestNotifierTopics(t *testing.T) {
	client := &fakeClient{}
	n := NewMQTTNotifier(client, "zigbee2mqtt")
	ctx := context.Background()

	rec := ota.Record{State: ota.StateIdle, InstalledVersion: i64(3), LatestVersion: i64(3)}
	require.NoError(t, n.PublishState(ctx, device{id: "0x01", name: "kitchen"}, ota.Format(rec, false)))
	require.NoError(t, n.PublishResponse(ctx, ota.ActionCheck, ota.Response{Status: ota.StatusOK, Data: ota.ResponseData{ID: "kitchen"}}))
	require.NoError(t, n.PublishLog(ctx, ota.LogMessage{Type: ota.LogTypeOTA, Message: "hi"}))
	require.NoError(t, n.PublishEvent(ctx, eventbus.Event{Type: eventbus.EventDevicesChanged}))
	require.NoError(t, n.PublishDevices(ctx, nil))

	require.Len(t, client.msgs, 5)
	assert.Equal(t, "zigbee2mqtt/kitchen", client.msgs[0].topic)
	assert.True(t, client.msgs[0].retain)
	assert.JSONEq(t, `{"update":{"state":"idle","installed_version":3,"latest_version":3}}`, client.msgs[0].payload)

	assert.Equal(t, "zigbee2mqtt/bridge/response/device/ota_update/check", client.msgs[1].topic)
	assert.False(t, client.msgs[1].retain)
	assert.Equal(t, "zigbee2mqtt/bridge/log", client.msgs[2].topic)
	assert.Equal(t, "zigbee2mqtt/bridge/event", client.msgs[3].topic)

	assert.Equal(t, "zigbee2mqtt/bridge/devices", client.msgs[4].topic)
	assert.True(t, client.msgs[4].retain)
	assert.Equal(t, "[]", client.msgs[4].payload)
}

func TestNotifierDevices(t *testing.T) {
	client := &fakeClient{}
	n := NewMQTTNotifier(client, "zigbee2mqtt")

	require.NoError(t, n.PublishDevices(context.Background(), []fleet.Registration{{ID: "0x01", Model: "TS011F", Supported: true}}))
	assert.JSONEq(t, `[{"id":"0x01","model":"TS011F","ota":true}]`, client.msgs[0].payload)
}

func TestNotifierStart(t *testing.T) {
	client := &fakeClient{}
	n := NewMQTTNotifier(client, "zigbee2mqtt")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Start(ctx) }()

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.started
	}, time.Second, 5*time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.True(t, client.disconnected)
}
