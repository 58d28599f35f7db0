package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/otabridge/internal/firmware"
	"github.com/autopeer-io/otabridge/internal/fleet"
	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/pkg/log"
)

type agentBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *agentBus) Publish(_ context.Context, topic string, _ int, _ bool, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	return nil
}

func (b *agentBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

type nopPublisher struct{}

func (nopPublisher) PublishState(context.Context, ota.Device, ota.StatePayload) error { return nil }

func (nopPublisher) PublishResponse(context.Context, ota.Action, ota.Response) error { return nil }

func (nopPublisher) PublishLog(context.Context, ota.LogMessage) error { return nil }

type catalog struct{}

func (catalog) Latest(_ context.Context, model string, _ uint16) (firmware.Image, bool, error) {
	if model != "TS011F" {
		return firmware.Image{}, false, nil
	}
	return firmware.Image{Model: model, FileVersion: 7, URL: "http://fw/7.ota"}, true, nil
}

func (catalog) DownloadURL(_ context.Context, img firmware.Image) (string, error) { return img.URL, nil }

func i64(v int64) *int64 { return &v }

func newTestRouter(t *testing.T, ready func() bool) (http.Handler, *agentBus) {
	t.Helper()
	bus := &agentBus{}
	f := fleet.New(fleet.Config{TopicRoot: "otabridge/v1", RequestTimeout: 50 * time.Millisecond, UpdateTimeout: 100 * time.Millisecond}, bus, catalog{}, log.NewNopLogger())
	f.Register(fleet.Registration{ID: "0x01", FriendlyName: "kitchen", Model: "TS011F", Supported: true, FileVersion: i64(5)})
	f.Register(fleet.Registration{ID: "0x02", FriendlyName: "hall"})

	orch := ota.New(ota.Config{BaseTopic: "zigbee2mqtt"}, f, nopPublisher{}, nil, ota.WithLogger(log.NewNopLogger()))
	return NewRouter(f, orch, ready), bus
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestProbes(t *testing.T) {
	connected := false
	h, _ := newTestRouter(t, func() bool { return connected })

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/readyz").Code)

	connected = true
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/readyz").Code)

	rec := do(h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "otabridge_registered_devices"))
}

func TestDeviceAPI(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(h, http.MethodPost, "/api/v1/devices/kitchen/ota/check")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"id":"kitchen","updateAvailable":true},"status":"ok"}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/api/v1/devices/0x01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"id": "0x01",
		"friendlyName": "kitchen",
		"model": "TS011F",
		"ota": true,
		"fileVersion": 5,
		"update": {"state": "available", "installed_version": 5, "latest_version": 7}
	}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/api/v1/devices")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "0x02", list[1]["id"])
	assert.NotContains(t, list[1], "update")
	assert.Equal(t, map[string]any{"state": "available", "installed_version": 5.0, "latest_version": 7.0}, list[0]["update"])

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/v1/devices/nope").Code)
}

func TestDeviceAPIErrors(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(h, http.MethodPost, "/api/v1/devices/nope/ota/check")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"data":{"id":"nope"},"status":"error","error":"Device 'nope' does not exist"}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/api/v1/devices/hall/ota/check")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/api/v1/devices/hall/ota/flash").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/api/v1/devices/nope/ota/update").Code)
}

func TestUpdateWithoutOTASupport(t *testing.T) {
	h, bus := newTestRouter(t, nil)

	rec := do(h, http.MethodPost, "/api/v1/devices/hall/ota/update")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"data":{"id":"hall"},"status":"error","error":"Device 'hall' does not support OTA updates"}`, rec.Body.String())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, bus.count(), "no update is started")
}

func TestUpdateRunsInBackground(t *testing.T) {
	h, bus := newTestRouter(t, nil)

	rec := do(h, http.MethodPost, "/api/v1/devices/kitchen/ota/update")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// The update command reaches the agent after the request returned.
	require.Eventually(t, func() bool { return bus.count() > 0 }, time.Second, 5*time.Millisecond)
}

func TestRequestLogger(t *testing.T) {
	var got log.Logger
	h := requestLogger(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = log.FromContext(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	require.NotNil(t, got)
	assert.NotSame(t, log.Std(), got, "api requests carry their own logger")
}
