// Package fleet tracks the device agents connected to the bridge and speaks
// their command protocol on the agent topic tree.
package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autopeer-io/otabridge/internal/firmware"
	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/internal/pkg/metrics"
	"github.com/autopeer-io/otabridge/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/otabridge/pkg/log"
	"github.com/autopeer-io/otabridge/pkg/mqtt"
	"github.com/autopeer-io/otabridge/pkg/mqtt/topic"
)

var (
	ErrCommandTimeout = errors.New("device did not acknowledge the command in time")
	ErrNoImage        = errors.New("no firmware image available")
)

// Catalog looks up firmware images. *firmware.Index satisfies it.
type Catalog interface {
	Latest(ctx context.Context, model string, imageType uint16) (firmware.Image, bool, error)
	DownloadURL(ctx context.Context, img firmware.Image) (string, error)
}

// Config holds the agent protocol settings.
type Config struct {
	TopicRoot      string
	RequestTimeout time.Duration
	UpdateTimeout  time.Duration
}

type pendingCommand struct {
	ack      chan Ack
	progress ota.ProgressFunc
}

// Fleet is the device directory. It implements ota.Directory.
type Fleet struct {
	cfg     Config
	topics  *topic.Builder
	pub     mqtt.Publisher
	catalog Catalog
	logger  log.Logger

	mu      sync.RWMutex
	devices map[string]*Device

	lock    sync.Mutex
	pending map[string]*pendingCommand

	hooksMu   sync.RWMutex
	onMessage func(ctx context.Context, msg ota.DeviceMessage)
	onChange  func()
	onRemove  func(id string)
}

var _ ota.Directory = (*Fleet)(nil)

// New creates an empty Fleet.
func New(cfg Config, pub mqtt.Publisher, catalog Catalog, logger log.Logger) *Fleet {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = 2 * time.Hour
	}
	if logger == nil {
		logger = log.Std()
	}
	return &Fleet{
		cfg:     cfg,
		topics:  topic.NewBuilder(cfg.TopicRoot),
		pub:     pub,
		catalog: catalog,
		logger:  logger.WithName("fleet"),
		devices: make(map[string]*Device),
		pending: make(map[string]*pendingCommand),
	}
}

// OnDeviceMessage sets the receiver of device-originated OTA messages.
func (f *Fleet) OnDeviceMessage(fn func(ctx context.Context, msg ota.DeviceMessage)) {
	f.hooksMu.Lock()
	defer f.hooksMu.Unlock()
	f.onMessage = fn
}

// OnChange sets a callback run whenever the device list changes.
func (f *Fleet) OnChange(fn func()) {
	f.hooksMu.Lock()
	defer f.hooksMu.Unlock()
	f.onChange = fn
}

// Register adds or replaces a device. It reports whether the device list changed.
func (f *Fleet) Register(reg Registration) (*Device, bool) {
	f.mu.Lock()
	dev, ok := f.devices[reg.ID]
	changed := !ok
	if ok {
		dev.mu.Lock()
		changed = dev.reg.FriendlyName != reg.FriendlyName || dev.reg.Supported != reg.Supported || dev.reg.Model != reg.Model
		dev.reg = reg
		dev.mu.Unlock()
	} else {
		dev = &Device{fleet: f, reg: reg}
		f.devices[reg.ID] = dev
	}
	count := len(f.devices)
	f.mu.Unlock()

	metrics.RegisteredDevices.Set(float64(count))
	if changed {
		f.logger.Info("Device registered", "device", reg.ID, "name", dev.Name(), "ota", reg.Supported)
		f.changed()
	}
	return dev, changed
}

// OnRemove sets a callback run with the id of every removed device.
func (f *Fleet) OnRemove(fn func(id string)) {
	f.hooksMu.Lock()
	defer f.hooksMu.Unlock()
	f.onRemove = fn
}

// Remove forgets a device.
func (f *Fleet) Remove(id string) bool {
	f.mu.Lock()
	_, ok := f.devices[id]
	delete(f.devices, id)
	count := len(f.devices)
	f.mu.Unlock()

	if !ok {
		return false
	}
	metrics.RegisteredDevices.Set(float64(count))

	f.hooksMu.RLock()
	removed := f.onRemove
	f.hooksMu.RUnlock()
	if removed != nil {
		removed(id)
	}
	f.changed()
	return true
}

// Resolve looks a device up by id, then by friendly name.
func (f *Fleet) Resolve(ref string) (ota.Device, bool) {
	dev, ok := f.lookup(ref)
	if !ok {
		return nil, false
	}
	return dev, true
}

func (f *Fleet) lookup(ref string) (*Device, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if dev, ok := f.devices[ref]; ok {
		return dev, true
	}
	for _, dev := range f.devices {
		if dev.Name() == ref {
			return dev, true
		}
	}
	return nil, false
}

// Devices lists every device ordered by id.
func (f *Fleet) Devices() []ota.Device {
	list := f.List()
	out := make([]ota.Device, len(list))
	for i, d := range list {
		out[i] = d
	}
	return out
}

// List returns the concrete devices ordered by id.
func (f *Fleet) List() []*Device {
	f.mu.RLock()
	out := make([]*Device, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, d)
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (f *Fleet) changed() {
	f.hooksMu.RLock()
	fn := f.onChange
	f.hooksMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Routes maps the agent topic filters to their handlers.
func (f *Fleet) Routes() map[string]mqtt.MessageHandler {
	return map[string]mqtt.MessageHandler{
		paths.Register:    f.HandleRegister,
		paths.OTARequest:  f.HandleRequest,
		paths.OTAProgress: f.HandleProgress,
		paths.CommandAck:  f.HandleAck,
	}
}

// TopicRoot returns the agent topic root.
func (f *Fleet) TopicRoot() string {
	return f.topics.Root()
}

// HandleRegister processes {root}/register/{id}. An empty payload removes the device.
func (f *Fleet) HandleRegister(_ context.Context, t string, payload []byte) {
	id := topic.LastLevel(t)
	if len(payload) == 0 {
		f.Remove(id)
		return
	}

	var reg Registration
	if err := json.Unmarshal(payload, &reg); err != nil {
		f.logger.Warn("Invalid registration", "topic", t, "error", err)
		return
	}
	reg.ID = id
	f.Register(reg)
}

// HandleRequest processes {root}/ota/request/{id}.
func (f *Fleet) HandleRequest(ctx context.Context, t string, payload []byte) {
	id := topic.LastLevel(t)
	dev, ok := f.lookup(id)
	if !ok {
		f.logger.Debug("OTA request from unknown device", "device", id)
		return
	}

	var req OTARequest
	if err := json.Unmarshal(payload, &req); err != nil {
		f.logger.Warn("Invalid OTA request", "device", id, "error", err)
		return
	}
	if req.FileVersion > 0 {
		dev.observeVersion(req.FileVersion)
	}

	f.hooksMu.RLock()
	fn := f.onMessage
	f.hooksMu.RUnlock()
	if fn == nil {
		return
	}

	fn(ctx, ota.DeviceMessage{
		Device: dev,
		Type:   req.Type,
		Hint: &ota.ImageHint{
			ManufacturerCode: req.ManufacturerCode,
			ImageType:        req.ImageType,
			FileVersion:      req.FileVersion,
		},
		TransactionSequence: req.TransactionSequenceNumber,
	})
}

// HandleProgress routes {root}/ota/progress/{id} to the running command.
func (f *Fleet) HandleProgress(_ context.Context, t string, payload []byte) {
	var p Progress
	if err := json.Unmarshal(payload, &p); err != nil {
		f.logger.Warn("Invalid progress report", "topic", t, "error", err)
		return
	}

	f.lock.Lock()
	pc, ok := f.pending[p.CommandID]
	f.lock.Unlock()
	if !ok || pc.progress == nil {
		return
	}
	pc.progress(p.Progress, p.Remaining)
}

// HandleAck completes the command named in {root}/command/ack/{id}.
func (f *Fleet) HandleAck(_ context.Context, t string, payload []byte) {
	var ack Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		f.logger.Warn("Invalid command ack", "topic", t, "error", err)
		return
	}

	f.lock.Lock()
	pc, ok := f.pending[ack.CommandID]
	if ok {
		delete(f.pending, ack.CommandID)
	}
	f.lock.Unlock()

	if !ok {
		f.logger.Debug("Ack for unknown command", "commandId", ack.CommandID, "device", topic.LastLevel(t))
		return
	}
	pc.ack <- ack
}

// send publishes cmd to the device and waits for its ack.
func (f *Fleet) send(ctx context.Context, deviceID string, cmd Command, progress ota.ProgressFunc, timeout time.Duration) (Ack, error) {
	cmd.CommandID = uuid.NewString()
	pc := &pendingCommand{ack: make(chan Ack, 1), progress: progress}

	f.lock.Lock()
	f.pending[cmd.CommandID] = pc
	f.lock.Unlock()
	defer func() {
		f.lock.Lock()
		delete(f.pending, cmd.CommandID)
		f.lock.Unlock()
	}()

	payload, err := json.Marshal(cmd)
	if err != nil {
		return Ack{}, err
	}
	if err := f.pub.Publish(ctx, f.topics.Build(paths.Command, deviceID), 1, false, payload); err != nil {
		return Ack{}, fmt.Errorf("failed to send %s command: %w", cmd.Type, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-pc.ack:
		if !ack.Success {
			if ack.Error == "" {
				ack.Error = "command failed"
			}
			return ack, errors.New(ack.Error)
		}
		return ack, nil
	case <-timer.C:
		return Ack{}, ErrCommandTimeout
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

// Reconfigure asks the agent to re-run its setup and announce itself again.
// It does not wait for the ack.
func (f *Fleet) Reconfigure(ctx context.Context, id string) error {
	payload, err := json.Marshal(Command{CommandID: uuid.NewString(), Type: CommandReconfigure})
	if err != nil {
		return err
	}
	return f.pub.Publish(ctx, f.topics.Build(paths.Command, id), 1, false, payload)
}

func (f *Fleet) respondNoImage(ctx context.Context, deviceID string, seq uint8) error {
	payload, err := json.Marshal(OTAResponse{Status: StatusNoImageAvailable, TransactionSequenceNumber: seq})
	if err != nil {
		return err
	}
	return f.pub.Publish(ctx, f.topics.Build(paths.OTAResponse, deviceID), 1, false, payload)
}
