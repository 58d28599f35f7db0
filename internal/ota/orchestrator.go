package ota

import (
	"context"
	"sync"
	"time"

	"github.com/autopeer-io/otabridge/pkg/log"
	"github.com/autopeer-io/otabridge/pkg/mqtt/topic"
)

// DefaultCheckInterval is the minimum time between automatic checks of one device.
const DefaultCheckInterval = 1440 * time.Minute

// DefaultLeaseTTL bounds how long a crashed replica can keep a device locked.
const DefaultLeaseTTL = 3 * time.Hour

// Config holds the recognized OTA settings.
type Config struct {
	// BaseTopic is the public topic root the command topics live under.
	BaseTopic string

	DisableAutomaticCheck bool
	CheckInterval         time.Duration
	LegacyAPI             bool

	// LeaseTTL is the lifetime of a device lease taken through a Coordinator.
	// It must outlast the longest update.
	LeaseTTL time.Duration
}

// Orchestrator owns the update ledger and the last-checked map, and runs
// checks and updates for the devices of a Directory.
type Orchestrator struct {
	cfg    Config
	topics *topic.Builder

	dir    Directory
	pub    Publisher
	store  StateStore
	coord  Coordinator
	events LifecycleEvents
	logger log.Logger
	now    func() time.Time

	ledger *Ledger

	checkedMu   sync.Mutex
	lastChecked map[string]time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The global logger is used otherwise.
func WithLogger(l log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithStateStore persists every published snapshot to s.
func WithStateStore(s StateStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithCoordinator shares device leases and automatic-check claims with other
// replicas. Without one, the orchestrator assumes it is the only instance.
func WithCoordinator(c Coordinator) Option {
	return func(o *Orchestrator) { o.coord = c }
}

// New returns an Orchestrator. events may be nil.
func New(cfg Config, dir Directory, pub Publisher, events LifecycleEvents, opts ...Option) *Orchestrator {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	o := &Orchestrator{
		cfg:         cfg,
		topics:      topic.NewBuilder(cfg.BaseTopic),
		dir:         dir,
		pub:         pub,
		events:      events,
		logger:      log.Std().WithName("ota"),
		now:         time.Now,
		ledger:      NewLedger(),
		lastChecked: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start restores persisted records and applies crash recovery: a record left
// in the updating state becomes available with its progress cleared.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.store == nil {
		return nil
	}

	records, err := o.store.Load(ctx)
	if err != nil {
		return err
	}

	recovered := 0
	for id, r := range records {
		o.ledger.Restore(id, r)
		next, changed := o.ledger.Recover(id)
		if !changed {
			continue
		}
		recovered++
		if err := o.store.Save(ctx, id, next); err != nil {
			o.logger.Warn("Failed to persist recovered update state", "device", id, "error", err)
		}
	}

	o.logger.Info("Restored update state", "devices", len(records), "recovered", recovered)
	return nil
}

// Snapshot returns the records of every onboarded device.
func (o *Orchestrator) Snapshot() map[string]Record {
	return o.ledger.Snapshot()
}

// Forget drops everything known about a removed device: its record, its
// last-check time and its persisted snapshot. A device with an operation in
// progress keeps its record until the operation ends.
func (o *Orchestrator) Forget(ctx context.Context, id string) error {
	if !o.ledger.Forget(id) {
		return newOperationError(ErrInProgress, "Update or check for update already in progress for '%s'", id)
	}

	o.checkedMu.Lock()
	delete(o.lastChecked, id)
	o.checkedMu.Unlock()

	if o.store == nil {
		return nil
	}
	return o.store.Delete(ctx, id)
}

// Record returns the record of one device.
func (o *Orchestrator) Record(id string) (Record, bool) {
	return o.ledger.Get(id)
}

// InProgress reports whether a check or update is running for the device.
func (o *Orchestrator) InProgress(id string) bool {
	return o.ledger.InProgress(id)
}

// LastChecked returns when the device was last checked.
func (o *Orchestrator) LastChecked(id string) (time.Time, bool) {
	o.checkedMu.Lock()
	defer o.checkedMu.Unlock()

	t, ok := o.lastChecked[id]
	return t, ok
}

func (o *Orchestrator) resolve(ref string) (Device, bool) {
	dev, ok := o.dir.Resolve(ref)
	if ok {
		o.ledger.Onboard(dev.ID())
	}
	return dev, ok
}

func (o *Orchestrator) markChecked(id string) {
	o.checkedMu.Lock()
	o.lastChecked[id] = o.now()
	o.checkedMu.Unlock()
}

// claimCheck records a check attempt now unless the previous one is younger
// than the interval, here or, with a Coordinator, on any replica.
func (o *Orchestrator) claimCheck(ctx context.Context, id string) bool {
	o.checkedMu.Lock()
	defer o.checkedMu.Unlock()

	now := o.now()
	if last, ok := o.lastChecked[id]; ok && now.Sub(last) <= o.cfg.CheckInterval {
		return false
	}
	if o.coord != nil {
		claimed, err := o.coord.ClaimCheck(ctx, id, o.cfg.CheckInterval)
		if err != nil {
			o.logger.Warn("Failed to claim automatic check", "device", id, "error", err)
			return false
		}
		if !claimed {
			return false
		}
	}
	o.lastChecked[id] = now
	return true
}

// publish emits the formatted snapshot and persists it. Failures are logged only.
func (o *Orchestrator) publish(ctx context.Context, dev Device, r Record) {
	if err := o.pub.PublishState(ctx, dev, Format(r, o.cfg.LegacyAPI)); err != nil {
		o.logger.Warn("Failed to publish update state", "device", dev.Name(), "error", err)
	}
	if o.store == nil {
		return
	}
	if err := o.store.Save(ctx, dev.ID(), r); err != nil {
		o.logger.Warn("Failed to persist update state", "device", dev.ID(), "error", err)
	}
}

func (o *Orchestrator) legacyLog(ctx context.Context, status string, dev Device, msg string, extra map[string]any) {
	if !o.cfg.LegacyAPI {
		return
	}
	if err := o.pub.PublishLog(ctx, newLogMessage(status, dev.Name(), msg, extra)); err != nil {
		o.logger.Warn("Failed to publish bridge log", "status", status, "error", err)
	}
}

// acquire onboards dev and takes its in-progress slot. The returned func releases it.
func (o *Orchestrator) acquire(ctx context.Context, dev Device) (func(), error) {
	if dev.OTA() == nil {
		return nil, newOperationError(ErrNotSupported, "Device '%s' does not support OTA updates", dev.Name())
	}
	release, err := o.lock(ctx, dev.ID())
	if err != nil {
		return nil, newOperationError(err, "Failed to lock '%s' (%s)", dev.Name(), err.Error())
	}
	if release == nil {
		return nil, newOperationError(ErrInProgress, "Update or check for update already in progress for '%s'", dev.Name())
	}
	return release, nil
}

// lock takes the local in-progress slot and, with a Coordinator, the device
// lease. A nil func without error means the device is busy.
func (o *Orchestrator) lock(ctx context.Context, id string) (func(), error) {
	o.ledger.Onboard(id)
	if !o.ledger.TryAcquire(id) {
		return nil, nil
	}
	if o.coord == nil {
		return func() { o.ledger.Release(id) }, nil
	}

	ok, err := o.coord.Acquire(ctx, id, o.cfg.LeaseTTL)
	if err != nil || !ok {
		o.ledger.Release(id)
		return nil, err
	}
	return func() {
		if err := o.coord.Release(context.WithoutCancel(ctx), id); err != nil {
			o.logger.Warn("Failed to release device lease", "device", id, "error", err)
		}
		o.ledger.Release(id)
	}, nil
}
