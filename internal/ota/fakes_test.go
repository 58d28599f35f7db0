package ota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/autopeer-io/otabridge/pkg/log"
)

type fakeProvider struct {
	mu sync.Mutex

	result   AvailabilityResult
	checkErr error
	checks   int
	hints    []*ImageHint

	// steps are reported through the progress callback before UpdateToLatest returns.
	steps         [][2]float64
	updateVersion int64
	updateErr     error
	updates       int
	lastProgress  ProgressFunc

	// gate, when set, blocks both operations until closed; entered is signalled first.
	gate    chan struct{}
	entered chan struct{}
}

func (p *fakeProvider) IsUpdateAvailable(ctx context.Context, hint *ImageHint) (AvailabilityResult, error) {
	p.wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks++
	p.hints = append(p.hints, hint)
	return p.result, p.checkErr
}

func (p *fakeProvider) UpdateToLatest(ctx context.Context, onProgress ProgressFunc) (int64, error) {
	p.wait()

	p.mu.Lock()
	p.updates++
	p.lastProgress = onProgress
	steps := p.steps
	p.mu.Unlock()

	for _, s := range steps {
		onProgress(s[0], s[1])
	}
	return p.updateVersion, p.updateErr
}

func (p *fakeProvider) wait() {
	if p.gate == nil {
		return
	}
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	<-p.gate
}

func (p *fakeProvider) checkCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checks
}

type fakeDevice struct {
	id         string
	name       string
	definition bool
	provider   Provider

	mu          sync.Mutex
	identities  []*FirmwareIdentity
	identityErr []error
	reads       int
	nacks       []uint8
	nackErr     error
}

func newDevice(id string, provider Provider) *fakeDevice {
	return &fakeDevice{id: id, name: id, definition: true, provider: provider}
}

func (d *fakeDevice) ID() string          { return d.id }
func (d *fakeDevice) Name() string        { return d.name }
func (d *fakeDevice) HasDefinition() bool { return d.definition }

func (d *fakeDevice) OTA() Provider {
	if d.provider == nil {
		return nil
	}
	return d.provider
}

func (d *fakeDevice) ReadFirmwareIdentity(context.Context) (*FirmwareIdentity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.reads
	d.reads++
	var err error
	if i < len(d.identityErr) {
		err = d.identityErr[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(d.identities) {
		return d.identities[i], nil
	}
	return nil, errors.New("no identity")
}

func (d *fakeDevice) RespondNoImageAvailable(_ context.Context, seq uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nacks = append(d.nacks, seq)
	return d.nackErr
}

func (d *fakeDevice) nackCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.nacks)
}

type fakeDirectory struct {
	devices []Device
}

func (f *fakeDirectory) Resolve(ref string) (Device, bool) {
	for _, d := range f.devices {
		if d.ID() == ref || d.Name() == ref {
			return d, true
		}
	}
	return nil, false
}

func (f *fakeDirectory) Devices() []Device { return f.devices }

type publishedState struct {
	device  string
	payload StatePayload
}

type publishedResponse struct {
	action   Action
	response Response
}

type fakePublisher struct {
	mu        sync.Mutex
	states    []publishedState
	responses []publishedResponse
	logs      []LogMessage
}

func (p *fakePublisher) PublishState(_ context.Context, dev Device, payload StatePayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, publishedState{device: dev.Name(), payload: payload})
	return nil
}

func (p *fakePublisher) PublishResponse(_ context.Context, action Action, resp Response) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, publishedResponse{action: action, response: resp})
	return nil
}

func (p *fakePublisher) PublishLog(_ context.Context, msg LogMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logs = append(p.logs, msg)
	return nil
}

func (p *fakePublisher) States() []publishedState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedState(nil), p.states...)
}

func (p *fakePublisher) Responses() []publishedResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedResponse(nil), p.responses...)
}

func (p *fakePublisher) Logs() []LogMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LogMessage(nil), p.logs...)
}

func (p *fakePublisher) logStatuses() []string {
	var out []string
	for _, l := range p.Logs() {
		out = append(out, l.Meta["status"].(string))
	}
	return out
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]Record
	loadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]Record)}
}

func (s *fakeStore) Load(context.Context) (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v.clone()
	}
	return out, nil
}

func (s *fakeStore) Save(_ context.Context, id string, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = r.clone()
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// sharedLeases plays the lease keys that replicas share in redis.
type sharedLeases struct {
	mu      sync.Mutex
	held    map[string]bool
	checked map[string]time.Time
	now     func() time.Time
	err     error
}

func (l *sharedLeases) Acquire(_ context.Context, id string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held[id] {
		return false, nil
	}
	l.held[id] = true
	return true, nil
}

func (l *sharedLeases) Release(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
	return nil
}

func (l *sharedLeases) ClaimCheck(_ context.Context, id string, interval time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if t, ok := l.checked[id]; ok && l.now().Sub(t) < interval {
		return false, nil
	}
	l.checked[id] = l.now()
	return true, nil
}

func (l *sharedLeases) holding(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id]
}

type fakeEvents struct {
	mu          sync.Mutex
	reconfigure []string
	changed     int
}

func (e *fakeEvents) EmitReconfigure(dev Device) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconfigure = append(e.reconfigure, dev.ID())
}

func (e *fakeEvents) EmitDevicesChanged() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changed++
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	orch   *Orchestrator
	pub    *fakePublisher
	events *fakeEvents
	clock  *fakeClock
	dir    *fakeDirectory
}

func newHarness(cfg Config, devices ...Device) *harness {
	h := &harness{
		pub:    &fakePublisher{},
		events: &fakeEvents{},
		clock:  newFakeClock(),
		dir:    &fakeDirectory{devices: devices},
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "zigbee2mqtt"
	}
	h.orch = New(cfg, h.dir, h.pub, h.events, WithClock(h.clock.Now), WithLogger(log.NewNopLogger()))
	return h
}

// newReplicas returns two orchestrators over the same devices, coordinated
// through one lease table and one clock.
func newReplicas(cfg Config, devices ...Device) (*harness, *harness, *sharedLeases) {
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "zigbee2mqtt"
	}
	clock := newFakeClock()
	leases := &sharedLeases{held: map[string]bool{}, checked: map[string]time.Time{}, now: clock.Now}

	replica := func() *harness {
		h := &harness{
			pub:    &fakePublisher{},
			events: &fakeEvents{},
			clock:  clock,
			dir:    &fakeDirectory{devices: devices},
		}
		h.orch = New(cfg, h.dir, h.pub, h.events,
			WithClock(clock.Now), WithLogger(log.NewNopLogger()), WithCoordinator(leases))
		return h
	}
	return replica(), replica(), leases
}

func i64(v int64) *int64 { return &v }
