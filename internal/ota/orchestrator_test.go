package ota

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/otabridge/pkg/log"
)

func TestStartRecoversInterruptedUpdate(t *testing.T) {
	store := newFakeStore()
	progress := 63.0
	store.records["A"] = Record{State: StateUpdating, InstalledVersion: i64(5), LatestVersion: i64(7), Progress: &progress, Remaining: i64(40)}
	store.records["B"] = Record{State: StateIdle, InstalledVersion: i64(3), LatestVersion: i64(3)}

	o := New(Config{}, &fakeDirectory{}, &fakePublisher{}, nil, WithStateStore(store), WithLogger(log.NewNopLogger()))
	require.NoError(t, o.Start(context.Background()))

	rec, ok := o.Record("A")
	require.True(t, ok)
	assert.Equal(t, Record{State: StateAvailable, InstalledVersion: i64(5), LatestVersion: i64(7)}, rec)
	assert.Equal(t, rec, store.records["A"], "recovered record is persisted")

	rec, ok = o.Record("B")
	require.True(t, ok)
	assert.Equal(t, StateIdle, rec.State)
	assert.Len(t, o.Snapshot(), 2)
}

func TestStartLoadError(t *testing.T) {
	store := newFakeStore()
	store.loadErr = errors.New("connection refused")

	o := New(Config{}, &fakeDirectory{}, &fakePublisher{}, nil, WithStateStore(store))
	assert.Error(t, o.Start(context.Background()))
}

func TestStartWithoutStore(t *testing.T) {
	o := New(Config{}, &fakeDirectory{}, &fakePublisher{}, nil)
	assert.NoError(t, o.Start(context.Background()))
	assert.Empty(t, o.Snapshot())
}

func TestPublishedStateIsPersisted(t *testing.T) {
	provider := &fakeProvider{result: AvailabilityResult{Available: true, CurrentFileVersion: i64(1), OTAFileVersion: i64(2)}}
	dev := newDevice("A", provider)
	store := newFakeStore()
	o := New(Config{}, &fakeDirectory{devices: []Device{dev}}, &fakePublisher{}, nil, WithStateStore(store), WithLogger(log.NewNopLogger()))

	_, err := o.Check(context.Background(), dev)
	require.NoError(t, err)

	assert.Equal(t, Record{State: StateAvailable, InstalledVersion: i64(1), LatestVersion: i64(2)}, store.records["A"])
}

func TestNewDefaultsInterval(t *testing.T) {
	o := New(Config{}, &fakeDirectory{}, &fakePublisher{}, nil)
	assert.Equal(t, DefaultCheckInterval, o.cfg.CheckInterval)
}

func TestForgetPurgesDevice(t *testing.T) {
	provider := &fakeProvider{result: AvailabilityResult{CurrentFileVersion: i64(3), OTAFileVersion: i64(3)}}
	dev := newDevice("A", provider)
	store := newFakeStore()
	o := New(Config{}, &fakeDirectory{devices: []Device{dev}}, &fakePublisher{}, nil, WithStateStore(store), WithLogger(log.NewNopLogger()))
	ctx := context.Background()

	o.HandleDeviceMessage(ctx, nextImage(dev, 1))
	require.Contains(t, store.records, "A")
	_, checked := o.LastChecked("A")
	require.True(t, checked)

	require.NoError(t, o.Forget(ctx, "A"))

	_, ok := o.Record("A")
	assert.False(t, ok)
	_, checked = o.LastChecked("A")
	assert.False(t, checked)
	assert.NotContains(t, store.records, "A")
}

func TestForgetBusyDevice(t *testing.T) {
	o := New(Config{}, &fakeDirectory{}, &fakePublisher{}, nil)
	o.ledger.Onboard("A")
	require.True(t, o.ledger.TryAcquire("A"))

	assert.ErrorIs(t, o.Forget(context.Background(), "A"), ErrInProgress)
	_, ok := o.Record("A")
	assert.True(t, ok)
}
