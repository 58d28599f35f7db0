package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/pkg/log"
)

type fakeHash struct {
	fields map[string]string
	err    error

	// keys and ttls hold the plain string keys set with SetNX.
	keys map[string]string
	ttls map[string]time.Duration
}

func (f *fakeHash) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.fields[values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeHash) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	if f.err != nil {
		return redis.NewMapStringStringResult(nil, f.err)
	}
	out := make(map[string]string, len(f.fields))
	for k, v := range f.fields {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (f *fakeHash) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	for _, k := range fields {
		delete(f.fields, k)
	}
	return redis.NewIntResult(int64(len(fields)), nil)
}

func (f *fakeHash) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

// Eval runs releaseScript: delete KEYS[1] when it holds ARGV[1].
func (f *fakeHash) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	if f.keys[keys[0]] != args[0] {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(f.keys, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func newFakeHash() *fakeHash {
	return &fakeHash{fields: map[string]string{}, keys: map[string]string{}, ttls: map[string]time.Duration{}}
}

func newTestRedis(h *fakeHash) *Redis {
	return &Redis{client: h, key: "otabridge:state", owner: "replica-1", logger: log.NewNopLogger()}
}

func ptr[T any](v T) *T { return &v }

func TestRedisRoundTrip(t *testing.T) {
	h := newFakeHash()
	s := newTestRedis(h)
	ctx := context.Background()

	rec := ota.Record{State: ota.StateUpdating, InstalledVersion: ptr[int64](5), LatestVersion: ptr[int64](7), Progress: ptr(40.0)}
	require.NoError(t, s.Save(ctx, "0x01", rec))
	assert.JSONEq(t, `{"state":"updating","installed_version":5,"latest_version":7,"progress":40}`, h.fields["0x01"])

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]ota.Record{"0x01": rec}, got)

	require.NoError(t, s.Delete(ctx, "0x01"))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisSkipsCorruptEntries(t *testing.T) {
	h := &fakeHash{fields: map[string]string{
		"good": `{"state":"idle","installed_version":null,"latest_version":null}`,
		"bad":  `{"state":`,
	}}

	got, err := newTestRedis(h).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]ota.Record{"good": {State: ota.StateIdle}}, got)
}

func TestRedisErrors(t *testing.T) {
	h := newFakeHash()
	h.err = errors.New("READONLY")
	s := newTestRedis(h)

	_, err := s.Load(context.Background())
	assert.ErrorContains(t, err, "READONLY")
	assert.Error(t, s.Save(context.Background(), "a", ota.Record{State: ota.StateIdle}))
	assert.ErrorContains(t, s.Delete(context.Background(), "a"), "READONLY")

	_, err = s.Acquire(context.Background(), "a", time.Minute)
	assert.ErrorContains(t, err, "READONLY")
	_, err = s.ClaimCheck(context.Background(), "a", time.Minute)
	assert.ErrorContains(t, err, "READONLY")
}

func TestRedisLease(t *testing.T) {
	h := newFakeHash()
	r1 := newTestRedis(h)
	r2 := newTestRedis(h)
	r2.owner = "replica-2"
	ctx := context.Background()

	ok, err := r1.Acquire(ctx, "0x01", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "replica-1", h.keys["otabridge:state:lease:0x01"])
	assert.Equal(t, time.Hour, h.ttls["otabridge:state:lease:0x01"])

	ok, err = r2.Acquire(ctx, "0x01", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r2.Release(ctx, "0x01"))
	assert.Contains(t, h.keys, "otabridge:state:lease:0x01", "only the holder releases")

	require.NoError(t, r1.Release(ctx, "0x01"))
	ok, err = r2.Acquire(ctx, "0x01", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisClaimCheck(t *testing.T) {
	h := newFakeHash()
	r1 := newTestRedis(h)
	r2 := newTestRedis(h)
	ctx := context.Background()

	ok, err := r1.ClaimCheck(ctx, "0x01", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, h.ttls["otabridge:state:checked:0x01"])

	ok, err = r2.ClaimCheck(ctx, "0x01", 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r2.ClaimCheck(ctx, "0x02", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, "a", ota.Record{State: ota.StateAvailable}))
	got, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, ota.StateAvailable, got["a"].State)

	got["a"] = ota.Record{State: ota.StateIdle}
	again, _ := m.Load(ctx)
	assert.Equal(t, ota.StateAvailable, again["a"].State, "Load returns a copy")

	require.NoError(t, m.Delete(ctx, "a"))
	again, _ = m.Load(ctx)
	assert.Empty(t, again)
}
