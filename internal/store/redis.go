package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/pkg/log"
	"github.com/autopeer-io/otabridge/pkg/options"
)

var (
	_ ota.StateStore  = (*Redis)(nil)
	_ ota.Coordinator = (*Redis)(nil)
)

// releaseScript deletes a lease only while it still belongs to the caller.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// redisClient is the subset of redis.Cmdable the store uses.
type redisClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Redis stores one JSON-encoded record per device in a single hash. It also
// coordinates replicas: device leases and automatic-check claims are keys
// next to the hash that expire on their own.
type Redis struct {
	client redisClient
	closer func() error
	key    string
	owner  string
	logger log.Logger
}

// NewRedis connects to the configured server and verifies the connection.
func NewRedis(ctx context.Context, opts *options.RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.Database,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{
		client: client,
		closer: client.Close,
		key:    opts.Key,
		owner:  uuid.NewString(),
		logger: log.Std().WithName("store"),
	}, nil
}

// Load returns every stored record. Undecodable entries are skipped.
func (r *Redis) Load(ctx context.Context) (map[string]ota.Record, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read update state %s: %w", r.key, err)
	}

	out := make(map[string]ota.Record, len(fields))
	for id, raw := range fields {
		var rec ota.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			r.logger.Warn("Skipping corrupt update record", "device", id, "error", err)
			continue
		}
		out[id] = rec
	}
	return out, nil
}

// Save writes the record of one device.
func (r *Redis) Save(ctx context.Context, deviceID string, record ota.Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.key, deviceID, string(raw)).Err(); err != nil {
		return fmt.Errorf("failed to save update state for %s: %w", deviceID, err)
	}
	return nil
}

// Delete removes the record of one device.
func (r *Redis) Delete(ctx context.Context, deviceID string) error {
	if err := r.client.HDel(ctx, r.key, deviceID).Err(); err != nil {
		return fmt.Errorf("failed to delete update state for %s: %w", deviceID, err)
	}
	return nil
}

// Acquire takes the device lease with SET NX PX. It expires after ttl even if
// this replica dies while holding it.
func (r *Redis) Acquire(ctx context.Context, deviceID string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.leaseKey(deviceID), r.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to take lease for %s: %w", deviceID, err)
	}
	return ok, nil
}

// Release drops the device lease if this replica still holds it.
func (r *Redis) Release(ctx context.Context, deviceID string) error {
	if err := r.client.Eval(ctx, releaseScript, []string{r.leaseKey(deviceID)}, r.owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease for %s: %w", deviceID, err)
	}
	return nil
}

// ClaimCheck sets a marker that lives for interval. Only the replica that
// creates it may run the automatic check.
func (r *Redis) ClaimCheck(ctx context.Context, deviceID string, interval time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.checkedKey(deviceID), r.owner, interval).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim check for %s: %w", deviceID, err)
	}
	return ok, nil
}

func (r *Redis) leaseKey(deviceID string) string   { return r.key + ":lease:" + deviceID }
func (r *Redis) checkedKey(deviceID string) string { return r.key + ":checked:" + deviceID }

// Close releases the connection pool.
func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
