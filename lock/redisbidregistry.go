package lock

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/evalgo/clusterlib/clerr"
)

// RedisBidRegistry mirrors outstanding lock bids into a Redis sorted
// set keyed by notifyable path + lock name, scored by sequence number.
// ZADD keyed by sequence id and ZRANGE for enumeration give cross-host
// bid visibility to deployments that run the lock manager against
// multiple processes sharing one Redis instance. Purely observational:
// the store-backed bid ledger remains the only correctness-bearing
// source of truth, so a Redis write failure here is logged, never
// returned to the caller of Acquire/Release.
type RedisBidRegistry struct {
	client *redis.Client
}

// RedisBidRegistryConfig configures a RedisBidRegistry.
type RedisBidRegistryConfig struct {
	// RedisURL defaults to the CLUSTERLIB_REDIS_URL env var, then
	// redis://localhost:6379/0, matching rpc.RedisConfig's fallback.
	RedisURL string
}

// NewRedisBidRegistry dials Redis and returns a mirror ready for
// Manager.SetBidMirror.
func NewRedisBidRegistry(ctx context.Context, cfg RedisBidRegistryConfig) (*RedisBidRegistry, error) {
	url := cfg.RedisURL
	if url == "" {
		url = os.Getenv("CLUSTERLIB_REDIS_URL")
	}
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, clerr.Wrap(clerr.InvalidArguments, "invalid redis url", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, clerr.Wrap(clerr.SystemFailure, "redis connect failed", err)
	}
	return &RedisBidRegistry{client: client}, nil
}

func bidSetKey(notifyablePath, lockName string) string {
	return "clusterlib:bids:" + notifyablePath + ":" + lockName
}

// RecordBid mirrors a newly created bid, scored by its sequence number
// so ZRANGE returns bids in acquisition order.
func (r *RedisBidRegistry) RecordBid(ctx context.Context, notifyablePath, lockName, bidName string, seq int64) error {
	return r.client.ZAdd(ctx, bidSetKey(notifyablePath, lockName), redis.Z{
		Score:  float64(seq),
		Member: bidName,
	}).Err()
}

// RemoveBid mirrors a released or cancelled bid's removal.
func (r *RedisBidRegistry) RemoveBid(ctx context.Context, notifyablePath, lockName, bidName string) error {
	return r.client.ZRem(ctx, bidSetKey(notifyablePath, lockName), bidName).Err()
}

// ListBids returns the mirrored bid names for notifyablePath/lockName
// in ascending sequence order, for observability when the caller wants
// a cross-process view without walking the store directly.
func (r *RedisBidRegistry) ListBids(ctx context.Context, notifyablePath, lockName string) ([]string, error) {
	result, err := r.client.ZRange(ctx, bidSetKey(notifyablePath, lockName), 0, -1).Result()
	if err != nil {
		return nil, clerr.Wrap(clerr.SystemFailure, "redis zrange failed", err)
	}
	return result, nil
}

// Close releases the underlying Redis client.
func (r *RedisBidRegistry) Close() error {
	return r.client.Close()
}
