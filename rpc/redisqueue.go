package rpc

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evalgo/clusterlib/clerr"
)

// RedisQueue is a Queue transport backed by a Redis list: RPush on
// Put, BLPop on Take, carrying opaque byte payloads so the same
// transport can move RPC envelopes or anything else.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// RedisConfig configures a RedisQueue.
type RedisConfig struct {
	// RedisURL defaults to the CLUSTERLIB_REDIS_URL env var, then
	// redis://localhost:6379/0.
	RedisURL string
}

// NewRedisQueue dials Redis and returns a Queue backed by list key.
func NewRedisQueue(ctx context.Context, cfg RedisConfig, key string) (*RedisQueue, error) {
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
	return &RedisQueue{client: client, key: key}, nil
}

// Put appends payload to the tail of the list.
func (q *RedisQueue) Put(ctx context.Context, payload []byte) error {
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return clerr.Wrap(clerr.SystemFailure, "redis rpush failed", err)
	}
	return nil
}

// Take blocks until an element is available or ctx is cancelled.
func (q *RedisQueue) Take(ctx context.Context) ([]byte, error) {
	result, err := q.client.BLPop(ctx, 0, q.key).Result()
	if err != nil {
		if ctx.Err() != nil {
			return nil, clerr.Wrap(clerr.OperationCancelled, "queue take cancelled", ctx.Err())
		}
		return nil, clerr.Wrap(clerr.SystemFailure, "redis blpop failed", err)
	}
	if len(result) < 2 {
		return nil, clerr.New(clerr.InconsistentInternalState, "blpop returned no value")
	}
	return []byte(result[1]), nil
}

// TakeWaitMsecs bounds Take by msecs via BLPop's own timeout, returning
// (nil, false, nil) when nothing arrives in time.
func (q *RedisQueue) TakeWaitMsecs(ctx context.Context, msecs int) ([]byte, bool, error) {
	timeout := time.Duration(msecs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	result, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, nil
		}
		return nil, false, clerr.Wrap(clerr.SystemFailure, "redis blpop failed", err)
	}
	if len(result) < 2 {
		return nil, false, nil
	}
	return []byte(result[1]), true, nil
}

// Len reports the current list length.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, clerr.Wrap(clerr.SystemFailure, "redis llen failed", err)
	}
	return int(n), nil
}

// Close releases the underlying Redis client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
