package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T, key string) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	q, err := NewRedisQueue(context.Background(), RedisConfig{RedisURL: "redis://" + mr.Addr() + "/0"}, key)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestRedisQueue_PutTakeFIFO(t *testing.T) {
	q := newTestRedisQueue(t, "rpc:redis:fifo")
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, []byte("el0")))
	require.NoError(t, q.Put(ctx, []byte("el1")))

	got, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "el0", string(got))

	got, err = q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "el1", string(got))
}

func TestRedisQueue_TakeWaitMsecsTimesOut(t *testing.T) {
	q := newTestRedisQueue(t, "rpc:redis:timeout")

	payload, ok, err := q.TakeWaitMsecs(context.Background(), 50)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, payload)
}

func TestRedisQueue_Len(t *testing.T) {
	q := newTestRedisQueue(t, "rpc:redis:len")
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, []byte("a")))
	require.NoError(t, q.Put(ctx, []byte("b")))
	require.NoError(t, q.Put(ctx, []byte("c")))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRedisQueue_TakeWakesOnConcurrentPut(t *testing.T) {
	q := newTestRedisQueue(t, "rpc:redis:wake")
	ctx := context.Background()

	result := make(chan []byte, 1)
	go func() {
		got, err := q.Take(ctx)
		require.NoError(t, err)
		result <- got
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Put(ctx, []byte("woke")))

	select {
	case got := <-result:
		assert.Equal(t, "woke", string(got))
	case <-time.After(time.Second):
		t.Fatal("take never woke after put")
	}
}
