package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/event"
	"github.com/evalgo/clusterlib/store"
)

func newTestFabric(t *testing.T) (store.Store, *event.Pipeline) {
	t.Helper()
	s := store.New()
	_, err := s.Create(context.Background(), "/_queues", nil, store.FlagPersistent)
	require.NoError(t, err)
	p := event.New(s, 4)
	t.Cleanup(p.Shutdown)
	return s, p
}

// TestRegistry_RegisterUnregister checks the register/unregister
// contract: a name may not be registered twice, and unregistering an
// absent name fails.
func TestRegistry_RegisterUnregister(t *testing.T) {
	r := NewRegistry()
	echo := func(ctx context.Context, params json.RawMessage) (interface{}, error) { return "ok", nil }

	assert.True(t, r.Register("testMsg", echo))
	assert.False(t, r.Register("testMsg", echo), "re-registering an occupied name must fail")
	assert.True(t, r.Unregister("testMsg"))
	assert.False(t, r.Unregister("testMsg"), "unregistering an absent name must fail")
}

func TestRegistry_InvokeUnknownMethod(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "missing", nil)
	require.Error(t, err)
	kind, ok := clerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, clerr.InvalidMethod, kind)
}

// TestStoreQueue_FIFO checks strict FIFO ordering over the
// ephemeral-sequential node transport.
func TestStoreQueue_FIFO(t *testing.T) {
	s, p := newTestFabric(t)
	ctx := context.Background()
	q, err := NewStoreQueue(s, p, "/_queues/fifo")
	require.NoError(t, err)

	require.NoError(t, q.Put(ctx, []byte("el0")))
	require.NoError(t, q.Put(ctx, []byte("el1")))
	require.NoError(t, q.Put(ctx, []byte("el2")))

	for _, want := range []string{"el0", "el1", "el2"} {
		got, err := q.Take(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

// TestStoreQueue_TakeBlocksThenWakes checks that Take on an empty
// queue blocks until an element arrives.
func TestStoreQueue_TakeBlocksThenWakes(t *testing.T) {
	s, p := newTestFabric(t)
	ctx := context.Background()
	q, err := NewStoreQueue(s, p, "/_queues/blocking")
	require.NoError(t, err)

	result := make(chan []byte, 1)
	go func() {
		got, err := q.Take(ctx)
		require.NoError(t, err)
		result <- got
	}()

	select {
	case <-result:
		t.Fatal("take must block on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Put(ctx, []byte("woke")))

	select {
	case got := <-result:
		assert.Equal(t, "woke", string(got))
	case <-time.After(time.Second):
		t.Fatal("take never woke after a put")
	}
}

// TestStoreQueue_TakeWaitMsecsTimesOut checks that TakeWaitMsecs
// returns false once its budget elapses with no element.
func TestStoreQueue_TakeWaitMsecsTimesOut(t *testing.T) {
	s, p := newTestFabric(t)
	ctx := context.Background()
	q, err := NewStoreQueue(s, p, "/_queues/timeout")
	require.NoError(t, err)

	payload, ok, err := q.TakeWaitMsecs(ctx, 50)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, payload)
}

// TestClientServer_RPCRoundTrip runs a full round trip: a method side
// registers "testMsg" returning "ok" and a client call observes
// result == "ok" within a deadline, all over the StoreQueue transport.
func TestClientServer_RPCRoundTrip(t *testing.T) {
	s, p := newTestFabric(t)
	open := StoreOpener(s, p)

	registry := NewRegistry()
	registry.Register("testMsg", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return "ok", nil
	})

	requestQueue, err := NewStoreQueue(s, p, "/_queues/rpc-request")
	require.NoError(t, err)
	server := NewServer(requestQueue, registry, open, 2)
	t.Cleanup(server.Shutdown)

	replyQueue, err := NewStoreQueue(s, p, "/_queues/rpc-reply")
	require.NoError(t, err)
	client := NewClient("/_queues/rpc-reply", replyQueue, open)
	t.Cleanup(client.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := client.Call(ctx, "/_queues/rpc-request", "testMsg", nil)
	require.NoError(t, err)

	var decoded string
	require.NoError(t, json.Unmarshal(result, &decoded))
	assert.Equal(t, "ok", decoded)
}

// TestClientServer_InvalidMethodSurfacesAsError checks that a method
// dispatch failure round-trips as a {error: {kind, message}} response
// the client decodes back into a clerr-kinded error.
func TestClientServer_InvalidMethodSurfacesAsError(t *testing.T) {
	s, p := newTestFabric(t)
	open := StoreOpener(s, p)

	registry := NewRegistry()

	requestQueue, err := NewStoreQueue(s, p, "/_queues/rpc-request-err")
	require.NoError(t, err)
	server := NewServer(requestQueue, registry, open, 1)
	t.Cleanup(server.Shutdown)

	replyQueue, err := NewStoreQueue(s, p, "/_queues/rpc-reply-err")
	require.NoError(t, err)
	client := NewClient("/_queues/rpc-reply-err", replyQueue, open)
	t.Cleanup(client.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = client.Call(ctx, "/_queues/rpc-request-err", "noSuchMethod", nil)
	require.Error(t, err)
	kind, ok := clerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, clerr.InvalidMethod, kind)
}

// TestClientServer_CallWaitMsecsTimesOut covers the caller-side timeout
// contract: a request with no registered method side at all never gets
// a reply, and CallWaitMsecs reports that as (false, nil) rather than
// an error.
func TestClientServer_CallWaitMsecsTimesOut(t *testing.T) {
	s, p := newTestFabric(t)
	open := StoreOpener(s, p)

	replyQueue, err := NewStoreQueue(s, p, "/_queues/rpc-reply-timeout")
	require.NoError(t, err)
	client := NewClient("/_queues/rpc-reply-timeout", replyQueue, open)
	t.Cleanup(client.Shutdown)

	_, ok, err := client.CallWaitMsecs(context.Background(), "/_queues/rpc-request-timeout", "testMsg", nil, 50)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestAMQPQueue_PutTakeRoundTrip exercises the AMQP transport against
// the mock dialer/channel pair, with no broker required.
func TestAMQPQueue_PutTakeRoundTrip(t *testing.T) {
	dialer, ch := NewMockAMQPDialer()
	q, err := NewAMQPQueue(dialer, "amqp://ignored", "rpc-amqp")
	require.NoError(t, err)

	require.NoError(t, q.Put(context.Background(), []byte("hello")))
	require.Len(t, ch.Published, 1)

	got, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestAMQPQueue_TakeWaitMsecsTimesOut(t *testing.T) {
	dialer, _ := NewMockAMQPDialer()
	q, err := NewAMQPQueue(dialer, "amqp://ignored", "rpc-amqp-timeout")
	require.NoError(t, err)

	payload, ok, err := q.TakeWaitMsecs(context.Background(), 20)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, payload)
}

func TestAMQPQueue_Len(t *testing.T) {
	dialer, _ := NewMockAMQPDialer()
	q, err := NewAMQPQueue(dialer, "amqp://ignored", "rpc-amqp-len")
	require.NoError(t, err)

	require.NoError(t, q.Put(context.Background(), []byte("a")))
	require.NoError(t, q.Put(context.Background(), []byte("b")))

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
