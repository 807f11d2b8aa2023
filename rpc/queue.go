// Package rpc implements the JSON-RPC fabric and its Queue
// transports: a Queue is an ordered sequence of byte payloads
// addressed by a string key, and the fabric correlates a
// {method, params, id} request enqueued on a destination's Queue with
// the {result|error, id} response enqueued back on the requester's own
// reply Queue.
package rpc

import "context"

// Queue is the transport every Client and Server is built on. Put is
// FIFO with Take: the payload returned by the Nth successful Take is
// the payload given to the Nth successful Put, regardless of which
// concrete transport backs it.
type Queue interface {
	// Put appends payload to the tail of the queue.
	Put(ctx context.Context, payload []byte) error
	// Take blocks until an element is available, ctx is cancelled, or
	// the queue is shut down.
	Take(ctx context.Context) ([]byte, error)
	// TakeWaitMsecs is Take bounded by a budget: it returns (nil, false,
	// nil) on timeout rather than a cancellation error, mirroring
	// lock.Manager.AcquireWaitMsecs.
	TakeWaitMsecs(ctx context.Context, msecs int) ([]byte, bool, error)
	// Len reports the current element count, best-effort under
	// concurrent mutation.
	Len(ctx context.Context) (int, error)
}

// Opener resolves a destination key (a queue path, a Redis key, an
// AMQP queue name) to the Queue it names. A Client uses it to find the
// destination's request queue; a Server uses it to find a request's
// ReplyTo queue.
type Opener func(key string) (Queue, error)
