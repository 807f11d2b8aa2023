package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/clog"
)

// Client is the calling side of the fabric: it enqueues a Request
// onto a destination's Queue (resolved via open) and correlates the
// Response that later arrives on its own reply Queue by id.
type Client struct {
	replyKey   string
	replyQueue Queue
	open       Opener

	mu      sync.Mutex
	pending map[string]chan Response

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *clog.Entry
}

// NewClient creates a Client that listens for responses on replyQueue,
// addressed by replyKey in outgoing requests' ReplyTo field, and
// resolves destination keys to Queues via open.
func NewClient(replyKey string, replyQueue Queue, open Opener) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		replyKey:   replyKey,
		replyQueue: replyQueue,
		open:       open,
		pending:    make(map[string]chan Response),
		ctx:        ctx,
		cancel:     cancel,
		log:        clog.NewEntry(clog.Logger, map[string]interface{}{"component": "rpc", "role": "client"}),
	}
	c.wg.Add(1)
	go c.recvLoop()
	return c
}

func (c *Client) recvLoop() {
	defer c.wg.Done()
	for {
		payload, err := c.replyQueue.Take(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if kind, ok := clerr.KindOf(err); ok && kind == clerr.OperationCancelled {
				return
			}
			// A transient take failure must not kill response
			// correlation for the client's whole lifetime; log and keep
			// receiving. The pause keeps a persistent failure from
			// spinning hot.
			c.log.WithError(err).Warn("reply queue take failed, retrying")
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		resp, err := decodeResponse(payload)
		if err != nil {
			c.log.WithError(err).Warn("malformed response envelope")
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if !ok {
			continue
		}
		ch <- resp
	}
}

// Call sends method/params to the queue addressed by destKey and blocks
// until the correlated response arrives or ctx is cancelled. params is
// marshalled to JSON; a nil params is sent as JSON null.
func (c *Client) Call(ctx context.Context, destKey, method string, params interface{}) (json.RawMessage, error) {
	resp, err := c.call(ctx, destKey, method, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, clerr.New(clerr.Kind(resp.Error.Kind), resp.Error.Message)
	}
	return resp.Result, nil
}

// CallWaitMsecs bounds Call by msecs, returning (nil, false, nil) on
// timeout rather than a cancellation error.
func (c *Client) CallWaitMsecs(ctx context.Context, destKey, method string, params interface{}, msecs int) (json.RawMessage, bool, error) {
	wctx, cancel := contextWithTimeoutMillis(ctx, msecs)
	defer cancel()
	result, err := c.Call(wctx, destKey, method, params)
	if err == nil {
		return result, true, nil
	}
	if kind, ok := clerr.KindOf(err); ok && kind == clerr.OperationCancelled && ctx.Err() == nil {
		return nil, false, nil
	}
	return nil, false, err
}

func (c *Client) call(ctx context.Context, destKey, method string, params interface{}) (Response, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Response{}, clerr.Wrap(clerr.InvalidArguments, "invalid rpc params", err)
	}

	id := uuid.New().String()
	ch := make(chan Response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	destQueue, err := c.open(destKey)
	if err != nil {
		cleanup()
		return Response{}, err
	}
	payload, err := encodeRequest(Request{ID: id, Method: method, Params: raw, ReplyTo: c.replyKey})
	if err != nil {
		cleanup()
		return Response{}, clerr.Wrap(clerr.InconsistentInternalState, "request marshal failed", err)
	}
	if err := destQueue.Put(ctx, payload); err != nil {
		cleanup()
		return Response{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		cleanup()
		return Response{}, clerr.Wrap(clerr.OperationCancelled, "rpc call cancelled", ctx.Err())
	}
}

// Shutdown stops the reply-receiving loop and waits for it to exit.
func (c *Client) Shutdown() {
	c.cancel()
	c.wg.Wait()
}
