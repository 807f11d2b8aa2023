package clusterlib

import (
	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/notifyable"
	"github.com/evalgo/clusterlib/rpc"
)

// QueueElements returns a FIFO handle over the Queue notifyable n:
// elements are sequential children of n's own path, taken in strict
// sequence order. Several Clients may hold handles to the same queue;
// concurrent takers race for the head element and each element is
// delivered to exactly one of them.
func (c *Client) QueueElements(n *notifyable.Impl) (*rpc.StoreQueue, error) {
	if n.Kind() != notifyable.KindQueue {
		return nil, clerr.New(clerr.InvalidMethod, "QueueElements is only legal on a Queue notifyable")
	}
	return rpc.NewStoreQueue(c.src, c.pipeline, n.Path())
}
