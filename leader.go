package clusterlib

import (
	"context"

	"github.com/evalgo/clusterlib/lock"
	"github.com/evalgo/clusterlib/notifyable"
)

// leaderLockName is the fixed lock name the leader election wrapper
// bids on.
const leaderLockName = "leader"

// BecomeLeader blocks until this Client's owner is elected leader over
// n: of several concurrent callers exactly one returns, the rest remain
// blocked until the leader abdicates. It is a direct wrapper over the
// exclusive distributed lock, whose predecessor-watch wakeup already
// gives unbounded blocking hand-off semantics.
func (c *Client) BecomeLeader(ctx context.Context, n *notifyable.Impl) error {
	return c.locks.Acquire(ctx, n, leaderLockName, lock.Exclusive)
}

// AbdicateLeader releases leadership over n, waking the next pending
// BecomeLeader caller.
func (c *Client) AbdicateLeader(ctx context.Context, n *notifyable.Impl) error {
	return c.locks.Release(ctx, n, leaderLockName)
}

// IsLeader reports whether this Client's owner currently holds
// leadership over n.
func (c *Client) IsLeader(n *notifyable.Impl) bool {
	return c.locks.HasLock(n, leaderLockName)
}
