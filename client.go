package clusterlib

import (
	"context"
	"time"

	"github.com/evalgo/clusterlib/clog"
	"github.com/evalgo/clusterlib/event"
	"github.com/evalgo/clusterlib/lock"
	"github.com/evalgo/clusterlib/notifyable"
	"github.com/evalgo/clusterlib/periodic"
	"github.com/evalgo/clusterlib/store"
)

// Callback is a user event handler invocation: the notifyable the
// change landed on, the change kind, and the userData supplied at
// registration.
type Callback func(ctx context.Context, n *notifyable.Impl, kind store.ChangeKind, userData interface{})

// ShutdownCallback is invoked exactly once when the end event is
// observed at factory shutdown.
type ShutdownCallback func(ctx context.Context)

// Client is a per-caller view over the Factory's shared collaborators:
// it holds its own handler registrations and timers over the shared
// cache, lock manager, and periodic runner.
type Client struct {
	cache    *notifyable.Cache
	locks    *lock.Manager
	pipeline *event.Pipeline
	runner   *periodic.Runner
	src      store.Store

	log *clog.Entry
}

func newClient(f *Factory) *Client {
	return &Client{
		cache:    f.cache,
		locks:    f.locks,
		pipeline: f.pipeline,
		runner:   f.runner,
		src:      f.store,
		log:      clog.NewEntry(clog.Logger, map[string]interface{}{"component": "client"}),
	}
}

// Root returns the singleton Root notifyable.
func (c *Client) Root(ctx context.Context) (*notifyable.Impl, error) {
	return c.cache.GetRoot(ctx)
}

// GetOrCreate is the generic accessor over the cache; the typed Get*
// methods below are sugar over it for the eight notifyable kinds. A nil
// parent resolves to the Root notifyable.
func (c *Client) GetOrCreate(ctx context.Context, kind notifyable.Kind, parent *notifyable.Impl, name string, mode notifyable.Mode) (*notifyable.Impl, error) {
	if parent == nil {
		root, err := c.cache.GetRoot(ctx)
		if err != nil {
			return nil, err
		}
		parent = root
	}
	return c.cache.GetOrCreate(ctx, kind, parent, name, mode)
}

func (c *Client) GetApplication(ctx context.Context, parent *notifyable.Impl, name string, mode notifyable.Mode) (*notifyable.Impl, error) {
	return c.GetOrCreate(ctx, notifyable.KindApplication, parent, name, mode)
}

func (c *Client) GetGroup(ctx context.Context, parent *notifyable.Impl, name string, mode notifyable.Mode) (*notifyable.Impl, error) {
	return c.GetOrCreate(ctx, notifyable.KindGroup, parent, name, mode)
}

func (c *Client) GetNode(ctx context.Context, parent *notifyable.Impl, name string, mode notifyable.Mode) (*notifyable.Impl, error) {
	return c.GetOrCreate(ctx, notifyable.KindNode, parent, name, mode)
}

func (c *Client) GetProcessSlot(ctx context.Context, parent *notifyable.Impl, name string, mode notifyable.Mode) (*notifyable.Impl, error) {
	return c.GetOrCreate(ctx, notifyable.KindProcessSlot, parent, name, mode)
}

func (c *Client) GetDataDistribution(ctx context.Context, parent *notifyable.Impl, name string, mode notifyable.Mode) (*notifyable.Impl, error) {
	return c.GetOrCreate(ctx, notifyable.KindDataDistribution, parent, name, mode)
}

func (c *Client) GetPropertyList(ctx context.Context, parent *notifyable.Impl, name string, mode notifyable.Mode) (*notifyable.Impl, error) {
	return c.GetOrCreate(ctx, notifyable.KindPropertyList, parent, name, mode)
}

func (c *Client) GetQueue(ctx context.Context, parent *notifyable.Impl, name string, mode notifyable.Mode) (*notifyable.Impl, error) {
	return c.GetOrCreate(ctx, notifyable.KindQueue, parent, name, mode)
}

// Remove marks n REMOVED and deletes it from the store, recursing into
// descendants when recursive is true.
func (c *Client) Remove(ctx context.Context, n *notifyable.Impl, recursive bool) error {
	return c.cache.Remove(ctx, n, recursive)
}

// ReleaseRef drops one reference to n; the final release of a REMOVED
// notifyable frees its cache entry.
func (c *Client) ReleaseRef(n *notifyable.Impl) {
	c.cache.ReleaseRef(n)
}

// Sync blocks until every prior event on n's path has been applied to
// the local cache.
func (c *Client) Sync(ctx context.Context, n *notifyable.Impl) error {
	return c.src.Sync(ctx, n.Path())
}

// RegisterHandler subscribes callback to every store.ChangeKind named
// by mask, scoped to n's path. The returned cancel function unregisters
// all of them; it is safe to call more than once.
func (c *Client) RegisterHandler(n *notifyable.Impl, mask EventMask, userData interface{}, callback Callback) (cancel func()) {
	kinds := maskToChangeKinds(mask)
	unsubs := make([]func(), 0, len(kinds))
	for _, kind := range kinds {
		kind := kind
		unsub := c.pipeline.Subscribe(kind, n.Path(), func(ctx context.Context, path string, k store.ChangeKind) {
			callback(ctx, n, k, userData)
		})
		unsubs = append(unsubs, unsub)
	}
	var done bool
	return func() {
		if done {
			return
		}
		done = true
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// OnShutdown registers cb to run once when EN_ENDEVENT is observed.
func (c *Client) OnShutdown(cb ShutdownCallback) {
	c.pipeline.OnEndEvent(func(ctx context.Context, path string, kind store.ChangeKind) {
		cb(ctx)
	})
}

// AcquireLock blocks until lockName is granted on n in the requested
// mode, or ctx is cancelled.
func (c *Client) AcquireLock(ctx context.Context, n *notifyable.Impl, lockName string, mode lock.Mode) error {
	return c.locks.Acquire(ctx, n, lockName, mode)
}

// AcquireLockWaitMsecs is the bounded-wait variant of AcquireLock.
func (c *Client) AcquireLockWaitMsecs(ctx context.Context, n *notifyable.Impl, lockName string, mode lock.Mode, msecs int) (bool, error) {
	return c.locks.AcquireWaitMsecs(ctx, n, lockName, mode, msecs)
}

// ReleaseLock drops one reentry on lockName; the final release deletes
// the underlying bid node.
func (c *Client) ReleaseLock(ctx context.Context, n *notifyable.Impl, lockName string) error {
	return c.locks.Release(ctx, n, lockName)
}

// HasLock reports whether this Client's owning process currently holds
// lockName on n.
func (c *Client) HasLock(n *notifyable.Impl, lockName string) bool {
	return c.locks.HasLock(n, lockName)
}

// GetLockBids enumerates the outstanding bids for lockName on n, and on
// every descendant when recursive is true.
func (c *Client) GetLockBids(ctx context.Context, n *notifyable.Impl, lockName string, recursive bool) ([]lock.Bid, error) {
	return c.locks.GetLockBids(ctx, n, lockName, recursive)
}

// SchedulePeriodic registers a periodic task: run is invoked every
// frequency against n with userData, until the returned Task is
// cancelled.
func (c *Client) SchedulePeriodic(frequency time.Duration, n *notifyable.Impl, userData interface{}, run periodic.RunFunc) *periodic.Task {
	return c.runner.Schedule(frequency, n, userData, run)
}
