package clusterlib

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/evalgo/clusterlib/clog"
	"github.com/evalgo/clusterlib/event"
	"github.com/evalgo/clusterlib/lock"
	"github.com/evalgo/clusterlib/notifyable"
	"github.com/evalgo/clusterlib/periodic"
	"github.com/evalgo/clusterlib/store"
)

// Factory is the process-scoped root collaborator: it owns the store
// adapter, event pipeline, notifyable cache, lock manager, and
// periodic runner, and hands out per-caller Client handles. Multiple
// factories may coexist in a process with separate sessions.
type Factory struct {
	cfg Config

	store    store.Store
	backing  *store.BoltBacking
	pipeline *event.Pipeline
	cache    *notifyable.Cache
	locks    *lock.Manager
	runner   *periodic.Runner

	bidMirror *lock.RedisBidRegistry
	fatalHook *clog.FatalHook

	log *clog.Entry

	shutdownOnce sync.Once
}

// NewFactory wires a Factory per cfg. A non-empty cfg.StoreConnect opens
// a durable bbolt-backed store (store.OpenBoltBacking); an empty one
// gives a purely in-memory store.
func NewFactory(cfg Config) (*Factory, error) {
	f := &Factory{
		cfg: cfg,
		log: clog.NewEntry(clog.Logger, map[string]interface{}{"component": "factory"}),
	}

	var opts []store.Option
	if cfg.StoreConnect != "" {
		backing, err := store.OpenBoltBacking(cfg.StoreConnect)
		if err != nil {
			return nil, err
		}
		f.backing = backing
		opts = append(opts, store.WithBacking(backing))
	}
	f.store = store.New(opts...)

	workers := cfg.EventWorkers
	if workers <= 0 {
		workers = 4
	}
	f.pipeline = event.New(f.store, workers)

	f.fatalHook = clog.NewFatalHook(func(entry *logrus.Entry) {})
	clog.Logger.AddHook(f.fatalHook)
	go f.watchFatal()

	f.cache = notifyable.New(f.store, f.pipeline)
	f.locks = lock.New(f.store, f.pipeline)

	if cfg.LockRedisURL != "" {
		mirror, err := lock.NewRedisBidRegistry(context.Background(), lock.RedisBidRegistryConfig{RedisURL: cfg.LockRedisURL})
		if err != nil {
			return nil, err
		}
		f.bidMirror = mirror
		f.locks.SetBidMirror(mirror)
	}

	f.runner = periodic.New(cfg.PeriodicTick)

	return f, nil
}

// watchFatal logs every InconsistentInternalState surfaced by the event
// pipeline's ready-table violations at error level, so it is observable
// through the FatalHook without the process terminating.
func (f *Factory) watchFatal() {
	for {
		select {
		case err := <-f.pipeline.Fatal():
			f.log.WithError(err).Error("event pipeline reported a fatal internal-state violation")
		case <-f.pipeline.Done():
			return
		}
	}
}

// Root returns the singleton Root notifyable, bootstrapping the store
// ancestors on first call against a fresh store.
func (f *Factory) Root(ctx context.Context) (*notifyable.Impl, error) {
	return f.cache.GetRoot(ctx)
}

// Client hands out a new per-caller Client view over this Factory's
// shared collaborators. Every caller gets its own Client; none of its
// state is shared between Clients beyond the underlying cache/lock
// manager/pipeline/runner.
func (f *Factory) Client() *Client {
	return newClient(f)
}

// Store exposes the backing store adapter directly, for components
// (cacheddata publishers, custom rpc.Queue wiring) that need it.
func (f *Factory) Store() store.Store { return f.store }

// Pipeline exposes the event pipeline directly, for rpc.Queue wiring
// that needs to arm ChangeQueueElements waits against the same
// pipeline the cache uses.
func (f *Factory) Pipeline() *event.Pipeline { return f.pipeline }

// FatalCount returns the number of error/fatal log entries observed
// since Factory construction, for tests asserting no
// InconsistentInternalState violation occurred.
func (f *Factory) FatalCount() int64 {
	return f.fatalHook.Count()
}

// Shutdown delivers EN_ENDEVENT, stops the periodic runner, and closes
// any durable backing. Safe to call more than once.
func (f *Factory) Shutdown() {
	f.shutdownOnce.Do(func() {
		f.store.Shutdown()
		f.runner.Shutdown()
		if f.backing != nil {
			_ = f.backing.Close()
		}
		if f.bidMirror != nil {
			_ = f.bidMirror.Close()
		}
	})
}
