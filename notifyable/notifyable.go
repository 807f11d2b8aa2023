// Package notifyable implements the Notifyable type hierarchy: a
// closed set of tagged-variant kinds (Root, Application, Group, Node,
// ProcessSlot, DataDistribution, PropertyList, Queue), each with a
// one-way READY->REMOVED state machine and reference-counted lifetime,
// plus the NotifyableCache that owns every live instance.
package notifyable

import (
	"sync"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/store"
)

// Content is satisfied by every cacheddata type (CachedKeyValues,
// ShardSet, StateRecord, CachedProcessInfo): it reloads itself from a
// store.GetData read. Declared here rather than imported from
// cacheddata, since cacheddata imports notifyable for Locker/OwnerOf and
// a reverse import would cycle; cacheddata's types satisfy this
// structurally without referencing the type itself.
type Content interface {
	Load(data []byte, version int64) error
}

// Kind is the closed set of notifyable kinds. Using a tagged-variant
// string kind (rather than the original's dynamic-cast ladder) keeps
// the switch exhaustive and checkable at compile time via the kind
// constants below.
type Kind string

const (
	KindRoot             Kind = "root"
	KindApplication      Kind = "application"
	KindGroup            Kind = "group"
	KindNode             Kind = "node"
	KindProcessSlot      Kind = "processSlot"
	KindDataDistribution Kind = "dataDistribution"
	KindPropertyList     Kind = "propertyList"
	KindQueue            Kind = "queue"
)

// legalChild reports whether childKind may live under parentKind:
// Applications under Root, Groups under Applications or Groups, Nodes
// under Groups, ProcessSlots under Nodes, and DataDistributions,
// PropertyLists, and Queues under any non-leaf notifyable.
func legalChild(parentKind, childKind Kind) bool {
	switch childKind {
	case KindApplication:
		return parentKind == KindRoot
	case KindGroup:
		return parentKind == KindApplication || parentKind == KindGroup
	case KindNode:
		return parentKind == KindGroup
	case KindProcessSlot:
		return parentKind == KindNode
	case KindDataDistribution, KindPropertyList, KindQueue:
		switch parentKind {
		case KindRoot, KindApplication, KindGroup, KindNode:
			return true
		}
		return false
	default:
		return false
	}
}

// State is the Notifyable lifecycle state. Transition is one-way:
// Ready -> Removed.
type State string

const (
	StateReady   State = "ready"
	StateRemoved State = "removed"
)

// Impl is the concrete Notifyable. Two mutexes guard disjoint state:
// syncMu protects cached data/reentry/version state in short critical
// sections, refCountMu protects only the counter. Two locks because
// the ref-count discipline must never block on cache I/O.
type Impl struct {
	path   string
	kind   Kind
	parent *Impl

	syncMu      sync.RWMutex
	state       State
	version     int64
	lockReentry map[string]int // lockName -> reentrant acquire count on this notifyable for the calling goroutine group

	refCountMu sync.Mutex
	refCount   int32

	contentMu sync.Mutex
	content   map[store.ChangeKind]Content // cacheddata objects attached by Client's content accessors, keyed by the ChangeKind their watch is armed under
}

// newImpl constructs a ready Impl with refCount 1, the caller's
// initial reference.
func newImpl(path string, kind Kind, parent *Impl) *Impl {
	return &Impl{
		path:        path,
		kind:        kind,
		parent:      parent,
		state:       StateReady,
		lockReentry: make(map[string]int),
		refCount:    1,
	}
}

// Path returns the notifyable's store path.
func (n *Impl) Path() string { return n.path }

// Kind returns the notifyable's kind.
func (n *Impl) Kind() Kind { return n.kind }

// Parent returns the parent notifyable, or nil for Root.
func (n *Impl) Parent() *Impl { return n.parent }

// State returns the current lifecycle state.
func (n *Impl) State() State {
	n.syncMu.RLock()
	defer n.syncMu.RUnlock()
	return n.state
}

// Version returns the locally cached version counter.
func (n *Impl) Version() int64 {
	n.syncMu.RLock()
	defer n.syncMu.RUnlock()
	return n.version
}

// checkReady returns ObjectRemoved if the notifyable is no longer
// Ready. Every accessor that touches cached state must call this
// first.
func (n *Impl) checkReady() error {
	n.syncMu.RLock()
	defer n.syncMu.RUnlock()
	if n.state != StateReady {
		return clerr.New(clerr.ObjectRemoved, "notifyable removed: "+n.path)
	}
	return nil
}

// markRemoved transitions Ready->Removed. Called by the cache under
// the notifyable's distributed lock; a second call is a no-op, since
// recursive remove may observe a child already marked by a concurrent
// watch-driven delete.
func (n *Impl) markRemoved() {
	n.syncMu.Lock()
	defer n.syncMu.Unlock()
	n.state = StateRemoved
}

func (n *Impl) setVersion(v int64) {
	n.syncMu.Lock()
	defer n.syncMu.Unlock()
	n.version = v
}

// addRef increments the reference count. Used by every cache accessor
// that hands out this notifyable.
func (n *Impl) addRef() {
	n.refCountMu.Lock()
	n.refCount++
	n.refCountMu.Unlock()
}

// releaseRef decrements the reference count and reports whether this
// was the final release of a Removed notifyable, in which case the
// cache must drop its map entry.
func (n *Impl) releaseRef() (shouldReclaim bool) {
	n.refCountMu.Lock()
	n.refCount--
	count := n.refCount
	n.refCountMu.Unlock()

	if count < 0 {
		// Defensive: a double-release is an invariant violation; this
		// method reports false for it, and neither it nor
		// Cache.ReleaseRef logs it.
		return false
	}

	n.syncMu.RLock()
	removed := n.state == StateRemoved
	n.syncMu.RUnlock()

	return count == 0 && removed
}

// refCountValue exposes the current count for tests and diagnostics.
func (n *Impl) refCountValue() int32 {
	n.refCountMu.Lock()
	defer n.refCountMu.Unlock()
	return n.refCount
}

// lockReentryCount reads the calling context's reentry count for
// lockName on this notifyable. Guarded by syncMu.
func (n *Impl) lockReentryCount(lockName string) int {
	n.syncMu.RLock()
	defer n.syncMu.RUnlock()
	return n.lockReentry[lockName]
}

// incLockReentry increments the reentry count for lockName and returns
// the new value.
func (n *Impl) incLockReentry(lockName string) int {
	n.syncMu.Lock()
	defer n.syncMu.Unlock()
	n.lockReentry[lockName]++
	return n.lockReentry[lockName]
}

// decLockReentry decrements the reentry count for lockName and returns
// the new value; it never goes below zero.
func (n *Impl) decLockReentry(lockName string) int {
	n.syncMu.Lock()
	defer n.syncMu.Unlock()
	if n.lockReentry[lockName] > 0 {
		n.lockReentry[lockName]--
	}
	return n.lockReentry[lockName]
}

// ContentFor returns the cacheddata object attached under kind, if any
// Client accessor (PropertyListValues, Shards, CurrentState, ...) has
// built one yet.
func (n *Impl) ContentFor(kind store.ChangeKind) (Content, bool) {
	n.contentMu.Lock()
	defer n.contentMu.Unlock()
	c, ok := n.content[kind]
	return c, ok
}

// GetOrAttachContent returns the content already attached under kind, or
// calls build to construct it. build may return additional ChangeKinds
// that alias the same object (e.g. a ProcessSlot's CachedProcessInfo
// answers to ExecArgs, RunningExecArgs, and PortVec alike); all of them,
// plus kind itself, are attached in the same critical section so a
// concurrent caller never observes a partial attach.
func (n *Impl) GetOrAttachContent(kind store.ChangeKind, build func() (Content, []store.ChangeKind, error)) (Content, error) {
	n.contentMu.Lock()
	defer n.contentMu.Unlock()
	if n.content == nil {
		n.content = make(map[store.ChangeKind]Content)
	}
	if c, ok := n.content[kind]; ok {
		return c, nil
	}
	c, extra, err := build()
	if err != nil {
		return nil, err
	}
	n.content[kind] = c
	for _, k := range extra {
		n.content[k] = c
	}
	return c, nil
}

// LockReentryCount is the exported form of lockReentryCount, used by the
// lock package to read reentry depth and by cacheddata's publish() to
// verify the caller holds the exclusive lock.
func (n *Impl) LockReentryCount(lockName string) int { return n.lockReentryCount(lockName) }

// IncLockReentry is the exported form of incLockReentry, called by the
// lock package on a reentrant acquire.
func (n *Impl) IncLockReentry(lockName string) int { return n.incLockReentry(lockName) }

// DecLockReentry is the exported form of decLockReentry, called by the
// lock package on release.
func (n *Impl) DecLockReentry(lockName string) int { return n.decLockReentry(lockName) }
