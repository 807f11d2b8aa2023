package notifyable

import (
	"context"
	"sync"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/clog"
	"github.com/evalgo/clusterlib/event"
	"github.com/evalgo/clusterlib/store"
	"github.com/evalgo/clusterlib/storekey"
)

// Mode selects get-or-create behavior.
type Mode int

const (
	LoadIfPresent Mode = iota
	CreateIfMissing
)

// InitializeFunc runs once when a notifyable is loaded into the cache,
// before it is published for callers to see.
type InitializeFunc func(ctx context.Context, n *Impl) error

// Cache owns path -> *Impl for every live notifyable, a mutex-guarded
// map with refcount-driven reclamation: entries
// are dropped only when releaseRef reports the final reference on a
// Removed notifyable, never on capacity pressure.
type Cache struct {
	mu      sync.RWMutex
	objects map[string]*Impl

	src      store.Store
	pipeline *event.Pipeline

	initMu sync.RWMutex
	initFn map[Kind]InitializeFunc

	log *clog.Entry
}

// New creates a Cache backed by src, wiring its mutators into pipeline
// so store events keep cached state current.
func New(src store.Store, pipeline *event.Pipeline) *Cache {
	c := &Cache{
		objects:  make(map[string]*Impl),
		src:      src,
		pipeline: pipeline,
		initFn:   make(map[Kind]InitializeFunc),
		log:      clog.NewEntry(clog.Logger, map[string]interface{}{"component": "notifyable"}),
	}
	pipeline.SetMutator(c.mutate)
	return c
}

// OnInitialize registers the function run once when a notifyable of
// kind is first loaded into the cache.
func (c *Cache) OnInitialize(kind Kind, fn InitializeFunc) {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	c.initFn[kind] = fn
}

// contentSubpathKinds lists the ChangeKinds whose content lives at a
// reserved sub-path of the owning notifyable (a Node or ProcessSlot's
// own path plus a storekey content token) rather than at the
// notifyable's own path, the way ChangePropertyListValues and
// ChangeShards do. mutate uses it to resolve ev.Path back to the owning
// *Impl via storekey.TrimToNotifyable before looking it up.
var contentSubpathKinds = map[store.ChangeKind]bool{
	store.ChangeCurrentState:       true,
	store.ChangeDesiredState:       true,
	store.ChangePID:                true,
	store.ChangeReservation:        true,
	store.ChangeUsage:              true,
	store.ChangeExecArgs:           true,
	store.ChangeRunningExecArgs:    true,
	store.ChangePortVec:            true,
	store.ChangeNodeClientState:    true,
	store.ChangeNodeMasterSetState: true,
}

// mutate is the cache-change mutator run on the event pipeline's
// ingress thread: it must never acquire a distributed
// lock. It refreshes whatever cacheddata object a Client content
// accessor attached for the changed kind and marks removed notifyables.
func (c *Cache) mutate(ev store.Event) {
	ownerPath := ev.Path
	if contentSubpathKinds[ev.Kind] {
		ownerPath = storekey.TrimToNotifyable(ev.Path)
	}

	c.mu.RLock()
	n, ok := c.objects[ownerPath]
	c.mu.RUnlock()
	if !ok {
		return
	}

	switch ev.Kind {
	case store.ChangeNotifyableState:
		if ev.Op == store.OpDeleted {
			n.markRemoved()
			return
		}
		// A data change on the node itself: refresh the cached version
		// and re-arm the removal watch.
		if version, err := c.ownVersion(context.Background(), ev.Path); err == nil {
			n.setVersion(version)
			c.pipeline.Arm(store.ChangeNotifyableState, ev.Path)
		}
	case store.ChangePropertyListValues, store.ChangeShards:
		if c.refreshContent(n, ev) {
			c.pipeline.Arm(ev.Kind, ev.Path)
		}
	default:
		if contentSubpathKinds[ev.Kind] {
			if c.refreshContent(n, ev) {
				c.pipeline.Arm(ev.Kind, ev.Path)
			}
		}
	}
}

// refreshContent re-reads ev.Path and, if a Client content accessor has
// attached a cacheddata object under ev.Kind, loads the fresh bytes into
// it, keeping separate processes' caches coherent. When
// ev.Path is the notifyable's own path (ChangePropertyListValues,
// ChangeShards) the refreshed version is also the notifyable's own
// version; for a sub-path content kind it is not. Reports whether the
// re-read succeeded and so re-armed the store watch; on a failed read
// (typically the node was just deleted) the caller must not re-arm the
// pipeline either, since no store event will ever come.
func (c *Cache) refreshContent(n *Impl, ev store.Event) bool {
	data, version, err := c.src.GetData(context.Background(), ev.Path, ev.Kind)
	if err != nil {
		c.log.WithError(err).Warn("failed to re-read changed content")
		return false
	}
	if content, ok := n.ContentFor(ev.Kind); ok {
		if err := content.Load(data, version); err != nil {
			c.log.WithError(err).Warn("failed to load re-read content into cache")
		}
	}
	if ev.Path == n.Path() {
		n.setVersion(version)
	}
	return true
}

// GetRoot returns the singleton Root notifyable at storekey.RootPath,
// creating its store ancestors (and itself) idempotently if this is
// the first Factory to touch a fresh store. Uses the same
// idempotent-create tolerance as GetOrCreate, since Root has no parent
// container token for ChildKey to build a path from.
func (c *Cache) GetRoot(ctx context.Context) (*Impl, error) {
	c.mu.RLock()
	existing, ok := c.objects[storekey.RootPath]
	c.mu.RUnlock()
	if ok {
		existing.addRef()
		return existing, nil
	}

	for _, ancestor := range ancestorsOf(storekey.RootPath) {
		exists, err := c.src.Exists(ctx, ancestor, "")
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		if _, err := c.src.Create(ctx, ancestor, []byte("{}"), store.FlagPersistent); err != nil {
			if errKind, ok := clerr.KindOf(err); !ok || errKind != clerr.InvalidArguments {
				return nil, err
			}
		}
	}

	data, version, err := c.src.GetData(ctx, storekey.RootPath, store.ChangeNotifyableState)
	if err != nil {
		return nil, err
	}
	c.pipeline.EnsureArmed(store.ChangeNotifyableState, storekey.RootPath)
	_ = data

	n := newImpl(storekey.RootPath, KindRoot, nil)
	n.setVersion(version)

	c.mu.Lock()
	if prior, ok := c.objects[storekey.RootPath]; ok {
		c.mu.Unlock()
		prior.addRef()
		return prior, nil
	}
	c.objects[storekey.RootPath] = n
	c.mu.Unlock()

	return n, nil
}

// ownVersion reads a notifyable's own version, arming ChangeNotifyableState
// only; the node's byte payload is not cached data in this model (that
// lives in the cacheddata objects Client attaches per-ChangeKind) so it
// is discarded.
func (c *Cache) ownVersion(ctx context.Context, path string) (int64, error) {
	_, version, err := c.src.GetData(ctx, path, store.ChangeNotifyableState)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// ancestorsOf returns every non-root prefix of path, shallowest first,
// e.g. "/a/b/c" -> ["/a", "/a/b", "/a/b/c"].
func ancestorsOf(path string) []string {
	parts := storekey.Split(path)
	out := make([]string, 0, len(parts))
	cur := ""
	for _, p := range parts {
		cur = cur + "/" + p
		out = append(out, cur)
	}
	return out
}

// GetOrCreate resolves (kind, parent, name) to a live notifyable.
// On CreateIfMissing it creates the store node (idempotent: an
// AlreadyExists from a concurrent retry is not an error here) then
// loads; on LoadIfPresent a missing node is ObjectRemoved.
func (c *Cache) GetOrCreate(ctx context.Context, kind Kind, parent *Impl, name string, mode Mode) (*Impl, error) {
	if !storekey.IsValidName(name) {
		return nil, clerr.New(clerr.InvalidArguments, "invalid notifyable name: "+name)
	}

	parentKind := KindRoot
	var parentPath string
	if parent != nil {
		parentKind = parent.Kind()
		parentPath = parent.Path()
	}
	if !legalChild(parentKind, kind) {
		return nil, clerr.New(clerr.InvalidMethod,
			"a "+string(kind)+" may not be created under a "+string(parentKind))
	}
	path := storekey.ChildKey(parentPath, storeKindOf(kind), name)

	c.mu.RLock()
	existing, ok := c.objects[path]
	c.mu.RUnlock()
	if ok {
		existing.addRef()
		return existing, nil
	}

	exists, err := c.src.Exists(ctx, path, "")
	if err != nil {
		return nil, err
	}
	if !exists {
		if mode == LoadIfPresent {
			return nil, clerr.New(clerr.ObjectRemoved, "no such notifyable: "+path)
		}
		// The container node (parent/_<kind container>) is created on
		// demand; a concurrent creator racing to either node is not an
		// error.
		container := storekey.Parent(path)
		if ok, err := c.src.Exists(ctx, container, ""); err != nil {
			return nil, err
		} else if !ok {
			if _, err := c.src.Create(ctx, container, nil, store.FlagPersistent); err != nil {
				if errKind, ok := clerr.KindOf(err); !ok || errKind != clerr.InvalidArguments {
					return nil, err
				}
			}
		}
		if _, err := c.src.Create(ctx, path, nil, store.FlagPersistent); err != nil {
			if errKind, ok := clerr.KindOf(err); !ok || errKind != clerr.InvalidArguments {
				return nil, err
			}
			// Already exists from a concurrent retry: fall through to load.
		}
	}

	// Only arm ChangeNotifyableState here: the sole purpose of this read
	// is detecting the node's own removal. Content-bearing kinds
	// (ChangePropertyListValues, ChangeShards, and the Node/ProcessSlot
	// sub-document kinds) are armed lazily by Client's content accessors
	// on first access to the matching cacheddata object, never here —
	// arming them unconditionally for every kind double-arms the ones a
	// content accessor later arms itself, which the event pipeline's
	// ready-table rejects as InconsistentInternalState.
	version, err := c.ownVersion(ctx, path)
	if err != nil {
		return nil, err
	}
	c.pipeline.EnsureArmed(store.ChangeNotifyableState, path)

	n := newImpl(path, kind, parent)
	n.setVersion(version)

	c.initMu.RLock()
	fn := c.initFn[kind]
	c.initMu.RUnlock()
	if fn != nil {
		if err := fn(ctx, n); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	if prior, ok := c.objects[path]; ok {
		c.mu.Unlock()
		prior.addRef()
		return prior, nil
	}
	c.objects[path] = n
	c.mu.Unlock()

	return n, nil
}

// Remove marks n REMOVED and deletes its store node. Callers must
// already hold the notifyable's exclusive distributed lock (and, if
// recursive, every descendant's); Remove itself does not acquire
// locks, matching the deadlock-avoidance rule that the cache never
// holds a distributed lock while calling into the pipeline mutators.
func (c *Cache) Remove(ctx context.Context, n *Impl, recursive bool) error {
	if n.Kind() == KindRoot {
		return clerr.New(clerr.InvalidMethod, "remove() is not legal on Root")
	}

	if recursive {
		children, err := c.listCachedChildren(n.Path())
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := c.Remove(ctx, child, true); err != nil {
				return err
			}
		}
	} else if err := c.ensureNoChildNotifyables(ctx, n.Path()); err != nil {
		return err
	}

	n.markRemoved()
	// Delete bottom-up: the notifyable's auxiliary sub-nodes (container
	// nodes, lock directories, cached-data sub-documents) first, then the
	// node itself, so a child's store path is always gone before its
	// parent's.
	if err := c.deleteSubtree(ctx, n.Path()); err != nil {
		return err
	}
	if err := c.src.Sync(ctx, n.Path()); err != nil {
		return err
	}

	c.ReleaseRef(n)
	return nil
}

// ensureNoChildNotifyables rejects a non-recursive remove of a
// notifyable that still has children: any child-container token under
// path with at least one entry fails the check. Lock directories and
// cached-data sub-documents are not children and do not block removal.
func (c *Cache) ensureNoChildNotifyables(ctx context.Context, path string) error {
	names, err := c.src.GetChildren(ctx, path, "")
	if err != nil {
		if kind, ok := clerr.KindOf(err); ok && kind == clerr.ObjectRemoved {
			return nil
		}
		return err
	}
	for _, name := range names {
		if !storekey.IsChildContainerToken(name) {
			continue
		}
		sub, err := c.src.GetChildren(ctx, path+"/"+name, "")
		if err != nil {
			continue
		}
		if len(sub) > 0 {
			return clerr.New(clerr.InvalidArguments,
				"remove without recursive: "+path+" still has children under "+name)
		}
	}
	return nil
}

// deleteSubtree removes path and every store descendant, deepest first.
// A node already gone (a concurrently removed child, an expired
// ephemeral lock bid) is skipped.
func (c *Cache) deleteSubtree(ctx context.Context, path string) error {
	children, err := c.src.GetChildren(ctx, path, "")
	if err != nil {
		if kind, ok := clerr.KindOf(err); ok && kind == clerr.ObjectRemoved {
			return nil
		}
		return err
	}
	for _, name := range children {
		if err := c.deleteSubtree(ctx, path+"/"+name); err != nil {
			return err
		}
	}
	if err := c.src.Delete(ctx, path, -1); err != nil {
		if kind, ok := clerr.KindOf(err); ok && kind == clerr.ObjectRemoved {
			return nil
		}
		return err
	}
	return nil
}

// ReleaseRef drops one reference: decrement, and if
// this was the final reference on a Removed notifyable, drop it from
// the cache.
func (c *Cache) ReleaseRef(n *Impl) {
	if !n.releaseRef() {
		return
	}
	c.mu.Lock()
	delete(c.objects, n.Path())
	c.mu.Unlock()
}

// GetChildren enumerates children of kind childKind known to the
// cache, arming the children watch for future notifications.
func (c *Cache) GetChildren(ctx context.Context, n *Impl, childKind Kind) ([]string, error) {
	container := storeKindOf(childKind)
	containerPath := storekey.ChildKey(n.Path(), container, "")
	containerPath = trimTrailingSlash(containerPath)

	names, err := c.src.GetChildren(ctx, containerPath, changeKindFor(childKind))
	if err != nil {
		return nil, err
	}
	c.pipeline.EnsureArmed(changeKindFor(childKind), containerPath)
	return names, nil
}

func (c *Cache) listCachedChildren(parentPath string) ([]*Impl, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Impl
	for path, n := range c.objects {
		if storekey.Parent(storekey.Parent(path)) == parentPath {
			out = append(out, n)
		}
	}
	return out, nil
}

func trimTrailingSlash(path string) string {
	for len(path) > 0 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}

func storeKindOf(k Kind) storekey.Kind {
	switch k {
	case KindApplication:
		return storekey.KindApplication
	case KindGroup:
		return storekey.KindGroup
	case KindNode:
		return storekey.KindNode
	case KindProcessSlot:
		return storekey.KindProcessSlot
	case KindDataDistribution:
		return storekey.KindDataDistribution
	case KindPropertyList:
		return storekey.KindPropertyList
	case KindQueue:
		return storekey.KindQueue
	default:
		return storekey.KindRoot
	}
}

func changeKindFor(k Kind) store.ChangeKind {
	switch k {
	case KindApplication:
		return store.ChangeApplications
	case KindGroup:
		return store.ChangeGroups
	case KindNode:
		return store.ChangeNodes
	case KindProcessSlot:
		return store.ChangeProcessSlots
	case KindDataDistribution:
		return store.ChangeDataDistributions
	case KindPropertyList:
		return store.ChangePropertyLists
	default:
		return store.ChangeNotifyableState
	}
}
