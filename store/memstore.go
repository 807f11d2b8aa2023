package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/clog"
)

type node struct {
	data      []byte
	version   int64
	ephemeral bool
	children  map[string]bool
}

// watchSet tracks which change kinds are armed on a path. A watch
// fires at most once and must be re-armed by the caller's next read.
type watchSet map[ChangeKind]bool

// memStore is the in-process, mutex-guarded watch-capable store. A
// single buffered ingress channel carries typed events out to the
// event pipeline. Data watches (armed by Exists/GetData) fire on a
// node's own data change or deletion; child watches (armed by
// GetChildren) fire when a child is created or deleted under the node.
type memStore struct {
	mu           sync.Mutex
	nodes        map[string]*node
	dataWatches  map[string]watchSet
	childWatches map[string]watchSet
	seq          map[string]int64 // sequence counters, keyed by parent path
	events       chan Event
	closed       bool
	log          *clog.Entry
	backing      *BoltBacking
}

// Option configures a memStore at construction.
type Option func(*memStore)

// WithBacking attaches a durable bbolt-backed mirror; every persistent
// node mutation is written through to it so a restart can reload the
// namespace. Ephemeral nodes are never persisted.
func WithBacking(b *BoltBacking) Option {
	return func(m *memStore) { m.backing = b }
}

// New creates a store holding only the empty-path namespace root.
// RootPath and its ancestors are not pre-created; Create requires a
// node's parent to exist.
func New(opts ...Option) Store {
	m := &memStore{
		nodes:        map[string]*node{"": {children: map[string]bool{}}},
		dataWatches:  map[string]watchSet{},
		childWatches: map[string]watchSet{},
		seq:          map[string]int64{},
		events:       make(chan Event, 256),
		log:          clog.NewEntry(clog.Logger, map[string]interface{}{"component": "store"}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.backing != nil {
		m.restore()
	}
	return m
}

// restore repopulates the in-memory tree from the durable backing,
// reconstructing parent/child links from path structure. Ephemeral
// nodes never appear here since they are never written through.
func (m *memStore) restore() {
	_ = m.backing.LoadAll(func(path string, data []byte) {
		m.nodes[path] = &node{data: data, version: 0, children: map[string]bool{}}
	})
	for path := range m.nodes {
		if path == "" {
			continue
		}
		parent := parentOf(path)
		p, ok := m.nodes[parent]
		if !ok {
			p = &node{children: map[string]bool{}}
			m.nodes[parent] = p
		}
		p.children[childName(parent, path)] = true
	}
}

func (m *memStore) Events() <-chan Event { return m.events }

func (m *memStore) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	m.events <- EndEvent
	close(m.events)
}

func (m *memStore) emit(kind ChangeKind, op Op, path string) {
	if m.closed {
		return
	}
	select {
	case m.events <- Event{Kind: kind, Op: op, Path: path, State: StateConnected}:
	default:
		m.log.WithField("path", path).Warn("ingress queue full, dropping event")
	}
}

func (m *memStore) Create(ctx context.Context, path string, data []byte, flags Flags) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent := parentOf(path)
	p, ok := m.nodes[parent]
	if !ok {
		return "", noParent(path)
	}

	name := path
	if flags&FlagSequential != 0 {
		m.seq[parent]++
		name = fmt.Sprintf("%s-%010d", path, m.seq[parent])
	}

	if _, exists := m.nodes[name]; exists {
		return "", clerr.New(clerr.InvalidArguments, "node already exists: "+name)
	}

	n := &node{data: data, version: 0, ephemeral: flags&FlagEphemeral != 0, children: map[string]bool{}}
	m.nodes[name] = n
	p.children[childName(parent, name)] = true

	if !n.ephemeral && m.backing != nil {
		if err := m.backing.Put(name, data); err != nil {
			m.log.WithError(err).Warn("durable backing write failed")
		}
	}

	// A new child fires the parent's armed child watches (placed by a
	// prior GetChildren with a watch kind) and any data watch armed on
	// the created path itself by an Exists probe that found nothing. An
	// unwatched creation is silent, avoiding events the pipeline's
	// callback-ready table was never told to expect.
	armedParent := m.childWatches[parent]
	delete(m.childWatches, parent)
	for kind := range armedParent {
		m.emit(kind, OpChildrenChanged, parent)
	}
	armedSelf := m.dataWatches[name]
	delete(m.dataWatches, name)
	for kind := range armedSelf {
		m.emit(kind, OpCreated, name)
	}
	return name, nil
}

func (m *memStore) Delete(ctx context.Context, path string, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[path]
	if !ok {
		return clerr.New(clerr.ObjectRemoved, "no such node: "+path)
	}
	if expectedVersion >= 0 && n.version != expectedVersion {
		return clerr.New(clerr.PublishVersion, "version mismatch deleting "+path)
	}

	delete(m.nodes, path)
	parent := parentOf(path)
	if p, ok := m.nodes[parent]; ok {
		delete(p.children, childName(parent, path))
	}
	if !n.ephemeral && m.backing != nil {
		if err := m.backing.Delete(path); err != nil {
			m.log.WithError(err).Warn("durable backing delete failed")
		}
	}

	// Deletion fires the node's own armed watches — data watches (a
	// removed notifyable's ChangeNotifyableState, a deleted lock bid's
	// ChangePrecLockNodeExists) and child watches (a queue taker blocked
	// on a queue that just vanished) — plus the parent's child watches.
	// An unwatched node deletes silently.
	dataArmed := m.dataWatches[path]
	delete(m.dataWatches, path)
	childArmed := m.childWatches[path]
	delete(m.childWatches, path)
	parentArmed := m.childWatches[parent]
	delete(m.childWatches, parent)
	for kind := range dataArmed {
		m.emit(kind, OpDeleted, path)
	}
	for kind := range childArmed {
		m.emit(kind, OpDeleted, path)
	}
	for kind := range parentArmed {
		m.emit(kind, OpChildrenChanged, parent)
	}
	return nil
}

func (m *memStore) Exists(ctx context.Context, path string, watchKind ChangeKind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nodes[path]
	m.armData(path, watchKind)
	return ok, nil
}

func (m *memStore) GetData(ctx context.Context, path string, watchKind ChangeKind) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[path]
	if !ok {
		return nil, 0, clerr.New(clerr.ObjectRemoved, "no such node: "+path)
	}
	m.armData(path, watchKind)
	out := make([]byte, len(n.data))
	copy(out, n.data)
	return out, n.version, nil
}

func (m *memStore) SetData(ctx context.Context, path string, data []byte, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[path]
	if !ok {
		return 0, clerr.New(clerr.ObjectRemoved, "no such node: "+path)
	}
	if n.version != expectedVersion {
		return 0, clerr.New(clerr.PublishVersion, "version mismatch on "+path)
	}
	n.data = data
	n.version++

	if !n.ephemeral && m.backing != nil {
		if err := m.backing.Put(path, data); err != nil {
			m.log.WithError(err).Warn("durable backing write failed")
		}
	}

	// A write fires the node's own armed data watches only:
	// PropertyListValues for a PropertyList, Shards for a
	// DataDistribution, CurrentState/DesiredState/PID/.../PortVec for
	// the ProcessSlot and Node sub-documents under cacheddata. A write
	// to an unwatched path emits nothing.
	armed := m.dataWatches[path]
	delete(m.dataWatches, path)
	for kind := range armed {
		m.emit(kind, OpDataChanged, path)
	}
	return n.version, nil
}

func (m *memStore) GetChildren(ctx context.Context, path string, watchKind ChangeKind) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[path]
	if !ok {
		return nil, clerr.New(clerr.ObjectRemoved, "no such node: "+path)
	}
	m.armChild(path, watchKind)
	out := make([]string, 0, len(n.children))
	for c := range n.children {
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) Sync(ctx context.Context, path string) error {
	// memStore applies mutations synchronously under its own lock, so
	// by the time Sync is called every prior mutation on path is
	// already visible; this is a no-op placeholder for a networked
	// backing where Sync would flush an I/O queue.
	select {
	case <-ctx.Done():
		return clerr.Wrap(clerr.OperationCancelled, "sync cancelled", ctx.Err())
	default:
		return nil
	}
}

// armData records a one-shot data watch for kind on path. Re-arming an
// already-armed (kind, path) is allowed here (several callers may share
// one watch); the double-arm invariant that must never be violated
// lives in the event pipeline's callback-ready table, not here.
func (m *memStore) armData(path string, kind ChangeKind) {
	if kind == "" {
		return
	}
	ws, ok := m.dataWatches[path]
	if !ok {
		ws = watchSet{}
		m.dataWatches[path] = ws
	}
	ws[kind] = true
}

// armChild records a one-shot child watch for kind on path.
func (m *memStore) armChild(path string, kind ChangeKind) {
	if kind == "" {
		return
	}
	ws, ok := m.childWatches[path]
	if !ok {
		ws = watchSet{}
		m.childWatches[path] = ws
	}
	ws[kind] = true
}

// ExpireSession simulates store session loss: every ephemeral node is
// removed, firing whatever watches were armed on it (waking lock
// waiters whose predecessor bids just died), then a single
// session-lost event is delivered, which the event pipeline treats as
// fatal for the client.
func (m *memStore) ExpireSession() {
	m.mu.Lock()
	var ephemeralPaths []string
	for path, n := range m.nodes {
		if n.ephemeral {
			ephemeralPaths = append(ephemeralPaths, path)
		}
	}
	armedByPath := make(map[string][]ChangeKind)
	parentArmed := make(map[string][]ChangeKind)
	for _, path := range ephemeralPaths {
		delete(m.nodes, path)
		parent := parentOf(path)
		if p, ok := m.nodes[parent]; ok {
			delete(p.children, childName(parent, path))
		}
		for kind := range m.dataWatches[path] {
			armedByPath[path] = append(armedByPath[path], kind)
		}
		delete(m.dataWatches, path)
		for kind := range m.childWatches[parent] {
			parentArmed[parent] = append(parentArmed[parent], kind)
		}
		delete(m.childWatches, parent)
	}
	m.mu.Unlock()

	for _, path := range ephemeralPaths {
		for _, kind := range armedByPath[path] {
			m.emit(kind, OpDeleted, path)
		}
	}
	for parent, kinds := range parentArmed {
		for _, kind := range kinds {
			m.emit(kind, OpChildrenChanged, parent)
		}
	}
	select {
	case m.events <- Event{Kind: ChangeNotifyableState, Path: "", State: StateSessionLost}:
	default:
		m.log.Warn("ingress queue full, dropping session-lost event")
	}
}

func parentOf(path string) string {
	i := lastSlash(path)
	if i < 0 {
		return ""
	}
	return path[:i]
}

func childName(parent, path string) string {
	if parent == "" {
		return path
	}
	return path[len(parent)+1:]
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}

var _ Store = (*memStore)(nil)
