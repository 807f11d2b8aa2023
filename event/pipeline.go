// Package event implements the two-stage dispatch pipeline that turns
// raw store events into user callbacks: an ingress thread drains the
// store's event channel and runs cache mutators, then hands each event
// to a pool of user-callback worker goroutines.
package event

import (
	"context"
	"sync"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/clog"
	"github.com/evalgo/clusterlib/store"
)

// Mutator is invoked on the ingress thread for every ready event,
// before the event reaches any user handler. Cache mutators must never
// acquire a distributed lock.
type Mutator func(store.Event)

// Handler is a user callback invoked on a worker goroutine for a given
// notifyable path and change kind.
type Handler func(ctx context.Context, path string, kind store.ChangeKind)

type handlerKey struct {
	kind store.ChangeKind
	path string
}

type dispatch struct {
	event   store.Event
	handler Handler
}

// Pipeline owns the callback-ready table and the ingress/worker
// goroutines, draining a store.Store's event channel into armed
// mutators and subscribed handlers.
type Pipeline struct {
	src store.Store

	ready *readyTable

	handlersMu sync.RWMutex
	handlers   map[handlerKey][]Handler
	endHandler Handler

	mutatorMu sync.RWMutex
	mutator   Mutator

	userQueue chan dispatch

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	fatal chan error

	log *clog.Entry
}

// New creates a Pipeline reading from src, with workerCount
// user-callback worker goroutines.
func New(src store.Store, workerCount int) *Pipeline {
	if workerCount < 1 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		src:       src,
		ready:     newReadyTable(),
		handlers:  make(map[handlerKey][]Handler),
		userQueue: make(chan dispatch, 256),
		ctx:       ctx,
		cancel:    cancel,
		fatal:     make(chan error, 1),
		log:       clog.NewEntry(clog.Logger, map[string]interface{}{"component": "event"}),
	}

	p.wg.Add(1)
	go p.ingressLoop()
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
	return p
}

// Fatal reports InconsistentInternalState violations (double-arm,
// double-unset) observed by the callback-ready table, and a store
// session loss as a SessionExpired error. A factory should treat a
// value on this channel as terminal for the pipeline.
func (p *Pipeline) Fatal() <-chan error { return p.fatal }

// Done is closed when the pipeline stops, either by Shutdown or by
// observing the end event.
func (p *Pipeline) Done() <-chan struct{} { return p.ctx.Done() }

// SetMutator installs the cache mutator run on the ingress thread for
// every ready event.
func (p *Pipeline) SetMutator(m Mutator) {
	p.mutatorMu.Lock()
	defer p.mutatorMu.Unlock()
	p.mutator = m
}

// OnEndEvent registers the handler invoked exactly once when the
// sentinel end event is observed.
func (p *Pipeline) OnEndEvent(h Handler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.endHandler = h
}

// Subscribe registers handler for (kind, path). Multiple handlers may
// be registered for the same key; all are invoked. The returned func
// removes this handler; it is safe to call more than once.
func (p *Pipeline) Subscribe(kind store.ChangeKind, path string, handler Handler) (unsubscribe func()) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	key := handlerKey{kind, path}
	slot := len(p.handlers[key])
	p.handlers[key] = append(p.handlers[key], handler)
	return func() {
		p.handlersMu.Lock()
		defer p.handlersMu.Unlock()
		hs := p.handlers[key]
		if slot < len(hs) {
			hs[slot] = nil
		}
	}
}

// Arm records that a watch for (kind, path) has been placed, per the
// store adapter's one-shot watch contract. It is fatal to arm a watch
// that is already armed.
func (p *Pipeline) Arm(kind store.ChangeKind, path string) {
	if err := p.ready.setReady(kind, path); err != nil {
		p.reportFatal(err)
	}
}

// EnsureArmed marks (kind, path) armed if it is not already. Callers
// that may share one underlying store watch — several lock waiters on
// one predecessor node, several queue takers blocked on one queue path,
// a second cache loading a path another cache already watches — use
// this instead of Arm, whose strict alternation applies to a single
// watch's arm/dispatch cycle.
func (p *Pipeline) EnsureArmed(kind store.ChangeKind, path string) {
	p.ready.ensureReady(kind, path)
}

func (p *Pipeline) reportFatal(err error) {
	p.log.WithError(err).Error("callback-ready invariant violated")
	select {
	case p.fatal <- err:
	default:
	}
}

func (p *Pipeline) ingressLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev, ok := <-p.src.Events():
			if !ok {
				return
			}
			if ev.Kind == store.EndEvent.Kind {
				p.dispatchEnd()
				p.cancel()
				return
			}
			p.handleEvent(ev)
		}
	}
}

func (p *Pipeline) handleEvent(ev store.Event) {
	if ev.State == store.StateSessionLost {
		p.reportFatal(clerr.New(clerr.SessionExpired, "store session lost"))
		return
	}
	if err := p.ready.unsetReady(ev.Kind, ev.Path); err != nil {
		p.reportFatal(err)
		return
	}

	p.mutatorMu.RLock()
	mutator := p.mutator
	p.mutatorMu.RUnlock()
	if mutator != nil {
		mutator(ev)
	}

	p.handlersMu.RLock()
	handlers := append([]Handler(nil), p.handlers[handlerKey{ev.Kind, ev.Path}]...)
	p.handlersMu.RUnlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		select {
		case p.userQueue <- dispatch{event: ev, handler: h}:
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pipeline) dispatchEnd() {
	p.handlersMu.RLock()
	h := p.endHandler
	p.handlersMu.RUnlock()
	if h == nil {
		return
	}
	h(context.Background(), "", store.EndEvent.Kind)
}

func (p *Pipeline) workerLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case d := <-p.userQueue:
			p.invoke(d)
		}
	}
}

func (p *Pipeline) invoke(d dispatch) {
	entry := clog.NewEntry(clog.Logger, map[string]interface{}{
		"component": "event",
		"path":      d.event.Path,
		"kind":      d.event.Kind,
	})
	defer clog.RecoverAndLog(entry)
	d.handler(p.ctx, d.event.Path, d.event.Kind)
}

// Shutdown cancels the pipeline and waits for the ingress and worker
// goroutines to exit. It does not close the underlying store; callers
// own that lifecycle separately.
func (p *Pipeline) Shutdown() {
	p.cancel()
	p.wg.Wait()
}

// readyTable is the callback-ready table: map changeKind -> map path
// -> bool. setReady/unsetReady enforce the strict false->true->false
// alternation; any violation is reported as
// InconsistentInternalState rather than panicking the ingress thread,
// since a library must let its embedder decide how to fail.
type readyTable struct {
	mu    sync.Mutex
	ready map[store.ChangeKind]map[string]bool
}

func newReadyTable() *readyTable {
	return &readyTable{ready: make(map[store.ChangeKind]map[string]bool)}
}

func (t *readyTable) setReady(kind store.ChangeKind, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.ready[kind]
	if !ok {
		m = make(map[string]bool)
		t.ready[kind] = m
	}
	if m[path] {
		return clerr.New(clerr.InconsistentInternalState,
			"double-arm of callback-ready entry for "+string(kind)+" "+path)
	}
	m[path] = true
	return nil
}

func (t *readyTable) ensureReady(kind store.ChangeKind, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.ready[kind]
	if !ok {
		m = make(map[string]bool)
		t.ready[kind] = m
	}
	m[path] = true
}

func (t *readyTable) unsetReady(kind store.ChangeKind, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.ready[kind]
	if !ok || !m[path] {
		return clerr.New(clerr.InconsistentInternalState,
			"unset of absent or already-false callback-ready entry for "+string(kind)+" "+path)
	}
	m[path] = false
	return nil
}
