package rpc

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/clog"
	"github.com/evalgo/clusterlib/event"
	"github.com/evalgo/clusterlib/store"
)

// StoreQueue is the default Queue transport: elements are stored as
// ephemeral-sequential children of a queue path, exactly the bid-node
// primitive lock.Manager uses, with the smallest live sequence taken
// first.
type StoreQueue struct {
	src      store.Store
	pipeline *event.Pipeline
	path     string
	log      *clog.Entry
}

// NewStoreQueue creates (idempotently) the queue directory node at path
// and returns a Queue backed by it.
func NewStoreQueue(src store.Store, pipeline *event.Pipeline, path string) (*StoreQueue, error) {
	q := &StoreQueue{
		src:      src,
		pipeline: pipeline,
		path:     path,
		log:      clog.NewEntry(clog.Logger, map[string]interface{}{"component": "rpc", "queue": path}),
	}
	if err := q.ensureContainer(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *StoreQueue) ensureContainer(ctx context.Context) error {
	exists, err := q.src.Exists(ctx, q.path, "")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := q.src.Create(ctx, q.path, nil, store.FlagPersistent); err != nil {
		if kind, ok := clerr.KindOf(err); !ok || kind != clerr.InvalidArguments {
			return err
		}
	}
	return nil
}

// Put appends payload as a new ephemeral-sequential child.
func (q *StoreQueue) Put(ctx context.Context, payload []byte) error {
	_, err := q.src.Create(ctx, q.path+"/el", payload, store.FlagEphemeral|store.FlagSequential)
	return err
}

// Take blocks until an element is available or ctx is cancelled.
func (q *StoreQueue) Take(ctx context.Context) ([]byte, error) {
	for {
		payload, ok, err := q.tryTakeOnce(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return payload, nil
		}
		if err := q.waitForElement(ctx); err != nil {
			return nil, err
		}
	}
}

// TakeWaitMsecs bounds Take by msecs, returning (nil, false, nil) on
// timeout.
func (q *StoreQueue) TakeWaitMsecs(ctx context.Context, msecs int) ([]byte, bool, error) {
	wctx, cancel := contextWithTimeoutMillis(ctx, msecs)
	defer cancel()
	payload, err := q.Take(wctx)
	if err == nil {
		return payload, true, nil
	}
	if kind, ok := clerr.KindOf(err); ok && kind == clerr.OperationCancelled {
		return nil, false, nil
	}
	return nil, false, err
}

// Len reports the current child count.
func (q *StoreQueue) Len(ctx context.Context) (int, error) {
	children, err := q.src.GetChildren(ctx, q.path, "")
	if err != nil {
		return 0, err
	}
	return len(children), nil
}

// tryTakeOnce scans children in sequence order and removes the first
// one still present, racing concurrent takers: a child already deleted
// between list and delete is skipped rather than treated as an error.
func (q *StoreQueue) tryTakeOnce(ctx context.Context) ([]byte, bool, error) {
	children, err := q.src.GetChildren(ctx, q.path, "")
	if err != nil {
		return nil, false, err
	}
	ordered := sortBySequence(children)
	for _, name := range ordered {
		full := q.path + "/" + name
		data, _, err := q.src.GetData(ctx, full, "")
		if err != nil {
			if kind, ok := clerr.KindOf(err); ok && kind == clerr.ObjectRemoved {
				continue
			}
			return nil, false, err
		}
		if err := q.src.Delete(ctx, full, -1); err != nil {
			if kind, ok := clerr.KindOf(err); ok && kind == clerr.ObjectRemoved {
				continue
			}
			return nil, false, err
		}
		return data, true, nil
	}
	return nil, false, nil
}

// waitForElement arms a ChangeQueueElements watch on the queue path and
// blocks until a Put fires it or ctx is cancelled, the same
// subscribe-then-arm sequence as lock.Manager.waitForTurn.
func (q *StoreQueue) waitForElement(ctx context.Context) error {
	woke := make(chan struct{}, 1)
	unsubscribe := q.pipeline.Subscribe(store.ChangeQueueElements, q.path,
		func(ctx context.Context, path string, kind store.ChangeKind) {
			select {
			case woke <- struct{}{}:
			default:
			}
		})
	defer unsubscribe()

	children, err := q.src.GetChildren(ctx, q.path, store.ChangeQueueElements)
	if err != nil {
		return err
	}
	q.pipeline.EnsureArmed(store.ChangeQueueElements, q.path)
	if len(sortBySequence(children)) > 0 {
		// An element landed between the caller's unwatched scan and this
		// arming read; no event will ever fire for it, so return and let
		// the caller re-scan instead of blocking for the next Put.
		return nil
	}

	select {
	case <-woke:
		return nil
	case <-ctx.Done():
		return clerr.Wrap(clerr.OperationCancelled, "queue take cancelled", ctx.Err())
	}
}

// sortBySequence orders element names ascending by their trailing
// 10-digit FlagSequential suffix, skipping any name that doesn't parse.
func sortBySequence(names []string) []string {
	type seqName struct {
		seq  int64
		name string
	}
	pairs := make([]seqName, 0, len(names))
	for _, n := range names {
		seq, ok := parseElementSeq(n)
		if !ok {
			continue
		}
		pairs = append(pairs, seqName{seq, n})
	}
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j].seq < pairs[j-1].seq; j-- {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
		}
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.name
	}
	return out
}

func parseElementSeq(name string) (int64, bool) {
	if len(name) < 11 || name[len(name)-11] != '-' {
		return 0, false
	}
	n, err := strconv.ParseInt(name[len(name)-10:], 10, 64)
	if err != nil {
		return 0, false
	}
	if !strings.HasPrefix(name, "el") {
		return 0, false
	}
	return n, true
}

func contextWithTimeoutMillis(ctx context.Context, msecs int) (context.Context, context.CancelFunc) {
	if msecs <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(msecs)*time.Millisecond)
}

var _ Queue = (*StoreQueue)(nil)

// storeOpener builds an Opener that resolves a key to a StoreQueue
// rooted at that path against a fixed store/pipeline pair, for Clients
// and Servers sharing one store-backed fabric.
func storeOpener(src store.Store, pipeline *event.Pipeline) Opener {
	return func(key string) (Queue, error) {
		return NewStoreQueue(src, pipeline, key)
	}
}

// StoreOpener is the exported form of storeOpener, for callers wiring a
// Client or Server to a store-backed fabric from outside the package.
func StoreOpener(src store.Store, pipeline *event.Pipeline) Opener {
	return storeOpener(src, pipeline)
}
