// Package lock implements the distributed lock manager:
// exclusive/shared locks over ephemeral-sequential bid nodes under a
// notifyable's `_locks/<lockName>` directory, predecessor-watch
// wakeups, and reentrant acquisition.
//
// Go has no exposed OS thread id and no thread-local storage to key
// reentrancy by calling thread. Reentrancy is therefore tracked per
// (notifyable, lockName) on the notifyable.Impl itself (see
// notifyable.Impl.LockReentryCount), the same way cacheddata.Publish
// already checks it. Any goroutine acting on behalf of one owner of a
// notifyable's reference is treated as that one caller. The host:pid
// part of OwnerID remains a real diagnostic; the "tid" part is a
// process-local sequence number.
package lock

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/clog"
	"github.com/evalgo/clusterlib/event"
	"github.com/evalgo/clusterlib/notifyable"
	"github.com/evalgo/clusterlib/store"
	"github.com/evalgo/clusterlib/storekey"
)

// Mode is the lock discipline: exclusive or shared.
type Mode string

const (
	Exclusive Mode = "X"
	Shared    Mode = "S"
)

// Bid is one outstanding lock request, returned by GetLockBids for
// observability.
type Bid struct {
	NotifyablePath string
	LockName       string
	OwnerID        string
	SequenceName   string
	Mode           Mode
}

// Manager runs the lock protocol against the store. One Manager is
// owned by a Factory and shared by every notifyable it hands out.
type Manager struct {
	src      store.Store
	pipeline *event.Pipeline

	mu       sync.Mutex
	modes    map[string]Mode  // notifyable path + "\x00" + lockName -> mode currently held
	bidNames map[string]string // same key -> this caller's bid node full path

	ownerPrefix string

	bidMirror *RedisBidRegistry

	log *clog.Entry
}

// SetBidMirror attaches an optional Redis-backed bid mirror (see
// redisbidregistry.go) for cross-process bid observability. Mirror
// writes are best-effort: a failure is logged and never surfaces to
// Acquire/Release callers, since the store-backed ledger alone
// determines correctness.
func (m *Manager) SetBidMirror(mirror *RedisBidRegistry) {
	m.bidMirror = mirror
}

// New creates a Manager whose bid nodes are created against src, and
// whose predecessor wakeups are registered on pipeline.
func New(src store.Store, pipeline *event.Pipeline) *Manager {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Manager{
		src:         src,
		pipeline:    pipeline,
		modes:       make(map[string]Mode),
		bidNames:    make(map[string]string),
		ownerPrefix: fmt.Sprintf("%s:%d", host, os.Getpid()),
		log:         clog.NewEntry(clog.Logger, map[string]interface{}{"component": "lock"}),
	}
}

func modeKey(notifyablePath, lockName string) string {
	return notifyablePath + "\x00" + lockName
}

// Acquire blocks until lockName is held on n in the requested mode, or
// ctx is cancelled. Reentrant acquisition on an already-held lock of
// the same mode succeeds without creating a new bid; requesting a
// different mode while already holding one on the same notifyable is
// InvalidArguments: there is no S->X upgrade, and by symmetry no X->S.
func (m *Manager) Acquire(ctx context.Context, n *notifyable.Impl, lockName string, mode Mode) error {
	if mode != Exclusive && mode != Shared {
		return clerr.New(clerr.InvalidArguments, "unknown lock mode: "+string(mode))
	}

	key := modeKey(n.Path(), lockName)

	m.mu.Lock()
	if n.LockReentryCount(lockName) > 0 {
		held := m.modes[key]
		if held != mode {
			m.mu.Unlock()
			return clerr.New(clerr.InvalidArguments,
				"lock "+lockName+" already held in mode "+string(held)+", cannot reacquire as "+string(mode))
		}
		n.IncLockReentry(lockName)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	bidName, err := m.createBid(ctx, n.Path(), lockName, mode)
	if err != nil {
		return err
	}

	if err := m.waitForTurn(ctx, n.Path(), lockName, bidName, mode); err != nil {
		if cleanupErr := m.deleteBid(context.Background(), n.Path(), lockName, bidName); cleanupErr != nil {
			m.log.WithError(cleanupErr).WithField("bid", bidName).Warn("failed to clean up bid after cancelled acquire")
		}
		m.mu.Lock()
		delete(m.bidNames, key)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.modes[key] = mode
	m.mu.Unlock()
	n.IncLockReentry(lockName)
	return nil
}

// AcquireWaitMsecs is the bounded-wait variant of Acquire: it
// returns (false, nil) if the lock cannot be obtained within the
// given budget, cleaning up any partially-created bid, rather than
// surfacing a cancellation error.
func (m *Manager) AcquireWaitMsecs(ctx context.Context, n *notifyable.Impl, lockName string, mode Mode, msecs int) (bool, error) {
	wctx, cancel := contextWithTimeoutMillis(ctx, msecs)
	defer cancel()
	err := m.Acquire(wctx, n, lockName, mode)
	if err == nil {
		return true, nil
	}
	if kind, ok := clerr.KindOf(err); ok && kind == clerr.OperationCancelled {
		return false, nil
	}
	return false, err
}

// Release decrements the reentry count for lockName on n; only the
// final release deletes the underlying ephemeral bid node, which
// triggers the successor's PREC_LOCK_NODE_EXISTS wakeup.
func (m *Manager) Release(ctx context.Context, n *notifyable.Impl, lockName string) error {
	key := modeKey(n.Path(), lockName)

	m.mu.Lock()
	if n.LockReentryCount(lockName) == 0 {
		m.mu.Unlock()
		return clerr.New(clerr.InvalidArguments, "lock "+lockName+" not held by this caller")
	}
	remaining := n.DecLockReentry(lockName)
	var bidName string
	if remaining == 0 {
		bidName = m.bidNames[key]
		delete(m.bidNames, key)
		delete(m.modes, key)
	}
	m.mu.Unlock()

	if bidName == "" {
		return nil
	}
	return m.deleteBid(ctx, n.Path(), lockName, bidName)
}

// HasLock reports whether the calling context currently holds
// lockName on n.
func (m *Manager) HasLock(n *notifyable.Impl, lockName string) bool {
	return n.LockReentryCount(lockName) > 0
}

// GetLockBids enumerates outstanding bids for lockName on n (or,
// recursively, on n and every descendant notifyable reachable from
// the store) for observability.
func (m *Manager) GetLockBids(ctx context.Context, n *notifyable.Impl, lockName string, recursive bool) ([]Bid, error) {
	var out []Bid
	if !recursive {
		if err := m.collectBids(ctx, n.Path(), lockName, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if err := m.collectBidsRecursive(ctx, n.Path(), lockName, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// collectBidsRecursive gathers bids on notifyablePath and on every
// descendant notifyable, walking the child-container nodes the store
// knows about.
func (m *Manager) collectBidsRecursive(ctx context.Context, notifyablePath, lockName string, out *[]Bid) error {
	if err := m.collectBids(ctx, notifyablePath, lockName, out); err != nil {
		return err
	}
	names, err := m.src.GetChildren(ctx, notifyablePath, "")
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
		container := notifyablePath + "/" + name
		kids, err := m.src.GetChildren(ctx, container, "")
		if err != nil {
			continue
		}
		for _, kid := range kids {
			if err := m.collectBidsRecursive(ctx, container+"/"+kid, lockName, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) collectBids(ctx context.Context, notifyablePath, lockName string, out *[]Bid) error {
	lockDir := storekey.LockKey(notifyablePath, lockName)
	children, err := m.src.GetChildren(ctx, lockDir, "")
	if err != nil {
		if kind, ok := clerr.KindOf(err); ok && kind == clerr.ObjectRemoved {
			return nil
		}
		return err
	}
	for _, name := range children {
		ownerID, seq, mode, ok := parseBidName(name)
		if !ok {
			continue
		}
		*out = append(*out, Bid{
			NotifyablePath: notifyablePath,
			LockName:       lockName,
			OwnerID:        fmt.Sprintf("%s-%d", ownerID, seq),
			SequenceName:   name,
			Mode:           mode,
		})
	}
	return nil
}

// createBid ensures the lock directory exists and creates this
// caller's ephemeral-sequential bid node.
func (m *Manager) createBid(ctx context.Context, notifyablePath, lockName string, mode Mode) (string, error) {
	lockDir := storekey.LockKey(notifyablePath, lockName)
	if err := m.ensureContainer(ctx, notifyablePath, lockDir); err != nil {
		return "", err
	}

	tid := uuid.New().String()[:8]
	base := fmt.Sprintf("%s/%s-%s=%s", lockDir, m.ownerPrefix, tid, mode)
	name, err := m.src.Create(ctx, base, nil, store.FlagEphemeral|store.FlagSequential)
	if err != nil {
		return "", err
	}

	key := modeKey(notifyablePath, lockName)
	m.mu.Lock()
	m.bidNames[key] = name
	m.mu.Unlock()

	if m.bidMirror != nil {
		if err := m.bidMirror.RecordBid(ctx, notifyablePath, lockName, name, sequenceOf(name)); err != nil {
			m.log.WithError(err).WithField("bid", name).Warn("redis bid mirror record failed")
		}
	}
	return name, nil
}

// ensureContainer creates the _locks/<lockName> directory node
// idempotently; a concurrent creator racing to the same path is not
// an error.
func (m *Manager) ensureContainer(ctx context.Context, notifyablePath, lockDir string) error {
	exists, err := m.src.Exists(ctx, lockDir, "")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if ok, err := m.src.Exists(ctx, notifyablePath, ""); err != nil {
		return err
	} else if !ok {
		return clerr.New(clerr.ObjectRemoved, "no such notifyable: "+notifyablePath)
	}
	locksRoot := storekey.Join(notifyablePath, storekey.TokenLocks)
	if ok, err := m.src.Exists(ctx, locksRoot, ""); err != nil {
		return err
	} else if !ok {
		if _, err := m.src.Create(ctx, locksRoot, nil, store.FlagPersistent); err != nil {
			if kind, ok := clerr.KindOf(err); !ok || kind != clerr.InvalidArguments {
				return err
			}
		}
	}
	if _, err := m.src.Create(ctx, lockDir, nil, store.FlagPersistent); err != nil {
		if kind, ok := clerr.KindOf(err); !ok || kind != clerr.InvalidArguments {
			return err
		}
	}
	return nil
}

// waitForTurn repeatedly lists the lock directory, determines the
// nearest blocking predecessor for mode, and waits on its
// PREC_LOCK_NODE_EXISTS watch if it still exists, looping until no
// predecessor blocks.
func (m *Manager) waitForTurn(ctx context.Context, notifyablePath, lockName, bidName string, mode Mode) error {
	lockDir := storekey.LockKey(notifyablePath, lockName)
	mySeq := sequenceOf(bidName)

	for {
		children, err := m.src.GetChildren(ctx, lockDir, "")
		if err != nil {
			return err
		}

		predecessor := nearestBlockingPredecessor(children, lockDir, mySeq, mode)
		if predecessor == "" {
			return nil
		}

		woke := make(chan struct{}, 1)
		unsubscribe := m.pipeline.Subscribe(store.ChangePrecLockNodeExists, predecessor,
			func(ctx context.Context, path string, kind store.ChangeKind) {
				select {
				case woke <- struct{}{}:
				default:
				}
			})

		exists, err := m.src.Exists(ctx, predecessor, store.ChangePrecLockNodeExists)
		if err != nil {
			unsubscribe()
			return err
		}
		if !exists {
			unsubscribe()
			continue
		}
		// Exists() only records the store's own internal watch
		// bookkeeping; the event pipeline's callback-ready table (which
		// actually gates whether handleEvent dispatches to our
		// subscribed handler below) must be armed explicitly. Several
		// waiters may watch the same predecessor, so the arm is
		// idempotent.
		m.pipeline.EnsureArmed(store.ChangePrecLockNodeExists, predecessor)

		select {
		case <-woke:
		case <-ctx.Done():
			unsubscribe()
			return clerr.Wrap(clerr.OperationCancelled, "acquire cancelled while waiting", ctx.Err())
		}
		unsubscribe()
	}
}

func (m *Manager) deleteBid(ctx context.Context, notifyablePath, lockName, bidName string) error {
	if m.bidMirror != nil {
		if err := m.bidMirror.RemoveBid(ctx, notifyablePath, lockName, bidName); err != nil {
			m.log.WithError(err).WithField("bid", bidName).Warn("redis bid mirror remove failed")
		}
	}
	return m.src.Delete(ctx, bidName, -1)
}

// nearestBlockingPredecessor returns the full path of the
// highest-sequence child with a sequence below mySeq that blocks
// mode, or "" if none block. For Exclusive, every lower-sequenced
// child blocks; for Shared, only lower-sequenced Exclusive children
// block.
func nearestBlockingPredecessor(children []string, lockDir string, mySeq int64, mode Mode) string {
	var bestSeq int64 = -1
	var bestName string
	for _, name := range children {
		_, seq, childMode, ok := parseBidName(name)
		if !ok || seq >= mySeq {
			continue
		}
		if mode == Shared && childMode != Exclusive {
			continue
		}
		if seq > bestSeq {
			bestSeq = seq
			bestName = name
		}
	}
	if bestName == "" {
		return ""
	}
	return lockDir + "/" + bestName
}

// parseBidName extracts (ownerID, sequence, mode) from a bid node
// name shaped "<ownerPrefix>-<tid>=<mode>-<10-digit sequence>": this
// package creates "<ownerPrefix>-<tid>=<mode>" and the store's
// FlagSequential appends "-<10-digit sequence>" on create. The
// sequence suffix is parsed from the end first, since ownerPrefix
// (derived from a hostname) may itself contain dashes.
func parseBidName(name string) (ownerID string, seq int64, mode Mode, ok bool) {
	if len(name) < 11 || name[len(name)-11] != '-' {
		return "", 0, "", false
	}
	n, err := strconv.ParseInt(name[len(name)-10:], 10, 64)
	if err != nil {
		return "", 0, "", false
	}
	rest := name[:len(name)-11]
	eq := strings.LastIndexByte(rest, '=')
	if eq < 0 || eq != len(rest)-2 {
		return "", 0, "", false
	}
	m := Mode(rest[eq+1:])
	if m != Exclusive && m != Shared {
		return "", 0, "", false
	}
	return rest[:eq], n, m, true
}

func sequenceOf(bidName string) int64 {
	_, seq, _, ok := parseBidName(lastSegment(bidName))
	if !ok {
		return 0
	}
	return seq
}

func lastSegment(path string) string {
	parts := storekey.Split(path)
	if len(parts) == 0 {
		return path
	}
	return parts[len(parts)-1]
}

func contextWithTimeoutMillis(ctx context.Context, msecs int) (context.Context, context.CancelFunc) {
	if msecs <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(msecs)*time.Millisecond)
}
