// Package store is the hierarchical, watch-capable namespace that
// backs every notifyable, lock bid, and queue element. It provides a
// typed facade (Store) over an in-memory watch-capable tree (memStore)
// optionally mirrored to a durable bbolt-backed adapter (BoltBacking)
// for crash recovery.
package store

import (
	"context"

	"github.com/evalgo/clusterlib/clerr"
)

// Flags selects node persistence and sequencing at create time.
type Flags int

const (
	// FlagPersistent nodes survive session loss.
	FlagPersistent Flags = 0
	// FlagEphemeral nodes are deleted when the owning session ends.
	FlagEphemeral Flags = 1 << iota
	// FlagSequential appends a monotonically increasing suffix to the
	// requested name at create time.
	FlagSequential
)

// ChangeKind is the closed set of store event kinds the event pipeline
// dispatches on.
type ChangeKind string

const (
	ChangeNotifyableState     ChangeKind = "NOTIFYABLE_STATE"
	ChangeApplications        ChangeKind = "APPLICATIONS"
	ChangeGroups              ChangeKind = "GROUPS"
	ChangeDataDistributions   ChangeKind = "DATADISTRIBUTIONS"
	ChangeNodes               ChangeKind = "NODES"
	ChangeProcessSlots        ChangeKind = "PROCESSSLOTS"
	ChangePropertyLists       ChangeKind = "PROPERTYLISTS"
	ChangePropertyListValues  ChangeKind = "PROPERTYLIST_VALUES"
	ChangeShards              ChangeKind = "SHARDS"
	ChangeNodeClientState     ChangeKind = "NODE_CLIENT_STATE"
	ChangeNodeMasterSetState  ChangeKind = "NODE_MASTER_SET_STATE"
	ChangeNodeConnection      ChangeKind = "NODE_CONNECTION"
	ChangeSynchronize         ChangeKind = "SYNCHRONIZE"
	ChangePrecLockNodeExists  ChangeKind = "PREC_LOCK_NODE_EXISTS"
	// ChangeQueueElements extends the closed set of notifyable change
	// kinds so rpc.Queue can
	// block a Take() until a concurrent Put() adds a child, the same
	// arm/wait idiom ChangePrecLockNodeExists gives the lock manager.
	ChangeQueueElements       ChangeKind = "QUEUE_ELEMENTS"
	ChangePID                 ChangeKind = "PID"
	ChangeDesiredState        ChangeKind = "DESIRED_STATE"
	ChangeCurrentState        ChangeKind = "CURRENT_STATE"
	ChangeExecArgs            ChangeKind = "EXEC_ARGS"
	ChangeRunningExecArgs     ChangeKind = "RUNNING_EXEC_ARGS"
	ChangePortVec             ChangeKind = "PORT_VEC"
	ChangeReservation         ChangeKind = "RESERVATION"
	ChangeUsage               ChangeKind = "USAGE"
)

// EventState describes the store-session state accompanying an event.
type EventState string

const (
	StateConnected    EventState = "connected"
	StateSessionLost  EventState = "session_lost"
)

// Op is the raw store mutation a watch observed.
type Op string

const (
	OpCreated         Op = "created"
	OpDeleted         Op = "deleted"
	OpDataChanged     Op = "dataChanged"
	OpChildrenChanged Op = "childrenChanged"
)

// Event is the typed form the adapter converts raw store notifications
// into before enqueueing them for the event pipeline's ingress thread:
// the ChangeKind the watch was armed under, the raw mutation observed,
// the path it happened on, and the session state at delivery.
type Event struct {
	Kind  ChangeKind
	Op    Op
	Path  string
	State EventState
}

// EndEvent is the sentinel delivered once at factory shutdown.
var EndEvent = Event{Kind: "EN_ENDEVENT"}

// Store is the adapter contract every notifyable-cache and lock
// operation is built on.
type Store interface {
	Create(ctx context.Context, path string, data []byte, flags Flags) (name string, err error)
	Delete(ctx context.Context, path string, expectedVersion int64) error
	Exists(ctx context.Context, path string, watchKind ChangeKind) (bool, error)
	GetData(ctx context.Context, path string, watchKind ChangeKind) (data []byte, version int64, err error)
	SetData(ctx context.Context, path string, data []byte, expectedVersion int64) (newVersion int64, err error)
	GetChildren(ctx context.Context, path string, watchKind ChangeKind) ([]string, error)
	Sync(ctx context.Context, path string) error

	// Events returns the channel the event pipeline's ingress thread
	// drains. Closed after EndEvent has been delivered.
	Events() <-chan Event
	// Shutdown delivers EndEvent and stops accepting new watches.
	Shutdown()
}

// noParent is the error for a create() against a path whose parent
// does not exist.
func noParent(path string) error {
	return clerr.New(clerr.InvalidArguments, "no parent for path "+path)
}
