package cacheddata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/store"
)

// DefaultHistoryDepth bounds how many history snapshots a StateRecord
// retains: the last N entries, pruning oldest first on write, keeping
// the durable record size bounded.
const DefaultHistoryDepth = 32

// HistoryEntry is one {timestamp, keyValues} snapshot in a
// StateRecord's history array.
type HistoryEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	KeyValues map[string]interface{} `json:"keyValues"`
}

// stateRecordDoc is the wire form of a StateRecord.
type stateRecordDoc struct {
	History []HistoryEntry `json:"history"`
}

// StateRecord is a Node or ProcessSlot's current or desired state:
// a versioned, optimistically-published JSON document holding a
// bounded history of keyValues snapshots.
type StateRecord struct {
	owner Locker
	path  string

	depth   int
	history []HistoryEntry
	version int64
}

// NewStateRecord wraps path (owned by owner) with an empty history,
// the default retention depth, and version 0 matching a freshly
// created store node's initial version.
func NewStateRecord(owner Locker, path string) *StateRecord {
	return &StateRecord{owner: owner, path: path, depth: DefaultHistoryDepth}
}

// WithHistoryDepth overrides the retention depth; depth must be at
// least 1.
func (r *StateRecord) WithHistoryDepth(depth int) *StateRecord {
	if depth > 0 {
		r.depth = depth
	}
	return r
}

// Latest returns the most recent history entry, or the zero value and
// false if no snapshot has ever been appended.
func (r *StateRecord) Latest() (HistoryEntry, bool) {
	if len(r.history) == 0 {
		return HistoryEntry{}, false
	}
	return r.history[len(r.history)-1], true
}

// History returns every retained snapshot, oldest first.
func (r *StateRecord) History() []HistoryEntry {
	return append([]HistoryEntry(nil), r.history...)
}

// Append stages a new snapshot taken at ts, dropping the oldest entry
// if retention depth is exceeded. It does not touch the store.
func (r *StateRecord) Append(ts time.Time, keyValues map[string]interface{}) {
	r.history = append(r.history, HistoryEntry{Timestamp: ts, KeyValues: keyValues})
	if len(r.history) > r.depth {
		r.history = r.history[len(r.history)-r.depth:]
	}
}

// Version returns the largest version ever observed locally.
func (r *StateRecord) Version() int64 { return r.version }

// Load replaces the history from a freshly read state-record blob and
// advances the local version.
func (r *StateRecord) Load(data []byte, version int64) error {
	var doc stateRecordDoc
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return clerr.Wrap(clerr.InvalidArguments, "malformed state record", err)
		}
	}
	r.history = doc.History
	if len(r.history) > r.depth {
		r.history = r.history[len(r.history)-r.depth:]
	}
	if version > r.version {
		r.version = version
	}
	return nil
}

// Publish serializes the retained history and writes it with
// optimistic concurrency. The caller must already hold the owning
// notifyable's exclusive lock.
func (r *StateRecord) Publish(ctx context.Context, s store.Store) error {
	if err := requireExclusive(r.owner, ExclusiveLockName); err != nil {
		return err
	}
	blob, err := json.Marshal(stateRecordDoc{History: r.history})
	if err != nil {
		return clerr.Wrap(clerr.InvalidArguments, "encoding state record", err)
	}
	newVersion, err := s.SetData(ctx, r.path, blob, r.version)
	if err != nil {
		return err
	}
	if newVersion > r.version {
		r.version = newVersion
	}
	return nil
}
