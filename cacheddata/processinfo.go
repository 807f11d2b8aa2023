package cacheddata

import (
	"context"
	"encoding/json"

	"github.com/evalgo/clusterlib/store"
)

// ProcessInfo is the data model for a ProcessSlot's process-launch
// description: a port vector, exec args, and environment additions.
// The core only carries this data; fork/exec plumbing and PID/state
// writeback belong to external collaborators.
type ProcessInfo struct {
	PortVec []int             `json:"portVec"`
	ExecArgs []string         `json:"execArgs"`
	Env      map[string]string `json:"env"`
}

// Marshal serializes p as JSON, the same encoding used for state
// records' keyValues payloads.
func (p ProcessInfo) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalProcessInfo parses a JSON-encoded ProcessInfo.
func UnmarshalProcessInfo(data []byte) (ProcessInfo, error) {
	var p ProcessInfo
	if len(data) == 0 {
		return p, nil
	}
	err := json.Unmarshal(data, &p)
	return p, err
}

// CachedProcessInfo is the publish()-able wrapper around ProcessInfo,
// shaped like CachedKeyValues and ShardSet (owner/path/version) so it
// can be stored at a ProcessSlot's _processInfo sub-path and answer to
// the EXEC_ARGS, RUNNING_EXEC_ARGS, and PORT_VEC change kinds alike.
type CachedProcessInfo struct {
	owner Locker
	path  string

	info    ProcessInfo
	version int64
}

// NewCachedProcessInfo wraps path (owned by owner) with a zero-value
// ProcessInfo, version 0 matching a freshly created store node.
func NewCachedProcessInfo(owner Locker, path string) *CachedProcessInfo {
	return &CachedProcessInfo{owner: owner, path: path}
}

// Get is the non-blocking local read.
func (p *CachedProcessInfo) Get() ProcessInfo { return p.info }

// Set stages a local change; it does not touch the store.
func (p *CachedProcessInfo) Set(info ProcessInfo) { p.info = info }

// Version returns the largest version ever observed locally.
func (p *CachedProcessInfo) Version() int64 { return p.version }

// Load replaces the local ProcessInfo from a freshly read blob and
// advances the local version, never lowering it.
func (p *CachedProcessInfo) Load(data []byte, version int64) error {
	info, err := UnmarshalProcessInfo(data)
	if err != nil {
		return err
	}
	p.info = info
	if version > p.version {
		p.version = version
	}
	return nil
}

// Publish serializes and writes the ProcessInfo with optimistic
// concurrency, same contract as CachedKeyValues.Publish.
func (p *CachedProcessInfo) Publish(ctx context.Context, s store.Store) error {
	if err := requireExclusive(p.owner, ExclusiveLockName); err != nil {
		return err
	}
	blob, err := p.info.Marshal()
	if err != nil {
		return err
	}
	newVersion, err := s.SetData(ctx, p.path, blob, p.version)
	if err != nil {
		return err
	}
	if newVersion > p.version {
		p.version = newVersion
	}
	return nil
}
