package clusterlib

import (
	"context"

	"github.com/evalgo/clusterlib/cacheddata"
	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/notifyable"
	"github.com/evalgo/clusterlib/store"
	"github.com/evalgo/clusterlib/storekey"
)

// ensureContentPath creates path as an empty persistent node if it does
// not already exist, tolerating a concurrent creator's AlreadyExists the
// same way notifyable.Cache.GetOrCreate does. Used by the Node/ProcessSlot
// sub-document accessors below, whose store paths are never created by
// GetOrCreate itself.
func ensureContentPath(ctx context.Context, s store.Store, path string) error {
	exists, err := s.Exists(ctx, path, "")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := s.Create(ctx, path, nil, store.FlagPersistent); err != nil {
		if kind, ok := clerr.KindOf(err); !ok || kind != clerr.InvalidArguments {
			return err
		}
	}
	return nil
}

// PropertyListValues returns the CachedKeyValues content for the
// PropertyList notifyable n. The first call reads the store and arms ChangePropertyListValues
// on n's own path; the event pipeline's mutator (notifyable/cache.go)
// keeps it coherent on every subsequent change. Later calls for the same
// n return the same instance.
func (c *Client) PropertyListValues(ctx context.Context, n *notifyable.Impl) (*cacheddata.CachedKeyValues, error) {
	if n.Kind() != notifyable.KindPropertyList {
		return nil, clerr.New(clerr.InvalidMethod, "PropertyListValues is only legal on a PropertyList notifyable")
	}
	return c.keyValuesAt(ctx, n, n.Path(), store.ChangePropertyListValues)
}

// Shards returns the ShardSet content for the DataDistribution
// notifyable n, following the same lazy-attach/watch-driven-refresh
// contract as PropertyListValues.
func (c *Client) Shards(ctx context.Context, n *notifyable.Impl) (*cacheddata.ShardSet, error) {
	if n.Kind() != notifyable.KindDataDistribution {
		return nil, clerr.New(clerr.InvalidMethod, "Shards is only legal on a DataDistribution notifyable")
	}
	path := n.Path()
	content, err := n.GetOrAttachContent(store.ChangeShards, func() (notifyable.Content, []store.ChangeKind, error) {
		data, version, err := c.src.GetData(ctx, path, store.ChangeShards)
		if err != nil {
			return nil, nil, err
		}
		c.pipeline.EnsureArmed(store.ChangeShards, path)
		ss := cacheddata.NewShardSet(cacheddata.OwnerOf(n), path)
		if err := ss.Load(data, version); err != nil {
			return nil, nil, err
		}
		return ss, nil, nil
	})
	if err != nil {
		return nil, err
	}
	return content.(*cacheddata.ShardSet), nil
}

// CurrentState returns the StateRecord content for a Node or ProcessSlot's
// current-state sub-document, at the reserved "_currentState" child of
// n's own path. This is the contract point health-reporting and
// fork/exec collaborators publish through: the collaborators that own PID/RESERVATION/USAGE
// write those fields into this same record rather than a separate
// document, so ChangePID/ChangeReservation/ChangeUsage all alias it.
func (c *Client) CurrentState(ctx context.Context, n *notifyable.Impl) (*cacheddata.StateRecord, error) {
	if n.Kind() != notifyable.KindNode && n.Kind() != notifyable.KindProcessSlot {
		return nil, clerr.New(clerr.InvalidMethod, "CurrentState is only legal on a Node or ProcessSlot notifyable")
	}
	path := storekey.CurrentStateKey(n.Path())
	return c.stateRecordAt(ctx, n, path, store.ChangeCurrentState, store.ChangePID, store.ChangeReservation, store.ChangeUsage)
}

// DesiredState returns the StateRecord content for a Node or ProcessSlot's
// desired-state sub-document, at the reserved "_desiredState" child of
// n's own path.
func (c *Client) DesiredState(ctx context.Context, n *notifyable.Impl) (*cacheddata.StateRecord, error) {
	if n.Kind() != notifyable.KindNode && n.Kind() != notifyable.KindProcessSlot {
		return nil, clerr.New(clerr.InvalidMethod, "DesiredState is only legal on a Node or ProcessSlot notifyable")
	}
	path := storekey.DesiredStateKey(n.Path())
	return c.stateRecordAt(ctx, n, path, store.ChangeDesiredState)
}

func (c *Client) stateRecordAt(ctx context.Context, n *notifyable.Impl, path string, primary store.ChangeKind, extra ...store.ChangeKind) (*cacheddata.StateRecord, error) {
	content, err := n.GetOrAttachContent(primary, func() (notifyable.Content, []store.ChangeKind, error) {
		if err := ensureContentPath(ctx, c.src, path); err != nil {
			return nil, nil, err
		}
		data, version, err := c.src.GetData(ctx, path, primary)
		if err != nil {
			return nil, nil, err
		}
		c.pipeline.EnsureArmed(primary, path)
		for _, kind := range extra {
			if _, err := c.src.Exists(ctx, path, kind); err != nil {
				return nil, nil, err
			}
			c.pipeline.EnsureArmed(kind, path)
		}
		sr := cacheddata.NewStateRecord(cacheddata.OwnerOf(n), path)
		if err := sr.Load(data, version); err != nil {
			return nil, nil, err
		}
		return sr, extra, nil
	})
	if err != nil {
		return nil, err
	}
	return content.(*cacheddata.StateRecord), nil
}

// ProcessInfo returns the CachedProcessInfo content for a ProcessSlot's
// process-launch descriptor, at the reserved "_processInfo" child of n's
// own path. ChangeRunningExecArgs and ChangePortVec alias the same
// document as ChangeExecArgs, since the original's EXEC_ARGS,
// RUNNING_EXEC_ARGS, and PORT_VEC fields all live on one ProcessInfo.
func (c *Client) ProcessInfo(ctx context.Context, n *notifyable.Impl) (*cacheddata.CachedProcessInfo, error) {
	if n.Kind() != notifyable.KindProcessSlot {
		return nil, clerr.New(clerr.InvalidMethod, "ProcessInfo is only legal on a ProcessSlot notifyable")
	}
	path := storekey.ProcessInfoKey(n.Path())
	extra := []store.ChangeKind{store.ChangeRunningExecArgs, store.ChangePortVec}
	content, err := n.GetOrAttachContent(store.ChangeExecArgs, func() (notifyable.Content, []store.ChangeKind, error) {
		if err := ensureContentPath(ctx, c.src, path); err != nil {
			return nil, nil, err
		}
		data, version, err := c.src.GetData(ctx, path, store.ChangeExecArgs)
		if err != nil {
			return nil, nil, err
		}
		c.pipeline.EnsureArmed(store.ChangeExecArgs, path)
		for _, kind := range extra {
			if _, err := c.src.Exists(ctx, path, kind); err != nil {
				return nil, nil, err
			}
			c.pipeline.EnsureArmed(kind, path)
		}
		pi := cacheddata.NewCachedProcessInfo(cacheddata.OwnerOf(n), path)
		if err := pi.Load(data, version); err != nil {
			return nil, nil, err
		}
		return pi, extra, nil
	})
	if err != nil {
		return nil, err
	}
	return content.(*cacheddata.CachedProcessInfo), nil
}

// NodeClientState returns the CachedKeyValues content for a Node's
// client-state flags, at the reserved "_clientState" child of n's own
// path.
func (c *Client) NodeClientState(ctx context.Context, n *notifyable.Impl) (*cacheddata.CachedKeyValues, error) {
	if n.Kind() != notifyable.KindNode {
		return nil, clerr.New(clerr.InvalidMethod, "NodeClientState is only legal on a Node notifyable")
	}
	return c.keyValuesAt(ctx, n, storekey.ClientStateKey(n.Path()), store.ChangeNodeClientState)
}

// NodeMasterSetState returns the CachedKeyValues content for a Node's
// master-set-state flags, at the reserved "_masterSetState" child of n's
// own path.
func (c *Client) NodeMasterSetState(ctx context.Context, n *notifyable.Impl) (*cacheddata.CachedKeyValues, error) {
	if n.Kind() != notifyable.KindNode {
		return nil, clerr.New(clerr.InvalidMethod, "NodeMasterSetState is only legal on a Node notifyable")
	}
	return c.keyValuesAt(ctx, n, storekey.MasterSetStateKey(n.Path()), store.ChangeNodeMasterSetState)
}

// keyValuesAt attaches a CachedKeyValues at path under kind, creating
// path if it doesn't already exist (path may be n's own path, for
// PropertyListValues, or a reserved sub-path, for the Node state-flag
// accessors).
func (c *Client) keyValuesAt(ctx context.Context, n *notifyable.Impl, path string, kind store.ChangeKind) (*cacheddata.CachedKeyValues, error) {
	content, err := n.GetOrAttachContent(kind, func() (notifyable.Content, []store.ChangeKind, error) {
		if err := ensureContentPath(ctx, c.src, path); err != nil {
			return nil, nil, err
		}
		data, version, err := c.src.GetData(ctx, path, kind)
		if err != nil {
			return nil, nil, err
		}
		c.pipeline.EnsureArmed(kind, path)
		kv := cacheddata.NewCachedKeyValues(cacheddata.OwnerOf(n), path)
		if err := kv.Load(data, version); err != nil {
			return nil, nil, err
		}
		return kv, nil, nil
	})
	if err != nil {
		return nil, err
	}
	return content.(*cacheddata.CachedKeyValues), nil
}
