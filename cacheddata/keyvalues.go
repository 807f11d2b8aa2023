// Package cacheddata implements the cached-data types applications
// mutate through: CachedKeyValues (property lists and current/desired
// state records), ShardSet (shard routing, backed by intervaltree),
// and ProcessInfo. Every publish() performs an optimistic-concurrency
// store write and requires the caller to already hold the owning
// notifyable's exclusive distributed lock.
package cacheddata

import (
	"context"
	"sort"
	"strings"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/notifyable"
	"github.com/evalgo/clusterlib/store"
)

// Locker is the subset of notifyable.Impl that cacheddata needs to
// enforce the "publish requires the exclusive lock" rule, kept as an
// interface so tests can fake reentry state without a live Cache.
type Locker interface {
	LockReentryCount(lockName string) int
}

func requireExclusive(owner Locker, lockName string) error {
	if owner == nil {
		return clerr.New(clerr.InvalidArguments, "publish: no owning notifyable")
	}
	if owner.LockReentryCount(lockName) <= 0 {
		return clerr.New(clerr.InvalidArguments,
			"publish: caller does not hold the exclusive lock "+lockName)
	}
	return nil
}

// ExclusiveLockName is the conventional lock name publish() checks for
// on a notifyable's reentry map, matching the original's single
// "exclusive" distributed lock per cached-data object.
const ExclusiveLockName = "exclusive"

// CachedKeyValues is an in-memory string->string property map plus the
// largest version ever observed locally; a publish never lowers it.
// Serialization is the property-list grammar
// "key=value;key=value;…", with no empty keys and no
// "=" or ";" inside a token.
type CachedKeyValues struct {
	owner Locker
	path  string

	values  map[string]string
	version int64
}

// NewCachedKeyValues wraps path (owned by owner) with an empty local
// map, with version 0 matching a freshly created store node's initial
// version. Callers that load an existing node before constructing
// should call Load immediately after, which only ever raises version.
func NewCachedKeyValues(owner Locker, path string) *CachedKeyValues {
	return &CachedKeyValues{owner: owner, path: path, values: make(map[string]string)}
}

// Get is a non-blocking local read.
func (c *CachedKeyValues) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Set stages a local change; it does not touch the store.
func (c *CachedKeyValues) Set(key, value string) error {
	if err := validateToken(key); err != nil {
		return err
	}
	if err := validateToken(value); err != nil {
		return err
	}
	c.values[key] = value
	return nil
}

// Erase removes key locally; it does not touch the store.
func (c *CachedKeyValues) Erase(key string) {
	delete(c.values, key)
}

// Version returns the largest version ever observed locally.
func (c *CachedKeyValues) Version() int64 { return c.version }

// Load replaces the local map from a freshly read property-list blob
// and advances the local version, used when the watch-driven mutator
// re-reads the store (notifyable.Cache.mutate). It never lowers the
// locally cached version, per invariant 4.
func (c *CachedKeyValues) Load(data []byte, version int64) error {
	values, err := parsePropertyList(data)
	if err != nil {
		return err
	}
	c.values = values
	if version > c.version {
		c.version = version
	}
	return nil
}

// Publish serializes the map and writes it with optimistic concurrency
// against the locally observed version. The caller must already hold
// the owning notifyable's exclusive lock; a version conflict surfaces
// as clerr.PublishVersion so
// the caller can re-read via the watch and retry.
func (c *CachedKeyValues) Publish(ctx context.Context, s store.Store) error {
	if err := requireExclusive(c.owner, ExclusiveLockName); err != nil {
		return err
	}
	blob := serializePropertyList(c.values)
	newVersion, err := s.SetData(ctx, c.path, blob, c.version)
	if err != nil {
		return err
	}
	if newVersion > c.version {
		c.version = newVersion
	}
	return nil
}

func validateToken(s string) error {
	if s == "" {
		return clerr.New(clerr.InvalidArguments, "property-list token must not be empty")
	}
	if strings.ContainsAny(s, "=;") {
		return clerr.New(clerr.InvalidArguments, "property-list token must not contain '=' or ';': "+s)
	}
	return nil
}

func serializePropertyList(values map[string]string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values[k])
		b.WriteByte(';')
	}
	return []byte(b.String())
}

func parsePropertyList(data []byte) (map[string]string, error) {
	out := make(map[string]string)
	s := string(data)
	if s == "" {
		return out, nil
	}
	for _, token := range strings.Split(s, ";") {
		if token == "" {
			continue
		}
		idx := strings.IndexByte(token, '=')
		if idx <= 0 {
			return nil, clerr.New(clerr.InvalidArguments, "malformed property-list token: "+token)
		}
		key := token[:idx]
		value := token[idx+1:]
		out[key] = value
	}
	return out, nil
}

// notifyableLocker adapts a *notifyable.Impl to Locker; a thin named
// type instead of a bare alias so cacheddata's public surface doesn't
// leak the notifyable import to every caller that only uses Locker for
// tests.
type notifyableLocker struct{ n *notifyable.Impl }

func (l notifyableLocker) LockReentryCount(lockName string) int { return l.n.LockReentryCount(lockName) }

// OwnerOf adapts a live notifyable.Impl for use as a CachedKeyValues or
// ShardSet owner.
func OwnerOf(n *notifyable.Impl) Locker { return notifyableLocker{n: n} }
