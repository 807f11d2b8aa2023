package cacheddata

import (
	"context"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/intervaltree"
	"github.com/evalgo/clusterlib/store"
)

// MaxHash is the inclusive upper bound of the hash range, matching the
// original's `numeric_limits<HashRange>::max()` for a 64-bit hash.
const MaxHash uint64 = ^uint64(0)

// Shard is one entry in a ShardSet: a closed hash range routed to
// TargetKey, with Priority breaking ties among overlapping shards
// (lower Priority sorts first).
type Shard struct {
	Start, End uint64
	TargetKey  string
	Priority   int
}

// ShardSet is a DataDistribution's shard assignment: an interval tree
// over shards with a locally observed version, supporting insert/
// remove/clear/getAll/getNotifyables/isCovered/publish.
type ShardSet struct {
	owner Locker
	path  string

	tree    *intervaltree.Tree[uint64, Shard]
	version int64
}

// NewShardSet wraps path (owned by owner) with an empty shard tree and
// version 0, matching a freshly created store node's initial version.
func NewShardSet(owner Locker, path string) *ShardSet {
	return &ShardSet{owner: owner, path: path, tree: intervaltree.New[uint64, Shard]()}
}

// Insert adds a shard covering the closed range [start, end] routed to
// targetKey with the given priority. Overlapping shards are permitted.
func (s *ShardSet) Insert(start, end uint64, targetKey string, priority int) error {
	if start > end {
		return clerr.New(clerr.InvalidArguments, "shard start must not exceed end")
	}
	shard := Shard{Start: start, End: end, TargetKey: targetKey, Priority: priority}
	s.tree.InsertNode(start, end, shard)
	return nil
}

// Remove deletes the exact shard [start,end]->targetKey,priority if
// present, reporting whether anything was removed.
func (s *ShardSet) Remove(start, end uint64, targetKey string, priority int) bool {
	shard := Shard{Start: start, End: end, TargetKey: targetKey, Priority: priority}
	n := s.tree.NodeSearch(start, end, shard)
	if n == nil {
		return false
	}
	s.tree.DeleteNode(n)
	return true
}

// Clear removes every shard.
func (s *ShardSet) Clear() {
	s.tree = intervaltree.New[uint64, Shard]()
}

// GetAll returns every shard in ascending Start order.
func (s *ShardSet) GetAll() []Shard {
	nodes := s.tree.InOrder()
	out := make([]Shard, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Data)
	}
	return out
}

// GetNotifyables returns every shard whose closed range covers hash,
// sorted by ascending priority. Overlapping same-priority shards keep
// their ascending-Start order: the tree's in-order traversal already
// yields ascending Start, so a stable sort by priority alone preserves
// that tie order.
func (s *ShardSet) GetNotifyables(hash uint64) []Shard {
	nodes := s.tree.InOrder()
	var matches []Shard
	for _, n := range nodes {
		if hash >= n.Start && hash <= n.End {
			matches = append(matches, n.Data)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Priority < matches[j].Priority })
	return matches
}

// HashKey hashes an arbitrary string key into the same 64-bit hash
// space shards are indexed over, so callers may route by key instead
// of a precomputed hash.
func HashKey(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

// GetNotifyablesForKey hashes key and returns GetNotifyables(HashKey(key)).
func (s *ShardSet) GetNotifyablesForKey(key string) []Shard {
	return s.GetNotifyables(HashKey(key))
}

// IsCovered walks the tree in ascending order and reports whether the
// shards together cover [0, MaxHash] with no gaps. Overlaps are fine;
// only gaps fail the check.
func (s *ShardSet) IsCovered() bool {
	nodes := s.tree.InOrder()
	if len(nodes) == 0 {
		return false
	}
	if nodes[0].Start > 0 {
		return false
	}
	covered := nodes[0].End
	for _, n := range nodes[1:] {
		if n.Start > covered+1 && covered != MaxHash {
			return false
		}
		if n.End > covered {
			covered = n.End
		}
	}
	return covered == MaxHash
}

// Version returns the largest version ever observed locally.
func (s *ShardSet) Version() int64 { return s.version }

// Load replaces the shard set from a freshly read shard blob and
// advances the local version, used by the watch-driven cache mutator.
func (s *ShardSet) Load(data []byte, version int64) error {
	shards, err := parseShards(data)
	if err != nil {
		return err
	}
	tree := intervaltree.New[uint64, Shard]()
	for _, sh := range shards {
		tree.InsertNode(sh.Start, sh.End, sh)
	}
	s.tree = tree
	if version > s.version {
		s.version = version
	}
	return nil
}

// Publish serializes the shard set as "start,end,targetKey,priority;…"
// and writes it with optimistic concurrency. The caller
// must already hold the owning notifyable's exclusive lock.
func (s *ShardSet) Publish(ctx context.Context, st store.Store) error {
	if err := requireExclusive(s.owner, ExclusiveLockName); err != nil {
		return err
	}
	blob := serializeShards(s.GetAll())
	newVersion, err := st.SetData(ctx, s.path, blob, s.version)
	if err != nil {
		return err
	}
	if newVersion > s.version {
		s.version = newVersion
	}
	return nil
}

func serializeShards(shards []Shard) []byte {
	var b strings.Builder
	for _, sh := range shards {
		b.WriteString(strconv.FormatUint(sh.Start, 10))
		b.WriteByte(',')
		b.WriteString(strconv.FormatUint(sh.End, 10))
		b.WriteByte(',')
		b.WriteString(sh.TargetKey)
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(sh.Priority))
		b.WriteByte(';')
	}
	return []byte(b.String())
}

func parseShards(data []byte) ([]Shard, error) {
	s := string(data)
	if s == "" {
		return nil, nil
	}
	var out []Shard
	for _, token := range strings.Split(s, ";") {
		if token == "" {
			continue
		}
		fields := strings.Split(token, ",")
		if len(fields) != 4 {
			return nil, clerr.New(clerr.InvalidArguments, "malformed shard token: "+token)
		}
		start, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, clerr.Wrap(clerr.InvalidArguments, "malformed shard start: "+token, err)
		}
		end, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, clerr.Wrap(clerr.InvalidArguments, "malformed shard end: "+token, err)
		}
		priority, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, clerr.Wrap(clerr.InvalidArguments, "malformed shard priority: "+token, err)
		}
		out = append(out, Shard{Start: start, End: end, TargetKey: fields[2], Priority: priority})
	}
	return out, nil
}
