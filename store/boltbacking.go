package store

import (
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// nodesBucket is the single top-level bucket durable nodes live in;
// node paths (already separator-delimited) are used as keys directly
// rather than nesting one bbolt bucket per path segment, since bbolt
// buckets are more expensive to open per write than a flat keyspace
// and path keys sort lexically in the same order namespace traversal
// needs.
var nodesBucket = []byte("nodes")

// BoltBacking is the durable mirror for persistent store nodes: one
// bucket holds the entire path-addressed namespace, since a flat
// keyspace sorts and scans by prefix the same way nested buckets
// would without the per-write bucket-open overhead.
type BoltBacking struct {
	db *bolt.DB
}

// OpenBoltBacking opens (creating if absent) a bbolt database at path
// and ensures the nodes bucket exists.
func OpenBoltBacking(path string) (*BoltBacking, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open durable backing: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(nodesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create nodes bucket: %w", err)
	}
	return &BoltBacking{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (b *BoltBacking) Close() error { return b.db.Close() }

// Put writes the raw bytes for a persistent node's path.
func (b *BoltBacking) Put(path string, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(nodesBucket).Put([]byte(path), data)
	})
}

// Get reads the raw bytes stored for path, returning ok=false if
// absent.
func (b *BoltBacking) Get(path string) (data []byte, ok bool, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(nodesBucket).Get([]byte(path))
		if v == nil {
			return nil
		}
		ok = true
		data = append([]byte(nil), v...)
		return nil
	})
	return data, ok, err
}

// Delete removes the durable record for path.
func (b *BoltBacking) Delete(path string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(nodesBucket).Delete([]byte(path))
	})
}

// Children returns the direct children of path known to the durable
// backing, by scanning keys with the path prefix.
func (b *BoltBacking) Children(path string) ([]string, error) {
	prefix := path
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var out []string
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(nodesBucket).Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			rest := strings.TrimPrefix(string(k), prefix)
			if rest != "" && !strings.Contains(rest, "/") {
				out = append(out, rest)
			}
		}
		return nil
	})
	return out, err
}

// LoadAll replays every durable node into fn, used to repopulate a
// memStore on process restart.
func (b *BoltBacking) LoadAll(fn func(path string, data []byte)) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(nodesBucket).ForEach(func(k, v []byte) error {
			fn(string(k), append([]byte(nil), v...))
			return nil
		})
	})
}
