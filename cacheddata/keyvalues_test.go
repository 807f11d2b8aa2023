package cacheddata

import (
	"context"
	"testing"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct{ held bool }

func (f fakeLocker) LockReentryCount(lockName string) int {
	if f.held {
		return 1
	}
	return 0
}

func newTestStore(t *testing.T, path string) store.Store {
	t.Helper()
	ctx := context.Background()
	s := store.New()
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			_, _ = s.Create(ctx, path[:i], nil, store.FlagPersistent)
		}
	}
	_, err := s.Create(ctx, path, []byte(""), store.FlagPersistent)
	require.NoError(t, err)
	return s
}

func TestCachedKeyValues_SetGetErase(t *testing.T) {
	kv := NewCachedKeyValues(fakeLocker{held: true}, "/p")
	_, ok := kv.Get("missing")
	assert.False(t, ok)

	require.NoError(t, kv.Set("region", "us-east"))
	v, ok := kv.Get("region")
	require.True(t, ok)
	assert.Equal(t, "us-east", v)

	kv.Erase("region")
	_, ok = kv.Get("region")
	assert.False(t, ok)
}

func TestCachedKeyValues_Set_RejectsDelimiters(t *testing.T) {
	kv := NewCachedKeyValues(fakeLocker{held: true}, "/p")
	assert.Error(t, kv.Set("bad;key", "v"))
	assert.Error(t, kv.Set("k", "bad=value"))
	assert.Error(t, kv.Set("", "v"))
}

func TestCachedKeyValues_Publish_RequiresExclusiveLock(t *testing.T) {
	path := "/_clusterlib/_1.0/_root"
	s := newTestStore(t, path)
	kv := NewCachedKeyValues(fakeLocker{held: false}, path)
	require.NoError(t, kv.Set("k", "v"))

	err := kv.Publish(context.Background(), s)
	require.Error(t, err)
	kind, ok := clerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, clerr.InvalidArguments, kind)
}

func TestCachedKeyValues_PublishAndLoadRoundTrip(t *testing.T) {
	path := "/_clusterlib/_1.0/_root"
	s := newTestStore(t, path)
	kv := NewCachedKeyValues(fakeLocker{held: true}, path)
	require.NoError(t, kv.Set("region", "us-east"))
	require.NoError(t, kv.Set("zone", "a"))

	require.NoError(t, kv.Publish(context.Background(), s))
	assert.Equal(t, int64(1), kv.Version())

	data, version, err := s.GetData(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, "region=us-east;zone=a;", string(data))

	reader := NewCachedKeyValues(fakeLocker{held: true}, path)
	require.NoError(t, reader.Load(data, version))
	v, ok := reader.Get("zone")
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestCachedKeyValues_Publish_VersionConflict(t *testing.T) {
	path := "/_clusterlib/_1.0/_root"
	s := newTestStore(t, path)
	kv := NewCachedKeyValues(fakeLocker{held: true}, path)
	require.NoError(t, kv.Set("k", "v1"))
	require.NoError(t, kv.Publish(context.Background(), s))

	// A concurrent writer bumps the store version out from under kv.
	_, err := s.SetData(context.Background(), path, []byte("k=v2;"), kv.Version())
	require.NoError(t, err)

	require.NoError(t, kv.Set("k", "v3"))
	err = kv.Publish(context.Background(), s)
	require.Error(t, err)
	kind, ok := clerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, clerr.PublishVersion, kind)
}
