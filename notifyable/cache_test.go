package notifyable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/event"
	"github.com/evalgo/clusterlib/store"
	"github.com/evalgo/clusterlib/storekey"
)

func newTestCache(t *testing.T) (*Cache, store.Store, *event.Pipeline) {
	t.Helper()
	s := store.New()
	ctx := context.Background()
	for _, ancestor := range ancestorsOf(storekey.RootPath) {
		_, err := s.Create(ctx, ancestor, []byte("{}"), store.FlagPersistent)
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, storekey.RootPath+"/_applications", nil, store.FlagPersistent)
	require.NoError(t, err)

	p := event.New(s, 1)
	t.Cleanup(p.Shutdown)
	c := New(s, p)

	return c, s, p
}

func TestGetRoot_CreatesAncestorsAndIsIdempotent(t *testing.T) {
	s := store.New()
	p := event.New(s, 1)
	t.Cleanup(p.Shutdown)
	c := New(s, p)
	ctx := context.Background()

	root, err := c.GetRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, storekey.RootPath, root.Path())
	assert.Equal(t, KindRoot, root.Kind())

	exists, err := s.Exists(ctx, storekey.RootPath, "")
	require.NoError(t, err)
	assert.True(t, exists)

	again, err := c.GetRoot(ctx)
	require.NoError(t, err)
	assert.Same(t, root, again)
	assert.Equal(t, int32(2), root.refCountValue())
}

func TestGetOrCreate_CreateIfMissing(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	root := newImpl(storekey.RootPath, KindRoot, nil)
	app, err := c.GetOrCreate(ctx, KindApplication, root, "billing", CreateIfMissing)
	require.NoError(t, err)
	assert.Equal(t, storekey.RootPath+"/_applications/billing", app.Path())
	assert.Equal(t, int32(1), app.refCountValue())
}

func TestGetOrCreate_SecondCallReturnsSameCachedInstanceWithBumpedRef(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	root := newImpl(storekey.RootPath, KindRoot, nil)

	first, err := c.GetOrCreate(ctx, KindApplication, root, "billing", CreateIfMissing)
	require.NoError(t, err)

	second, err := c.GetOrCreate(ctx, KindApplication, root, "billing", LoadIfPresent)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(2), first.refCountValue())
}

func TestGetOrCreate_LoadIfPresentFailsWhenAbsent(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	root := newImpl(storekey.RootPath, KindRoot, nil)

	_, err := c.GetOrCreate(ctx, KindApplication, root, "nonexistent", LoadIfPresent)
	assert.Error(t, err)
}

func TestRemove_DeletesFromStoreAndCache(t *testing.T) {
	c, s, _ := newTestCache(t)
	ctx := context.Background()
	root := newImpl(storekey.RootPath, KindRoot, nil)

	app, err := c.GetOrCreate(ctx, KindApplication, root, "billing", CreateIfMissing)
	require.NoError(t, err)

	require.NoError(t, c.Remove(ctx, app, false))

	exists, err := s.Exists(ctx, app.Path(), "")
	require.NoError(t, err)
	assert.False(t, exists)

	c.mu.RLock()
	_, cached := c.objects[app.Path()]
	c.mu.RUnlock()
	assert.False(t, cached)
}

func TestGetOrCreate_IllegalChildKindIsRejected(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	root := newImpl(storekey.RootPath, KindRoot, nil)

	app, err := c.GetOrCreate(ctx, KindApplication, root, "billing", CreateIfMissing)
	require.NoError(t, err)

	_, err = c.GetOrCreate(ctx, KindNode, app, "host-1", CreateIfMissing)
	require.Error(t, err)
	kind, ok := clerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, clerr.InvalidMethod, kind)
}

func TestRemove_NonRecursiveFailsWithChildren(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	root := newImpl(storekey.RootPath, KindRoot, nil)

	app, err := c.GetOrCreate(ctx, KindApplication, root, "billing", CreateIfMissing)
	require.NoError(t, err)
	_, err = c.GetOrCreate(ctx, KindGroup, app, "workers", CreateIfMissing)
	require.NoError(t, err)

	err = c.Remove(ctx, app, false)
	require.Error(t, err)
	kind, ok := clerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, clerr.InvalidArguments, kind)
}

func TestRemove_RecursiveRemovesEveryDescendant(t *testing.T) {
	c, s, _ := newTestCache(t)
	ctx := context.Background()
	root := newImpl(storekey.RootPath, KindRoot, nil)

	app, err := c.GetOrCreate(ctx, KindApplication, root, "billing", CreateIfMissing)
	require.NoError(t, err)
	group, err := c.GetOrCreate(ctx, KindGroup, app, "workers", CreateIfMissing)
	require.NoError(t, err)
	plist, err := c.GetOrCreate(ctx, KindPropertyList, group, "default", CreateIfMissing)
	require.NoError(t, err)

	require.NoError(t, c.Remove(ctx, app, true))
	require.NoError(t, s.Sync(ctx, app.Path()))

	for _, path := range []string{app.Path(), group.Path(), plist.Path()} {
		exists, err := s.Exists(ctx, path, "")
		require.NoError(t, err)
		assert.False(t, exists, "descendant %s should be gone after recursive remove", path)
	}
	assert.Equal(t, StateRemoved, group.State())
}

func TestRemove_RootIsInvalidMethod(t *testing.T) {
	c, _, _ := newTestCache(t)
	root := newImpl(storekey.RootPath, KindRoot, nil)
	err := c.Remove(context.Background(), root, false)
	assert.Error(t, err)
}

func TestReleaseRef_OnlyReclaimsWhenRemovedAndZero(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	root := newImpl(storekey.RootPath, KindRoot, nil)

	app, err := c.GetOrCreate(ctx, KindApplication, root, "billing", CreateIfMissing)
	require.NoError(t, err)
	app.addRef()

	c.ReleaseRef(app)
	c.mu.RLock()
	_, stillCached := c.objects[app.Path()]
	c.mu.RUnlock()
	assert.True(t, stillCached, "should not reclaim while refs remain and not Removed")
}
