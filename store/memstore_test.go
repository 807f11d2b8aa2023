package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetData(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Create(ctx, "/_clusterlib", nil, FlagPersistent)
	require.NoError(t, err)
	_, err = s.Create(ctx, "/_clusterlib/_1.0", nil, FlagPersistent)
	require.NoError(t, err)
	_, err = s.Create(ctx, "/_clusterlib/_1.0/_root", []byte("root"), FlagPersistent)
	require.NoError(t, err)
	_, err = s.Create(ctx, "/_clusterlib/_1.0/_root/_applications", nil, FlagPersistent)
	require.NoError(t, err)

	_, err = s.Create(ctx, "/_clusterlib/_1.0/_root/_applications/billing", []byte(`{}`), FlagPersistent)
	require.NoError(t, err)

	data, version, err := s.GetData(ctx, "/_clusterlib/_1.0/_root/_applications/billing", "")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
	assert.Equal(t, int64(0), version)
}

func TestCreate_NoParentFails(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Create(ctx, "/no/such/parent/child", nil, FlagPersistent)
	assert.Error(t, err)
}

func TestSetData_VersionMismatch(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Create(ctx, "/_clusterlib", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root/_propertyList", nil, FlagPersistent)
	path, _ := s.Create(ctx, "/_clusterlib/_1.0/_root/_propertyList/cfg", []byte("v0"), FlagPersistent)

	_, err := s.SetData(ctx, path, []byte("v1"), 5)
	assert.Error(t, err)

	newVersion, err := s.SetData(ctx, path, []byte("v1"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), newVersion)
}

func TestSequentialCreate_NamesAreUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Create(ctx, "/_clusterlib", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root/_locks", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root/_locks/deploy", nil, FlagPersistent)

	n1, err := s.Create(ctx, "/_clusterlib/_1.0/_root/_locks/deploy/host1:1-0", nil, FlagEphemeral|FlagSequential)
	require.NoError(t, err)
	n2, err := s.Create(ctx, "/_clusterlib/_1.0/_root/_locks/deploy/host1:1-0", nil, FlagEphemeral|FlagSequential)
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2)
}

func TestDelete_RemovesNode(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Create(ctx, "/_clusterlib", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root/_groups", nil, FlagPersistent)
	path, _ := s.Create(ctx, "/_clusterlib/_1.0/_root/_groups/web", nil, FlagPersistent)

	require.NoError(t, s.Delete(ctx, path, 0))

	exists, err := s.Exists(ctx, path, "")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExpireSession_RemovesOnlyEphemeralNodes(t *testing.T) {
	ctx := context.Background()
	s := New().(*memStore)
	_, _ = s.Create(ctx, "/_clusterlib", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root/_groups", nil, FlagPersistent)
	persistent, _ := s.Create(ctx, "/_clusterlib/_1.0/_root/_groups/web", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root/_locks", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root/_locks/deploy", nil, FlagPersistent)
	ephemeral, err := s.Create(ctx, "/_clusterlib/_1.0/_root/_locks/deploy/bid", nil, FlagEphemeral|FlagSequential)
	require.NoError(t, err)

	s.ExpireSession()

	_, ok := s.nodes[ephemeral]
	assert.False(t, ok)
	_, ok = s.nodes[persistent]
	assert.True(t, ok)
}

func TestGetChildren(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Create(ctx, "/_clusterlib", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root/_applications", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root/_applications/billing", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root/_applications/payments", nil, FlagPersistent)

	children, err := s.GetChildren(ctx, "/_clusterlib/_1.0/_root/_applications", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"billing", "payments"}, children)
}

func TestSetData_EmitsTheArmedKindNotAlwaysPropertyListValues(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Create(ctx, "/_clusterlib", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root/_distributions", nil, FlagPersistent)
	path, _ := s.Create(ctx, "/_clusterlib/_1.0/_root/_distributions/shards", nil, FlagPersistent)

	_, _, err := s.GetData(ctx, path, ChangeShards)
	require.NoError(t, err)

	_, err = s.SetData(ctx, path, []byte("v1"), 0)
	require.NoError(t, err)

	ev := <-s.Events()
	assert.Equal(t, ChangeShards, ev.Kind)
	assert.Equal(t, path, ev.Path)
}

func TestSetData_EmitsNothingWhenNothingArmed(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Create(ctx, "/_clusterlib", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root/_propertyList", nil, FlagPersistent)
	path, _ := s.Create(ctx, "/_clusterlib/_1.0/_root/_propertyList/cfg", []byte("v0"), FlagPersistent)

	_, err := s.SetData(ctx, path, []byte("v1"), 0)
	require.NoError(t, err)

	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %v for a write nobody is watching", ev)
	default:
	}
}

func TestExpireSession_DeliversSessionLostEvent(t *testing.T) {
	ctx := context.Background()
	s := New().(*memStore)
	_, _ = s.Create(ctx, "/_clusterlib", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0", nil, FlagPersistent)
	_, _ = s.Create(ctx, "/_clusterlib/_1.0/_root", nil, FlagPersistent)

	s.ExpireSession()

	ev := <-s.Events()
	assert.Equal(t, StateSessionLost, ev.State)
}

func TestShutdown_DeliversEndEvent(t *testing.T) {
	s := New()
	s.Shutdown()
	ev, ok := <-s.Events()
	require.True(t, ok)
	assert.Equal(t, EndEvent.Kind, ev.Kind)
}
