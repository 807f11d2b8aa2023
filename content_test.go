package clusterlib

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/clusterlib/cacheddata"
	"github.com/evalgo/clusterlib/lock"
	"github.com/evalgo/clusterlib/notifyable"
)

// TestClient_PropertyListValues_TwoClientsConverge: one Client
// publishes a property-list change and a second
// Client, over the same Factory's shared store, observes the new value
// once its own watch fires, without either Client ever touching the
// store adapter directly.
func TestClient_PropertyListValues_TwoClientsConverge(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()

	writer := f.Client()
	reader := f.Client()

	app, err := writer.GetApplication(ctx, nil, "billing", notifyable.CreateIfMissing)
	require.NoError(t, err)
	writerList, err := writer.GetPropertyList(ctx, app, "config", notifyable.CreateIfMissing)
	require.NoError(t, err)

	readerApp, err := reader.GetApplication(ctx, nil, "billing", notifyable.LoadIfPresent)
	require.NoError(t, err)
	readerList, err := reader.GetPropertyList(ctx, readerApp, "config", notifyable.LoadIfPresent)
	require.NoError(t, err)

	readerValues, err := reader.PropertyListValues(ctx, readerList)
	require.NoError(t, err)
	_, ok := readerValues.Get("region")
	assert.False(t, ok)

	require.NoError(t, writer.AcquireLock(ctx, writerList, cacheddata.ExclusiveLockName, lock.Exclusive))
	writerValues, err := writer.PropertyListValues(ctx, writerList)
	require.NoError(t, err)
	require.NoError(t, writerValues.Set("region", "us-east"))
	require.NoError(t, writerValues.Publish(ctx, f.Store()))

	require.Eventually(t, func() bool {
		v, ok := readerValues.Get("region")
		return ok && v == "us-east"
	}, time.Second, 5*time.Millisecond, "reader's CachedKeyValues should converge after the writer's publish")
}

func TestClient_Shards_RoundTripsThroughStore(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()
	c := f.Client()

	app, err := c.GetApplication(ctx, nil, "routing", notifyable.CreateIfMissing)
	require.NoError(t, err)
	dist, err := c.GetDataDistribution(ctx, app, "primary", notifyable.CreateIfMissing)
	require.NoError(t, err)

	shards, err := c.Shards(ctx, dist)
	require.NoError(t, err)

	require.NoError(t, c.AcquireLock(ctx, dist, cacheddata.ExclusiveLockName, lock.Exclusive))
	require.NoError(t, shards.Insert(0, cacheddata.MaxHash/2, "node-a", 0))
	require.NoError(t, shards.Publish(ctx, f.Store()))

	again, err := c.Shards(ctx, dist)
	require.NoError(t, err)
	assert.Same(t, shards, again, "a second Shards call on the same notifyable must return the attached instance")
}

func TestClient_Shards_RejectsNonDataDistributionKind(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()
	c := f.Client()

	app, err := c.GetApplication(ctx, nil, "routing", notifyable.CreateIfMissing)
	require.NoError(t, err)

	_, err = c.Shards(ctx, app)
	assert.Error(t, err)
}

func TestClient_CurrentStateAndProcessInfo_ProcessSlot(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()
	c := f.Client()

	app, err := c.GetApplication(ctx, nil, "workers", notifyable.CreateIfMissing)
	require.NoError(t, err)
	group, err := c.GetGroup(ctx, app, "pool", notifyable.CreateIfMissing)
	require.NoError(t, err)
	node, err := c.GetNode(ctx, group, "host-1", notifyable.CreateIfMissing)
	require.NoError(t, err)
	slot, err := c.GetProcessSlot(ctx, node, "slot-0", notifyable.CreateIfMissing)
	require.NoError(t, err)

	require.NoError(t, c.AcquireLock(ctx, slot, cacheddata.ExclusiveLockName, lock.Exclusive))

	current, err := c.CurrentState(ctx, slot)
	require.NoError(t, err)
	current.Append(time.Now(), map[string]interface{}{"pid": float64(4242)})
	require.NoError(t, current.Publish(ctx, f.Store()))
	latest, ok := current.Latest()
	require.True(t, ok)
	assert.Equal(t, float64(4242), latest.KeyValues["pid"])

	desired, err := c.DesiredState(ctx, slot)
	require.NoError(t, err)
	desired.Append(time.Now(), map[string]interface{}{"targetCount": float64(3)})
	require.NoError(t, desired.Publish(ctx, f.Store()))

	info, err := c.ProcessInfo(ctx, slot)
	require.NoError(t, err)
	info.Set(cacheddata.ProcessInfo{ExecArgs: []string{"/bin/worker"}, PortVec: []int{9000}})
	require.NoError(t, info.Publish(ctx, f.Store()))
	assert.Equal(t, []string{"/bin/worker"}, info.Get().ExecArgs)
}

func TestClient_NodeClientAndMasterSetState(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()
	c := f.Client()

	app, err := c.GetApplication(ctx, nil, "workers", notifyable.CreateIfMissing)
	require.NoError(t, err)
	group, err := c.GetGroup(ctx, app, "pool", notifyable.CreateIfMissing)
	require.NoError(t, err)
	node, err := c.GetNode(ctx, group, "host-2", notifyable.CreateIfMissing)
	require.NoError(t, err)

	require.NoError(t, c.AcquireLock(ctx, node, cacheddata.ExclusiveLockName, lock.Exclusive))

	clientState, err := c.NodeClientState(ctx, node)
	require.NoError(t, err)
	require.NoError(t, clientState.Set("connected", "true"))
	require.NoError(t, clientState.Publish(ctx, f.Store()))

	masterState, err := c.NodeMasterSetState(ctx, node)
	require.NoError(t, err)
	require.NoError(t, masterState.Set("leader", "host-2"))
	require.NoError(t, masterState.Publish(ctx, f.Store()))

	v, ok := clientState.Get("connected")
	require.True(t, ok)
	assert.Equal(t, "true", v)
}
