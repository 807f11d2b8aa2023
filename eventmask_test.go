package clusterlib

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evalgo/clusterlib/store"
)

func TestMaskToChangeKinds_OnlySetBitsExpand(t *testing.T) {
	kinds := maskToChangeKinds(EventShards | EventNodeConnection)
	assert.ElementsMatch(t, []store.ChangeKind{store.ChangeShards, store.ChangeNodeConnection}, kinds)
}

func TestMaskToChangeKinds_EmptyMaskExpandsToNothing(t *testing.T) {
	assert.Empty(t, maskToChangeKinds(0))
}

func TestEventMask_Has(t *testing.T) {
	m := EventShards | EventNodeConnection
	assert.True(t, m.Has(EventShards))
	assert.False(t, m.Has(EventPropertyListValues))
	assert.True(t, m.Has(EventShards|EventNodeConnection))
}

func TestEventAll_CoversEveryDefinedBit(t *testing.T) {
	kinds := maskToChangeKinds(EventAll)
	assert.Len(t, kinds, 8)
}
