package clusterlib

import "github.com/evalgo/clusterlib/store"

// EventMask is the bitmask handler registration filters on. Each bit
// names a store.ChangeKind group a
// handler cares about; a handler registered with several bits set is
// subscribed once per underlying ChangeKind and sees any of them.
type EventMask uint32

const (
	EventNotifyableState EventMask = 1 << iota
	EventPropertyListValues
	EventShards
	EventNodeClientState
	EventNodeMasterSetState
	EventNodeConnection
	EventSynchronize
	EventQueueElements
)

// EventAll matches every change kind a Client can subscribe to.
const EventAll = EventNotifyableState | EventPropertyListValues | EventShards |
	EventNodeClientState | EventNodeMasterSetState | EventNodeConnection |
	EventSynchronize | EventQueueElements

// maskToChangeKinds expands the set bits of m into the store.ChangeKind
// values a Client subscribes the event pipeline to.
func maskToChangeKinds(m EventMask) []store.ChangeKind {
	var out []store.ChangeKind
	add := func(bit EventMask, kind store.ChangeKind) {
		if m&bit != 0 {
			out = append(out, kind)
		}
	}
	add(EventNotifyableState, store.ChangeNotifyableState)
	add(EventPropertyListValues, store.ChangePropertyListValues)
	add(EventShards, store.ChangeShards)
	add(EventNodeClientState, store.ChangeNodeClientState)
	add(EventNodeMasterSetState, store.ChangeNodeMasterSetState)
	add(EventNodeConnection, store.ChangeNodeConnection)
	add(EventSynchronize, store.ChangeSynchronize)
	add(EventQueueElements, store.ChangeQueueElements)
	return out
}

// Has reports whether m includes every bit set in other.
func (m EventMask) Has(other EventMask) bool {
	return m&other == other
}
