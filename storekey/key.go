// Package storekey builds and inspects the canonical path keys used to
// address notifyables, locks, and queues in the store namespace.
package storekey

import (
	"strings"
)

// Separator is the fixed path component separator.
const Separator = "/"

// Reserved container tokens, one per notifyable kind plus the fixed
// root/version prefix and the lock/queue namespaces.
const (
	TokenApplications    = "_applications"
	TokenGroups          = "_groups"
	TokenNodes           = "_nodes"
	TokenProcessSlots    = "_processSlots"
	TokenDistributions   = "_distributions"
	TokenPropertyList    = "_propertyList"
	TokenLocks           = "_locks"
	TokenQueues          = "_queues"
	TokenRoot            = "_root"
	TokenClusterlib      = "_clusterlib"
	TokenVersion         = "_1.0"

	// Reserved leaf tokens under which a Node or ProcessSlot's own
	// cached-data sub-documents live, as direct children of the owning
	// notifyable's own path rather than as separate notifyable kinds.
	TokenCurrentState   = "_currentState"
	TokenDesiredState   = "_desiredState"
	TokenProcessInfo    = "_processInfo"
	TokenClientState    = "_clientState"
	TokenMasterSetState = "_masterSetState"
)

// contentTokens lists the reserved leaf tokens that address a cached-data
// sub-document of its parent notifyable, as opposed to containerTokens'
// kind containers. TrimToNotifyable strips these the same way it strips
// a trailing lock suffix.
var contentTokens = map[string]bool{
	TokenCurrentState:   true,
	TokenDesiredState:   true,
	TokenProcessInfo:    true,
	TokenClientState:    true,
	TokenMasterSetState: true,
}

// containerTokens lists every reserved token recognized as a container
// segment (as opposed to a user-chosen name).
var containerTokens = map[string]bool{
	TokenApplications:  true,
	TokenGroups:        true,
	TokenNodes:         true,
	TokenProcessSlots:  true,
	TokenDistributions: true,
	TokenPropertyList:  true,
	TokenLocks:         true,
	TokenQueues:        true,
	TokenRoot:          true,
	TokenClusterlib:    true,
	TokenVersion:       true,
}

// childContainerTokens lists the container tokens that hold child
// notifyables of another notifyable, as opposed to the root/version
// prefix and the lock/queue-internal namespaces.
var childContainerTokens = map[string]bool{
	TokenApplications:  true,
	TokenGroups:        true,
	TokenNodes:         true,
	TokenProcessSlots:  true,
	TokenDistributions: true,
	TokenPropertyList:  true,
	TokenQueues:        true,
}

// IsChildContainerToken reports whether name is one of the reserved
// tokens holding child notifyables.
func IsChildContainerToken(name string) bool { return childContainerTokens[name] }

// RootPath is the fixed path of the root notifyable.
var RootPath = Join(Separator, TokenClusterlib, TokenVersion, TokenRoot)

// Kind identifies a notifyable kind for key construction and validation.
type Kind string

const (
	KindRoot             Kind = "root"
	KindApplication      Kind = "application"
	KindGroup            Kind = "group"
	KindNode             Kind = "node"
	KindProcessSlot      Kind = "processSlot"
	KindDataDistribution Kind = "dataDistribution"
	KindPropertyList     Kind = "propertyList"
	KindQueue            Kind = "queue"
)

// containerFor maps a kind to the reserved container token holding its
// instances under a parent.
var containerFor = map[Kind]string{
	KindApplication:      TokenApplications,
	KindGroup:            TokenGroups,
	KindNode:             TokenNodes,
	KindProcessSlot:      TokenProcessSlots,
	KindDataDistribution: TokenDistributions,
	KindPropertyList:     TokenPropertyList,
	KindQueue:            TokenQueues,
}

// IsValidName reports whether name is a legal notifyable/lock/queue
// element name: non-empty, free of the separator, and not starting with
// the reserved-token prefix.
func IsValidName(name string) bool {
	if name == "" {
		return false
	}
	if strings.Contains(name, Separator) {
		return false
	}
	if strings.HasPrefix(name, "_") {
		return false
	}
	return true
}

// Join concatenates path segments with Separator, collapsing any
// duplicate separators produced by empty or separator-only segments.
func Join(segments ...string) string {
	joined := strings.Join(segments, Separator)
	for strings.Contains(joined, Separator+Separator) {
		joined = strings.ReplaceAll(joined, Separator+Separator, Separator)
	}
	return joined
}

// Split breaks key into its non-empty path components.
func Split(key string) []string {
	parts := strings.Split(key, Separator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Parent returns the key one level up from key, or "" if key is the
// root or has no parent.
func Parent(key string) string {
	parts := Split(key)
	if len(parts) <= 1 {
		return ""
	}
	return Join(Separator, strings.Join(parts[:len(parts)-1], Separator))
}

// ChildKey builds the key for a kind instance named name under parent.
func ChildKey(parent string, kind Kind, name string) string {
	container, ok := containerFor[kind]
	if !ok {
		return Join(parent, name)
	}
	return Join(parent, container, name)
}

// LockKey builds the ephemeral-sequential lock directory key for lock
// lockName on notifyable path.
func LockKey(notifyablePath, lockName string) string {
	return Join(notifyablePath, TokenLocks, lockName)
}

// QueueKey builds the key for a queue named name under parent.
func QueueKey(parent, name string) string {
	return ChildKey(parent, KindQueue, name)
}

// IsLegalKey reports whether key is a structurally legal key for kind:
// it must live under the matching container token, and its final
// element must be a valid name.
func IsLegalKey(kind Kind, key string) bool {
	parts := Split(key)
	if len(parts) < 2 {
		return kind == KindRoot && key == RootPath
	}
	name := parts[len(parts)-1]
	container := parts[len(parts)-2]
	wantContainer, ok := containerFor[kind]
	if !ok {
		return false
	}
	return container == wantContainer && IsValidName(name)
}

// TrimToNotifyable strips a trailing lock-bid suffix (`_locks/<lockName>`
// or `_locks/<lockName>/<bidName>`) or a trailing cached-data content
// token (`_currentState`, `_desiredState`, `_processInfo`,
// `_clientState`, `_masterSetState`) from key, returning the key of the
// notifyable that owns it. Used to map a PREC_LOCK_NODE_EXISTS watch or
// a ProcessSlot/Node sub-document watch path back to the notifyable it
// belongs to.
func TrimToNotifyable(key string) string {
	parts := Split(key)
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] == TokenLocks || contentTokens[parts[i]] {
			parts = parts[:i]
			break
		}
	}
	return Join(Separator, strings.Join(parts, Separator))
}

// CurrentStateKey builds the sub-path holding a Node or ProcessSlot's
// current-state record.
func CurrentStateKey(notifyablePath string) string {
	return Join(notifyablePath, TokenCurrentState)
}

// DesiredStateKey builds the sub-path holding a Node or ProcessSlot's
// desired-state record.
func DesiredStateKey(notifyablePath string) string {
	return Join(notifyablePath, TokenDesiredState)
}

// ProcessInfoKey builds the sub-path holding a ProcessSlot's process
// launch descriptor (exec args, running exec args, port vector).
func ProcessInfoKey(processSlotPath string) string {
	return Join(processSlotPath, TokenProcessInfo)
}

// ClientStateKey builds the sub-path holding a Node's client-state
// key/value flags.
func ClientStateKey(nodePath string) string {
	return Join(nodePath, TokenClientState)
}

// MasterSetStateKey builds the sub-path holding a Node's master-set-state
// key/value flags.
func MasterSetStateKey(nodePath string) string {
	return Join(nodePath, TokenMasterSetState)
}
