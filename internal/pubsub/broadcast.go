// Package pubsub implements the publish/subscribe interest-management
// engine of spec.md §4.3: per-attribute and per-interaction-class
// publication/subscription tracking, the Broadcast/Send/None propagation
// decision, and cumulative (inheritance-aware) subscription propagation
// down an object-class tree.
//
// Grounded on original_source/src/OpenRTI/ServerObjectModel.h's
// BroadcastConnectHandleSet and PublishSubscribe<H> templates.
package pubsub

import "github.com/openrti-go/rticore/internal/handle"

// Propagation describes what a publish/subscribe state change requires
// the caller to tell other connects at this server node.
type Propagation int

const (
	// PropagateNone means nothing changed; don't send any notification.
	PropagateNone Propagation = iota
	// PropagateBroadcast means tell every other connect but the one that
	// caused the change.
	PropagateBroadcast
	// PropagateSend means tell only the connect named by Target: on insert
	// the previous sole holder, which does not yet know a second one
	// joined; on erase the one holder that remains.
	PropagateSend
)

// Decision is the (what, who) pair BroadcastConnectHandleSet.insert/erase
// return.
type Decision struct {
	Type   Propagation
	Target handle.Connect
}

// BroadcastConnectHandleSet tracks which connects hold some boolean
// interest (publishing, or subscribing) and computes, on each
// insert/erase, the minimal notification the caller must send: a single
// connect needs no loopback notice (it already knows), the first or last
// holder is a visible change to everyone else, and the 1→2 transition
// notifies only the connect that was until now the sole exclusive holder.
type BroadcastConnectHandleSet struct {
	connects map[handle.Connect]struct{}
}

// NewBroadcastConnectHandleSet returns an empty set.
func NewBroadcastConnectHandleSet() *BroadcastConnectHandleSet {
	return &BroadcastConnectHandleSet{connects: map[handle.Connect]struct{}{}}
}

// Insert marks connectHandle as holding the interest.
func (s *BroadcastConnectHandleSet) Insert(connectHandle handle.Connect) Decision {
	initialSize := len(s.connects)
	var previousExclusive handle.Connect = handle.InvalidConnect
	if initialSize == 1 {
		for c := range s.connects {
			previousExclusive = c
		}
	}

	if _, already := s.connects[connectHandle]; already {
		return Decision{Type: PropagateNone}
	}
	s.connects[connectHandle] = struct{}{}

	switch initialSize {
	case 0:
		return Decision{Type: PropagateBroadcast}
	case 1:
		return Decision{Type: PropagateSend, Target: previousExclusive}
	default:
		return Decision{Type: PropagateNone}
	}
}

// Erase unmarks connectHandle.
func (s *BroadcastConnectHandleSet) Erase(connectHandle handle.Connect) Decision {
	if _, ok := s.connects[connectHandle]; !ok {
		return Decision{Type: PropagateNone}
	}
	delete(s.connects, connectHandle)

	switch len(s.connects) {
	case 0:
		return Decision{Type: PropagateBroadcast}
	case 1:
		var remaining handle.Connect
		for c := range s.connects {
			remaining = c
		}
		return Decision{Type: PropagateSend, Target: remaining}
	default:
		return Decision{Type: PropagateNone}
	}
}

// Empty reports whether no connect holds the interest.
func (s *BroadcastConnectHandleSet) Empty() bool { return len(s.connects) == 0 }

// Contains reports whether connectHandle holds the interest.
func (s *BroadcastConnectHandleSet) Contains(connectHandle handle.Connect) bool {
	_, ok := s.connects[connectHandle]
	return ok
}

// ContainsMoreThan reports whether some connect other than connectHandle
// holds the interest.
func (s *BroadcastConnectHandleSet) ContainsMoreThan(connectHandle handle.Connect) bool {
	switch len(s.connects) {
	case 0:
		return false
	case 1:
		_, has := s.connects[connectHandle]
		return !has
	default:
		return true
	}
}

// Set returns the current member connects.
func (s *BroadcastConnectHandleSet) Set() map[handle.Connect]struct{} {
	return s.connects
}

// RemoveConnect drops connectHandle unconditionally, used when a connect
// is torn down; it never triggers a propagation decision since the
// connect itself is gone and cannot be notified.
func (s *BroadcastConnectHandleSet) RemoveConnect(connectHandle handle.Connect) {
	delete(s.connects, connectHandle)
}
