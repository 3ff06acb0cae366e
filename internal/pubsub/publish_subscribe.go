package pubsub

import "github.com/openrti-go/rticore/internal/handle"

// PublicationType mirrors spec.md §3's publication states.
type PublicationType int

const (
	Unpublished PublicationType = iota
	Published
)

// SubscriptionType mirrors spec.md §3's subscription states. Active vs.
// passive distinguishes a subscriber that wants reflections pushed to it
// now from one only recorded for future routing; this module treats both
// uniformly for propagation decisions but keeps them in separate sets so
// GetSubscriptionType can report the stronger of the two.
type SubscriptionType int

const (
	Unsubscribed SubscriptionType = iota
	SubscribedPassive
	SubscribedActive
)

// PublishSubscribe tracks publication and subscription interest in one
// attribute or interaction class across every connect at a server node,
// plus the cumulative (inheritance-aware) set of connects that end up
// receiving updates once subscriptions on ancestor classes are taken into
// account (spec.md §4.3).
type PublishSubscribe struct {
	publishedConnects       *BroadcastConnectHandleSet
	subscribedConnects      *BroadcastConnectHandleSet
	activeSubscribedConnects *BroadcastConnectHandleSet

	// CumulativeSubscribedConnects is the set of connects that receive
	// updates for this attribute/interaction once subscriptions to base
	// classes are folded in. It only ever grows for attribute handle 0
	// (privilege-to-delete) by invariant (spec.md §4.3, §8).
	CumulativeSubscribedConnects map[handle.Connect]struct{}
}

// NewPublishSubscribe returns empty publish/subscribe tracking state.
func NewPublishSubscribe() *PublishSubscribe {
	return &PublishSubscribe{
		publishedConnects:            NewBroadcastConnectHandleSet(),
		subscribedConnects:           NewBroadcastConnectHandleSet(),
		activeSubscribedConnects:     NewBroadcastConnectHandleSet(),
		CumulativeSubscribedConnects: map[handle.Connect]struct{}{},
	}
}

// Clone deep-copies the tracking state, for callers that need
// candidate-then-commit semantics for FOM updates touching pub/sub.
func (ps *PublishSubscribe) Clone() *PublishSubscribe {
	n := NewPublishSubscribe()
	for c := range ps.publishedConnects.connects {
		n.publishedConnects.connects[c] = struct{}{}
	}
	for c := range ps.subscribedConnects.connects {
		n.subscribedConnects.connects[c] = struct{}{}
	}
	for c := range ps.activeSubscribedConnects.connects {
		n.activeSubscribedConnects.connects[c] = struct{}{}
	}
	for c := range ps.CumulativeSubscribedConnects {
		n.CumulativeSubscribedConnects[c] = struct{}{}
	}
	return n
}

// SetPublicationType changes connectHandle's publication state and
// reports how the change must be propagated to other connects.
func (ps *PublishSubscribe) SetPublicationType(connectHandle handle.Connect, pt PublicationType) Decision {
	if pt == Published {
		return ps.publishedConnects.Insert(connectHandle)
	}
	return ps.publishedConnects.Erase(connectHandle)
}

// GetPublicationType reports connectHandle's publication state.
func (ps *PublishSubscribe) GetPublicationType(connectHandle handle.Connect) PublicationType {
	if ps.publishedConnects.Contains(connectHandle) {
		return Published
	}
	return Unpublished
}

// GetAnyPublicationType reports whether any connect publishes at all.
func (ps *PublishSubscribe) GetAnyPublicationType() PublicationType {
	if ps.publishedConnects.Empty() {
		return Unpublished
	}
	return Published
}

// GetPublicationTypeToConnect reports the publication state of every
// connect except connectHandle.
func (ps *PublishSubscribe) GetPublicationTypeToConnect(connectHandle handle.Connect) PublicationType {
	if ps.publishedConnects.ContainsMoreThan(connectHandle) {
		return Published
	}
	return Unpublished
}

// PublishingConnects returns every connect currently publishing.
func (ps *PublishSubscribe) PublishingConnects() map[handle.Connect]struct{} {
	return ps.publishedConnects.Set()
}

// SetSubscriptionType changes connectHandle's subscription state. The
// propagation decision comes from the subscribed set, which holds passive
// and active subscribers alike, so both kinds propagate the same way (the
// recorded decision in DESIGN.md, after OpenRTI's "FIXME currently only
// passive subscriptions are propagated" note); an active subscription is
// additionally recorded in the active set.
func (ps *PublishSubscribe) SetSubscriptionType(connectHandle handle.Connect, st SubscriptionType) Decision {
	if st == SubscribedActive {
		ps.activeSubscribedConnects.Insert(connectHandle)
	} else {
		ps.activeSubscribedConnects.RemoveConnect(connectHandle)
	}
	if st != Unsubscribed {
		return ps.subscribedConnects.Insert(connectHandle)
	}
	return ps.subscribedConnects.Erase(connectHandle)
}

// GetSubscriptionType reports the strongest subscription state of any
// connect.
func (ps *PublishSubscribe) GetSubscriptionType() SubscriptionType {
	if !ps.activeSubscribedConnects.Empty() {
		return SubscribedActive
	}
	if !ps.subscribedConnects.Empty() {
		return SubscribedPassive
	}
	return Unsubscribed
}

// GetSubscriptionTypeOf reports connectHandle's own subscription state.
func (ps *PublishSubscribe) GetSubscriptionTypeOf(connectHandle handle.Connect) SubscriptionType {
	if ps.activeSubscribedConnects.Contains(connectHandle) {
		return SubscribedActive
	}
	if ps.subscribedConnects.Contains(connectHandle) {
		return SubscribedPassive
	}
	return Unsubscribed
}

// GetSubscriptionTypeToConnect reports the subscription state of every
// connect except connectHandle, used to decide what a newly-joined
// connect must still be told.
func (ps *PublishSubscribe) GetSubscriptionTypeToConnect(connectHandle handle.Connect) SubscriptionType {
	if ps.activeSubscribedConnects.ContainsMoreThan(connectHandle) {
		return SubscribedActive
	}
	if ps.subscribedConnects.ContainsMoreThan(connectHandle) {
		return SubscribedPassive
	}
	return Unsubscribed
}

// SubscribedConnects returns every subscribed connect, passive or active.
func (ps *PublishSubscribe) SubscribedConnects() map[handle.Connect]struct{} {
	return ps.subscribedConnects.Set()
}

// RemoveConnect drops a torn-down connect from every tracked set: the
// published, subscribed and active sets and the cumulative set. It clears
// whatever publication or subscription state connectHandle still holds and
// computes no propagation decision.
func (ps *PublishSubscribe) RemoveConnect(connectHandle handle.Connect) {
	ps.subscribedConnects.RemoveConnect(connectHandle)
	ps.publishedConnects.RemoveConnect(connectHandle)
	ps.activeSubscribedConnects.RemoveConnect(connectHandle)
	delete(ps.CumulativeSubscribedConnects, connectHandle)
}

// UpdateCumulativeSubscribedConnectHandleSet folds connectHandle's direct
// subscription state into the cumulative set used for routing. It reports
// whether the cumulative set actually changed, which callers use to decide
// whether to recurse into child classes.
func (ps *PublishSubscribe) UpdateCumulativeSubscribedConnectHandleSet(connectHandle handle.Connect, subscribe bool) bool {
	if subscribe {
		if _, already := ps.CumulativeSubscribedConnects[connectHandle]; already {
			return false
		}
		ps.CumulativeSubscribedConnects[connectHandle] = struct{}{}
		return true
	}
	if _, ok := ps.CumulativeSubscribedConnects[connectHandle]; !ok {
		return false
	}
	delete(ps.CumulativeSubscribedConnects, connectHandle)
	return true
}
