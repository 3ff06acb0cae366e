// Package objectmodel binds a federation's committed fom.ModuleSet to live
// per-connect publish/subscribe state (spec.md §4.3): it walks the object-
// class and interaction-class trees maintained by fom, attaches a
// pubsub.PublishSubscribe tracker to every attribute and interaction class,
// and implements the cumulative (inheritance-aware) subscription
// propagation rule, including the "attribute-0 receiving-set never
// shrinks" invariant.
//
// Grounded on original_source/src/OpenRTI/ServerObjectModel.h's ObjectClass
// ::updateCumulativeSubscription / _updateCumulativeSubscription walk.
package objectmodel

import (
	"github.com/openrti-go/rticore/internal/fom"
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/pubsub"
	"github.com/openrti-go/rticore/internal/rtierrors"
)

type objectAttrKey struct {
	class handle.ObjectClass
	attr  handle.Attribute
}

// Model tracks live publish/subscribe state for one federation's object
// model on top of its committed fom.ModuleSet.
type Model struct {
	Modules *fom.ModuleSet

	objectAttrState  map[objectAttrKey]*pubsub.PublishSubscribe
	interactionState map[handle.InteractionClass]*pubsub.PublishSubscribe
}

// NewModel returns pub/sub tracking bound to modules. modules must already
// contain every class this federation will ever reference; Model never
// allocates new classes, only attaches state to ones fom committed.
func NewModel(modules *fom.ModuleSet) *Model {
	return &Model{
		Modules:          modules,
		objectAttrState:  map[objectAttrKey]*pubsub.PublishSubscribe{},
		interactionState: map[handle.InteractionClass]*pubsub.PublishSubscribe{},
	}
}

func (m *Model) attrState(class handle.ObjectClass, attr handle.Attribute) *pubsub.PublishSubscribe {
	key := objectAttrKey{class, attr}
	ps, ok := m.objectAttrState[key]
	if !ok {
		ps = pubsub.NewPublishSubscribe()
		m.objectAttrState[key] = ps
	}
	return ps
}

func (m *Model) interactionStateFor(ic handle.InteractionClass) *pubsub.PublishSubscribe {
	ps, ok := m.interactionState[ic]
	if !ok {
		ps = pubsub.NewPublishSubscribe()
		m.interactionState[ic] = ps
	}
	return ps
}

// SetAttributePublication changes connectHandle's publication state for
// one attribute of an object class.
func (m *Model) SetAttributePublication(connectHandle handle.Connect, class handle.ObjectClass, attr handle.Attribute, pt pubsub.PublicationType) (pubsub.Decision, error) {
	oc, ok := m.Modules.GetObjectClass(class)
	if !ok {
		return pubsub.Decision{}, rtierrors.New(rtierrors.CodeObjectClassNotDefined, "object class %v", class)
	}
	if _, ok := oc.Attributes[attr]; !ok {
		return pubsub.Decision{}, rtierrors.New(rtierrors.CodeAttributeNotDefined, "attribute %v on class %v", attr, class)
	}
	return m.attrState(class, attr).SetPublicationType(connectHandle, pt), nil
}

// GetAttributePublicationType reports whether any connect publishes attr
// on class.
func (m *Model) GetAttributePublicationType(class handle.ObjectClass, attr handle.Attribute) pubsub.PublicationType {
	return m.attrState(class, attr).GetAnyPublicationType()
}

// SetAttributeSubscription changes connectHandle's subscription state for
// one attribute of an object class and propagates the cumulative set down
// the class tree (spec.md §4.3).
func (m *Model) SetAttributeSubscription(connectHandle handle.Connect, class handle.ObjectClass, attr handle.Attribute, st pubsub.SubscriptionType) (pubsub.Decision, error) {
	oc, ok := m.Modules.GetObjectClass(class)
	if !ok {
		return pubsub.Decision{}, rtierrors.New(rtierrors.CodeObjectClassNotDefined, "object class %v", class)
	}
	if _, ok := oc.Attributes[attr]; !ok {
		return pubsub.Decision{}, rtierrors.New(rtierrors.CodeAttributeNotDefined, "attribute %v on class %v", attr, class)
	}

	decision := m.attrState(class, attr).SetSubscriptionType(connectHandle, st)

	var parentSubscribed bool
	if oc.Parent.Valid() {
		if parentState, ok := m.objectAttrState[objectAttrKey{oc.Parent, attr}]; ok {
			_, parentSubscribed = parentState.CumulativeSubscribedConnects[connectHandle]
		}
	}
	m.updateCumulativeAttributeSubscription(connectHandle, class, attr, parentSubscribed)

	return decision, nil
}

// updateCumulativeAttributeSubscription recomputes cumulative(class, attr,
// connectHandle) and, if it changed, recurses into every child class.
// Attribute-0's receiving set is monotone: once a connect is added it is
// never removed here (spec.md §4.3).
func (m *Model) updateCumulativeAttributeSubscription(connectHandle handle.Connect, class handle.ObjectClass, attr handle.Attribute, parentSubscribed bool) {
	oc, ok := m.Modules.GetObjectClass(class)
	if !ok {
		return
	}
	state := m.attrState(class, attr)

	locallySubscribed := state.GetSubscriptionTypeOf(connectHandle) != pubsub.Unsubscribed
	subscribe := parentSubscribed || locallySubscribed

	if attr == handle.PrivilegeToDelete && !subscribe {
		// Never shrink the privilege-to-delete receiving set.
		if _, already := state.CumulativeSubscribedConnects[connectHandle]; already {
			return
		}
	}

	if !state.UpdateCumulativeSubscribedConnectHandleSet(connectHandle, subscribe) {
		return
	}

	for _, childHandle := range oc.Children {
		m.updateCumulativeAttributeSubscription(connectHandle, childHandle, attr, subscribe)
	}
}

// CumulativeAttributeSubscribers returns the connects that must receive
// updates to attr on class, after inheritance from ancestor classes.
func (m *Model) CumulativeAttributeSubscribers(class handle.ObjectClass, attr handle.Attribute) map[handle.Connect]struct{} {
	return m.attrState(class, attr).CumulativeSubscribedConnects
}

// PublishedAttributesOf returns the attributes of class that
// connectHandle currently publishes.
func (m *Model) PublishedAttributesOf(class handle.ObjectClass, connectHandle handle.Connect) []handle.Attribute {
	oc, ok := m.Modules.GetObjectClass(class)
	if !ok {
		return nil
	}
	var out []handle.Attribute
	for ah := range oc.Attributes {
		if m.attrState(class, ah).GetPublicationType(connectHandle) == pubsub.Published {
			out = append(out, ah)
		}
	}
	return out
}

// AttributeSubscriptionOf reports connectHandle's own (non-cumulative)
// subscription state for one attribute, used to find the most-derived
// subscribed ancestor when discovering an instance (spec.md §8
// scenario 2).
func (m *Model) AttributeSubscriptionOf(class handle.ObjectClass, attr handle.Attribute, connectHandle handle.Connect) pubsub.SubscriptionType {
	return m.attrState(class, attr).GetSubscriptionTypeOf(connectHandle)
}

// SetInteractionPublication changes connectHandle's publication state for
// an interaction class.
func (m *Model) SetInteractionPublication(connectHandle handle.Connect, ic handle.InteractionClass, pt pubsub.PublicationType) (pubsub.Decision, error) {
	if _, ok := m.Modules.GetInteractionClass(ic); !ok {
		return pubsub.Decision{}, rtierrors.New(rtierrors.CodeInteractionClassNotDefined, "interaction class %v", ic)
	}
	return m.interactionStateFor(ic).SetPublicationType(connectHandle, pt), nil
}

// SetInteractionSubscription changes connectHandle's subscription state
// for an interaction class. Interaction subscription is inherited upward:
// subscribing to a subclass makes every ancestor forward matching
// messages to connectHandle too, the reverse direction from object
// attribute inheritance (spec.md §4.3).
func (m *Model) SetInteractionSubscription(connectHandle handle.Connect, ic handle.InteractionClass, st pubsub.SubscriptionType) (pubsub.Decision, error) {
	class, ok := m.Modules.GetInteractionClass(ic)
	if !ok {
		return pubsub.Decision{}, rtierrors.New(rtierrors.CodeInteractionClassNotDefined, "interaction class %v", ic)
	}

	decision := m.interactionStateFor(ic).SetSubscriptionType(connectHandle, st)
	m.updateCumulativeInteractionSubscription(connectHandle, class.Handle)
	return decision, nil
}

// updateCumulativeInteractionSubscription recomputes cumulative(ic,
// connectHandle) as the union of ic's own subscribers and every
// descendant's cumulative subscribers, then propagates the result to ic's
// parent (since interaction subscription flows from subclass to
// ancestor).
func (m *Model) updateCumulativeInteractionSubscription(connectHandle handle.Connect, ic handle.InteractionClass) {
	class, ok := m.Modules.GetInteractionClass(ic)
	if !ok {
		return
	}
	state := m.interactionStateFor(ic)

	subscribe := state.GetSubscriptionTypeOf(connectHandle) != pubsub.Unsubscribed
	if !subscribe {
		for _, childHandle := range class.Children {
			if _, ok := m.interactionStateFor(childHandle).CumulativeSubscribedConnects[connectHandle]; ok {
				subscribe = true
				break
			}
		}
	}

	if !state.UpdateCumulativeSubscribedConnectHandleSet(connectHandle, subscribe) {
		return
	}

	if class.Parent.Valid() {
		m.updateCumulativeInteractionSubscription(connectHandle, class.Parent)
	}
}

// CumulativeInteractionSubscribers returns the connects that must receive
// ic interactions once subclass subscriptions are folded in.
func (m *Model) CumulativeInteractionSubscribers(ic handle.InteractionClass) map[handle.Connect]struct{} {
	return m.interactionStateFor(ic).CumulativeSubscribedConnects
}

// EachObjectAttributeState visits every attribute with live pub/sub
// state, used to replay the federation's interest to a newly attached
// connect (spec.md §4.6).
func (m *Model) EachObjectAttributeState(fn func(class handle.ObjectClass, attr handle.Attribute, ps *pubsub.PublishSubscribe)) {
	for key, ps := range m.objectAttrState {
		fn(key.class, key.attr, ps)
	}
}

// EachInteractionState visits every interaction class with live pub/sub
// state.
func (m *Model) EachInteractionState(fn func(ic handle.InteractionClass, ps *pubsub.PublishSubscribe)) {
	for ic, ps := range m.interactionState {
		fn(ic, ps)
	}
}

// RemoveConnect drops connectHandle from every tracked publish/subscribe
// set, used when a connect is torn down (spec.md §4.6).
func (m *Model) RemoveConnect(connectHandle handle.Connect) {
	for _, ps := range m.objectAttrState {
		ps.RemoveConnect(connectHandle)
	}
	for _, ps := range m.interactionState {
		ps.RemoveConnect(connectHandle)
	}
}
