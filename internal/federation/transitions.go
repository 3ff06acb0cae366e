package federation

import (
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/instance"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/pubsub"
	"github.com/openrti-go/rticore/internal/rtierrors"
	"github.com/openrti-go/rticore/internal/timemgmt"
)

// propagate turns one pub/sub propagation decision into outgoing copies
// of msg: the Broadcast/Send/None rule of spec.md §4.3.
func (f *Federation) propagate(from handle.Connect, d pubsub.Decision, msg protocol.Message) []Outgoing {
	switch d.Type {
	case pubsub.PropagateBroadcast:
		return f.Broadcast(from, msg)
	case pubsub.PropagateSend:
		if d.Target == from {
			return nil
		}
		return []Outgoing{{To: d.Target, Msg: msg}}
	default:
		return nil
	}
}

// ApplyObjectClassPublication applies a publication change arriving from
// one connect and returns the minimal notifications owed to the others.
func (f *Federation) ApplyObjectClassPublication(from handle.Connect, class handle.ObjectClass, attrs []handle.Attribute, pt pubsub.PublicationType) ([]Outgoing, error) {
	var out []Outgoing
	for _, attr := range attrs {
		decision, err := f.Model.SetAttributePublication(from, class, attr, pt)
		if err != nil {
			return nil, err
		}
		msg := &protocol.ChangeObjectClassPublication{
			ObjectClass:     class,
			Attributes:      []handle.Attribute{attr},
			PublicationType: protocol.PublicationType(pt),
			ConnectHandle:   from,
		}
		msg.FederationHandle = f.Handle
		out = append(out, f.propagate(from, decision, msg)...)
	}
	return out, nil
}

// ApplyInteractionClassPublication applies an interaction publication
// change from one connect.
func (f *Federation) ApplyInteractionClassPublication(from handle.Connect, ic handle.InteractionClass, pt pubsub.PublicationType) ([]Outgoing, error) {
	decision, err := f.Model.SetInteractionPublication(from, ic, pt)
	if err != nil {
		return nil, err
	}
	msg := &protocol.ChangeInteractionClassPublication{
		InteractionClass: ic,
		PublicationType:  protocol.PublicationType(pt),
		ConnectHandle:    from,
	}
	msg.FederationHandle = f.Handle
	return f.propagate(from, decision, msg), nil
}

// descendantsOrSelf collects class and every class below it.
func (f *Federation) descendantsOrSelf(class handle.ObjectClass) map[handle.ObjectClass]struct{} {
	out := map[handle.ObjectClass]struct{}{}
	var walk func(handle.ObjectClass)
	walk = func(h handle.ObjectClass) {
		if _, seen := out[h]; seen {
			return
		}
		out[h] = struct{}{}
		if oc, ok := f.Modules.GetObjectClass(h); ok {
			for _, child := range oc.Children {
				walk(child)
			}
		}
	}
	walk(class)
	return out
}

// knownClass returns the most-derived ancestor-or-self of class at which
// the connect holds a direct privilege-to-delete (class-level)
// subscription; a discovered instance is reported at this class
// (spec.md §8 scenario 2).
func (f *Federation) knownClass(c handle.Connect, class handle.ObjectClass) handle.ObjectClass {
	for cursor := class; cursor.Valid(); {
		if f.Model.AttributeSubscriptionOf(cursor, handle.PrivilegeToDelete, c) != pubsub.Unsubscribed {
			return cursor
		}
		oc, ok := f.Modules.GetObjectClass(cursor)
		if !ok {
			break
		}
		cursor = oc.Parent
	}
	return class
}

// subscribedAttributesOf returns the attributes of class the connect
// receives after inheritance, for the KnownAttributes list of a discover
// message.
func (f *Federation) subscribedAttributesOf(c handle.Connect, class handle.ObjectClass) []handle.Attribute {
	oc, ok := f.Modules.GetObjectClass(class)
	if !ok {
		return nil
	}
	var out []handle.Attribute
	for ah := range oc.Attributes {
		if _, ok := f.Model.CumulativeAttributeSubscribers(class, ah)[c]; ok {
			out = append(out, ah)
		}
	}
	return out
}

// discover produces the InsertObjectInstance a connect is owed when it
// first learns of an instance, and wires up its receiving sets.
func (f *Federation) discover(c handle.Connect, o *instance.Object) Outgoing {
	o.Reference(c)
	for ah, ia := range o.Attributes {
		if _, ok := f.Model.CumulativeAttributeSubscribers(o.Class, ah)[c]; ok {
			ia.AddReceiver(c)
		}
	}
	msg := &protocol.InsertObjectInstance{
		ObjectInstance:  o.Handle,
		ObjectClass:     f.knownClass(c, o.Class),
		Name:            o.Name,
		KnownAttributes: f.subscribedAttributesOf(c, o.Class),
	}
	msg.FederationHandle = f.Handle
	return Outgoing{To: c, Msg: msg}
}

// ApplyObjectClassSubscription applies a subscription change from one
// connect: the model's cumulative sets are updated, the change is
// propagated per the Broadcast/Send/None rule, existing instances adjust
// their receiving sets, and newly interested connects get discover
// messages (spec.md §4.3). Subscribing to any attribute of a class
// implies the class-level (privilege-to-delete) subscription that drives
// discovery.
func (f *Federation) ApplyObjectClassSubscription(from handle.Connect, class handle.ObjectClass, attrs []handle.Attribute, st pubsub.SubscriptionType) ([]Outgoing, error) {
	effective := attrs
	if st != pubsub.Unsubscribed {
		hasPrivilege := false
		for _, a := range attrs {
			if a == handle.PrivilegeToDelete {
				hasPrivilege = true
			}
		}
		if !hasPrivilege {
			effective = append([]handle.Attribute{handle.PrivilegeToDelete}, attrs...)
		}
	}

	var out []Outgoing
	for _, attr := range effective {
		decision, err := f.Model.SetAttributeSubscription(from, class, attr, st)
		if err != nil {
			return nil, err
		}
		msg := &protocol.ChangeObjectClassSubscription{
			ObjectClass:      class,
			Attributes:       []handle.Attribute{attr},
			SubscriptionType: protocol.SubscriptionType(st),
			ConnectHandle:    from,
		}
		msg.FederationHandle = f.Handle
		out = append(out, f.propagate(from, decision, msg)...)
	}

	// Reconcile existing instances of the affected subtree with the new
	// cumulative sets.
	classes := f.descendantsOrSelf(class)
	for _, o := range f.Instances.InstancesOfClass(classes) {
		inAttr0 := false
		if _, ok := f.Model.CumulativeAttributeSubscribers(o.Class, handle.PrivilegeToDelete)[from]; ok {
			inAttr0 = true
		}
		if inAttr0 && !o.Knows(from) && o.Owner() != from {
			out = append(out, f.discover(from, o))
			continue
		}
		if !o.Knows(from) {
			continue
		}
		for _, attr := range effective {
			ia, ok := o.Attributes[attr]
			if !ok || ia.Owner == from {
				continue
			}
			if _, subscribed := f.Model.CumulativeAttributeSubscribers(o.Class, attr)[from]; subscribed {
				ia.AddReceiver(from)
			} else if attr != handle.PrivilegeToDelete {
				// Attribute-0 receiving sets never shrink (spec.md §4.3).
				ia.RemoveReceiver(from)
			}
		}
	}
	return out, nil
}

// ApplyInteractionClassSubscription applies an interaction subscription
// change from one connect.
func (f *Federation) ApplyInteractionClassSubscription(from handle.Connect, ic handle.InteractionClass, st pubsub.SubscriptionType) ([]Outgoing, error) {
	decision, err := f.Model.SetInteractionSubscription(from, ic, st)
	if err != nil {
		return nil, err
	}
	msg := &protocol.ChangeInteractionClassSubscription{
		InteractionClass: ic,
		SubscriptionType: protocol.SubscriptionType(st),
		ConnectHandle:    from,
	}
	msg.FederationHandle = f.Handle
	return f.propagate(from, decision, msg), nil
}

// RegisterInstance admits an InsertObjectInstance from the registering
// connect: the registration must be backed by at least one published
// attribute, the name must be free or reserved by the registering
// federate, and every connect whose cumulative privilege-to-delete set
// covers the class discovers the instance (spec.md §4.4).
func (f *Federation) RegisterInstance(from handle.Connect, fed handle.Federate, h handle.ObjectInstance, class handle.ObjectClass, name string) ([]Outgoing, error) {
	oc, ok := f.Modules.GetObjectClass(class)
	if !ok {
		return nil, rtierrors.New(rtierrors.CodeObjectClassNotDefined, "%v", class)
	}
	published := f.Model.PublishedAttributesOf(class, from)
	if len(published) == 0 {
		return nil, rtierrors.New(rtierrors.CodeObjectClassNotPublished, "%v at connect %v", class, from)
	}

	o, err := f.Instances.Insert(h, name, oc, from, fed, published)
	if err != nil {
		return nil, err
	}

	var out []Outgoing
	for c := range f.Model.CumulativeAttributeSubscribers(class, handle.PrivilegeToDelete) {
		if c == from {
			continue
		}
		out = append(out, f.discover(c, o))
	}
	return out, nil
}

// DeleteInstance removes an instance at its owner's request, notifying
// every connect that knows it. The delete is the last message referencing
// the instance at every receiving connect (spec.md §4.6).
func (f *Federation) DeleteInstance(from handle.Connect, h handle.ObjectInstance, tag []byte) ([]Outgoing, error) {
	o, ok := f.Instances.Get(h)
	if !ok {
		return nil, rtierrors.New(rtierrors.CodeObjectInstanceNotKnown, "%v", h)
	}
	if o.Owner() != from {
		return nil, rtierrors.New(rtierrors.CodeAttributeNotOwned,
			"connect %v does not hold privilege to delete %v", from, h)
	}
	msg := &protocol.DeleteObjectInstance{ObjectInstance: h, Tag: tag}
	msg.FederationHandle = f.Handle

	var out []Outgoing
	for _, c := range o.KnownBy() {
		if c == from {
			continue
		}
		out = append(out, Outgoing{To: c, Msg: msg})
	}
	if _, err := f.Instances.Erase(h); err != nil {
		return nil, err
	}
	return out, nil
}

// RouteAttributeUpdate fans an update out to the connects receiving the
// updated attributes, each copy filtered down to the attributes that
// connect actually receives (spec.md §4.4, §4.6).
func (f *Federation) RouteAttributeUpdate(from handle.Connect, h handle.ObjectInstance, values []protocol.AttributeValue, build func(filtered []protocol.AttributeValue) protocol.Message) ([]Outgoing, error) {
	o, ok := f.Instances.Get(h)
	if !ok {
		return nil, rtierrors.New(rtierrors.CodeObjectInstanceNotKnown, "%v", h)
	}

	perConnect := map[handle.Connect][]protocol.AttributeValue{}
	for _, v := range values {
		ia, ok := o.Attributes[v.Attribute]
		if !ok {
			continue
		}
		for c := range ia.Receivers {
			if c == from {
				continue
			}
			perConnect[c] = append(perConnect[c], v)
		}
	}

	out := make([]Outgoing, 0, len(perConnect))
	for c, filtered := range perConnect {
		out = append(out, Outgoing{To: c, Msg: build(filtered)})
	}
	return out, nil
}

// RouteInteraction fans an interaction out to the cumulative subscribers
// of its class (spec.md §4.3: subscribing to a child forwards matching
// ancestor sends downward-compatibly).
func (f *Federation) RouteInteraction(from handle.Connect, ic handle.InteractionClass, msg protocol.Message) ([]Outgoing, error) {
	if _, ok := f.Modules.GetInteractionClass(ic); !ok {
		return nil, rtierrors.New(rtierrors.CodeInteractionClassNotDefined, "%v", ic)
	}
	var out []Outgoing
	for c := range f.Model.CumulativeInteractionSubscribers(ic) {
		if c == from {
			continue
		}
		out = append(out, Outgoing{To: c, Msg: msg})
	}
	return out, nil
}

// EnableTimeRegulation admits fed into the regulating set with its
// initial LBTS and tells every other connect about the new regulator via
// its first commit (spec.md §4.5).
func (f *Federation) EnableTimeRegulation(from handle.Connect, fed handle.Federate, lbts timemgmt.Time) ([]Outgoing, error) {
	if f.Time.IsRegulator(fed) {
		return nil, rtierrors.New(rtierrors.CodeTimeRegulationAlreadyEnabled, "%v", fed)
	}
	f.Time.InsertRegulator(fed, lbts)
	f.Time.Commit(fed, 1, lbts) // serial 1 matches the regulator's own first commit
	if fc, ok := f.connects[from]; ok {
		fc.TimeRegulating[fed] = struct{}{}
	}

	msg := &protocol.CommitLowerBoundTimeStamp{
		FederateHandle: fed,
		CommitID:       1,
		LBTS:           f.Time.Factory().Encode(lbts),
	}
	msg.FederationHandle = f.Handle
	return f.Broadcast(from, msg), nil
}

// DisableTimeRegulation removes fed from the regulating set; pending
// advances elsewhere can only become grantable, never blocked, so no
// notification beyond the change itself is owed.
func (f *Federation) DisableTimeRegulation(from handle.Connect, fed handle.Federate) ([]Outgoing, error) {
	if !f.Time.IsRegulator(fed) {
		return nil, rtierrors.New(rtierrors.CodeTimeRegulationIsNotEnabled, "%v", fed)
	}
	f.Time.EraseRegulator(fed)
	if fc, ok := f.connects[from]; ok {
		delete(fc.TimeRegulating, fed)
	}
	msg := &protocol.DisableTimeRegulationRequest{FederateHandle: fed}
	msg.FederationHandle = f.Handle
	return f.Broadcast(from, msg), nil
}

// CommitLBTS records a regulator's new committed bound and forwards it to
// every other connect so their GALT caches advance (spec.md §4.5).
func (f *Federation) CommitLBTS(from handle.Connect, msg *protocol.CommitLowerBoundTimeStamp) ([]Outgoing, error) {
	lbts, err := f.Time.Factory().Decode(msg.LBTS)
	if err != nil {
		return nil, err
	}
	if !f.Time.Commit(msg.FederateHandle, msg.CommitID, lbts) {
		return nil, nil
	}
	return f.Broadcast(from, msg), nil
}

// RegisterSyncPoint opens a synchronization barrier and announces it to
// every participant's connect (spec.md §4.7). An empty participant set
// means every currently joined federate.
func (f *Federation) RegisterSyncPoint(label string, tag []byte, participants []handle.Federate) ([]Outgoing, error) {
	if len(participants) == 0 {
		participants = f.FederateHandles()
	}
	for _, fed := range participants {
		if _, ok := f.federates[fed]; !ok {
			return nil, rtierrors.New(rtierrors.CodeFederateNotExecutionMember, "%v", fed)
		}
	}
	if _, err := f.SyncPoints.Register(label, tag, participants); err != nil {
		return nil, err
	}

	announce := &protocol.AnnounceSynchronizationPoint{Label: label, Tag: tag}
	announce.FederationHandle = f.Handle

	seen := map[handle.Connect]struct{}{}
	var out []Outgoing
	for _, fed := range participants {
		c := f.federates[fed].Connect
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, Outgoing{To: c, Msg: announce})
	}
	return out, nil
}

// AchieveSyncPoint records one participant's reply; when the barrier
// completes, every connect learns the per-federate success map.
func (f *Federation) AchieveSyncPoint(label string, fed handle.Federate, successful bool) ([]Outgoing, error) {
	done, success, err := f.SyncPoints.Achieved(label, fed, successful)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, nil
	}
	msg := &protocol.FederationSynchronized{Label: label, SuccessByFederate: success}
	msg.FederationHandle = f.Handle
	return f.Broadcast(handle.InvalidConnect, msg), nil
}
