package objectmodel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openrti-go/rticore/internal/fom"
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/pubsub"
)

func buildVehicleHierarchy(t *testing.T) (*fom.ModuleSet, handle.ObjectClass, handle.ObjectClass, handle.Attribute) {
	t.Helper()
	ms := fom.NewModuleSet()
	_, err := ms.InsertModuleList([]fom.Module{{
		Name: "base",
		ObjectClasses: []fom.ObjectClassSpec{
			{Name: "HLAobjectRoot", Attributes: []fom.AttributeSpec{{Name: "position"}}},
			{Name: "Vehicle", ParentName: "HLAobjectRoot"},
		},
	}})
	require.NoError(t, err)

	root, ok := ms.GetObjectClassByName("HLAobjectRoot")
	require.True(t, ok)
	vehicle, ok := ms.GetObjectClassByName("Vehicle")
	require.True(t, ok)

	var positionHandle handle.Attribute
	for h, a := range root.Attributes {
		if a.Name == "position" {
			positionHandle = h
		}
	}
	require.True(t, positionHandle.Valid())

	return ms, root.Handle, vehicle.Handle, positionHandle
}

func TestSubscriptionPropagatesFromParentToChild(t *testing.T) {
	ms, root, vehicle, position := buildVehicleHierarchy(t)
	m := NewModel(ms)

	_, err := m.SetAttributeSubscription(handle.Connect(1), root, position, pubsub.SubscribedPassive)
	require.NoError(t, err)

	subs := m.CumulativeAttributeSubscribers(vehicle, position)
	_, found := subs[handle.Connect(1)]
	require.True(t, found, "a subscription on the root class must propagate down to Vehicle")
}

func TestChildSubscriptionDoesNotPropagateUpward(t *testing.T) {
	ms, root, vehicle, position := buildVehicleHierarchy(t)
	m := NewModel(ms)

	_, err := m.SetAttributeSubscription(handle.Connect(1), vehicle, position, pubsub.SubscribedPassive)
	require.NoError(t, err)

	subs := m.CumulativeAttributeSubscribers(root, position)
	_, found := subs[handle.Connect(1)]
	require.False(t, found, "a Vehicle-only subscription must not appear at the root's cumulative set")
}

func TestPrivilegeToDeleteReceivingSetNeverShrinks(t *testing.T) {
	ms, root, _, _ := buildVehicleHierarchy(t)
	m := NewModel(ms)

	_, err := m.SetAttributeSubscription(handle.Connect(1), root, handle.PrivilegeToDelete, pubsub.SubscribedPassive)
	require.NoError(t, err)

	subs := m.CumulativeAttributeSubscribers(root, handle.PrivilegeToDelete)
	_, found := subs[handle.Connect(1)]
	require.True(t, found)

	_, err = m.SetAttributeSubscription(handle.Connect(1), root, handle.PrivilegeToDelete, pubsub.Unsubscribed)
	require.NoError(t, err)

	subs = m.CumulativeAttributeSubscribers(root, handle.PrivilegeToDelete)
	_, stillFound := subs[handle.Connect(1)]
	require.True(t, stillFound, "attribute-0 receiving set must never shrink once a connect is added")
}

func TestInteractionSubscriptionPropagatesUpward(t *testing.T) {
	ms := fom.NewModuleSet()
	_, err := ms.InsertModuleList([]fom.Module{{
		Name: "base",
		InteractionClasses: []fom.InteractionClassSpec{
			{Name: "HLAinteractionRoot"},
			{Name: "Fire", ParentName: "HLAinteractionRoot"},
		},
	}})
	require.NoError(t, err)

	root, ok := ms.GetInteractionClassByName("HLAinteractionRoot")
	require.True(t, ok)
	fire, ok := ms.GetInteractionClassByName("Fire")
	require.True(t, ok)

	m := NewModel(ms)
	_, err = m.SetInteractionSubscription(handle.Connect(1), fire.Handle, pubsub.SubscribedPassive)
	require.NoError(t, err)

	subs := m.CumulativeInteractionSubscribers(root.Handle)
	_, found := subs[handle.Connect(1)]
	require.True(t, found, "subscribing to Fire must make HLAinteractionRoot forward to the subscriber too")
}

func TestPublicationPropagationDecision(t *testing.T) {
	ms, root, _, position := buildVehicleHierarchy(t)
	m := NewModel(ms)

	d, err := m.SetAttributePublication(handle.Connect(1), root, position, pubsub.Published)
	require.NoError(t, err)
	require.Equal(t, pubsub.PropagateBroadcast, d.Type)

	d, err = m.SetAttributePublication(handle.Connect(2), root, position, pubsub.Published)
	require.NoError(t, err)
	require.Equal(t, pubsub.PropagateSend, d.Type)
	require.Equal(t, handle.Connect(1), d.Target)
}
