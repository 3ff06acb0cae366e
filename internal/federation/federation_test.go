package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openrti-go/rticore/internal/fom"
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/pubsub"
	"github.com/openrti-go/rticore/internal/rtierrors"
)

func testModules() []fom.Module {
	return []fom.Module{{
		Name: "base",
		ObjectClasses: []fom.ObjectClassSpec{
			{Name: "Foo", Attributes: []fom.AttributeSpec{{Name: "x"}}},
			{Name: "Bar", ParentName: "Foo", Attributes: []fom.AttributeSpec{{Name: "y"}}},
		},
	}}
}

func newTestFederation(t *testing.T) *Federation {
	t.Helper()
	f, err := New(0, "fed", "HLAfloat64Time", zap.NewNop().Sugar())
	require.NoError(t, err)
	_, err = f.Modules.InsertModuleList(testModules())
	require.NoError(t, err)
	return f
}

func class(t *testing.T, f *Federation, name string) *fom.ObjectClass {
	t.Helper()
	oc, ok := f.Modules.GetObjectClassByName(name)
	require.True(t, ok)
	return oc
}

func attr(t *testing.T, oc *fom.ObjectClass, name string) handle.Attribute {
	t.Helper()
	for h, a := range oc.Attributes {
		if a.Name == name {
			return h
		}
	}
	t.Fatalf("no attribute %q", name)
	return handle.InvalidAttribute
}

func TestJoinRejectsDuplicateNameAndWrongTimeFactory(t *testing.T) {
	f := newTestFederation(t)
	f.InsertConnect(1, false)

	_, err := f.Join("A", "test", 1, "", nil)
	require.NoError(t, err)

	_, err = f.Join("A", "test", 2, "", nil)
	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeFederateNameAlreadyInUse, rtiErr.Code)

	_, err = f.Join("B", "test", 2, "HLAinteger64Time", nil)
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeCouldNotCreateLogicalTimeFactory, rtiErr.Code)
}

func TestJoinWithInconsistentModulesLeavesFederationUnchanged(t *testing.T) {
	f := newTestFederation(t)

	before := len(f.Modules.GetModuleList())
	_, err := f.Join("A", "test", 1, "", []fom.Module{{
		Name: "conflict",
		ObjectClasses: []fom.ObjectClassSpec{
			{Name: "Bar", Attributes: []fom.AttributeSpec{{Name: "y", Order: 1}}},
		},
	}})
	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeInconsistentFDD, rtiErr.Code)
	assert.Equal(t, before, len(f.Modules.GetModuleList()))
	assert.Equal(t, 0, f.FederateCount())
}

// The Broadcast/Send/None decision rule: the first publisher is a
// broadcast, the second notifies only the previously exclusive holder,
// further ones are silent; the same on the way back down.
func TestPublicationPropagationDecisions(t *testing.T) {
	f := newTestFederation(t)
	for c := handle.Connect(1); c <= 3; c++ {
		f.InsertConnect(c, false)
	}
	foo := class(t, f, "Foo")
	x := attr(t, foo, "x")

	out, err := f.ApplyObjectClassPublication(1, foo.Handle, []handle.Attribute{x}, pubsub.Published)
	require.NoError(t, err)
	assert.Len(t, out, 2, "0 to 1 publishers: broadcast to the other two connects")

	out, err = f.ApplyObjectClassPublication(2, foo.Handle, []handle.Attribute{x}, pubsub.Published)
	require.NoError(t, err)
	require.Len(t, out, 1, "1 to 2 publishers: only the previous exclusive holder learns")
	assert.Equal(t, handle.Connect(1), out[0].To)

	out, err = f.ApplyObjectClassPublication(3, foo.Handle, []handle.Attribute{x}, pubsub.Published)
	require.NoError(t, err)
	assert.Empty(t, out, "2 to 3 publishers: no observable change")

	out, err = f.ApplyObjectClassPublication(3, foo.Handle, []handle.Attribute{x}, pubsub.Unpublished)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = f.ApplyObjectClassPublication(2, foo.Handle, []handle.Attribute{x}, pubsub.Unpublished)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, handle.Connect(1), out[0].To)

	out, err = f.ApplyObjectClassPublication(1, foo.Handle, []handle.Attribute{x}, pubsub.Unpublished)
	require.NoError(t, err)
	assert.Len(t, out, 2, "last publisher gone: broadcast")
}

func TestSubscriptionDrivesDiscoveryAtKnownClass(t *testing.T) {
	f := newTestFederation(t)
	f.InsertConnect(1, false)
	f.InsertConnect(2, false)
	fedA, err := f.Join("A", "test", 1, "", nil)
	require.NoError(t, err)

	bar := class(t, f, "Bar")
	foo := class(t, f, "Foo")
	x := attr(t, foo, "x")
	y := attr(t, bar, "y")

	_, err = f.ApplyObjectClassPublication(1, bar.Handle, []handle.Attribute{handle.PrivilegeToDelete, x, y}, pubsub.Published)
	require.NoError(t, err)

	_, err = f.RegisterInstance(1, fedA.Handle, 0, bar.Handle, "bar1")
	require.NoError(t, err)

	out, err := f.ApplyObjectClassSubscription(2, foo.Handle, []handle.Attribute{x}, pubsub.SubscribedPassive)
	require.NoError(t, err)

	var discover *protocol.InsertObjectInstance
	for _, o := range out {
		if m, ok := o.Msg.(*protocol.InsertObjectInstance); ok && o.To == 2 {
			discover = m
		}
	}
	require.NotNil(t, discover, "connect 2 must discover the existing instance")
	assert.Equal(t, foo.Handle, discover.ObjectClass, "discovered at the most-derived subscribed ancestor")
	assert.Equal(t, "bar1", discover.Name)

	// Updates now route to connect 2 with only the subscribed attribute.
	routed, err := f.RouteAttributeUpdate(1, 0, []protocol.AttributeValue{
		{Attribute: x}, {Attribute: y},
	}, func(filtered []protocol.AttributeValue) protocol.Message {
		return &protocol.AttributeUpdate{ObjectInstance: 0, Values: filtered}
	})
	require.NoError(t, err)
	require.Len(t, routed, 1)
	assert.Equal(t, handle.Connect(2), routed[0].To)
	update := routed[0].Msg.(*protocol.AttributeUpdate)
	require.Len(t, update.Values, 1)
	assert.Equal(t, x, update.Values[0].Attribute)
}

func TestOwnerNeverReceivesItsOwnUpdates(t *testing.T) {
	f := newTestFederation(t)
	f.InsertConnect(1, false)
	fedA, err := f.Join("A", "test", 1, "", nil)
	require.NoError(t, err)

	foo := class(t, f, "Foo")
	x := attr(t, foo, "x")
	_, err = f.ApplyObjectClassPublication(1, foo.Handle, []handle.Attribute{x}, pubsub.Published)
	require.NoError(t, err)
	_, err = f.RegisterInstance(1, fedA.Handle, 0, foo.Handle, "foo1")
	require.NoError(t, err)

	// The owner subscribing to its own class must not add itself as a
	// receiver of its own attributes.
	_, err = f.ApplyObjectClassSubscription(1, foo.Handle, []handle.Attribute{x}, pubsub.SubscribedPassive)
	require.NoError(t, err)

	o, ok := f.Instances.Get(0)
	require.True(t, ok)
	for _, ia := range o.Attributes {
		_, receiving := ia.Receivers[ia.Owner]
		assert.False(t, receiving)
	}
}

func TestRegisterWithoutPublicationFails(t *testing.T) {
	f := newTestFederation(t)
	f.InsertConnect(1, false)
	fedA, err := f.Join("A", "test", 1, "", nil)
	require.NoError(t, err)

	foo := class(t, f, "Foo")
	_, err = f.RegisterInstance(1, fedA.Handle, 0, foo.Handle, "foo1")
	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeObjectClassNotPublished, rtiErr.Code)
}

func TestResignWithDeleteNotifiesKnowingConnects(t *testing.T) {
	f := newTestFederation(t)
	f.InsertConnect(1, false)
	f.InsertConnect(2, false)
	fedA, err := f.Join("A", "test", 1, "", nil)
	require.NoError(t, err)

	foo := class(t, f, "Foo")
	x := attr(t, foo, "x")
	_, err = f.ApplyObjectClassPublication(1, foo.Handle, []handle.Attribute{x}, pubsub.Published)
	require.NoError(t, err)
	_, err = f.RegisterInstance(1, fedA.Handle, 0, foo.Handle, "foo1")
	require.NoError(t, err)
	_, err = f.ApplyObjectClassSubscription(2, foo.Handle, []handle.Attribute{x}, pubsub.SubscribedPassive)
	require.NoError(t, err)

	out, err := f.Resign(fedA.Handle, protocol.ResignCancelThenDeleteThenDivest)
	require.NoError(t, err)

	var deletes []handle.Connect
	for _, o := range out {
		if _, ok := o.Msg.(*protocol.DeleteObjectInstance); ok {
			deletes = append(deletes, o.To)
		}
	}
	assert.Equal(t, []handle.Connect{2}, deletes)
	assert.Equal(t, 0, f.FederateCount())
	_, ok := f.Instances.GetByName("foo1")
	assert.False(t, ok, "no lingering instance after delete-on-resign")
}

func TestSyncPointBarrier(t *testing.T) {
	f := newTestFederation(t)
	f.InsertConnect(1, false)
	a, err := f.Join("A", "test", 1, "", nil)
	require.NoError(t, err)
	b, err := f.Join("B", "test", 1, "", nil)
	require.NoError(t, err)

	out, err := f.RegisterSyncPoint("L", nil, nil)
	require.NoError(t, err)
	require.Len(t, out, 1, "both federates share one connect: one announce")

	done, err := f.AchieveSyncPoint("L", a.Handle, true)
	require.NoError(t, err)
	assert.Empty(t, done)

	done, err = f.AchieveSyncPoint("L", b.Handle, false)
	require.NoError(t, err)
	require.Len(t, done, 1)
	synced := done[0].Msg.(*protocol.FederationSynchronized)
	assert.Equal(t, map[handle.Federate]bool{a.Handle: true, b.Handle: false}, synced.SuccessByFederate)
}
