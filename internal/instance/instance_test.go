package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrti-go/rticore/internal/fom"
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/rtierrors"
)

func testClass(t *testing.T) *fom.ObjectClass {
	t.Helper()
	ms := fom.NewModuleSet()
	_, err := ms.InsertModuleList([]fom.Module{{
		Name: "base",
		ObjectClasses: []fom.ObjectClassSpec{{
			Name: "Foo",
			Attributes: []fom.AttributeSpec{
				{Name: "x", Order: uint8(protocol.OrderTimeStamp), Transportation: uint8(protocol.TransportReliable)},
				{Name: "y", Order: uint8(protocol.OrderReceive), Transportation: uint8(protocol.TransportBestEffort)},
			},
		}},
	}})
	require.NoError(t, err)
	oc, ok := ms.GetObjectClassByName("Foo")
	require.True(t, ok)
	return oc
}

func attrByName(t *testing.T, oc *fom.ObjectClass, name string) handle.Attribute {
	t.Helper()
	for h, a := range oc.Attributes {
		if a.Name == name {
			return h
		}
	}
	t.Fatalf("no attribute %q", name)
	return handle.InvalidAttribute
}

func TestReserveNameRules(t *testing.T) {
	tbl := NewTable()

	err := tbl.ReserveName("HLAfoo", 1)
	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeIllegalName, rtiErr.Code)

	require.NoError(t, tbl.ReserveName("alpha", 1))

	err = tbl.ReserveName("alpha", 2)
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeObjectInstanceNameInUse, rtiErr.Code)

	tbl.ReleaseName("alpha", 2) // not the holder; must not release
	assert.Error(t, tbl.ReserveName("alpha", 2))

	tbl.ReleaseName("alpha", 1)
	assert.NoError(t, tbl.ReserveName("alpha", 2))
}

func TestInsertConsumesReservationAndEnforcesUniqueness(t *testing.T) {
	tbl := NewTable()
	oc := testClass(t)

	require.NoError(t, tbl.ReserveName("foo1", 1))

	handles, err := tbl.AllocateHandles(2)
	require.NoError(t, err)

	_, err = tbl.Insert(handles[0], "foo1", oc, 10, 2, nil)
	assert.Error(t, err, "a name reserved by another federate is not usable")

	o, err := tbl.Insert(handles[0], "foo1", oc, 10, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, handle.Connect(10), o.Owner())

	_, err = tbl.Insert(handles[1], "foo1", oc, 11, 2, nil)
	assert.Error(t, err, "instance names are unique federation-wide")

	got, ok := tbl.GetByName("foo1")
	require.True(t, ok)
	assert.Equal(t, o.Handle, got.Handle)
}

func TestEraseLeavesNoLingeringName(t *testing.T) {
	tbl := NewTable()
	oc := testClass(t)

	handles, err := tbl.AllocateHandles(1)
	require.NoError(t, err)
	o, err := tbl.Insert(handles[0], "foo1", oc, 10, 1, nil)
	require.NoError(t, err)

	_, err = tbl.Erase(o.Handle)
	require.NoError(t, err)

	_, ok := tbl.GetByName("foo1")
	assert.False(t, ok)
	_, ok = tbl.Get(o.Handle)
	assert.False(t, ok)
}

func TestOwnerNeverInReceivers(t *testing.T) {
	tbl := NewTable()
	oc := testClass(t)
	x := attrByName(t, oc, "x")

	handles, err := tbl.AllocateHandles(1)
	require.NoError(t, err)
	o, err := tbl.Insert(handles[0], "foo1", oc, 10, 1, []handle.Attribute{x})
	require.NoError(t, err)

	a := o.Attributes[x]
	assert.False(t, a.AddReceiver(10), "owner cannot be added as receiver")
	assert.True(t, a.AddReceiver(11))

	a.SetOwner(11)
	_, stillReceiving := a.Receivers[11]
	assert.False(t, stillReceiving, "ownership transfer removes the new owner from receivers")

	for _, ia := range o.Attributes {
		_, ok := ia.Receivers[ia.Owner]
		assert.False(t, ok)
	}
}

func TestReferenceCountingForgetsOnZero(t *testing.T) {
	tbl := NewTable()
	oc := testClass(t)

	handles, err := tbl.AllocateHandles(1)
	require.NoError(t, err)
	o, err := tbl.Insert(handles[0], "foo1", oc, 10, 1, nil)
	require.NoError(t, err)

	assert.True(t, o.Reference(11), "first reference is the discovery")
	assert.False(t, o.Reference(11))

	assert.False(t, o.Unreference(11))
	assert.True(t, o.Unreference(11), "last reference dropped: connect forgets")
	assert.False(t, o.Knows(11))
	assert.True(t, o.Knows(10), "the registering connect still knows it")
}

func TestPartitionUpdateSplitsByTransportAndOrder(t *testing.T) {
	oc := testClass(t)
	x := attrByName(t, oc, "x") // timestamp, reliable
	y := attrByName(t, oc, "y") // receive, best-effort

	passels := PartitionUpdate(oc, []protocol.AttributeValue{
		{Attribute: x, Value: protocol.NewVariableLengthData([]byte{1})},
		{Attribute: y, Value: protocol.NewVariableLengthData([]byte{2})},
		{Attribute: x, Value: protocol.NewVariableLengthData([]byte{3})},
	})
	require.Len(t, passels, 2)

	byOrder := map[protocol.OrderType]Passel{}
	for _, p := range passels {
		byOrder[p.Order] = p
	}
	assert.Len(t, byOrder[protocol.OrderTimeStamp].Values, 2)
	assert.Equal(t, protocol.TransportReliable, byOrder[protocol.OrderTimeStamp].Transportation)
	assert.Len(t, byOrder[protocol.OrderReceive].Values, 1)
	assert.Equal(t, protocol.TransportBestEffort, byOrder[protocol.OrderReceive].Transportation)
}

func TestOwnedByAndReservationCleanup(t *testing.T) {
	tbl := NewTable()
	oc := testClass(t)

	handles, err := tbl.AllocateHandles(2)
	require.NoError(t, err)
	_, err = tbl.Insert(handles[0], "a", oc, 10, 1, nil)
	require.NoError(t, err)
	_, err = tbl.Insert(handles[1], "b", oc, 11, 2, nil)
	require.NoError(t, err)

	owned := tbl.OwnedBy(10)
	require.Len(t, owned, 1)
	assert.Equal(t, "a", owned[0].Name)

	require.NoError(t, tbl.ReserveName("pending", 1))
	released := tbl.RemoveFederateReservations(1)
	assert.Equal(t, []string{"pending"}, released)
	assert.NoError(t, tbl.ReserveName("pending", 2))
}
