package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openrti-go/rticore/internal/federate"
	"github.com/openrti-go/rticore/internal/fom"
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/rtierrors"
	"github.com/openrti-go/rticore/internal/timemgmt"
	"github.com/openrti-go/rticore/internal/transport"
)

const callbackWait = 2 * time.Second

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

// baseModules declares the Foo/Bar object tree and a Ping interaction
// used across the scenarios.
func baseModules() []fom.Module {
	return []fom.Module{{
		Name: "scenario-base",
		ObjectClasses: []fom.ObjectClassSpec{
			{Name: "Foo", Attributes: []fom.AttributeSpec{
				{Name: "x", Order: uint8(protocol.OrderTimeStamp), Transportation: uint8(protocol.TransportReliable)},
			}},
			{Name: "Bar", ParentName: "Foo", Attributes: []fom.AttributeSpec{
				{Name: "y", Order: uint8(protocol.OrderReceive), Transportation: uint8(protocol.TransportReliable)},
			}},
		},
		InteractionClasses: []fom.InteractionClassSpec{
			{Name: "Ping", Order: uint8(protocol.OrderReceive), Transportation: uint8(protocol.TransportReliable),
				Parameters: []fom.ParameterSpec{{Name: "count"}}},
		},
	}}
}

type rig struct {
	node *Node
}

func newRig(t *testing.T) *rig {
	t.Helper()
	n := NewNode(Options{Name: "root", PermitTimeRegulation: true}, testLogger())
	n.Start()
	t.Cleanup(n.Stop)
	return &rig{node: n}
}

func (r *rig) ambassador(t *testing.T) *federate.Ambassador {
	t.Helper()
	serverEnd, clientEnd := transport.NewPipe(64)
	r.node.AddConnect(serverEnd)
	amb := federate.New(clientEnd, testLogger())
	t.Cleanup(amb.Close)
	return amb
}

// next returns the ambassador's next callback, failing on timeout.
func next(t *testing.T, amb *federate.Ambassador) protocol.Message {
	t.Helper()
	msg := amb.EvokeCallback(callbackWait)
	require.NotNil(t, msg, "expected a pending callback")
	return msg
}

// expect drains callbacks until one of type T arrives.
func expect[T protocol.Message](t *testing.T, amb *federate.Ambassador) T {
	t.Helper()
	deadline := time.Now().Add(callbackWait)
	for time.Now().Before(deadline) {
		msg := amb.EvokeCallback(100 * time.Millisecond)
		if msg == nil {
			continue
		}
		if typed, ok := msg.(T); ok {
			return typed
		}
	}
	var zero T
	t.Fatalf("no %T callback arrived", zero)
	return zero
}

// expectNone asserts no callback of type T is pending.
func expectNone[T protocol.Message](t *testing.T, amb *federate.Ambassador, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		msg := amb.EvokeCallback(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		if _, ok := msg.(T); ok {
			t.Fatalf("unexpected %T callback", msg)
		}
	}
}

func join(t *testing.T, amb *federate.Ambassador, federation, name string) {
	t.Helper()
	require.NoError(t, amb.JoinFederationExecution(context.Background(), federation, name, "test", nil))
}

func classAndAttr(t *testing.T, amb *federate.Ambassador, class, attr string) (handle.ObjectClass, handle.Attribute) {
	t.Helper()
	oc, err := amb.ObjectClassHandle(class)
	require.NoError(t, err)
	at, err := amb.AttributeHandle(oc, attr)
	require.NoError(t, err)
	return oc, at
}

// Scenario 1: create + join + register + reflect.
func TestCreateJoinRegisterReflect(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	a := r.ambassador(t)
	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))
	join(t, a, "fed", "A")

	foo, x := classAndAttr(t, a, "Foo", "x")
	require.NoError(t, a.PublishObjectClassAttributes(foo, []handle.Attribute{x}))
	require.NoError(t, a.ReserveObjectInstanceName(ctx, "foo1"))
	inst, err := a.RegisterObjectInstance(ctx, foo, "foo1")
	require.NoError(t, err)

	b := r.ambassador(t)
	join(t, b, "fed", "B")
	fooB, xB := classAndAttr(t, b, "Foo", "x")
	require.NoError(t, b.SubscribeObjectClassAttributes(fooB, []handle.Attribute{xB}))

	discover := expect[*protocol.InsertObjectInstance](t, b)
	assert.Equal(t, "foo1", discover.Name)
	assert.Equal(t, fooB, discover.ObjectClass)
	assert.Equal(t, inst, discover.ObjectInstance)

	require.NoError(t, a.UpdateAttributeValues(inst, []protocol.AttributeValue{
		{Attribute: x, Value: protocol.NewVariableLengthData([]byte("42"))},
	}, nil))

	reflect := expect[*protocol.AttributeUpdate](t, b)
	assert.Equal(t, inst, reflect.ObjectInstance)
	require.Len(t, reflect.Values, 1)
	assert.Equal(t, xB, reflect.Values[0].Attribute)
	assert.Equal(t, []byte("42"), reflect.Values[0].Value.Bytes())
}

// Scenario 2: an instance of a subclass is discovered at the subscribed
// ancestor, and only subscribed attributes reflect.
func TestInheritanceSubscription(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	a := r.ambassador(t)
	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))
	join(t, a, "fed", "A")

	bar, x := classAndAttr(t, a, "Bar", "x")
	_, y := classAndAttr(t, a, "Bar", "y")
	require.NoError(t, a.PublishObjectClassAttributes(bar, []handle.Attribute{x, y}))
	require.NoError(t, a.ReserveObjectInstanceName(ctx, "bar1"))
	inst, err := a.RegisterObjectInstance(ctx, bar, "bar1")
	require.NoError(t, err)

	b := r.ambassador(t)
	join(t, b, "fed", "B")
	fooB, xB := classAndAttr(t, b, "Foo", "x")
	require.NoError(t, b.SubscribeObjectClassAttributes(fooB, []handle.Attribute{xB}))

	discover := expect[*protocol.InsertObjectInstance](t, b)
	assert.Equal(t, fooB, discover.ObjectClass, "known class is the most-derived subscribed ancestor")
	assert.Equal(t, "bar1", discover.Name)

	require.NoError(t, a.UpdateAttributeValues(inst, []protocol.AttributeValue{
		{Attribute: x, Value: protocol.NewVariableLengthData([]byte("px"))},
		{Attribute: y, Value: protocol.NewVariableLengthData([]byte("py"))},
	}, nil))

	reflect := expect[*protocol.AttributeUpdate](t, b)
	require.Len(t, reflect.Values, 1, "only the subscribed attribute reflects")
	assert.Equal(t, xB, reflect.Values[0].Attribute)
}

// Scenario 3: time coordination — a constrained federate is gated by the
// regulator's LBTS and a queued timestamped update is delivered before
// its grant.
func TestTimeCoordination(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	a := r.ambassador(t)
	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))
	join(t, a, "fed", "A")
	b := r.ambassador(t)
	join(t, b, "fed", "B")

	foo, x := classAndAttr(t, a, "Foo", "x")
	require.NoError(t, a.PublishObjectClassAttributes(foo, []handle.Attribute{x}))
	require.NoError(t, a.ReserveObjectInstanceName(ctx, "foo1"))
	inst, err := a.RegisterObjectInstance(ctx, foo, "foo1")
	require.NoError(t, err)

	fooB, xB := classAndAttr(t, b, "Foo", "x")
	require.NoError(t, b.SubscribeObjectClassAttributes(fooB, []handle.Attribute{xB}))
	expect[*protocol.InsertObjectInstance](t, b)

	require.NoError(t, a.EnableTimeRegulation(ctx, 1))
	expect[*protocol.TimeRegulationEnabled](t, a)
	require.NoError(t, b.EnableTimeConstrained())
	expect[*protocol.TimeConstrainedEnabled](t, b)

	// Wait until B has seen A's initial commit (LBTS = 1).
	require.Eventually(t, func() bool {
		galt, ok := b.QueryGALT()
		return ok && galt == 1
	}, callbackWait, 10*time.Millisecond)

	// A timestamped update at t=5 respects A's lookahead (A is at 0).
	_, err = a.UpdateAttributeValuesWithTime(inst, []protocol.AttributeValue{
		{Attribute: x, Value: protocol.NewVariableLengthData([]byte("v5"))},
	}, 5)
	require.NoError(t, err)

	// B asks for 10 while A's LBTS is 1: no grant yet.
	require.NoError(t, b.TimeAdvanceRequest(10))
	expectNone[*protocol.TimeAdvanceGranted](t, b, 300*time.Millisecond)

	// A advances to 10 and is granted immediately (sole regulator).
	require.NoError(t, a.TimeAdvanceRequest(10))
	grantA := expect[*protocol.TimeAdvanceGranted](t, a)
	at, err := mustFactory(t).Decode(grantA.Time)
	require.NoError(t, err)
	assert.Equal(t, timemgmt.Time(10), at)

	// A's new LBTS 11 reaches B: the queued t=5 reflect precedes B's grant.
	first := expect[*protocol.TimeStampedAttributeUpdate](t, b)
	assert.Equal(t, inst, first.ObjectInstance)
	grantB := expect[*protocol.TimeAdvanceGranted](t, b)
	bt, err := mustFactory(t).Decode(grantB.Time)
	require.NoError(t, err)
	assert.Equal(t, timemgmt.Time(10), bt)

	galt, ok := b.QueryGALT()
	require.True(t, ok)
	assert.Equal(t, timemgmt.Time(11), galt)
}

func mustFactory(t *testing.T) *timemgmt.Factory {
	t.Helper()
	f, err := timemgmt.LookupFactory("HLAfloat64Time")
	require.NoError(t, err)
	return f
}

// Scenario 4: name collision — the second reservation fails finally.
func TestNameReservationCollision(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	a := r.ambassador(t)
	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))
	join(t, a, "fed", "A")
	b := r.ambassador(t)
	join(t, b, "fed", "B")

	require.NoError(t, a.ReserveObjectInstanceName(ctx, "alpha"))
	okCb := expect[*protocol.ReserveObjectInstanceNameResponse](t, a)
	assert.True(t, okCb.Success)

	err := b.ReserveObjectInstanceName(ctx, "alpha")
	require.Error(t, err)
	failCb := expect[*protocol.ReserveObjectInstanceNameResponse](t, b)
	assert.False(t, failCb.Success)
	assert.Equal(t, "alpha", failCb.Name)
}

// Scenario 5: a dropped connect resigns its federate and deletes its
// owned instances everywhere.
func TestResignOnConnectDropDeletesOwnedInstances(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	a := r.ambassador(t)
	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))
	join(t, a, "fed", "A")

	foo, x := classAndAttr(t, a, "Foo", "x")
	require.NoError(t, a.PublishObjectClassAttributes(foo, []handle.Attribute{x}))
	require.NoError(t, a.ReserveObjectInstanceName(ctx, "foo1"))
	inst, err := a.RegisterObjectInstance(ctx, foo, "foo1")
	require.NoError(t, err)

	b := r.ambassador(t)
	join(t, b, "fed", "B")
	fooB, xB := classAndAttr(t, b, "Foo", "x")
	require.NoError(t, b.SubscribeObjectClassAttributes(fooB, []handle.Attribute{xB}))
	expect[*protocol.InsertObjectInstance](t, b)

	a.Close()

	remove := expect[*protocol.DeleteObjectInstance](t, b)
	assert.Equal(t, inst, remove.ObjectInstance)
}

// Scenario 6: synchronization barrier over three federates.
func TestSynchronizationBarrier(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	a := r.ambassador(t)
	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))
	join(t, a, "fed", "A")
	b := r.ambassador(t)
	join(t, b, "fed", "B")
	c := r.ambassador(t)
	join(t, c, "fed", "C")

	require.NoError(t, a.RegisterFederationSynchronizationPoint("L", []byte("tag"), nil))

	for _, amb := range []*federate.Ambassador{a, b, c} {
		announce := expect[*protocol.AnnounceSynchronizationPoint](t, amb)
		assert.Equal(t, "L", announce.Label)
		assert.Equal(t, []byte("tag"), announce.Tag)
	}

	require.NoError(t, a.SynchronizationPointAchieved("L", true))
	require.NoError(t, b.SynchronizationPointAchieved("L", true))
	expectNone[*protocol.FederationSynchronized](t, c, 200*time.Millisecond)

	require.NoError(t, c.SynchronizationPointAchieved("L", true))
	for _, amb := range []*federate.Ambassador{a, b, c} {
		synced := expect[*protocol.FederationSynchronized](t, amb)
		assert.Equal(t, "L", synced.Label)
		assert.Len(t, synced.SuccessByFederate, 3)
	}
}

// Boundary: registering without a publication fails locally.
func TestRegisterWithoutPublicationFails(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	a := r.ambassador(t)
	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))
	join(t, a, "fed", "A")

	foo, _ := classAndAttr(t, a, "Foo", "x")
	_, err := a.RegisterObjectInstance(ctx, foo, "")
	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeObjectClassNotPublished, rtiErr.Code)
}

// Boundary: the HLA name prefix is reserved for the RTI.
func TestReserveHLAPrefixedNameFails(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	a := r.ambassador(t)
	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))
	join(t, a, "fed", "A")

	err := a.ReserveObjectInstanceName(ctx, "HLAthing")
	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeIllegalName, rtiErr.Code)
}

// Boundary: a join with a mismatched module redeclaration fails with
// InconsistentFDD and leaves the federation usable.
func TestInconsistentFDDJoinRollsBack(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	a := r.ambassador(t)
	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))
	join(t, a, "fed", "A")

	conflicting := []fom.Module{{
		Name: "conflict",
		ObjectClasses: []fom.ObjectClassSpec{
			{Name: "Foo", Attributes: []fom.AttributeSpec{
				{Name: "x", Order: uint8(protocol.OrderReceive), Transportation: uint8(protocol.TransportBestEffort)},
			}},
		},
	}}
	b := r.ambassador(t)
	err := b.JoinFederationExecution(ctx, "fed", "B", "test", conflicting)
	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeInconsistentFDD, rtiErr.Code)

	// The federation is unchanged: a clean join still works.
	c := r.ambassador(t)
	join(t, c, "fed", "C")
}

// Boundary: destroying a federation with joined federates is refused.
func TestDestroyWithJoinedFederatesRefused(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	a := r.ambassador(t)
	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))
	join(t, a, "fed", "A")

	err := a.DestroyFederationExecution(ctx, "fed")
	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeFederatesCurrentlyJoined, rtiErr.Code)

	require.NoError(t, a.ResignFederationExecution(protocol.ResignNoAction))
	require.Eventually(t, func() bool {
		return a.DestroyFederationExecution(ctx, "fed") == nil
	}, callbackWait, 20*time.Millisecond)
}

// Interactions route by cumulative subscription, duplicate creates are
// refused, and unknown federations are reported.
func TestInteractionsAndCreateErrors(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	a := r.ambassador(t)
	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))

	err := a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", nil)
	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeFederationExecutionAlreadyExists, rtiErr.Code)

	err = a.JoinFederationExecution(ctx, "nope", "A", "test", nil)
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeFederationExecutionDoesNotExist, rtiErr.Code)

	join(t, a, "fed", "A")
	b := r.ambassador(t)
	join(t, b, "fed", "B")

	ping, err := a.InteractionClassHandle("Ping")
	require.NoError(t, err)
	require.NoError(t, a.PublishInteractionClass(ping))

	pingB, err := b.InteractionClassHandle("Ping")
	require.NoError(t, err)
	require.NoError(t, b.SubscribeInteractionClass(pingB))

	// Subscription from B must be visible at the node before the send.
	require.Eventually(t, func() bool {
		if err := a.SendInteraction(ping, []protocol.ParameterValue{
			{Value: protocol.NewVariableLengthData([]byte("1"))},
		}, nil); err != nil {
			return false
		}
		msg := b.EvokeCallback(200 * time.Millisecond)
		_, ok := msg.(*protocol.Interaction)
		return ok
	}, callbackWait, 10*time.Millisecond)
}
