package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrti-go/rticore/internal/federate"
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/transport"
)

// twoLevelTree wires a child server under a root and hangs one
// ambassador off each.
func twoLevelTree(t *testing.T) (rootAmb, childAmb *federate.Ambassador) {
	t.Helper()

	root := NewNode(Options{Name: "root", PermitTimeRegulation: true}, testLogger())
	root.Start()
	t.Cleanup(root.Stop)

	child := NewNode(Options{Name: "child", PermitTimeRegulation: true}, testLogger())
	child.Start()
	t.Cleanup(child.Stop)

	rootEnd, childEnd := transport.NewPipe(64)
	root.AddConnect(rootEnd)
	child.AddParent(childEnd)
	require.False(t, child.IsRoot())
	require.True(t, root.IsRoot())

	rootSide, aEnd := transport.NewPipe(64)
	root.AddConnect(rootSide)
	rootAmb = federate.New(aEnd, testLogger())
	t.Cleanup(rootAmb.Close)

	childSide, bEnd := transport.NewPipe(64)
	child.AddConnect(childSide)
	childAmb = federate.New(bEnd, testLogger())
	t.Cleanup(childAmb.Close)

	return rootAmb, childAmb
}

// A federate below a child server joins through the root, discovers an
// instance registered at the root, and receives its updates — the full
// request-forwarding, federation-replication and subscription-
// propagation pipeline.
func TestJoinAndReflectThroughChildServer(t *testing.T) {
	a, b := twoLevelTree(t)
	ctx := context.Background()

	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))
	join(t, a, "fed", "A")

	foo, x := classAndAttr(t, a, "Foo", "x")
	require.NoError(t, a.PublishObjectClassAttributes(foo, []handle.Attribute{x}))
	require.NoError(t, a.ReserveObjectInstanceName(ctx, "foo1"))
	inst, err := a.RegisterObjectInstance(ctx, foo, "foo1")
	require.NoError(t, err)

	// The join round-trips through the child to the root.
	join(t, b, "fed", "B")

	fooB, xB := classAndAttr(t, b, "Foo", "x")
	require.NoError(t, b.SubscribeObjectClassAttributes(fooB, []handle.Attribute{xB}))

	discover := expect[*protocol.InsertObjectInstance](t, b)
	assert.Equal(t, "foo1", discover.Name)
	assert.Equal(t, inst, discover.ObjectInstance)

	require.NoError(t, a.UpdateAttributeValues(inst, []protocol.AttributeValue{
		{Attribute: x, Value: protocol.NewVariableLengthData([]byte("42"))},
	}, nil))

	reflect := expect[*protocol.AttributeUpdate](t, b)
	assert.Equal(t, inst, reflect.ObjectInstance)
	require.Len(t, reflect.Values, 1)
	assert.Equal(t, []byte("42"), reflect.Values[0].Value.Bytes())
}

// Name reservations forwarded through a child server still collide at
// the root arbiter.
func TestNameArbitrationThroughChildServer(t *testing.T) {
	a, b := twoLevelTree(t)
	ctx := context.Background()

	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))
	join(t, a, "fed", "A")
	join(t, b, "fed", "B")

	require.NoError(t, a.ReserveObjectInstanceName(ctx, "alpha"))
	assert.Error(t, b.ReserveObjectInstanceName(ctx, "alpha"))
	assert.NoError(t, b.ReserveObjectInstanceName(ctx, "beta"))
}

// Time coordination crosses the tree: a regulator at the root gates a
// constrained federate below the child.
func TestTimeCoordinationAcrossTree(t *testing.T) {
	a, b := twoLevelTree(t)
	ctx := context.Background()

	require.NoError(t, a.CreateFederationExecution(ctx, "fed", "HLAfloat64Time", baseModules()))
	join(t, a, "fed", "A")
	join(t, b, "fed", "B")

	require.NoError(t, a.EnableTimeRegulation(ctx, 2))
	expect[*protocol.TimeRegulationEnabled](t, a)
	require.NoError(t, b.EnableTimeConstrained())
	expect[*protocol.TimeConstrainedEnabled](t, b)

	require.Eventually(t, func() bool {
		galt, ok := b.QueryGALT()
		return ok && galt == 2
	}, callbackWait, 10*time.Millisecond)

	require.NoError(t, b.TimeAdvanceRequest(5))
	expectNone[*protocol.TimeAdvanceGranted](t, b, 200*time.Millisecond)

	require.NoError(t, a.TimeAdvanceRequest(10))
	expect[*protocol.TimeAdvanceGranted](t, a)

	expect[*protocol.TimeAdvanceGranted](t, b)
}
