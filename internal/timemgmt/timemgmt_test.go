package timemgmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/rtierrors"
)

func TestFactoryRoundTrip(t *testing.T) {
	for _, name := range []string{"HLAfloat64Time", "HLAinteger64Time"} {
		f, err := LookupFactory(name)
		require.NoError(t, err)
		assert.Equal(t, name, f.Name())

		for _, v := range []Time{0, 1, 42, 1e6} {
			got, err := f.Decode(f.Encode(v))
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	}
}

func TestFactoryUnknownName(t *testing.T) {
	_, err := LookupFactory("MyCustomTime")
	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeCouldNotCreateLogicalTimeFactory, rtiErr.Code)
}

func TestFactoryRejectsWrongLength(t *testing.T) {
	f, err := LookupFactory("HLAfloat64Time")
	require.NoError(t, err)
	_, err = f.Decode(protocol.NewVariableLengthData([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestRegulationStateMachine(t *testing.T) {
	ft := NewFederateTime(1)

	assert.Error(t, ft.EnableRegulation(-1), "negative lookahead")

	require.NoError(t, ft.EnableRegulation(1))
	assert.Equal(t, RegulationEnablePending, ft.Regulation)

	err := ft.EnableRegulation(1)
	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeTimeRegulationAlreadyEnabled, rtiErr.Code)

	ft.CompleteRegulationEnable()
	assert.Equal(t, RegulationEnabled, ft.Regulation)
	assert.Equal(t, Time(1), ft.CommittedLBTS)
	assert.Equal(t, uint64(1), ft.CommitID)

	require.NoError(t, ft.DisableRegulation())
	assert.Error(t, ft.DisableRegulation())
}

func TestAdvanceRejectsPastTimeAndDoubleRequest(t *testing.T) {
	ft := NewFederateTime(1)
	ft.Time = 5

	err := ft.RequestAdvance(TimeAdvanceRequest, 4)
	var rtiErr *rtierrors.RTIError
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeLogicalTimeAlreadyPassed, rtiErr.Code)

	require.NoError(t, ft.RequestAdvance(TimeAdvanceRequest, 10))
	err = ft.RequestAdvance(TimeAdvanceRequest, 12)
	require.ErrorAs(t, err, &rtiErr)
	assert.Equal(t, rtierrors.CodeInTimeAdvancingState, rtiErr.Code)
}

func TestCommittedLBTSTracksTimePlusLookahead(t *testing.T) {
	ft := NewFederateTime(1)
	require.NoError(t, ft.EnableRegulation(2))
	ft.CompleteRegulationEnable()

	c := NewCoordinator(mustFactory(t))
	c.InsertRegulator(1, ft.CommittedLBTS)

	require.NoError(t, ft.RequestAdvance(TimeAdvanceRequest, 10))
	granted, at, _ := c.EvaluateAdvance(ft)
	require.True(t, granted, "sole regulator advances unconditionally")
	assert.Equal(t, Time(10), at)
	assert.Equal(t, Time(12), ft.CommittedLBTS)
}

func TestTSOQueueOrderingAndRetraction(t *testing.T) {
	q := NewTSOQueue()
	r1 := handle.NewMessageRetraction(1, 1)
	r2 := handle.NewMessageRetraction(1, 2)
	r3 := handle.NewMessageRetraction(2, 1)

	q.Push(7, r2, nil)
	q.Push(3, r1, nil)
	q.Push(7, r3, nil)

	assert.True(t, q.Retract(r2))
	assert.False(t, q.Retract(r2), "second retract of the same handle finds nothing")

	next, ok := q.PeekTime()
	require.True(t, ok)
	assert.Equal(t, Time(3), next)

	out := q.PopUpTo(7, true)
	require.Len(t, out, 2)
	assert.Equal(t, Time(3), out[0].Time)
	assert.Equal(t, Time(7), out[1].Time)
	assert.Equal(t, r3, out[1].Retraction)
}

func TestTSOQueueSameTimestampKeepsArrivalOrder(t *testing.T) {
	q := NewTSOQueue()
	first := handle.NewMessageRetraction(1, 1)
	second := handle.NewMessageRetraction(1, 2)
	q.Push(5, first, nil)
	q.Push(5, second, nil)

	out := q.PopUpTo(5, true)
	require.Len(t, out, 2)
	assert.Equal(t, first, out[0].Retraction)
	assert.Equal(t, second, out[1].Retraction)
}

func TestPopUpToExclusiveStopsAtLimit(t *testing.T) {
	q := NewTSOQueue()
	q.Push(5, handle.NewMessageRetraction(1, 1), nil)
	q.Push(10, handle.NewMessageRetraction(1, 2), nil)

	out := q.PopUpTo(10, false)
	require.Len(t, out, 1)
	assert.Equal(t, Time(5), out[0].Time)
	assert.Equal(t, 1, q.Len())
}

func mustFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := LookupFactory("HLAfloat64Time")
	require.NoError(t, err)
	return f
}

func TestGALTIsMinOverOtherRegulators(t *testing.T) {
	c := NewCoordinator(mustFactory(t))
	c.InsertRegulator(1, 1)
	c.InsertRegulator(2, 4)
	c.InsertRegulator(3, 9)

	galt, ok := c.GALT(3)
	require.True(t, ok)
	assert.Equal(t, Time(1), galt)

	galt, ok = c.GALT(1)
	require.True(t, ok)
	assert.Equal(t, Time(4), galt)

	c.EraseRegulator(2)
	galt, ok = c.GALT(3)
	require.True(t, ok)
	assert.Equal(t, Time(1), galt)

	_, ok = c.GALT(1)
	assert.True(t, ok)
	c.EraseRegulator(3)
	_, ok = c.GALT(1)
	assert.False(t, ok, "a sole regulator sees no GALT bound")
}

func TestCommitIgnoresStaleSerials(t *testing.T) {
	c := NewCoordinator(mustFactory(t))
	c.InsertRegulator(1, 1)

	assert.True(t, c.Commit(1, 1, 5))
	assert.False(t, c.Commit(1, 1, 9), "same serial is stale")

	galt, ok := c.GALT(2)
	require.True(t, ok)
	assert.Equal(t, Time(5), galt)

	assert.True(t, c.Commit(1, 2, 9))
	galt, _ = c.GALT(2)
	assert.Equal(t, Time(9), galt)
}

// Mirrors spec.md §8 scenario 3: a constrained federate advances only as
// far as the regulator's LBTS permits, and a queued timestamped message
// is delivered before its grant.
func TestConstrainedAdvanceGatedByRegulatorLBTS(t *testing.T) {
	c := NewCoordinator(mustFactory(t))

	regulator := NewFederateTime(1)
	require.NoError(t, regulator.EnableRegulation(1))
	regulator.CompleteRegulationEnable()
	c.InsertRegulator(1, regulator.CommittedLBTS) // LBTS = 1

	constrained := NewFederateTime(2)
	require.NoError(t, constrained.EnableConstrained())
	constrained.CompleteConstrainedEnable()

	require.NoError(t, constrained.RequestAdvance(TimeAdvanceRequest, 10))
	granted, _, _ := c.EvaluateAdvance(constrained)
	assert.False(t, granted, "regulator LBTS 1 blocks an advance to 10")

	// The regulator advances to 10; its LBTS becomes 11.
	require.NoError(t, regulator.RequestAdvance(TimeAdvanceRequest, 10))
	granted, at, _ := c.EvaluateAdvance(regulator)
	require.True(t, granted)
	assert.Equal(t, Time(10), at)
	c.Commit(1, regulator.CommitID, regulator.CommittedLBTS)

	// A timestamped message at t=5 queued before the constrained grant is
	// delivered with it, in order, before the grant fires.
	retraction := regulator.NextRetraction()
	constrained.Queue.Push(5, retraction, nil)

	granted, at, deliveries := c.EvaluateAdvance(constrained)
	require.True(t, granted)
	assert.Equal(t, Time(10), at)
	require.Len(t, deliveries, 1)
	assert.Equal(t, Time(5), deliveries[0].Time)
}

func TestNextMessageRequestGrantsAtNextTSOTimestamp(t *testing.T) {
	c := NewCoordinator(mustFactory(t))
	c.InsertRegulator(1, 100) // far-ahead regulator never blocks

	ft := NewFederateTime(2)
	require.NoError(t, ft.EnableConstrained())
	ft.CompleteConstrainedEnable()
	ft.Queue.Push(4, handle.NewMessageRetraction(1, 1), nil)

	require.NoError(t, ft.RequestAdvance(NextMessageRequest, 10))
	assert.True(t, ft.LockedByNextMessage)

	granted, at, deliveries := c.EvaluateAdvance(ft)
	require.True(t, granted)
	assert.Equal(t, Time(4), at, "grant time is min(requested, next TSO timestamp)")
	require.Len(t, deliveries, 1)
	assert.False(t, ft.LockedByNextMessage)
}

func TestNextMessageRequestWithEmptyQueueGrantsRequested(t *testing.T) {
	c := NewCoordinator(mustFactory(t))

	ft := NewFederateTime(2)
	require.NoError(t, ft.RequestAdvance(NextMessageRequest, 10))
	granted, at, deliveries := c.EvaluateAdvance(ft)
	require.True(t, granted)
	assert.Equal(t, Time(10), at)
	assert.Empty(t, deliveries)
}

func TestFlushQueueRequestDrainsEverything(t *testing.T) {
	c := NewCoordinator(mustFactory(t))
	c.InsertRegulator(1, 2) // would normally block an advance past 2

	ft := NewFederateTime(2)
	require.NoError(t, ft.EnableConstrained())
	ft.CompleteConstrainedEnable()
	ft.Queue.Push(3, handle.NewMessageRetraction(1, 1), nil)
	ft.Queue.Push(8, handle.NewMessageRetraction(1, 2), nil)

	require.NoError(t, ft.RequestAdvance(FlushQueueRequest, 5))
	granted, at, deliveries := c.EvaluateAdvance(ft)
	require.True(t, granted, "flush-queue never waits on GALT")
	assert.Equal(t, Time(8), at, "grant covers every flushed timestamp")
	assert.Len(t, deliveries, 2)
	assert.Equal(t, 0, ft.Queue.Len())
}

func TestDeliveredTimestampsNonDecreasing(t *testing.T) {
	q := NewTSOQueue()
	times := []Time{9, 2, 7, 2, 5, 11, 3}
	for i, tm := range times {
		q.Push(tm, handle.NewMessageRetraction(1, uint32(i+1)), nil)
	}
	out := q.PopAll()
	require.Len(t, out, len(times))
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1].Time, out[i].Time)
	}
}
