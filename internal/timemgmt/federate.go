package timemgmt

import (
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/rtierrors"
)

// RegulationMode is a federate's time-regulation state (spec.md §4.5).
type RegulationMode int

const (
	RegulationDisabled RegulationMode = iota
	RegulationEnablePending
	RegulationEnabled
)

// ConstrainedMode is a federate's time-constrained state.
type ConstrainedMode int

const (
	ConstrainedDisabled ConstrainedMode = iota
	ConstrainedEnablePending
	ConstrainedEnabled
)

// AdvanceMode is a federate's pending advance request, if any.
type AdvanceMode int

const (
	AdvanceGranted AdvanceMode = iota
	TimeAdvanceRequest
	TimeAdvanceRequestAvailable
	NextMessageRequest
	NextMessageRequestAvailable
	FlushQueueRequest
)

// advancePending reports whether m names an outstanding request.
func (m AdvanceMode) advancePending() bool { return m != AdvanceGranted }

// available reports whether m permits delivery of (and a grant at) the
// exact requested timestamp rather than strictly below it.
func (m AdvanceMode) available() bool {
	switch m {
	case TimeAdvanceRequestAvailable, NextMessageRequestAvailable, FlushQueueRequest:
		return true
	}
	return false
}

// nextMessage reports whether the grant time must be pulled back to the
// next buffered TSO timestamp.
func (m AdvanceMode) nextMessage() bool {
	return m == NextMessageRequest || m == NextMessageRequestAvailable
}

// FederateTime is one federate's complete time-management state
// (spec.md §4.5): both state machines, the advance mode, the lookahead
// and committed LBTS of a regulator, and the TSO queue of a constrained
// federate.
type FederateTime struct {
	Federate handle.Federate

	Regulation  RegulationMode
	Constrained ConstrainedMode
	Advance     AdvanceMode

	// Time is the federate's current (granted) logical time.
	Time Time
	// PendingTime is the requested advance target while Advance is pending.
	PendingTime Time
	Lookahead   Time

	// CommittedLBTS is the lower bound this regulator last committed; by
	// invariant it equals Time + Lookahead at the moment of the commit
	// (spec.md §8).
	CommittedLBTS Time
	// CommitID is the monotonically increasing serial carried by commit
	// messages; AckedCommitID records the highest of the federate's own
	// commit serials that the root has acknowledged. Grants and deliveries
	// do not wait on it.
	CommitID      uint64
	AckedCommitID uint64

	AsynchronousDelivery bool
	LockedByNextMessage  bool

	retractionSerial uint32

	Queue *TSOQueue
}

// NewFederateTime returns disabled time state for fed.
func NewFederateTime(fed handle.Federate) *FederateTime {
	return &FederateTime{Federate: fed, Queue: NewTSOQueue()}
}

// EnableRegulation starts the regulation enable handshake at the
// federate's current time with the given lookahead.
func (ft *FederateTime) EnableRegulation(lookahead Time) error {
	if ft.Regulation != RegulationDisabled {
		return rtierrors.New(rtierrors.CodeTimeRegulationAlreadyEnabled, "federate %v", ft.Federate)
	}
	if lookahead < 0 {
		return rtierrors.New(rtierrors.CodeInvalidLookahead, "lookahead %v", lookahead)
	}
	if ft.Advance.advancePending() {
		return rtierrors.New(rtierrors.CodeInTimeAdvancingState, "federate %v", ft.Federate)
	}
	ft.Regulation = RegulationEnablePending
	ft.Lookahead = lookahead
	return nil
}

// CompleteRegulationEnable finishes the handshake once the root has
// accepted the regulator, committing the initial LBTS.
func (ft *FederateTime) CompleteRegulationEnable() {
	ft.Regulation = RegulationEnabled
	ft.CommittedLBTS = ft.Time + ft.Lookahead
	ft.CommitID++
}

// DisableRegulation leaves the regulating set.
func (ft *FederateTime) DisableRegulation() error {
	if ft.Regulation != RegulationEnabled {
		return rtierrors.New(rtierrors.CodeTimeRegulationIsNotEnabled, "federate %v", ft.Federate)
	}
	ft.Regulation = RegulationDisabled
	return nil
}

// EnableConstrained starts the constrained enable handshake.
func (ft *FederateTime) EnableConstrained() error {
	if ft.Constrained != ConstrainedDisabled {
		return rtierrors.New(rtierrors.CodeTimeConstrainedAlreadyEnabled, "federate %v", ft.Federate)
	}
	if ft.Advance.advancePending() {
		return rtierrors.New(rtierrors.CodeInTimeAdvancingState, "federate %v", ft.Federate)
	}
	ft.Constrained = ConstrainedEnablePending
	return nil
}

// CompleteConstrainedEnable finishes the constrained handshake.
func (ft *FederateTime) CompleteConstrainedEnable() {
	ft.Constrained = ConstrainedEnabled
}

// DisableConstrained leaves the constrained set; any buffered TSO
// messages become deliverable immediately by the caller.
func (ft *FederateTime) DisableConstrained() error {
	if ft.Constrained != ConstrainedEnabled {
		return rtierrors.New(rtierrors.CodeTimeConstrainedIsNotEnabled, "federate %v", ft.Federate)
	}
	ft.Constrained = ConstrainedDisabled
	return nil
}

// RequestAdvance records a pending advance of the given mode toward t.
func (ft *FederateTime) RequestAdvance(mode AdvanceMode, t Time) error {
	if !mode.advancePending() {
		return rtierrors.New(rtierrors.CodeRTIInternalError, "advance request with mode Granted")
	}
	if ft.Advance.advancePending() {
		return rtierrors.New(rtierrors.CodeInTimeAdvancingState, "federate %v", ft.Federate)
	}
	if t < ft.Time {
		return rtierrors.New(rtierrors.CodeLogicalTimeAlreadyPassed, "%v < %v", t, ft.Time)
	}
	ft.Advance = mode
	ft.PendingTime = t
	ft.LockedByNextMessage = mode.nextMessage()
	return nil
}

// Grant completes the pending advance at grantTime: the federate's time
// moves, the mode resets, and a regulator's LBTS is recommitted.
func (ft *FederateTime) Grant(grantTime Time) {
	ft.Time = grantTime
	ft.Advance = AdvanceGranted
	ft.LockedByNextMessage = false
	if ft.Regulation == RegulationEnabled {
		ft.CommittedLBTS = ft.Time + ft.Lookahead
		ft.CommitID++
	}
}

// ShouldQueueTSO reports whether a timestamp-ordered message for this
// federate must be buffered rather than delivered in receive order: only
// an enabled constrained federate buffers (spec.md §4.5).
func (ft *FederateTime) ShouldQueueTSO() bool {
	return ft.Constrained == ConstrainedEnabled
}

// NextRetraction mints the next message-retraction handle for a
// timestamped message this federate sends.
func (ft *FederateTime) NextRetraction() handle.MessageRetraction {
	ft.retractionSerial++
	return handle.NewMessageRetraction(ft.Federate, ft.retractionSerial)
}
