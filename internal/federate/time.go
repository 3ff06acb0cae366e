package federate

import (
	"context"

	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/rtierrors"
	"github.com/openrti-go/rticore/internal/timemgmt"
)

// EnableTimeRegulation enters the regulating set with the given
// lookahead; on success the TimeRegulationEnabled callback carries the
// enabled-at time (spec.md §4.5).
func (a *Ambassador) EnableTimeRegulation(ctx context.Context, lookahead timemgmt.Time) error {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	if err := a.time.EnableRegulation(lookahead); err != nil {
		a.mu.Unlock()
		return err
	}
	req := &protocol.EnableTimeRegulationRequest{
		FederateHandle: a.federate,
		Time:           a.factory.Encode(a.time.Time),
		Lookahead:      a.factory.Encode(lookahead),
	}
	req.FederationHandle = a.federation
	req.CorrelationID = protocol.NewCorrelationID()
	a.mu.Unlock()

	resp, err := a.roundTrip(ctx, req.CorrelationID, req)
	if err != nil {
		a.mu.Lock()
		a.time.Regulation = timemgmt.RegulationDisabled
		a.mu.Unlock()
		return err
	}
	r, ok := resp.(*protocol.EnableTimeRegulationResponse)
	if !ok {
		return rtierrors.New(rtierrors.CodeMessageCouldNotDecode, "time regulation response")
	}
	a.mu.Lock()
	if !r.Success {
		a.time.Regulation = timemgmt.RegulationDisabled
		a.mu.Unlock()
		return rtierrors.New(rtierrors.Code(r.ErrCode), "time regulation refused")
	}
	a.time.CompleteRegulationEnable()
	enabled := &protocol.TimeRegulationEnabled{
		FederateHandle: a.federate,
		Time:           a.factory.Encode(a.time.Time),
	}
	enabled.FederationHandle = a.federation
	a.mu.Unlock()
	a.enqueueCallback(enabled)
	return nil
}

// DisableTimeRegulation leaves the regulating set.
func (a *Ambassador) DisableTimeRegulation() error {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	if err := a.time.DisableRegulation(); err != nil {
		a.mu.Unlock()
		return err
	}
	msg := &protocol.DisableTimeRegulationRequest{FederateHandle: a.federate}
	msg.FederationHandle = a.federation
	a.mu.Unlock()
	return a.send(msg)
}

// EnableTimeConstrained enters the constrained set; the
// TimeConstrainedEnabled callback fires once the state machine settles.
func (a *Ambassador) EnableTimeConstrained() error {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	if err := a.time.EnableConstrained(); err != nil {
		a.mu.Unlock()
		return err
	}
	a.time.CompleteConstrainedEnable()
	enabled := &protocol.TimeConstrainedEnabled{
		FederateHandle: a.federate,
		Time:           a.factory.Encode(a.time.Time),
	}
	enabled.FederationHandle = a.federation
	a.mu.Unlock()
	a.enqueueCallback(enabled)
	return nil
}

// DisableTimeConstrained leaves the constrained set; anything still in
// the TSO queue becomes deliverable immediately.
func (a *Ambassador) DisableTimeConstrained() error {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	if err := a.time.DisableConstrained(); err != nil {
		a.mu.Unlock()
		return err
	}
	drained := a.time.Queue.PopAll()
	a.mu.Unlock()
	for _, e := range drained {
		a.enqueueCallback(e.Message)
	}
	return nil
}

// EnableAsynchronousDelivery lets receive-order messages through outside
// an active advance (spec.md §4.5).
func (a *Ambassador) EnableAsynchronousDelivery() {
	a.mu.Lock()
	if a.time == nil {
		a.mu.Unlock()
		return
	}
	a.time.AsynchronousDelivery = true
	held := a.held
	a.held = nil
	a.mu.Unlock()
	for _, m := range held {
		a.enqueueCallback(m)
	}
}

// DisableAsynchronousDelivery holds receive-order messages back until an
// advance is active.
func (a *Ambassador) DisableAsynchronousDelivery() {
	a.mu.Lock()
	if a.time != nil {
		a.time.AsynchronousDelivery = false
	}
	a.mu.Unlock()
}

// TimeAdvanceRequest asks to advance to t; messages strictly below t are
// delivered before the grant.
func (a *Ambassador) TimeAdvanceRequest(t timemgmt.Time) error {
	return a.advance(timemgmt.TimeAdvanceRequest, t)
}

// TimeAdvanceRequestAvailable is the variant that may deliver and grant
// at exactly t.
func (a *Ambassador) TimeAdvanceRequestAvailable(t timemgmt.Time) error {
	return a.advance(timemgmt.TimeAdvanceRequestAvailable, t)
}

// NextMessageRequest advances to the earlier of t and the next buffered
// TSO timestamp.
func (a *Ambassador) NextMessageRequest(t timemgmt.Time) error {
	return a.advance(timemgmt.NextMessageRequest, t)
}

// NextMessageRequestAvailable is the equal-timestamp-permitting variant.
func (a *Ambassador) NextMessageRequestAvailable(t timemgmt.Time) error {
	return a.advance(timemgmt.NextMessageRequestAvailable, t)
}

// FlushQueueRequest drains the TSO queue regardless of GALT.
func (a *Ambassador) FlushQueueRequest(t timemgmt.Time) error {
	return a.advance(timemgmt.FlushQueueRequest, t)
}

func (a *Ambassador) advance(mode timemgmt.AdvanceMode, t timemgmt.Time) error {
	a.mu.Lock()
	if err := a.requireJoined(); err != nil {
		a.mu.Unlock()
		return err
	}
	if err := a.time.RequestAdvance(mode, t); err != nil {
		a.mu.Unlock()
		return err
	}
	var lock *protocol.LockedByNextMessageRequest
	if a.time.LockedByNextMessage {
		lock = &protocol.LockedByNextMessageRequest{FederateHandle: a.federate, Locked: true}
		lock.FederationHandle = a.federation
	}
	// An active advance releases held receive-order messages.
	held := a.held
	a.held = nil
	a.mu.Unlock()

	for _, m := range held {
		a.enqueueCallback(m)
	}
	if lock != nil {
		if err := a.send(lock); err != nil {
			return err
		}
	}
	a.evaluateAdvance()
	return nil
}

// evaluateAdvance re-runs the grant decision after anything that could
// unblock it: an advance request, a regulator commit, a regulator
// leaving, or a TSO arrival during a next-message request.
func (a *Ambassador) evaluateAdvance() {
	a.mu.Lock()
	if a.time == nil {
		a.mu.Unlock()
		return
	}
	wasLocked := a.time.LockedByNextMessage
	granted, at, deliveries := a.galt.EvaluateAdvance(a.time)
	if !granted {
		a.mu.Unlock()
		return
	}

	var toSend []protocol.Message
	if wasLocked {
		unlock := &protocol.LockedByNextMessageRequest{FederateHandle: a.federate, Locked: false}
		unlock.FederationHandle = a.federation
		toSend = append(toSend, unlock)
	}
	if a.time.Regulation == timemgmt.RegulationEnabled {
		commit := &protocol.CommitLowerBoundTimeStamp{
			FederateHandle: a.federate,
			CommitID:       a.time.CommitID,
			LBTS:           a.factory.Encode(a.time.CommittedLBTS),
		}
		commit.FederationHandle = a.federation
		toSend = append(toSend, commit)
	}
	grant := &protocol.TimeAdvanceGranted{
		FederateHandle: a.federate,
		Time:           a.factory.Encode(at),
	}
	grant.FederationHandle = a.federation
	a.mu.Unlock()

	for _, m := range toSend {
		if err := a.send(m); err != nil {
			a.logger.Warnw("time commit send failed", "err", err)
		}
	}
	for _, e := range deliveries {
		a.enqueueCallback(e.Message)
	}
	a.enqueueCallback(grant)
}

// LogicalTime returns the federate's current granted time.
func (a *Ambassador) LogicalTime() timemgmt.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.time == nil {
		return 0
	}
	return a.time.Time
}

// QueryGALT reports the greatest available logical time as seen by this
// federate, false when no other regulator bounds it.
func (a *Ambassador) QueryGALT() (timemgmt.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.galt == nil {
		return 0, false
	}
	return a.galt.GALT(a.federate)
}
