package federate

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/telemetry"
	"github.com/openrti-go/rticore/internal/timemgmt"
)

// correlationOf extracts the ambient correlation id carried by every
// protocol message envelope.
func correlationOf(msg protocol.Message) (uuid.UUID, bool) {
	type correlated interface{ Correlation() uuid.UUID }
	c, ok := msg.(correlated)
	if !ok {
		return uuid.UUID{}, false
	}
	id := c.Correlation()
	return id, id != uuid.UUID{}
}

// enqueueCallback places a callback for the federate to evoke. The
// channel stands in for the out-of-scope callback queue; per-federate
// FIFO comes from the single receive loop feeding it (spec.md §5).
func (a *Ambassador) enqueueCallback(msg protocol.Message) {
	select {
	case a.callbacks <- msg:
	case <-a.stop:
	}
}

// EvokeCallback waits up to timeout for one pending callback,
// returning nil on deadline (spec.md §5 suspension points).
func (a *Ambassador) EvokeCallback(timeout time.Duration) protocol.Message {
	select {
	case msg := <-a.callbacks:
		return msg
	case <-time.After(timeout):
		return nil
	case <-a.stop:
		return nil
	}
}

// receive is the ambassador's single reader: every message from the
// connect is dispatched here, serializing all mirror mutation the same
// way a server node serializes its own (spec.md §5).
func (a *Ambassador) receive() {
	ctx := context.Background()
	for {
		msg, err := a.conn.Receive(ctx)
		if err != nil {
			select {
			case <-a.stop:
			default:
				lost := &protocol.ConnectionLost{Reason: err.Error(), At: time.Now()}
				a.enqueueCallback(lost)
				a.failPending()
			}
			return
		}
		a.dispatch(msg)
	}
}

// failPending wakes every blocked rendezvous with a connection failure.
func (a *Ambassador) failPending() {
	a.mu.Lock()
	pending := a.pending
	a.pending = map[uuid.UUID]chan protocol.Message{}
	a.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (a *Ambassador) dispatch(msg protocol.Message) {
	// Correlated responses wake their rendezvous first.
	if id, ok := correlationOf(msg); ok {
		a.mu.Lock()
		ch, waiting := a.pending[id]
		a.mu.Unlock()
		if waiting {
			select {
			case ch <- msg:
			default:
			}
			switch msg.(type) {
			case *protocol.CreateFederationExecutionResponse,
				*protocol.DestroyFederationExecutionResponse,
				*protocol.JoinFederationExecutionResponse,
				*protocol.ReserveObjectInstanceNameResponse,
				*protocol.ReserveMultipleObjectInstanceNameResponse,
				*protocol.ObjectInstanceHandlesResponse,
				*protocol.EnableTimeRegulationResponse:
				return
			}
		}
	}

	switch m := msg.(type) {

	// --- time management ---

	case *protocol.CommitLowerBoundTimeStamp:
		a.mu.Lock()
		if a.galt == nil {
			a.mu.Unlock()
			return
		}
		lbts, err := a.factory.Decode(m.LBTS)
		if err != nil {
			a.mu.Unlock()
			a.logger.Warnw("bad commit", "err", err)
			return
		}
		a.galt.Commit(m.FederateHandle, m.CommitID, lbts)
		a.mu.Unlock()
		a.evaluateAdvance()
	case *protocol.CommitLowerBoundTimeStampResponse:
		a.mu.Lock()
		if a.time != nil && m.FederateHandle == a.federate && m.CommitID > a.time.AckedCommitID {
			a.time.AckedCommitID = m.CommitID
		}
		a.mu.Unlock()
	case *protocol.DisableTimeRegulationRequest:
		a.mu.Lock()
		if a.galt != nil {
			a.galt.EraseRegulator(m.FederateHandle)
		}
		a.mu.Unlock()
		a.evaluateAdvance()
	case *protocol.LockedByNextMessageRequest:
		a.mu.Lock()
		if a.galt != nil {
			a.galt.SetLocked(m.FederateHandle, m.Locked)
		}
		a.mu.Unlock()

	// --- object instances ---

	case *protocol.InsertObjectInstance:
		a.mu.Lock()
		a.known[m.ObjectInstance] = &knownObject{class: m.ObjectClass, name: m.Name}
		a.mu.Unlock()
		a.enqueueCallback(m)
	case *protocol.DeleteObjectInstance:
		a.mu.Lock()
		delete(a.known, m.ObjectInstance)
		a.mu.Unlock()
		a.enqueueCallback(m)
	case *protocol.TimeStampedDeleteObjectInstance:
		a.mu.Lock()
		delete(a.known, m.ObjectInstance)
		a.mu.Unlock()
		a.queueOrDeliverTSO(msg, m.Timestamp, m.MessageRetraction)
	case *protocol.AttributeUpdate:
		a.deliverReceiveOrder(m)
	case *protocol.TimeStampedAttributeUpdate:
		a.queueOrDeliverTSO(msg, m.Timestamp, m.MessageRetraction)
	case *protocol.Interaction:
		a.deliverReceiveOrder(m)
	case *protocol.TimeStampedInteraction:
		a.queueOrDeliverTSO(msg, m.Timestamp, m.MessageRetraction)

	// --- synchronization, lifecycle, advisories ---

	case *protocol.AnnounceSynchronizationPoint,
		*protocol.FederationSynchronized,
		*protocol.ReserveObjectInstanceNameResponse,
		*protocol.ReserveMultipleObjectInstanceNameResponse,
		*protocol.RequestAttributeUpdate,
		*protocol.RegistrationForObjectClass,
		*protocol.TurnInteractionsOn,
		*protocol.TurnUpdatesOnForInstance,
		*protocol.AttributesInScope,
		*protocol.AttributesOutOfScope,
		*protocol.ConnectionLost:
		a.enqueueCallback(msg)
	case *protocol.EraseFederationExecution:
		a.mu.Lock()
		a.joined = false
		a.mu.Unlock()
		a.enqueueCallback(msg)

	default:
		// Routing chatter (publication/subscription changes, federation
		// replication) does not concern an ambassador.
	}
}

// deliverReceiveOrder delivers a receive-order message now, or, for an
// enabled time-constrained federate, holds it while asynchronous delivery
// is off outside an active advance.
func (a *Ambassador) deliverReceiveOrder(msg protocol.Message) {
	a.mu.Lock()
	hold := a.time != nil && !a.time.AsynchronousDelivery &&
		a.time.ShouldQueueTSO() && a.time.Advance == timemgmt.AdvanceGranted
	if hold {
		a.held = append(a.held, msg)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	a.enqueueCallback(msg)
}

// queueOrDeliverTSO buffers a timestamp-ordered message while the
// federate is constrained, otherwise delivers it in receive order.
func (a *Ambassador) queueOrDeliverTSO(msg protocol.Message, ts protocol.VariableLengthData, retraction handle.MessageRetraction) {
	a.mu.Lock()
	if a.time == nil || !a.time.ShouldQueueTSO() {
		a.mu.Unlock()
		a.enqueueCallback(msg)
		return
	}
	t, err := a.factory.Decode(ts)
	if err != nil {
		a.mu.Unlock()
		a.logger.Warnw("bad timestamp on timestamp-ordered message", "err", err)
		return
	}
	a.time.Queue.Push(t, retraction, msg)
	telemetry.TSOQueueDepth.WithLabelValues(strconv.Itoa(int(a.federate))).Set(float64(a.time.Queue.Len()))
	a.mu.Unlock()
	// A pending next-message request may now have a nearer target.
	a.evaluateAdvance()
}
