// Package protocol defines the tagged wire-message stream of spec.md §6:
// one Go type per message kind, big-endian handle encoding, and the
// copy-on-write VariableLengthData payload wrapper of spec.md §5.
package protocol

import (
	"sync"

	"github.com/google/uuid"
	"github.com/openrti-go/rticore/internal/handle"
)

// OrderType is an attribute's or parameter's delivery order (spec.md §3).
type OrderType uint8

const (
	OrderReceive OrderType = iota
	OrderTimeStamp
)

func (o OrderType) String() string {
	if o == OrderTimeStamp {
		return "TimeStamp"
	}
	return "Receive"
}

// TransportType is an attribute's or parameter's transport reliability (spec.md §3).
type TransportType uint8

const (
	TransportReliable TransportType = iota
	TransportBestEffort
)

func (t TransportType) String() string {
	if t == TransportBestEffort {
		return "BestEffort"
	}
	return "Reliable"
}

// VariableLengthData is a reference-counted, copy-on-write payload buffer
// (spec.md §5): reads of shared content need no synchronization, and a
// write privatizes the backing array first.
type VariableLengthData struct {
	shared *sharedBuf
}

type sharedBuf struct {
	mu   sync.Mutex
	data []byte
	refs int
}

// NewVariableLengthData wraps buf without copying it. Callers must not
// mutate buf afterwards; use Write if the data needs to change later.
func NewVariableLengthData(buf []byte) VariableLengthData {
	return VariableLengthData{shared: &sharedBuf{data: buf, refs: 1}}
}

// Bytes returns the current payload. The returned slice must not be mutated.
func (v VariableLengthData) Bytes() []byte {
	if v.shared == nil {
		return nil
	}
	return v.shared.data
}

// Len returns the payload length.
func (v VariableLengthData) Len() int {
	if v.shared == nil {
		return 0
	}
	return len(v.shared.data)
}

// Clone returns a cheap reference-counted copy that shares the backing
// array until either side writes.
func (v VariableLengthData) Clone() VariableLengthData {
	if v.shared == nil {
		return v
	}
	v.shared.mu.Lock()
	v.shared.refs++
	v.shared.mu.Unlock()
	return v
}

// Write replaces the payload, privatizing the backing array first if it is
// still shared with another clone.
func (v *VariableLengthData) Write(buf []byte) {
	if v.shared == nil || v.shared.refs > 1 {
		v.shared = &sharedBuf{data: buf, refs: 1}
		return
	}
	v.shared.data = buf
}

// MessageKind tags every wire message (spec.md §6).
type MessageKind int

const (
	KindCreateFederationExecutionRequest MessageKind = iota
	KindCreateFederationExecutionResponse
	KindDestroyFederationExecutionRequest
	KindDestroyFederationExecutionResponse
	KindJoinFederationExecutionRequest
	KindJoinFederationExecutionResponse
	KindResignFederationExecutionLeafRequest
	KindEraseFederationExecution
	KindReleaseFederationHandle
	KindInsertModules
	KindInsertFederationExecution
	KindRegisterFederationSynchronizationPoint
	KindAnnounceSynchronizationPoint
	KindSynchronizationPointAchieved
	KindFederationSynchronized
	KindChangeObjectClassPublication
	KindChangeObjectClassSubscription
	KindChangeInteractionClassPublication
	KindChangeInteractionClassSubscription
	KindRegistrationForObjectClass
	KindTurnInteractionsOn
	KindReserveObjectInstanceNameRequest
	KindReserveObjectInstanceNameResponse
	KindReserveMultipleObjectInstanceNameRequest
	KindReserveMultipleObjectInstanceNameResponse
	KindReleaseMultipleObjectInstanceNameHandlePairs
	KindObjectInstanceHandlesRequest
	KindObjectInstanceHandlesResponse
	KindInsertObjectInstance
	KindDeleteObjectInstance
	KindTimeStampedDeleteObjectInstance
	KindAttributeUpdate
	KindTimeStampedAttributeUpdate
	KindInteraction
	KindTimeStampedInteraction
	KindRequestAttributeUpdate
	KindRequestClassAttributeUpdate
	KindInsertRegion
	KindCommitRegion
	KindEraseRegion
	KindEnableTimeRegulationRequest
	KindEnableTimeRegulationResponse
	KindDisableTimeRegulationRequest
	KindCommitLowerBoundTimeStamp
	KindCommitLowerBoundTimeStampResponse
	KindLockedByNextMessageRequest
	KindTimeConstrainedEnabled
	KindTimeRegulationEnabled
	KindTimeAdvanceGranted
	KindAttributesInScope
	KindAttributesOutOfScope
	KindTurnUpdatesOnForInstance
	KindEnumerateFederationExecutionsRequest
	KindEnumerateFederationExecutionsResponse
	KindConnectionLost
)

// Message is the common envelope every wire message satisfies: a kind tag
// and, when applicable, the federation it targets.
type Message interface {
	Kind() MessageKind
	Federation() handle.Federation
}

// base is embedded by every concrete message to provide Federation().
type base struct {
	FederationHandle handle.Federation
	// CorrelationID pairs a request with its response (SPEC_FULL.md §3.1):
	// a non-root node routes a forwarded response back to its origin by it,
	// and an ambassador wakes the waiting round trip by it. The zero value
	// marks a message outside any such pair.
	CorrelationID uuid.UUID
}

func (b base) Federation() handle.Federation { return b.FederationHandle }

// Correlation returns the ambient id a request/response pair shares.
func (b base) Correlation() uuid.UUID { return b.CorrelationID }

// NewCorrelationID mints a fresh ambient correlation id for a new request.
func NewCorrelationID() uuid.UUID { return uuid.New() }
