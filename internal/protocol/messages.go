package protocol

import (
	"time"

	"github.com/openrti-go/rticore/internal/handle"
)

// --- Federation execution lifecycle ---

type CreateFederationExecutionRequest struct {
	base
	FederationName        string
	LogicalTimeFactoryName string
	FOMModules             [][]byte
}

func (CreateFederationExecutionRequest) Kind() MessageKind { return KindCreateFederationExecutionRequest }

type CreateFederationExecutionResponse struct {
	base
	Success bool
	ErrCode int // rtierrors.Code, kept untyped here to avoid an import cycle
	ErrMsg  string
}

func (CreateFederationExecutionResponse) Kind() MessageKind {
	return KindCreateFederationExecutionResponse
}

type DestroyFederationExecutionRequest struct {
	base
	FederationName string
}

func (DestroyFederationExecutionRequest) Kind() MessageKind {
	return KindDestroyFederationExecutionRequest
}

type DestroyFederationExecutionResponse struct {
	base
	Success bool
	ErrCode int
	ErrMsg  string
}

func (DestroyFederationExecutionResponse) Kind() MessageKind {
	return KindDestroyFederationExecutionResponse
}

type JoinFederationExecutionRequest struct {
	base
	FederationName string
	FederateName   string
	FederateType   string
	FOMModules     [][]byte
}

func (JoinFederationExecutionRequest) Kind() MessageKind { return KindJoinFederationExecutionRequest }

type JoinFederationExecutionResponse struct {
	base
	Success              bool
	FederateHandle       handle.Federate
	LogicalTimeFactoryName string
	ModuleList           [][]byte
	ErrCode              int
	ErrMsg               string
}

func (JoinFederationExecutionResponse) Kind() MessageKind {
	return KindJoinFederationExecutionResponse
}

// ResignAction mirrors the ambassador-supplied directive executed on resign
// (spec.md §3 Federate, §8 scenario 5).
type ResignAction uint8

const (
	ResignUnconditionalDivest ResignAction = iota
	ResignDeleteObjects
	ResignCancelThenDeleteThenDivest
	ResignDivestThenDeleteObjects
	ResignNoAction
)

type ResignFederationExecutionLeafRequest struct {
	base
	FederateHandle handle.Federate
	Action         ResignAction
}

func (ResignFederationExecutionLeafRequest) Kind() MessageKind {
	return KindResignFederationExecutionLeafRequest
}

type EraseFederationExecution struct {
	base
	FederationName string
}

func (EraseFederationExecution) Kind() MessageKind { return KindEraseFederationExecution }

type ReleaseFederationHandle struct {
	base
}

func (ReleaseFederationHandle) Kind() MessageKind { return KindReleaseFederationHandle }

// --- FOM modules ---

type InsertModules struct {
	base
	Modules [][]byte
}

func (InsertModules) Kind() MessageKind { return KindInsertModules }

type InsertFederationExecution struct {
	base
	FederationName         string
	LogicalTimeFactoryName string
	Modules                [][]byte
}

func (InsertFederationExecution) Kind() MessageKind { return KindInsertFederationExecution }

// --- Synchronization points ---

type RegisterFederationSynchronizationPoint struct {
	base
	Label        string
	Tag          []byte
	FederateSet  []handle.Federate // empty means "all currently joined federates"
}

func (RegisterFederationSynchronizationPoint) Kind() MessageKind {
	return KindRegisterFederationSynchronizationPoint
}

type AnnounceSynchronizationPoint struct {
	base
	Label string
	Tag   []byte
}

func (AnnounceSynchronizationPoint) Kind() MessageKind { return KindAnnounceSynchronizationPoint }

type SynchronizationPointAchieved struct {
	base
	Label          string
	FederateHandle handle.Federate
	Successful     bool
}

func (SynchronizationPointAchieved) Kind() MessageKind { return KindSynchronizationPointAchieved }

type FederationSynchronized struct {
	base
	Label          string
	SuccessByFederate map[handle.Federate]bool
}

func (FederationSynchronized) Kind() MessageKind { return KindFederationSynchronized }

// --- Publish / subscribe ---

type PublicationType uint8

const (
	Unpublished PublicationType = iota
	Published
)

type SubscriptionType uint8

const (
	Unsubscribed SubscriptionType = iota
	SubscribedPassive
	SubscribedActive
)

type ChangeObjectClassPublication struct {
	base
	ObjectClass     handle.ObjectClass
	Attributes      []handle.Attribute
	PublicationType PublicationType
	ConnectHandle   handle.Connect
}

func (ChangeObjectClassPublication) Kind() MessageKind { return KindChangeObjectClassPublication }

type ChangeObjectClassSubscription struct {
	base
	ObjectClass      handle.ObjectClass
	Attributes       []handle.Attribute
	SubscriptionType SubscriptionType
	ConnectHandle    handle.Connect
}

func (ChangeObjectClassSubscription) Kind() MessageKind { return KindChangeObjectClassSubscription }

type ChangeInteractionClassPublication struct {
	base
	InteractionClass handle.InteractionClass
	PublicationType  PublicationType
	ConnectHandle    handle.Connect
}

func (ChangeInteractionClassPublication) Kind() MessageKind {
	return KindChangeInteractionClassPublication
}

type ChangeInteractionClassSubscription struct {
	base
	InteractionClass handle.InteractionClass
	SubscriptionType SubscriptionType
	ConnectHandle    handle.Connect
}

func (ChangeInteractionClassSubscription) Kind() MessageKind {
	return KindChangeInteractionClassSubscription
}

type RegistrationForObjectClass struct {
	base
	ObjectClass handle.ObjectClass
	Start       bool
	ConnectHandle handle.Connect
}

func (RegistrationForObjectClass) Kind() MessageKind { return KindRegistrationForObjectClass }

type TurnInteractionsOn struct {
	base
	InteractionClass handle.InteractionClass
	On               bool
	ConnectHandle    handle.Connect
}

func (TurnInteractionsOn) Kind() MessageKind { return KindTurnInteractionsOn }

// --- Object instance naming and handles ---

type ReserveObjectInstanceNameRequest struct {
	base
	FederateHandle handle.Federate
	Name           string
}

func (ReserveObjectInstanceNameRequest) Kind() MessageKind {
	return KindReserveObjectInstanceNameRequest
}

type ReserveObjectInstanceNameResponse struct {
	base
	Name    string
	Success bool
	Handle  handle.ObjectInstance
}

func (ReserveObjectInstanceNameResponse) Kind() MessageKind {
	return KindReserveObjectInstanceNameResponse
}

type ReserveMultipleObjectInstanceNameRequest struct {
	base
	FederateHandle handle.Federate
	Names          []string
}

func (ReserveMultipleObjectInstanceNameRequest) Kind() MessageKind {
	return KindReserveMultipleObjectInstanceNameRequest
}

type ReserveMultipleObjectInstanceNameResponse struct {
	base
	Names   []string
	Success bool
	Handles []handle.ObjectInstance
}

func (ReserveMultipleObjectInstanceNameResponse) Kind() MessageKind {
	return KindReserveMultipleObjectInstanceNameResponse
}

type ReleaseMultipleObjectInstanceNameHandlePairs struct {
	base
	FederateHandle handle.Federate
	Names          []string
}

func (ReleaseMultipleObjectInstanceNameHandlePairs) Kind() MessageKind {
	return KindReleaseMultipleObjectInstanceNameHandlePairs
}

type ObjectInstanceHandlesRequest struct {
	base
	FederateHandle handle.Federate
	Count          int
}

func (ObjectInstanceHandlesRequest) Kind() MessageKind { return KindObjectInstanceHandlesRequest }

type ObjectInstanceHandlesResponse struct {
	base
	Handles []handle.ObjectInstance
}

func (ObjectInstanceHandlesResponse) Kind() MessageKind { return KindObjectInstanceHandlesResponse }

// --- Object instance lifecycle & data ---

type InsertObjectInstance struct {
	base
	ObjectInstance handle.ObjectInstance
	ObjectClass    handle.ObjectClass
	Name           string
	// KnownAttributes lists the attribute handles the receiving connect is
	// subscribed to, so it knows which ones to expect updates for.
	KnownAttributes []handle.Attribute
}

func (InsertObjectInstance) Kind() MessageKind { return KindInsertObjectInstance }

type DeleteObjectInstance struct {
	base
	ObjectInstance handle.ObjectInstance
	Tag            []byte
}

func (DeleteObjectInstance) Kind() MessageKind { return KindDeleteObjectInstance }

type TimeStampedDeleteObjectInstance struct {
	base
	ObjectInstance    handle.ObjectInstance
	Tag               []byte
	Timestamp         VariableLengthData
	MessageRetraction handle.MessageRetraction
}

func (TimeStampedDeleteObjectInstance) Kind() MessageKind {
	return KindTimeStampedDeleteObjectInstance
}

// AttributeValue pairs an attribute handle with its encoded value, the unit
// a passel is built from (spec.md §4.4).
type AttributeValue struct {
	Attribute handle.Attribute
	Value     VariableLengthData
}

type AttributeUpdate struct {
	base
	ObjectInstance handle.ObjectInstance
	Values         []AttributeValue
	Transportation TransportType
	Order          OrderType
}

func (AttributeUpdate) Kind() MessageKind { return KindAttributeUpdate }

type TimeStampedAttributeUpdate struct {
	base
	ObjectInstance    handle.ObjectInstance
	Values            []AttributeValue
	Transportation    TransportType
	Timestamp         VariableLengthData
	MessageRetraction handle.MessageRetraction
}

func (TimeStampedAttributeUpdate) Kind() MessageKind { return KindTimeStampedAttributeUpdate }

type ParameterValue struct {
	Parameter handle.Parameter
	Value     VariableLengthData
}

type Interaction struct {
	base
	InteractionClass handle.InteractionClass
	Values           []ParameterValue
	Transportation   TransportType
	Order            OrderType
}

func (Interaction) Kind() MessageKind { return KindInteraction }

type TimeStampedInteraction struct {
	base
	InteractionClass  handle.InteractionClass
	Values            []ParameterValue
	Transportation    TransportType
	Timestamp         VariableLengthData
	MessageRetraction handle.MessageRetraction
}

func (TimeStampedInteraction) Kind() MessageKind { return KindTimeStampedInteraction }

type RequestAttributeUpdate struct {
	base
	ObjectInstance handle.ObjectInstance
	Attributes     []handle.Attribute
	Tag            []byte
}

func (RequestAttributeUpdate) Kind() MessageKind { return KindRequestAttributeUpdate }

type RequestClassAttributeUpdate struct {
	base
	ObjectClass handle.ObjectClass
	Attributes  []handle.Attribute
	Tag         []byte
}

func (RequestClassAttributeUpdate) Kind() MessageKind { return KindRequestClassAttributeUpdate }

// --- Regions (DDM; subscription filtering is stubbed per spec.md §9 Open Questions) ---

type DimensionRange struct {
	Dimension handle.Dimension
	Lower     uint64
	Upper     uint64
}

type InsertRegion struct {
	base
	Region     handle.Region
	Dimensions []handle.Dimension
}

func (InsertRegion) Kind() MessageKind { return KindInsertRegion }

type CommitRegion struct {
	base
	Region handle.Region
	Ranges []DimensionRange
}

func (CommitRegion) Kind() MessageKind { return KindCommitRegion }

type EraseRegion struct {
	base
	Region handle.Region
}

func (EraseRegion) Kind() MessageKind { return KindEraseRegion }

// --- Time management ---

type EnableTimeRegulationRequest struct {
	base
	FederateHandle handle.Federate
	Time           VariableLengthData
	Lookahead      VariableLengthData
}

func (EnableTimeRegulationRequest) Kind() MessageKind { return KindEnableTimeRegulationRequest }

type EnableTimeRegulationResponse struct {
	base
	FederateHandle handle.Federate
	Success        bool
	ErrCode        int
}

func (EnableTimeRegulationResponse) Kind() MessageKind { return KindEnableTimeRegulationResponse }

type DisableTimeRegulationRequest struct {
	base
	FederateHandle handle.Federate
}

func (DisableTimeRegulationRequest) Kind() MessageKind { return KindDisableTimeRegulationRequest }

type CommitLowerBoundTimeStamp struct {
	base
	FederateHandle handle.Federate
	CommitID       uint64
	LBTS           VariableLengthData
}

func (CommitLowerBoundTimeStamp) Kind() MessageKind { return KindCommitLowerBoundTimeStamp }

type CommitLowerBoundTimeStampResponse struct {
	base
	FederateHandle handle.Federate
	CommitID       uint64
}

func (CommitLowerBoundTimeStampResponse) Kind() MessageKind {
	return KindCommitLowerBoundTimeStampResponse
}

type LockedByNextMessageRequest struct {
	base
	FederateHandle handle.Federate
	Locked         bool
}

func (LockedByNextMessageRequest) Kind() MessageKind { return KindLockedByNextMessageRequest }

type TimeConstrainedEnabled struct {
	base
	FederateHandle handle.Federate
	Time           VariableLengthData
}

func (TimeConstrainedEnabled) Kind() MessageKind { return KindTimeConstrainedEnabled }

type TimeRegulationEnabled struct {
	base
	FederateHandle handle.Federate
	Time           VariableLengthData
}

func (TimeRegulationEnabled) Kind() MessageKind { return KindTimeRegulationEnabled }

type TimeAdvanceGranted struct {
	base
	FederateHandle handle.Federate
	Time           VariableLengthData
}

func (TimeAdvanceGranted) Kind() MessageKind { return KindTimeAdvanceGranted }

type AttributesInScope struct {
	base
	ObjectInstance handle.ObjectInstance
	Attributes     []handle.Attribute
}

func (AttributesInScope) Kind() MessageKind { return KindAttributesInScope }

type AttributesOutOfScope struct {
	base
	ObjectInstance handle.ObjectInstance
	Attributes     []handle.Attribute
}

func (AttributesOutOfScope) Kind() MessageKind { return KindAttributesOutOfScope }

type TurnUpdatesOnForInstance struct {
	base
	ObjectInstance handle.ObjectInstance
	Attributes     []handle.Attribute
	On             bool
}

func (TurnUpdatesOnForInstance) Kind() MessageKind { return KindTurnUpdatesOnForInstance }

// --- Discovery & connection lifecycle ---

type EnumerateFederationExecutionsRequest struct {
	base
}

func (EnumerateFederationExecutionsRequest) Kind() MessageKind {
	return KindEnumerateFederationExecutionsRequest
}

type FederationExecutionInformation struct {
	Name                   string
	LogicalTimeFactoryName string
}

type EnumerateFederationExecutionsResponse struct {
	base
	Federations []FederationExecutionInformation
}

func (EnumerateFederationExecutionsResponse) Kind() MessageKind {
	return KindEnumerateFederationExecutionsResponse
}

type ConnectionLost struct {
	base
	ConnectHandle handle.Connect
	Reason        string
	At            time.Time
}

func (ConnectionLost) Kind() MessageKind { return KindConnectionLost }
