// Package rtierrors defines the sum-typed error categories of spec.md §7,
// the way the teacher's internal/api package defines S3Error: a typed
// error carrying a stable Code, never a bare fmt.Errorf string, for
// anything that crosses a connect or gets translated by a federate
// ambassador into a caller-visible exception.
package rtierrors

import "fmt"

// Category groups error Codes by how they are raised and propagated
// (spec.md §7).
type Category int

const (
	// CategoryPrecondition errors are raised synchronously from local
	// state inspection and never disturb the connection.
	CategoryPrecondition Category = iota
	// CategoryFederationState errors are returned by the root in a
	// response message; the partial join/create is rolled back.
	CategoryFederationState
	// CategoryTime errors are validated locally against the time factory.
	CategoryTime
	// CategoryResource errors are unrecoverable: the connect is closed and
	// every federate reached through it is resigned.
	CategoryResource
	// CategoryMessage marks a malformed or out-of-context peer message,
	// fatal to the connect that sent it.
	CategoryMessage
)

// Code enumerates the specific conditions named in spec.md §7 and §8.
type Code int

const (
	CodeNotConnected Code = iota
	CodeFederateNotExecutionMember
	CodeObjectClassNotDefined
	CodeObjectClassNotPublished
	CodeAttributeNotDefined
	CodeAttributeNotOwned
	CodeAttributeNotPublished
	CodeInteractionClassNotDefined
	CodeInteractionClassNotPublished
	CodeObjectInstanceNotKnown
	CodeIllegalName
	CodeSaveInProgress
	CodeRestoreInProgress
	CodeNotSupported

	CodeFederationExecutionAlreadyExists
	CodeFederationExecutionDoesNotExist
	CodeFederateNameAlreadyInUse
	CodeObjectInstanceNameInUse
	CodeObjectInstanceNameNotReserved
	CodeInconsistentFDD
	CodeFederatesCurrentlyJoined
	CodeCouldNotCreateLogicalTimeFactory

	CodeInvalidLogicalTime
	CodeInvalidLookahead
	CodeLogicalTimeAlreadyPassed
	CodeTimeRegulationAlreadyEnabled
	CodeTimeRegulationIsNotEnabled
	CodeTimeConstrainedAlreadyEnabled
	CodeTimeConstrainedIsNotEnabled
	CodeInTimeAdvancingState

	CodeResourceError
	CodeTransportError
	CodeRTIInternalError

	CodeMessageCouldNotDecode
)

var codeNames = map[Code]string{
	CodeNotConnected:                      "NotConnected",
	CodeFederateNotExecutionMember:        "FederateNotExecutionMember",
	CodeObjectClassNotDefined:             "ObjectClassNotDefined",
	CodeObjectClassNotPublished:           "ObjectClassNotPublished",
	CodeAttributeNotDefined:               "AttributeNotDefined",
	CodeAttributeNotOwned:                 "AttributeNotOwned",
	CodeAttributeNotPublished:             "AttributeNotPublished",
	CodeInteractionClassNotDefined:        "InteractionClassNotDefined",
	CodeInteractionClassNotPublished:      "InteractionClassNotPublished",
	CodeObjectInstanceNotKnown:            "ObjectInstanceNotKnown",
	CodeIllegalName:                       "IllegalName",
	CodeSaveInProgress:                    "SaveInProgress",
	CodeRestoreInProgress:                 "RestoreInProgress",
	CodeNotSupported:                      "NotSupported",
	CodeFederationExecutionAlreadyExists:  "FederationExecutionAlreadyExists",
	CodeFederationExecutionDoesNotExist:   "FederationExecutionDoesNotExist",
	CodeFederateNameAlreadyInUse:          "FederateNameAlreadyInUse",
	CodeObjectInstanceNameInUse:           "ObjectInstanceNameInUse",
	CodeObjectInstanceNameNotReserved:     "ObjectInstanceNameNotReserved",
	CodeInconsistentFDD:                   "InconsistentFDD",
	CodeFederatesCurrentlyJoined:          "FederatesCurrentlyJoined",
	CodeCouldNotCreateLogicalTimeFactory:  "CouldNotCreateLogicalTimeFactory",
	CodeInvalidLogicalTime:                "InvalidLogicalTime",
	CodeInvalidLookahead:                  "InvalidLookahead",
	CodeLogicalTimeAlreadyPassed:          "LogicalTimeAlreadyPassed",
	CodeTimeRegulationAlreadyEnabled:      "TimeRegulationAlreadyEnabled",
	CodeTimeRegulationIsNotEnabled:        "TimeRegulationIsNotEnabled",
	CodeTimeConstrainedAlreadyEnabled:     "TimeConstrainedAlreadyEnabled",
	CodeTimeConstrainedIsNotEnabled:       "TimeConstrainedIsNotEnabled",
	CodeInTimeAdvancingState:              "InTimeAdvancingState",
	CodeResourceError:                     "ResourceError",
	CodeTransportError:                    "TransportError",
	CodeRTIInternalError:                  "RTIinternalError",
	CodeMessageCouldNotDecode:             "MessageCouldNotDecode",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UnknownCode"
}

// categoryOf classifies a Code into its propagation Category per spec.md §7.
func categoryOf(c Code) Category {
	switch c {
	case CodeFederationExecutionAlreadyExists, CodeFederationExecutionDoesNotExist,
		CodeFederateNameAlreadyInUse, CodeObjectInstanceNameInUse,
		CodeObjectInstanceNameNotReserved, CodeInconsistentFDD, CodeFederatesCurrentlyJoined,
		CodeCouldNotCreateLogicalTimeFactory, CodeSaveInProgress, CodeRestoreInProgress:
		return CategoryFederationState
	case CodeInvalidLogicalTime, CodeInvalidLookahead, CodeLogicalTimeAlreadyPassed,
		CodeTimeRegulationAlreadyEnabled, CodeTimeRegulationIsNotEnabled,
		CodeTimeConstrainedAlreadyEnabled, CodeTimeConstrainedIsNotEnabled,
		CodeInTimeAdvancingState:
		return CategoryTime
	case CodeResourceError, CodeTransportError, CodeRTIInternalError:
		return CategoryResource
	case CodeMessageCouldNotDecode:
		return CategoryMessage
	default:
		return CategoryPrecondition
	}
}

// RTIError is the error type returned across every API boundary in this
// module: local preconditions, root-arbitrated responses, and fatal
// connect failures all produce one of these rather than an opaque error.
type RTIError struct {
	Code    Code
	Message string
}

func New(code Code, format string, args ...any) *RTIError {
	return &RTIError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *RTIError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Category reports which §7 propagation category this error belongs to.
func (e *RTIError) Category() Category { return categoryOf(e.Code) }

// Fatal reports whether this error must drop the connect and cascade
// resigns per §7's Resource/transport category and §4.6's failure semantics.
func (e *RTIError) Fatal() bool {
	cat := e.Category()
	return cat == CategoryResource || cat == CategoryMessage
}

// Is supports errors.Is(err, rtierrors.New(code, "")) style matching on Code.
func (e *RTIError) Is(target error) bool {
	other, ok := target.(*RTIError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}
