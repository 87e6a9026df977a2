package errors

import (
	"fmt"
)

// ProtocolErrorData contains structured data for reliable messaging protocol errors
type ProtocolErrorData struct {
	SequenceID string `json:"sequence_id,omitempty"`
	Action     string `json:"action,omitempty"`
	Header     string `json:"header,omitempty"`
	Subcode    string `json:"subcode,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// AdmissionErrorData contains structured data for refused CreateSequence requests
type AdmissionErrorData struct {
	Endpoint string `json:"endpoint,omitempty"`
	OfferID  string `json:"offer_id,omitempty"`
	Pending  int    `json:"pending,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Reason   string `json:"reason"`
}

// ProtocolViolation creates an error for a message that breaks the protocol
func ProtocolViolation(reason string) RMError {
	return NewError(
		CodeProtocolError,
		reason,
		CategoryProtocol,
		SeverityError,
	).WithData(&ProtocolErrorData{Reason: reason})
}

// MalformedMessage creates an error for a message whose structure could not be read
func MalformedMessage(element string, cause error) RMError {
	message := fmt.Sprintf("Malformed %s", element)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	return WrapError(
		cause,
		CodeMalformedMessage,
		message,
		CategoryProtocol,
		SeverityError,
	).WithData(&ProtocolErrorData{
		Header: element,
		Reason: reasonOf(cause),
	})
}

// MustUnderstand creates an error for a header that was not understood
func MustUnderstand(header string) RMError {
	return NewError(
		CodeMustUnderstand,
		fmt.Sprintf("Header '%s' was not understood", header),
		CategoryProtocol,
		SeverityError,
	).WithData(&ProtocolErrorData{
		Header: header,
		Reason: "not understood",
	})
}

// TooManyHeaders creates an error for a header that occurs more than once
func TooManyHeaders(header string) RMError {
	return NewError(
		CodeMustUnderstand,
		fmt.Sprintf("Header '%s' occurs more than once", header),
		CategoryProtocol,
		SeverityError,
	).WithData(&ProtocolErrorData{
		Header: header,
		Reason: "duplicate header",
	})
}

// SequenceFault creates an error for one of the sequence-scoped protocol faults
func SequenceFault(code int, sequenceID, reason string) RMError {
	return NewError(
		code,
		fmt.Sprintf("%s: %s", GetErrorCodeDescription(code), reason),
		GetErrorCodeCategory(code),
		GetErrorCodeSeverity(code),
	).WithData(&ProtocolErrorData{
		SequenceID: sequenceID,
		Subcode:    GetErrorCodeName(code),
		Reason:     reason,
	})
}

// UnknownSequence creates an error for a message naming a sequence that is not live
func UnknownSequence(sequenceID string) RMError {
	return SequenceFault(CodeUnknownSequence, sequenceID, fmt.Sprintf("sequence %s is not known", sequenceID))
}

// UnrecognizedFault creates an error for a received fault no converter could classify
func UnrecognizedFault(namespace, name, reason string) RMError {
	return NewError(
		CodeUnrecognizedFault,
		fmt.Sprintf("Unrecognized fault received: %s:%s: %s", namespace, name, reason),
		CategoryProtocol,
		SeverityError,
	).WithData(&ProtocolErrorData{
		Subcode: name,
		Reason:  reason,
	})
}

// CreateSequenceRefused creates an error for a CreateSequence the listener declined
func CreateSequenceRefused(reason string) RMError {
	return NewError(
		CodeCreateSequenceRefused,
		fmt.Sprintf("CreateSequence refused: %s", reason),
		CategoryRefused,
		SeverityWarning,
	).WithData(&AdmissionErrorData{Reason: reason})
}

// EndpointNotFound creates an error for a CreateSequence sent to a listener not accepting sequences
func EndpointNotFound(endpoint string) RMError {
	return NewError(
		CodeEndpointNotFound,
		fmt.Sprintf("No endpoint listening at %s accepts new sequences", endpoint),
		CategoryRefused,
		SeverityWarning,
	).WithData(&AdmissionErrorData{
		Endpoint: endpoint,
		Reason:   "not accepting",
	})
}

// ServerTooBusy creates an error for a CreateSequence refused by backpressure
func ServerTooBusy(pending, limit int) RMError {
	return NewError(
		CodeServerTooBusy,
		fmt.Sprintf("Server too busy: %d sequences pending, limit %d", pending, limit),
		CategoryRefused,
		SeverityWarning,
	).WithData(&AdmissionErrorData{
		Pending: pending,
		Limit:   limit,
		Reason:  "connection limit reached",
	})
}

// InvariantViolation creates an error for a broken internal invariant.
// It is never sent to a peer.
func InvariantViolation(format string, args ...interface{}) RMError {
	return NewErrorf(CodeInvariantViolation, CategoryInvariant, SeverityCritical, format, args...)
}

// Fatal wraps a condition the listener must not handle
func Fatal(cause error) RMError {
	return WrapError(cause, CodeFatal, fmt.Sprintf("Fatal: %s", reasonOf(cause)), CategoryFatal, SeverityCritical)
}

// ListenerFaulted creates the error delivered to sessions when the listener faults
func ListenerFaulted(cause error) RMError {
	message := "Listener faulted"
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return WrapError(cause, CodeListenerFaulted, message, CategoryInternal, SeverityCritical)
}

// InvalidState creates an error for an operation not valid in the current state
func InvalidState(operation, state string) RMError {
	return NewError(
		CodeInvalidState,
		fmt.Sprintf("Cannot %s while %s", operation, state),
		CategoryInternal,
		SeverityError,
	)
}

// InternalError wraps an unexpected failure
func InternalError(operation string, cause error) RMError {
	return WrapError(
		cause,
		CodeInternalError,
		fmt.Sprintf("Internal error during %s: %s", operation, reasonOf(cause)),
		CategoryInternal,
		SeverityError,
	)
}
