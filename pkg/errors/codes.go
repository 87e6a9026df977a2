package errors

// Generic error codes
const (
	// CodeInternalError indicates an unexpected internal failure
	CodeInternalError int = -32603

	// CodeInvariantViolation indicates a programming error, never a protocol fault
	CodeInvariantViolation int = -32610

	// CodeFatal indicates a condition the process must not try to survive
	CodeFatal int = -32611
)

// Reliable messaging error codes
const (
	// Admission Errors (-32200 to -32299)
	CodeCreateSequenceRefused int = -32200 // CreateSequence refused by the listener
	CodeEndpointNotFound      int = -32201 // Listener is not accepting new sequences
	CodeServerTooBusy         int = -32202 // Too many sequences waiting to be accepted

	// Operation Errors (-32300 to -32399)
	CodeOperationCancelled int = -32300 // Operation was cancelled
	CodeOperationTimeout   int = -32301 // Operation timed out
	CodeInvalidState       int = -32302 // Operation not valid in the current state

	// Transport Errors (-32500 to -32599)
	CodeTransportError     int = -32500 // Generic transport error
	CodeCommunicationError int = -32501 // Peer or transport communication failure
	CodeConnectionLost     int = -32502 // Connection lost during operation
	CodeChannelAborted     int = -32503 // Inner channel was aborted
	CodeListenerFaulted    int = -32504 // Listener moved to the faulted state

	// Validation Errors (-32750 to -32799)
	CodeValidationError  int = -32750 // Generic validation error
	CodeInvalidParameter int = -32752 // Parameter has invalid value

	// Protocol Errors (-32900 to -32999)
	CodeProtocolError             int = -32900 // Generic protocol error
	CodeMalformedMessage          int = -32901 // Message could not be parsed
	CodeMustUnderstand            int = -32902 // Header not understood or repeated
	CodeUnknownSequence           int = -32910 // Sequence identifier not known
	CodeSequenceTerminated        int = -32911 // Sequence terminated by a protocol violation
	CodeInvalidAcknowledgement    int = -32912 // Acknowledgement violates the protocol
	CodeMessageNumberRollover     int = -32913 // Message number exhausted
	CodeLastMessageNumberExceeded int = -32914 // Message number beyond the last message
	CodeSequenceClosed            int = -32915 // Sequence closed for new messages
	CodeWSRMRequired              int = -32916 // Message must carry reliable messaging headers
	CodeUnrecognizedFault         int = -32917 // Fault shape not recognized
)

// ErrorCodeInfo provides human-readable information about error codes
type ErrorCodeInfo struct {
	Code        int
	Name        string
	Description string
	Category    Category
	Severity    Severity
}

// errorCodeRegistry maps error codes to their information
var errorCodeRegistry = map[int]ErrorCodeInfo{
	CodeInternalError:      {CodeInternalError, "InternalError", "Internal error", CategoryInternal, SeverityError},
	CodeInvariantViolation: {CodeInvariantViolation, "InvariantViolation", "Internal invariant violated", CategoryInvariant, SeverityCritical},
	CodeFatal:              {CodeFatal, "Fatal", "Fatal condition", CategoryFatal, SeverityCritical},

	// Admission Errors
	CodeCreateSequenceRefused: {CodeCreateSequenceRefused, "CreateSequenceRefused", "Create sequence refused", CategoryRefused, SeverityWarning},
	CodeEndpointNotFound:      {CodeEndpointNotFound, "EndpointNotFound", "Endpoint not found", CategoryRefused, SeverityWarning},
	CodeServerTooBusy:         {CodeServerTooBusy, "ServerTooBusy", "Server too busy", CategoryRefused, SeverityWarning},

	// Operation Errors
	CodeOperationCancelled: {CodeOperationCancelled, "OperationCancelled", "Operation cancelled", CategoryCancelled, SeverityInfo},
	CodeOperationTimeout:   {CodeOperationTimeout, "OperationTimeout", "Operation timed out", CategoryTimeout, SeverityError},
	CodeInvalidState:       {CodeInvalidState, "InvalidState", "Invalid state for operation", CategoryInternal, SeverityError},

	// Transport Errors
	CodeTransportError:     {CodeTransportError, "TransportError", "Transport error", CategoryTransport, SeverityError},
	CodeCommunicationError: {CodeCommunicationError, "CommunicationError", "Communication error", CategoryTransport, SeverityError},
	CodeConnectionLost:     {CodeConnectionLost, "ConnectionLost", "Connection lost", CategoryTransport, SeverityError},
	CodeChannelAborted:     {CodeChannelAborted, "ChannelAborted", "Channel aborted", CategoryTransport, SeverityWarning},
	CodeListenerFaulted:    {CodeListenerFaulted, "ListenerFaulted", "Listener faulted", CategoryInternal, SeverityCritical},

	// Validation Errors
	CodeValidationError:  {CodeValidationError, "ValidationError", "Validation error", CategoryValidation, SeverityError},
	CodeInvalidParameter: {CodeInvalidParameter, "InvalidParameter", "Invalid parameter value", CategoryValidation, SeverityError},

	// Protocol Errors
	CodeProtocolError:             {CodeProtocolError, "ProtocolError", "Protocol error", CategoryProtocol, SeverityError},
	CodeMalformedMessage:          {CodeMalformedMessage, "MalformedMessage", "Malformed message", CategoryProtocol, SeverityError},
	CodeMustUnderstand:            {CodeMustUnderstand, "MustUnderstand", "Header not understood", CategoryProtocol, SeverityError},
	CodeUnknownSequence:           {CodeUnknownSequence, "UnknownSequence", "Unknown sequence", CategoryProtocol, SeverityWarning},
	CodeSequenceTerminated:        {CodeSequenceTerminated, "SequenceTerminated", "Sequence terminated", CategoryProtocol, SeverityError},
	CodeInvalidAcknowledgement:    {CodeInvalidAcknowledgement, "InvalidAcknowledgement", "Invalid acknowledgement", CategoryProtocol, SeverityError},
	CodeMessageNumberRollover:     {CodeMessageNumberRollover, "MessageNumberRollover", "Message number rollover", CategoryProtocol, SeverityError},
	CodeLastMessageNumberExceeded: {CodeLastMessageNumberExceeded, "LastMessageNumberExceeded", "Last message number exceeded", CategoryProtocol, SeverityError},
	CodeSequenceClosed:            {CodeSequenceClosed, "SequenceClosed", "Sequence closed", CategoryProtocol, SeverityWarning},
	CodeWSRMRequired:              {CodeWSRMRequired, "WSRMRequired", "Reliable messaging required", CategoryProtocol, SeverityWarning},
	CodeUnrecognizedFault:         {CodeUnrecognizedFault, "UnrecognizedFault", "Unrecognized fault received", CategoryProtocol, SeverityError},
}

// GetErrorCodeInfo returns information about an error code
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// GetErrorCodeName returns the name of an error code
func GetErrorCodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}

// GetErrorCodeDescription returns the description of an error code
func GetErrorCodeDescription(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Description
	}
	return "Unknown error"
}

// GetErrorCodeCategory returns the category of an error code
func GetErrorCodeCategory(code int) Category {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Category
	}
	return CategoryInternal
}

// GetErrorCodeSeverity returns the severity of an error code
func GetErrorCodeSeverity(code int) Severity {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Severity
	}
	return SeverityError
}

// ListErrorCodes returns all registered error codes
func ListErrorCodes() []ErrorCodeInfo {
	codes := make([]ErrorCodeInfo, 0, len(errorCodeRegistry))
	for _, info := range errorCodeRegistry {
		codes = append(codes, info)
	}
	return codes
}

// IsProtocolCode checks if a code belongs to the reliable messaging protocol range
func IsProtocolCode(code int) bool {
	return code >= -32999 && code <= -32900
}

// IsAdmissionCode checks if a code is an admission refusal
func IsAdmissionCode(code int) bool {
	return code >= -32299 && code <= -32200
}
