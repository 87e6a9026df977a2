package errors

import (
	"fmt"
	"time"
)

// TransportErrorData contains structured data for transport-related errors
type TransportErrorData struct {
	Transport string        `json:"transport"`
	Operation string        `json:"operation,omitempty"`
	Endpoint  string        `json:"endpoint,omitempty"`
	ChannelID string        `json:"channel_id,omitempty"`
	Retryable bool          `json:"retryable"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

func reasonOf(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

// TransportError creates a generic transport error
func TransportError(transport, operation string, cause error) RMError {
	message := fmt.Sprintf("%s transport error", transport)
	if operation != "" {
		message = fmt.Sprintf("%s transport error during %s", transport, operation)
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	return WrapError(
		cause,
		CodeTransportError,
		message,
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: transport,
		Operation: operation,
		Retryable: true,
		Reason:    reasonOf(cause),
	})
}

// CommunicationError creates an error for a failed exchange with a peer.
// The receive loop treats it as recoverable.
func CommunicationError(transport, operation string, cause error) RMError {
	message := fmt.Sprintf("Communication error via %s during %s", transport, operation)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	return WrapError(
		cause,
		CodeCommunicationError,
		message,
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: transport,
		Operation: operation,
		Retryable: true,
		Reason:    reasonOf(cause),
	})
}

// ConnectionLost creates an error for lost connections
func ConnectionLost(transport, endpoint string, cause error) RMError {
	message := fmt.Sprintf("Lost connection via %s", transport)
	if endpoint != "" {
		message = fmt.Sprintf("Lost connection to %s via %s", endpoint, transport)
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	return WrapError(
		cause,
		CodeConnectionLost,
		message,
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: transport,
		Endpoint:  endpoint,
		Retryable: true,
		Reason:    reasonOf(cause),
	})
}

// ChannelAborted creates an error for operations on an aborted inner channel
func ChannelAborted(transport, channelID string) RMError {
	return NewError(
		CodeChannelAborted,
		fmt.Sprintf("%s channel %s was aborted", transport, channelID),
		CategoryTransport,
		SeverityWarning,
	).WithData(&TransportErrorData{
		Transport: transport,
		ChannelID: channelID,
		Retryable: false,
		Reason:    "aborted",
	})
}

// ListenerClosed creates an error for operations on a closed listener
func ListenerClosed(transport string) RMError {
	return NewError(
		CodeInvalidState,
		fmt.Sprintf("%s listener is closed", transport),
		CategoryInternal,
		SeverityWarning,
	).WithData(&TransportErrorData{
		Transport: transport,
		Retryable: false,
		Reason:    "closed",
	})
}

// Timeout creates an error for an operation that exceeded its deadline
func Timeout(operation string, timeout time.Duration) RMError {
	message := fmt.Sprintf("%s timed out", operation)
	if timeout > 0 {
		message = fmt.Sprintf("%s after %v", message, timeout)
	}

	return NewError(
		CodeOperationTimeout,
		message,
		CategoryTimeout,
		SeverityError,
	).WithData(&TransportErrorData{
		Operation: operation,
		Timeout:   timeout,
		Retryable: true,
		Reason:    "timeout",
	})
}

// Cancelled creates an error for an operation cancelled by its caller
func Cancelled(operation string, cause error) RMError {
	return WrapError(
		cause,
		CodeOperationCancelled,
		fmt.Sprintf("%s was cancelled", operation),
		CategoryCancelled,
		SeverityInfo,
	)
}

// MessageTooLarge creates an error for messages that exceed size limits
func MessageTooLarge(transport string, messageSize, maxSize int64) RMError {
	return NewError(
		CodeCommunicationError,
		fmt.Sprintf("Message size %d exceeds maximum allowed size %d for %s transport", messageSize, maxSize, transport),
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: transport,
		Operation: "receive_message",
		Retryable: false,
		Reason:    fmt.Sprintf("message size %d > max %d", messageSize, maxSize),
	})
}
