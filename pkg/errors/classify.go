package errors

import (
	"context"
	"encoding/xml"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"runtime"
)

// ConvertStandardError converts common Go errors to appropriate RM errors
func ConvertStandardError(err error) RMError {
	if err == nil {
		return nil
	}

	if rmErr, ok := AsRMError(err); ok {
		return rmErr
	}

	switch {
	case stderrors.Is(err, context.Canceled):
		return Cancelled("operation", err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return WrapError(err, CodeOperationTimeout, "Operation timed out", CategoryTimeout, SeverityError)
	case stderrors.Is(err, io.ErrUnexpectedEOF), stderrors.Is(err, net.ErrClosed):
		return CommunicationError("unknown", "read", err)
	}

	var syntaxErr *xml.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		return MalformedMessage("XML", err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return WrapError(err, CodeOperationTimeout, "Network timeout", CategoryTimeout, SeverityError)
		}
		return CommunicationError("net", "io", err)
	}

	return WrapError(err, CodeInternalError, "Internal error", CategoryInternal, SeverityError)
}

// IsFatal reports whether err must propagate rather than be handled. It is
// checked before any recoverable/non-recoverable decision.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var rtErr runtime.Error
	if stderrors.As(err, &rtErr) {
		return true
	}
	return IsCategory(err, CategoryFatal)
}

// IsInvariant reports whether err reports a programming error
func IsInvariant(err error) bool {
	return IsCategory(err, CategoryInvariant)
}

// IsRecoverable reports whether a receive loop may log err and keep going:
// communication failures, malformed input, cancellation and timeouts.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	if IsFatal(err) || IsInvariant(err) {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var syntaxErr *xml.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}

	if rmErr, ok := AsRMError(err); ok {
		switch rmErr.Category() {
		case CategoryTransport, CategoryTimeout, CategoryCancelled, CategoryProtocol, CategoryRefused:
			return true
		}
		return false
	}

	return stderrors.Is(err, io.ErrUnexpectedEOF)
}

// CombineErrors combines multiple errors into a single RMError
func CombineErrors(errors []error) RMError {
	validErrors := make([]error, 0, len(errors))
	for _, err := range errors {
		if err != nil {
			validErrors = append(validErrors, err)
		}
	}

	if len(validErrors) == 0 {
		return nil
	}

	if len(validErrors) == 1 {
		return ConvertStandardError(validErrors[0])
	}

	messages := make([]string, len(validErrors))
	errorData := make([]interface{}, len(validErrors))

	for i, err := range validErrors {
		messages[i] = err.Error()
		if rmErr, ok := AsRMError(err); ok {
			errorData[i] = rmErr.ToJSON()
		} else {
			errorData[i] = map[string]interface{}{
				"message": err.Error(),
				"type":    fmt.Sprintf("%T", err),
			}
		}
	}

	return NewError(
		CodeInternalError,
		fmt.Sprintf("Multiple errors occurred: %v", messages),
		CategoryInternal,
		SeverityError,
	).WithData(map[string]interface{}{
		"errors": errorData,
		"count":  len(validErrors),
	})
}
