package queue

import (
	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
)

// ErrorCode is one of the processor error codes the orchestrator classifies
// for retry eligibility (spec §4.9).
type ErrorCode string

const (
	ErrNetwork          ErrorCode = "NETWORK_ERROR"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrServer           ErrorCode = "SERVER_ERROR"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrTemporaryFailure ErrorCode = "TEMPORARY_FAILURE"
	ErrAuthentication   ErrorCode = "AUTHENTICATION_ERROR"
	ErrAuthorization    ErrorCode = "AUTHORIZATION_ERROR"
	ErrValidation       ErrorCode = "VALIDATION_ERROR"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrConflict         ErrorCode = "CONFLICT"
)

var retryable = map[ErrorCode]bool{
	ErrNetwork:          true,
	ErrTimeout:          true,
	ErrServer:           true,
	ErrRateLimited:      true,
	ErrTemporaryFailure: true,
	ErrAuthentication:   false,
	ErrAuthorization:    false,
	ErrValidation:       false,
	ErrNotFound:         false,
	ErrConflict:         false,
}

// IsRetryable reports whether code is in the retryable table. Unknown codes
// default to non-retryable (spec §4.9).
func IsRetryable(code ErrorCode) bool {
	v, ok := retryable[code]
	return ok && v
}

// ProcessorError is the error shape processors return so the orchestrator
// can classify it without string-matching.
type ProcessorError struct {
	Code    ErrorCode
	Message string
}

func (e *ProcessorError) Error() string { return string(e.Code) + ": " + e.Message }

// NewProcessorError constructs a ProcessorError.
func NewProcessorError(code ErrorCode, message string) *ProcessorError {
	return &ProcessorError{Code: code, Message: message}
}

// unknownCode is deliberately absent from the retryable table so any error
// classify cannot map (neither a *ProcessorError nor a recognised or
// recoverable *sdkerrors.SDKError) classifies as non-retryable (spec §4.9).
const unknownCode ErrorCode = "UNKNOWN_ERROR"

// classify maps err onto one of the ErrorCode buckets above. *ProcessorError
// is the primary shape a Processor returns; a *sdkerrors.SDKError (notably
// errors.CircuitOpen, returned by resilience.CircuitBreaker.Execute when the
// breaker is open) is also recognised so breaker-open dispatches reschedule
// instead of falling through to unknownCode (spec §4.9).
func classify(err error) ErrorCode {
	if perr, ok := err.(*ProcessorError); ok {
		return perr.Code
	}
	if sdkErr, ok := sdkerrors.As(err); ok {
		switch sdkErr.Code {
		case sdkerrors.CodeCircuitOpen:
			return ErrTemporaryFailure
		case sdkerrors.CodeNetworkError:
			return ErrNetwork
		case sdkerrors.CodeRefreshFailed, sdkerrors.CodeTokenExpired:
			return ErrAuthentication
		}
		if sdkErr.Recoverable {
			return ErrTemporaryFailure
		}
	}
	return unknownCode
}
