// Package errors provides the SDK's unified error taxonomy.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind buckets errors into the recovery policy described by the core: some
// kinds are handled locally (Network, Storage, RateLimited), some abort the
// current user flow (Credential, Authorization), and TokenLifecycle always
// surfaces to the auth orchestrator for a forced logout.
type Kind string

const (
	KindCredential     Kind = "credential"
	KindAuthorization  Kind = "authorization"
	KindTokenLifecycle Kind = "token_lifecycle"
	KindNetwork        Kind = "network"
	KindStorage        Kind = "storage"
	KindEncryption     Kind = "encryption"
	KindQueueCapacity  Kind = "queue_capacity"
	KindRetryExhausted Kind = "retry_exhausted"
	KindCircuitOpen    Kind = "circuit_open"
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not_found"
	KindRateLimited    Kind = "rate_limited"
	KindInternal       Kind = "internal"
)

// Code is one of the boundary error codes emitted to callers (spec §6).
type Code string

const (
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeTokenInvalid       Code = "TOKEN_INVALID"
	CodeRefreshFailed      Code = "REFRESH_FAILED"
	CodeNetworkError       Code = "NETWORK_ERROR"
	CodeStorageError       Code = "STORAGE_ERROR"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeSessionExpired     Code = "SESSION_EXPIRED"
	CodeMFARequired        Code = "MFA_REQUIRED"
	CodeAccountLocked      Code = "ACCOUNT_LOCKED"
	CodeQueueFull          Code = "QUEUE_FULL"
	CodeMaxRetriesExceeded Code = "MAX_RETRIES_EXCEEDED"
	CodeCircuitOpen        Code = "CIRCUIT_OPEN"
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeConflict           Code = "CONFLICT"
	CodeUnknownError       Code = "UNKNOWN_ERROR"
)

// SDKError is the structured error every boundary surfaces: a kind, a code,
// a human message, an optional cause, a timestamp and a recoverable flag.
type SDKError struct {
	Kind        Kind
	Code        Code
	Message     string
	Err         error
	Recoverable bool
	Timestamp   time.Time
	Details     map[string]any
}

func (e *SDKError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message)
}

func (e *SDKError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value pair and returns the receiver for chaining.
func (e *SDKError) WithDetails(key string, value any) *SDKError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newErr(kind Kind, code Code, message string, recoverable bool, cause error) *SDKError {
	return &SDKError{
		Kind:        kind,
		Code:        code,
		Message:     message,
		Err:         cause,
		Recoverable: recoverable,
		Timestamp:   time.Now().UTC(),
	}
}

// Credential errors abort the current login flow.
func InvalidCredentials() *SDKError {
	return newErr(KindCredential, CodeInvalidCredentials, "invalid email or password", false, nil)
}

func AccountLocked() *SDKError {
	return newErr(KindCredential, CodeAccountLocked, "account is locked", false, nil)
}

func MFARequired() *SDKError {
	return newErr(KindCredential, CodeMFARequired, "multi-factor authentication required", false, nil)
}

// Authorization errors abort the current user flow.
func PermissionDenied(resource, action string) *SDKError {
	return newErr(KindAuthorization, CodePermissionDenied, "permission denied", false, nil).
		WithDetails("resource", resource).WithDetails("action", action)
}

// TokenLifecycle errors always surface to the auth orchestrator.
func TokenExpired() *SDKError {
	return newErr(KindTokenLifecycle, CodeTokenExpired, "access token expired", true, nil)
}

func TokenInvalid(cause error) *SDKError {
	return newErr(KindTokenLifecycle, CodeTokenInvalid, "token is malformed or invalid", false, cause)
}

func RefreshFailed(cause error) *SDKError {
	return newErr(KindTokenLifecycle, CodeRefreshFailed, "token refresh failed", true, cause)
}

func SessionExpired() *SDKError {
	return newErr(KindTokenLifecycle, CodeSessionExpired, "session has expired", false, nil)
}

// Network errors are recoverable and handled by the retry machinery.
func NetworkError(cause error) *SDKError {
	return newErr(KindNetwork, CodeNetworkError, "network request failed", true, cause)
}

// Storage errors: transient ones are recoverable (quota exceeded triggers a
// sweep+retry), backend-unavailable is not.
func StorageError(cause error) *SDKError {
	return newErr(KindStorage, CodeStorageError, "storage operation failed", true, cause)
}

func StorageUnavailable(cause error) *SDKError {
	return newErr(KindStorage, CodeStorageError, "storage backend unavailable", false, cause)
}

// Encryption errors abort initialisation unless the operator opted into
// plaintext fallback.
func EncryptionUnavailable(cause error) *SDKError {
	return newErr(KindEncryption, CodeStorageError, "encryption primitives unavailable", false, cause)
}

func EncryptionFailed(cause error) *SDKError {
	return newErr(KindEncryption, CodeStorageError, "encryption operation failed", false, cause)
}

// QueueCapacity: the bounded queue is full and nothing could be evicted.
func QueueFull() *SDKError {
	return newErr(KindQueueCapacity, CodeQueueFull, "queue is at capacity", false, nil)
}

// RetryExhausted: an item's retry budget is spent.
func RetryExhausted(resource string) *SDKError {
	return newErr(KindRetryExhausted, CodeMaxRetriesExceeded, "max retries exceeded", false, nil).
		WithDetails("resource", resource)
}

// CircuitOpen: the resource's breaker is open.
func CircuitOpen(resource string) *SDKError {
	return newErr(KindCircuitOpen, CodeCircuitOpen, "circuit breaker is open", true, nil).
		WithDetails("resource", resource)
}

// Validation errors are caller mistakes.
func Validation(field, reason string) *SDKError {
	return newErr(KindValidation, CodeValidationError, "validation failed", false, nil).
		WithDetails("field", field).WithDetails("reason", reason)
}

// Conflict: always reported to the caller with the chosen resolution.
func Conflict(message string) *SDKError {
	return newErr(KindConflict, CodeConflict, message, false, nil)
}

// NotFound: the referenced entity does not exist.
func NotFound(resource, id string) *SDKError {
	return newErr(KindNotFound, CodeUnknownError, "resource not found", false, nil).
		WithDetails("resource", resource).WithDetails("id", id)
}

// RateLimited is recoverable; callers should back off.
func RateLimited(retryAfter time.Duration) *SDKError {
	return newErr(KindRateLimited, CodeUnknownError, "rate limited", true, nil).
		WithDetails("retry_after_ms", retryAfter.Milliseconds())
}

func Internal(message string, cause error) *SDKError {
	return newErr(KindInternal, CodeUnknownError, message, false, cause)
}

// Destroyed builds the error for a component whose pending operations are
// rejected after shutdown (cancellation policy in spec §5). No component in
// this module calls it: Substrate.Close flushes pending writes instead of
// rejecting them.
func Destroyed(component string) *SDKError {
	return newErr(KindInternal, CodeUnknownError, "component destroyed", false, nil).
		WithDetails("component", component)
}

// Is reports whether err is an *SDKError of the given kind.
func Is(err error, kind Kind) bool {
	var sdkErr *SDKError
	if errors.As(err, &sdkErr) {
		return sdkErr.Kind == kind
	}
	return false
}

// As extracts the *SDKError from an error chain, if present.
func As(err error) (*SDKError, bool) {
	var sdkErr *SDKError
	ok := errors.As(err, &sdkErr)
	return sdkErr, ok
}

// Recoverable reports whether err (if an *SDKError) is marked recoverable.
func Recoverable(err error) bool {
	if sdkErr, ok := As(err); ok {
		return sdkErr.Recoverable
	}
	return false
}
