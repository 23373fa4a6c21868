// Package errors provides the standardized error taxonomy for the delivery pipeline.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Transient delivery failures: retried up to the configured cap.
	ErrCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeGatewayTimeout     ErrorCode = "GATEWAY_TIMEOUT"
	ErrCodeGatewayThrottled   ErrorCode = "GATEWAY_THROTTLED"

	// Permanent delivery failures: never retried.
	ErrCodeGatewayRejected ErrorCode = "GATEWAY_REJECTED"
	ErrCodeTokenInvalid    ErrorCode = "TOKEN_INVALID"

	// Degraded paths: logged, never propagated.
	ErrCodeSerializationFailed ErrorCode = "SERIALIZATION_FAILED"

	// Fatal at startup only.
	ErrCodeConfigurationInvalid ErrorCode = "CONFIGURATION_INVALID"

	ErrCodeQueuePushFailed ErrorCode = "QUEUE_PUSH_FAILED"
)

// DeliveryError represents a structured pipeline error.
type DeliveryError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("DeliveryError[%s]: %s", e.Code, e.Message)
}

// IsTransient reports whether err is a delivery error the retry loop may
// attempt again. Anything that is not a DeliveryError is treated as transient
// (raw network errors reach here unwrapped).
func IsTransient(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return true
}

// ==========================
// 2. Error Constructors
// ==========================

// NewGatewayUnavailableError creates a retryable error for 5xx responses and
// transport-level failures.
func NewGatewayUnavailableError(details string) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeGatewayUnavailable,
		Message:   "Push gateway unavailable",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGatewayTimeoutError creates a retryable timeout error.
func NewGatewayTimeoutError(err error) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeGatewayTimeout,
		Message:   "Push gateway request timed out",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGatewayThrottledError creates a retryable error for HTTP 429.
func NewGatewayThrottledError(details string) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeGatewayThrottled,
		Message:   "Push gateway rate limited the request",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGatewayRejectedError creates a non-retryable error for 4xx responses
// other than 429.
func NewGatewayRejectedError(statusCode int, details string) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeGatewayRejected,
		Message:   fmt.Sprintf("Push gateway rejected the request with status %d", statusCode),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTokenInvalidError creates a non-retryable error for a permanently
// invalid device token.
func NewTokenInvalidError(maskedToken, reason string) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeTokenInvalid,
		Message:   "Device token is no longer valid",
		Details:   fmt.Sprintf("token: %s, reason: %s", maskedToken, reason),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSerializationError creates a non-retryable error for a corrupt queue or
// cache payload. Callers degrade it to a miss and log; it never propagates.
func NewSerializationError(source string, err error) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeSerializationFailed,
		Message:   "Payload could not be decoded",
		Details:   fmt.Sprintf("source: %s, error: %s", source, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConfigurationError creates a fatal startup configuration error.
func NewConfigurationError(details string) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeConfigurationInvalid,
		Message:   "Invalid pipeline configuration",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueuePushFailedError creates an error surfaced to producers when an
// enqueue fails. Event loss must be visible to the caller.
func NewQueuePushFailedError(err error) *DeliveryError {
	return &DeliveryError{
		Code:      ErrCodeQueuePushFailed,
		Message:   "Failed to enqueue notification event",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}
