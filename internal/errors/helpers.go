package errors

import (
	"fmt"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeInvalidArgument, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewSessionConflictError creates an error for a duplicate session create
func NewSessionConflictError(sessionID string) *AppError {
	return New(ErrCodeConflict, "session already exists").
		WithContext("session_id", sessionID).
		WithUserMessage(fmt.Sprintf("Session %s already exists", sessionID))
}

// NewSessionNotFoundError creates an error for an unknown session
func NewSessionNotFoundError(sessionID string) *AppError {
	return New(ErrCodeNotFound, "session not found").
		WithContext("session_id", sessionID).
		WithUserMessage("Session not found")
}

// NewQRNotReadyError indicates the session exists but no pairing code has been issued yet
func NewQRNotReadyError(sessionID, status string) *AppError {
	return New(ErrCodeNotReady, "QR code not available yet").
		WithContext("session_id", sessionID).
		WithContext("status", status).
		WithUserMessage("QR code not available yet, retry shortly")
}

// NewQRNotApplicableError indicates pairing is not possible in the session's current state
func NewQRNotApplicableError(sessionID, status string) *AppError {
	return New(ErrCodeNotApplicable, "QR code not applicable").
		WithContext("session_id", sessionID).
		WithContext("status", status).
		WithUserMessage("Session does not require pairing")
}

// NewUpstreamError creates an error for a ConnectionAdapter or protocol failure
func NewUpstreamError(sessionID string, err error) *AppError {
	return WrapRetryable(err, ErrCodeUpstream, "adapter operation failed").
		WithContext("session_id", sessionID).
		WithUserMessage("Messaging backend failure")
}

// NewDeliveryFailedError creates an error for a webhook delivery that exhausted its attempts
func NewDeliveryFailedError(url string, attempts int, err error) *AppError {
	return Wrap(err, ErrCodeDeliveryFailed, fmt.Sprintf("delivery failed after %d attempts", attempts)).
		WithContext("url", url).
		WithContext("attempts", attempts).
		WithUserMessage("Webhook delivery failed")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewAuthError creates an authentication error
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Unauthorized: Invalid or missing API key")
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidArgument:
		return 400
	case ErrCodeAuthentication:
		return 401
	case ErrCodeNotFound:
		return 404
	case ErrCodeConflict, ErrCodeNotReady, ErrCodeNotApplicable:
		return 409
	case ErrCodeUpstream, ErrCodeDeliveryFailed:
		return 502
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery:
		return 503
	default:
		return 500
	}
}

// HTTPErrorResponse is the standardized HTTP error envelope
type HTTPErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    ErrorCode `json:"code,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response body
func ToHTTPResponse(err error) HTTPErrorResponse {
	return HTTPErrorResponse{
		Success: false,
		Message: GetUserMessage(err),
		Code:    GetCode(err),
	}
}
