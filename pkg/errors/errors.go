// Package errors defines the coded error type shared across the risk engine.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"

	// Business logic errors
	ErrCodeCheckNotFound    ErrorCode = "RISK_CHECK_NOT_FOUND"
	ErrCodeActivityNotFound ErrorCode = "ACTIVITY_NOT_FOUND"
	ErrCodeLimitNotFound    ErrorCode = "VELOCITY_LIMIT_NOT_FOUND"
	ErrCodeUserNotFound     ErrorCode = "USER_NOT_FOUND"
	ErrCodeVelocityBreach   ErrorCode = "VELOCITY_LIMIT_EXCEEDED"
	ErrCodeAlreadyReviewed  ErrorCode = "CHECK_ALREADY_REVIEWED"
	ErrCodeDuplicateEntry   ErrorCode = "DUPLICATE_ENTRY"

	// System errors
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
)

// RiskError represents a standardized error
type RiskError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
}

func (e RiskError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New creates a new RiskError
func New(code ErrorCode, message string) *RiskError {
	return &RiskError{
		Code:       code,
		Message:    message,
		StatusCode: getHTTPStatusCode(code),
		Details:    make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with RiskError
func Wrap(err error, code ErrorCode, message string) *RiskError {
	e := New(code, message)
	e.Details["original_error"] = err.Error()
	return e
}

// AddDetail adds a detail to the error
func (e *RiskError) AddDetail(key string, value interface{}) *RiskError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// getHTTPStatusCode maps error codes to HTTP status codes
func getHTTPStatusCode(code ErrorCode) int {
	switch code {
	case ErrCodeUnauthorized, ErrCodeInvalidToken:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeValidation, ErrCodeInvalidInput, ErrCodeMissingField:
		return http.StatusBadRequest
	case ErrCodeCheckNotFound, ErrCodeActivityNotFound, ErrCodeLimitNotFound, ErrCodeUserNotFound:
		return http.StatusNotFound
	case ErrCodeDuplicateEntry, ErrCodeAlreadyReviewed:
		return http.StatusConflict
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeVelocityBreach:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Common error constructors
func Unauthorized(message string) *RiskError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *RiskError {
	return New(ErrCodeForbidden, message)
}

func ValidationError(message string) *RiskError {
	return New(ErrCodeValidation, message)
}

func NotFound(code ErrorCode, resource string) *RiskError {
	return New(code, fmt.Sprintf("%s not found", resource))
}

func AlreadyReviewed(message string) *RiskError {
	return New(ErrCodeAlreadyReviewed, message)
}

func Internal(message string) *RiskError {
	return New(ErrCodeInternal, message)
}
