package errors

import (
	"errors"
	"fmt"
)

// Error types for the ledger domain
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeBusiness   ErrorType = "business"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeIntegrity  ErrorType = "integrity"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONFLICT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "EXTERNAL_SERVICE_ERROR",
		Message:    fmt.Sprintf("%s service error: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

// NewTipConflictError signals that the chain tip moved between read and
// append. Retried internally by the ingestion coordinator.
func NewTipConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "TIP_CONFLICT",
		Message:    message,
		Retryable:  true,
		StatusCode: 409,
	}
}

// NewDuplicateEventError signals a batch containing an event ID already in
// the ledger. Callers must treat this as already-applied, never retry.
func NewDuplicateEventError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "DUPLICATE_EVENT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

// NewChainBrokenError is a terminal integrity finding. It is never retried
// and always accompanied by a security incident.
func NewChainBrokenError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeIntegrity,
		Code:       "CHAIN_BROKEN",
		Message:    message,
		Retryable:  false,
		StatusCode: 500,
	}
}

// NewContinuityViolationError signals that an archive's start hash does not
// match the preceding archive's end hash. Sealing halts until resolved.
func NewContinuityViolationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeIntegrity,
		Code:       "ARCHIVE_CONTINUITY_VIOLATION",
		Message:    message,
		Retryable:  false,
		StatusCode: 500,
	}
}

func NewIngestionFailedError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       "INGESTION_FAILED",
		Message:    message,
		Retryable:  false,
		StatusCode: 503,
	}
}

// Predefined common errors
var (
	ErrEventNotFound   = NewNotFoundError("audit event")
	ErrChainNotFound   = NewNotFoundError("chain")
	ErrArchiveNotFound = NewNotFoundError("archive")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsCode checks if an error carries a specific error code
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
