package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Request limits
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// Scanner session
	ErrCodeSessionNotOpen ErrorCode = "SESSION_NOT_OPEN"

	// Camera environment
	ErrCodeCameraPermission ErrorCode = "CAMERA_PERMISSION_DENIED"
	ErrCodeInsecureContext  ErrorCode = "INSECURE_CONTEXT"
	ErrCodeCameraNotFound   ErrorCode = "CAMERA_NOT_FOUND"
	ErrCodeCameraConstraint ErrorCode = "CAMERA_CONSTRAINT"
	ErrCodeCameraFailed     ErrorCode = "CAMERA_FAILED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeExternal ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Hint    string    `json:"hint,omitempty"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// WithHint attaches remediation guidance for the user
func (e *AppError) WithHint(hint string) *AppError {
	e.Hint = hint
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func RateLimited() *AppError {
	return New(ErrCodeRateLimited, "Rate limit exceeded")
}

func PayloadTooLarge(limit int64) *AppError {
	return New(ErrCodePayloadTooLarge, fmt.Sprintf("Request body exceeds %d bytes", limit))
}

func SessionNotOpen() *AppError {
	return New(ErrCodeSessionNotOpen, "Scanner session is not open")
}

func CameraPermissionDenied(cause error) *AppError {
	return Wrap(ErrCodeCameraPermission, "Camera access was denied", cause).
		WithHint("Allow camera access for this site, then retry. A hardware scanner or manual entry still works.")
}

func InsecureContext(cause error) *AppError {
	return Wrap(ErrCodeInsecureContext, "Camera requires a secure connection", cause).
		WithHint("Open the application over HTTPS or localhost to use the camera.")
}

func CameraNotFound(cause error) *AppError {
	return Wrap(ErrCodeCameraNotFound, "No camera was found", cause).
		WithHint("Connect a camera and retry, or use a hardware scanner or manual entry.")
}

func CameraConstraint(cause error) *AppError {
	return Wrap(ErrCodeCameraConstraint, "The selected camera cannot be used", cause).
		WithHint("Choose a different camera and retry.")
}

func CameraFailed(cause error) *AppError {
	return Wrap(ErrCodeCameraFailed, "The camera could not be started", cause).
		WithHint("Retry, or use a hardware scanner or manual entry.")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
