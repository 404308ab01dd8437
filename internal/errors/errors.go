package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/zsiec/netsync/internal/transport"
)

// ErrorType classifies an admin API error.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound    ErrorType = "NOT_FOUND"
	ErrorTypeInternal    ErrorType = "INTERNAL_ERROR"
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypeConflict    ErrorType = "CONFLICT"
	ErrorTypeRateLimit   ErrorType = "RATE_LIMIT"
	ErrorTypeServiceDown ErrorType = "SERVICE_DOWN"
)

// AppError is an error the admin API can render as JSON.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCode adds an error code.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func New(errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{Type: errType, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err error, errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{Type: errType, Message: message, HTTPStatus: httpStatus, Err: err}
}

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message, http.StatusInternalServerError)
}

func WrapInternalError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeInternal, message, http.StatusInternalServerError)
}

func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message, http.StatusConflict)
}

func NewRateLimitError(message string) *AppError {
	return New(ErrorTypeRateLimit, message, http.StatusTooManyRequests)
}

// NewServiceDownError reports a dependency that is not available.
func NewServiceDownError(service string) *AppError {
	return New(ErrorTypeServiceDown, fmt.Sprintf("%s service is currently unavailable", service), http.StatusServiceUnavailable)
}

// FromTransport maps a transport error onto the response the admin API
// should give for it.
func FromTransport(err error) *AppError {
	var sizeErr *transport.BufferSizeError

	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, transport.ErrEmptyPayload),
		stderrors.Is(err, transport.ErrPayloadTooLarge):
		return Wrap(err, ErrorTypeValidation, "invalid payload", http.StatusBadRequest).WithCode("INVALID_PAYLOAD")
	case stderrors.Is(err, transport.ErrQueueFull):
		return Wrap(err, ErrorTypeRateLimit, "delivery queue is full", http.StatusTooManyRequests).WithCode("QUEUE_FULL")
	case stderrors.Is(err, transport.ErrQueueClosed),
		stderrors.Is(err, transport.ErrNotConnected):
		return Wrap(err, ErrorTypeServiceDown, "transport is not running", http.StatusServiceUnavailable).WithCode("TRANSPORT_DOWN")
	case stderrors.As(err, &sizeErr):
		return Wrap(err, ErrorTypeValidation, "socket buffer too small", http.StatusBadRequest).
			WithCode("BUFFER_TOO_SMALL").
			WithDetails(map[string]interface{}{"requested": sizeErr.Requested, "minimum": sizeErr.Minimum})
	}

	if appErr, ok := GetAppError(err); ok {
		return appErr
	}
	return WrapInternalError(err, "An unexpected error occurred")
}

// GetAppError extracts an AppError anywhere in err's chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := stderrors.As(err, &appErr)
	return appErr, ok
}

func IsAppError(err error) bool {
	_, ok := GetAppError(err)
	return ok
}
