// Package errors provides the structured error taxonomy shared by the reconciler, the workers and the
// admin HTTP surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category of an error. It drives retry decisions, log levels and HTTP status codes.
type ErrorType string

const (
	// TypeTransientProbe is a network or rate-limit failure talking to a streaming platform.
	TypeTransientProbe ErrorType = "transient_probe"
	// TypeIdentityNotFound means the platform does not know the account.
	TypeIdentityNotFound ErrorType = "identity_not_found"
	// TypeDelivery is a message send/edit/delete failure. Retried with backoff.
	TypeDelivery ErrorType = "delivery"
	// TypePermission is a role or channel permission denial. Never retried.
	TypePermission ErrorType = "permission"
	// TypeConfiguration means no channel or role could be resolved.
	TypeConfiguration ErrorType = "configuration"

	TypeValidation ErrorType = "validation"
	TypeNotFound   ErrorType = "not_found"
	TypeConflict   ErrorType = "conflict"
	TypeInternal   ErrorType = "internal"
)

// Error is a structured error with type, message and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps the error type to the status returned by the admin API.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound, TypeIdentityNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypePermission:
		return http.StatusForbidden
	case TypeConfiguration:
		return http.StatusUnprocessableEntity
	case TypeTransientProbe, TypeDelivery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether repeating the failed operation unchanged could succeed.
func (e *Error) Retryable() bool {
	return e.Type == TypeTransientProbe || e.Type == TypeDelivery || e.Type == TypeInternal
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

func TransientProbeError(message string, cause error) *Error {
	return newError(TypeTransientProbe, message, cause)
}

func IdentityNotFoundError(message string, cause error) *Error {
	return newError(TypeIdentityNotFound, message, cause)
}

func DeliveryError(message string, cause error) *Error {
	return newError(TypeDelivery, message, cause)
}

func PermissionError(message string, cause error) *Error {
	return newError(TypePermission, message, cause)
}

func ConfigurationError(message string) *Error {
	return newError(TypeConfiguration, message, nil)
}

func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

func NotFoundError(message string) *Error {
	return newError(TypeNotFound, message, nil)
}

func ConflictError(message string) *Error {
	return newError(TypeConflict, message, nil)
}

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

// WithContext adds a context field (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON body sent to admin API clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Type: e.Type, Context: e.Context}
}

// AsStructuredError returns the *Error in err's chain, or wraps err as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}

// TypeOf returns the type of the first *Error in err's chain, or TypeInternal.
func TypeOf(err error) ErrorType {
	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr.Type
	}
	return TypeInternal
}

// Is reports whether err carries a structured error of type t.
func Is(err error, t ErrorType) bool {
	var structuredErr *Error
	return errors.As(err, &structuredErr) && structuredErr.Type == t
}
