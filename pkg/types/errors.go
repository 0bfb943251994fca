package types

import (
	"errors"
	"fmt"
)

// Storage sentinels. Backends wrap these so callers can match with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")
)

// ErrorKind classifies a ServiceError
type ErrorKind string

const (
	KindInvalidArgument    ErrorKind = "invalid_argument"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindConflict           ErrorKind = "conflict"
	KindNotFound           ErrorKind = "not_found"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindInternal           ErrorKind = "internal_error"
)

// StatusCode maps the kind to an HTTP status
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindInvalidArgument, KindConflict:
		return 400
	case KindUnauthorized:
		return 401
	case KindNotFound:
		return 404
	default:
		return 500
	}
}

// ServiceError is the caller-facing error of every service operation.
// Message is safe to show to clients; Err is kept for logs only.
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewError creates a ServiceError of the given kind
func NewError(kind ErrorKind, message string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Message: message, Err: err}
}

// InvalidArgument creates a 400 error
func InvalidArgument(message string) *ServiceError {
	return NewError(KindInvalidArgument, message, nil)
}

// Unauthorized creates a 401 error
func Unauthorized(message string, err error) *ServiceError {
	return NewError(KindUnauthorized, message, err)
}

// Conflict creates a duplicate-registration error
func Conflict(message string, err error) *ServiceError {
	return NewError(KindConflict, message, err)
}

// NotFound creates a 404 error
func NotFound(message string) *ServiceError {
	return NewError(KindNotFound, message, ErrNotFound)
}

// ServiceUnavailable creates an error for exhausted providers
func ServiceUnavailable(message string, err error) *ServiceError {
	return NewError(KindServiceUnavailable, message, err)
}

// Internal creates an error for unexpected faults
func Internal(message string, err error) *ServiceError {
	return NewError(KindInternal, message, err)
}

// KindOf returns the kind of err, or KindInternal when err is not a ServiceError
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
