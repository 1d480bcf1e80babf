package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every *Error wraps exactly one of these so callers can branch with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("not authorized")
	ErrInvalidState    = errors.New("invalid state")
	ErrExpired         = errors.New("expired")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrTransient       = errors.New("transient failure")
	ErrInternal        = errors.New("internal error")
)

// Error carries a kind, a user-facing message, and an optional underlying cause.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func New(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(resource, id string) *Error {
	return New(ErrNotFound, fmt.Sprintf("%s %q not found", resource, id), nil)
}

func Conflict(message string) *Error {
	return New(ErrConflict, message, nil)
}

// DuplicateCouple reports an active couple request already linking the two addresses.
func DuplicateCouple(addrA, addrB string) *Error {
	return New(ErrConflict, fmt.Sprintf("an active couple request already exists for %s and %s", addrA, addrB), nil)
}

func Forbidden(message string) *Error {
	return New(ErrForbidden, message, nil)
}

func InvalidState(message string) *Error {
	return New(ErrInvalidState, message, nil)
}

func Expired(message string) *Error {
	return New(ErrExpired, message, nil)
}

func InvalidInput(message string) *Error {
	return New(ErrInvalidInput, message, nil)
}

func Unauthenticated(message string, cause error) *Error {
	return New(ErrUnauthenticated, message, cause)
}

func Transient(op string, cause error) *Error {
	return New(ErrTransient, op, cause)
}

func Internal(op string, cause error) *Error {
	return New(ErrInternal, op, cause)
}

// IsTransient reports whether err is a retryable infrastructure failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsDomain reports whether err is a business-rule rejection that must be surfaced, not retried.
func IsDomain(err error) bool {
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrForbidden, ErrInvalidState, ErrExpired, ErrInvalidInput} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// HTTPStatus maps an error onto the response status the API uses for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrExpired):
		return http.StatusGone
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing text for err, hiding causes of internal failures.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		switch {
		case errors.Is(appErr.Kind, ErrInternal):
			return "internal error"
		case errors.Is(appErr.Kind, ErrTransient):
			return "service temporarily unavailable"
		}
		return appErr.Message
	}
	return "internal error"
}
