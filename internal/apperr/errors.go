package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping (HTTP status, ws error code).
type Kind string

const (
	KindAuthentication Kind = "AUTHENTICATION"
	KindAuthorization  Kind = "AUTHORIZATION"
	KindValidation     Kind = "VALIDATION"
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindTransient      Kind = "TRANSIENT_STORE"
	KindRateLimited    Kind = "RATE_LIMITED"
	KindInternal       Kind = "INTERNAL"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalid         = errors.New("invalid request")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("store unavailable")
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may safely retry the operation.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

func newf(kind Kind, sentinel error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

func Authentication(format string, args ...any) *Error {
	return newf(KindAuthentication, ErrUnauthenticated, format, args...)
}

func Authorization(format string, args ...any) *Error {
	return newf(KindAuthorization, ErrForbidden, format, args...)
}

func Validation(format string, args ...any) *Error {
	return newf(KindValidation, ErrInvalid, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, ErrNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, ErrConflict, format, args...)
}

func RateLimited(format string, args ...any) *Error {
	return newf(KindRateLimited, nil, format, args...)
}

func Transient(err error, what string) *Error {
	return &Error{Kind: KindTransient, Message: what + ": store unavailable, retry later", Err: errors.Join(ErrUnavailable, err)}
}

func Internal(err error, what string) *Error {
	return &Error{Kind: KindInternal, Message: what + ": internal error", Err: err}
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns a caller-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return "internal error"
}

// FromStore classifies a repository failure for the entity named by what.
// Errors that are already classified pass through unchanged.
func FromStore(err error, what string) error {
	if err == nil {
		return nil
	}
	var e *Error
	switch {
	case errors.As(err, &e):
		return err
	case errors.Is(err, ErrNotFound):
		return &Error{Kind: KindNotFound, Message: what + " not found", Err: err}
	case errors.Is(err, ErrConflict):
		return &Error{Kind: KindConflict, Message: what + " already exists", Err: err}
	case errors.Is(err, ErrInvalid):
		return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return Transient(err, what)
	}
	return Internal(err, what)
}
