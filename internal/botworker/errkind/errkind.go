// Package errkind classifies errors surfaced to callers of the orchestrator.
//
// Every caller-visible failure carries one of five kinds. The transport maps
// a kind onto a status code; the core never deals with status codes.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is the caller-visible error category.
type Kind string

const (
	Unauthorized Kind = "unauthorized"
	NotFound     Kind = "not_found"
	Forbidden    Kind = "forbidden"
	BadRequest   Kind = "bad_request"
	Internal     Kind = "internal"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrUnauthorized = &Error{Kind: Unauthorized, Message: "unauthorized"}
	ErrNotFound     = &Error{Kind: NotFound, Message: "not found"}
	ErrForbidden    = &Error{Kind: Forbidden, Message: "forbidden"}
	ErrBadRequest   = &Error{Kind: BadRequest, Message: "bad request"}
	ErrInternal     = &Error{Kind: Internal, Message: "internal error"}
)

// Error is a classified error. Message is safe to show to the caller; Err
// holds the underlying cause and is exposed as Details.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// holds for every NotFound error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Details returns the cause text, or "" when there is none.
func (e *Error) Details() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind with a caller-safe message.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind of err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
