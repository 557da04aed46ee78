package core

import (
	"errors"
	"fmt"
)

// Kind classifies request-surface failures. The HTTP layer
// that sits in front of this package maps kinds to response classes;
// the core only ever reports the kind.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindAccessDenied Kind = "access_denied"
	KindBadRequest   Kind = "bad_request"
	KindDriverError  Kind = "driver_error"
	KindInternal     Kind = "internal"
	KindShuttingDown Kind = "shutting_down"
)

// Error is a classified request-surface error. Op names the failing
// operation ("project.create", "run.cancel") for request-context
// logging.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the inner error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// errOf wraps err with a kind and operation name.
func errOf(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// errf builds a classified error from a format string.
func errf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// internalErr classifies err as Internal and logs it with the
// originating operation. Internal errors are database inconsistencies
// or programmer errors and are never swallowed silently.
func (c *Context) internalErr(op string, err error) *Error {
	c.logger.Printf("%s: internal error: %v", op, err)
	return errOf(KindInternal, op, err)
}

// KindOf reports err's kind; unclassified errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
