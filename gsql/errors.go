package gsql

import (
	"errors"
	"fmt"
)

// Code is the backend-neutral error category stored on a connection.
type Code int

const (
	// CodeNone means no error is pending
	CodeNone Code = iota
	// CodeNotNullViolation is a NOT NULL constraint failure
	CodeNotNullViolation
	// CodeUniqueViolation is a unique or primary key constraint failure
	CodeUniqueViolation
	// CodeOther covers everything else, including usage errors
	CodeOther
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeNotNullViolation:
		return "not_null_violation"
	case CodeUniqueViolation:
		return "unique_violation"
	case CodeOther:
		return "other"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

var (
	ErrInvalidFormat  = errors.New("gsql: invalid format string")
	ErrArgCount       = errors.New("gsql: argument count does not match format")
	ErrParamCount     = errors.New("gsql: value count does not match statement parameters")
	ErrColumnCount    = errors.New("gsql: format does not match result column count")
	ErrMustBind       = errors.New("gsql: query must be bound before this operation")
	ErrUnpairedNull   = errors.New("gsql: NULL column without a ? flag in the format")
	ErrTruncated      = errors.New("gsql: column value longer than the output buffer")
	ErrNotImplemented = errors.New("gsql: not implemented by this backend")
	ErrPending        = errors.New("gsql: connection has a pending error")
	ErrClosed         = errors.New("gsql: use of closed connection or query")
	ErrNoTransaction  = errors.New("gsql: no transaction in progress")
	ErrUnknownBackend = errors.New("gsql: unknown backend")
	ErrBadDSN         = errors.New("gsql: dsn must look like <backend>:<options>")
)

// Error is the error state of a Conn. Every failed operation on a Conn or
// one of its queries stores one and returns it.
type Error struct {
	Code    Code
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

// Unwrap returns the underlying cause, which lets errors.Is match the
// package sentinels and errors.As reach native driver errors.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(op string, code Code, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Op: op, Message: msg, Cause: cause}
}

// CodeOf reports the category of err. A nil error is CodeNone and an error
// that did not come from this package is CodeOther.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNone
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeOther
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	return CodeOf(err) == CodeUniqueViolation
}

// IsNotNullViolation reports whether err is a NOT NULL constraint failure.
func IsNotNullViolation(err error) bool {
	return CodeOf(err) == CodeNotNullViolation
}
