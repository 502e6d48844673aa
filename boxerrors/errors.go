// Package boxerrors defines the tagged-variant error taxonomy shared by every
// BoxLite component, mirroring the single-enum error style the teacher keeps
// in virtcontainers/types/errors.go, but carrying a Kind so callers (CLI,
// FFI, tests) can switch on category without parsing strings.
package boxerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error into the taxonomy from the error handling design.
type Kind string

const (
	NotFound       Kind = "NotFound"
	AlreadyExists  Kind = "AlreadyExists"
	InvalidState   Kind = "InvalidState"
	InvalidArgument Kind = "InvalidArgument"
	Config         Kind = "Config"
	Storage        Kind = "Storage"
	Image          Kind = "Image"
	Network        Kind = "Network"
	Execution      Kind = "Execution"
	Stopped        Kind = "Stopped"
	Engine         Kind = "Engine"
	Unsupported    Kind = "Unsupported"
	Database       Kind = "Database"
	RPC            Kind = "RPC"
	RPCTransport   Kind = "RpcTransport"
	Metadata       Kind = "Metadata"
	Internal       Kind = "Internal"
)

// Error is the single error type returned by the box lifecycle core. It
// wraps an underlying cause (when there is one) while preserving the Kind
// for the caller and the originating stack for diagnostics, matching the
// teacher's pkg/errors-based wrapping idiom in virtcontainers.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// Cause satisfies github.com/pkg/errors' causer interface so errors.Cause
// and stack-trace reporting keep working across a New/Wrap chain.
func (e *Error) Cause() error {
	if e.cause != nil {
		return e.cause
	}
	return e
}

// New constructs a fresh Error of the given kind with no wrapped cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches stage/operation context to err while classifying it under
// kind. If err is nil, Wrap returns nil. The result always carries kind,
// even when err is itself an *Error of another kind; KindOf reports the
// outermost Kind in the chain.
func Wrap(err error, kind Kind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:   kind,
		Detail: fmt.Sprintf(format, args...),
		cause:  errors.WithStack(err),
	}
}

// KindOf extracts the Kind from err, defaulting to Internal for errors that
// never passed through this package (e.g. raw os.PathError from a stage).
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
