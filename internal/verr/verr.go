// Package verr defines the stable error-kind enumeration used across the
// engine (spec §7). Handlers compare kinds with errors.Is against the
// sentinel Kind values; the human text is carried alongside for direct
// display in a chat console and is never parsed by callers.
package verr

import "fmt"

// Kind is a stable, comparable error category.
type Kind string

const (
	MalformedPacket Kind = "malformed_packet"
	NotAuthenticated Kind = "not_authenticated"
	NotFound        Kind = "not_found"
	AlreadyExists   Kind = "already_exists"
	ValidationError Kind = "validation_error"
	CooldownActive  Kind = "cooldown_active"
	RateLimited     Kind = "rate_limited"
	Busy            Kind = "busy"
	Transient       Kind = "transient"
	Fatal           Kind = "fatal"
)

// Error wraps a Kind, a human-readable diagnostic suitable for direct
// display in a chat console, and an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, verr.New(verr.NotFound, "")) — but more idiomatically
// they should use Is(err, kind) below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind with a human message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *verr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); !ok {
		return false
	}
	return e.Kind == kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// RateLimitedf builds a RateLimited error carrying remaining-seconds in the
// message text (spec §7 RateLimited(remaining-seconds)).
func RateLimitedf(remainingSeconds int) *Error {
	return New(RateLimited, fmt.Sprintf("Rate limited. Wait %d seconds.", remainingSeconds))
}
