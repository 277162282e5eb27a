// Package errs defines the typed error kinds returned by the scheduling and chat core.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error.
type Kind string

const (
	KindInvalidTransition Kind = "invalid_transition"
	KindAlreadyPending    Kind = "already_pending"
	KindAlreadyResolved   Kind = "already_resolved"
	KindProposalExpired   Kind = "proposal_expired"
	KindUnauthorized      Kind = "unauthorized"
	KindPaymentRequired   Kind = "payment_required"
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
)

// Sentinels for errors.Is comparisons. Any *Error with the same Kind matches.
var (
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Msg: "invalid state transition"}
	ErrAlreadyPending    = &Error{Kind: KindAlreadyPending, Msg: "a reschedule proposal is already pending"}
	ErrAlreadyResolved   = &Error{Kind: KindAlreadyResolved, Msg: "the reschedule proposal is already resolved"}
	ErrProposalExpired   = &Error{Kind: KindProposalExpired, Msg: "the reschedule proposal has expired"}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized, Msg: "actor is not a participant"}
	ErrPaymentRequired   = &Error{Kind: KindPaymentRequired, Msg: "payment required"}
	ErrNotFound          = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrValidation        = &Error{Kind: KindValidation, Msg: "validation failed"}
	ErrConflict          = &Error{Kind: KindConflict, Msg: "concurrent modification"}
)

// Error is a domain error carrying its kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: string(kind), Err: err}
}

// KindOf returns the kind of err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
