package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies a ledger failure. Every failure aborts the enclosing
// transaction; no kind is ever partially applied.
type Kind string

const (
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindInvalidLockState    Kind = "invalid_lock_state"
	KindUnbalancedEntry     Kind = "unbalanced_entry"
	KindWalletNotFound      Kind = "wallet_not_found"
	KindOrderStateViolation Kind = "order_state_violation"
	KindUnauthorized        Kind = "unauthorized"
	KindValidation          Kind = "validation_error"
	KindNotFound            Kind = "not_found"
	KindAdUnavailable       Kind = "ad_unavailable"
	KindDuplicate           Kind = "duplicate_reference"
)

// Fault reports whether the kind signals a broken internal invariant
// rather than a rejected request. Faults are never retried.
func (k Kind) Fault() bool {
	return k == KindInvalidLockState || k == KindUnbalancedEntry
}

// Error is the structured failure returned by ledger, P2P and trade operations.
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
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the Err* values below work as
// sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds}
	ErrInvalidLockState    = &Error{Kind: KindInvalidLockState}
	ErrUnbalancedEntry     = &Error{Kind: KindUnbalancedEntry}
	ErrWalletNotFound      = &Error{Kind: KindWalletNotFound}
	ErrOrderStateViolation = &Error{Kind: KindOrderStateViolation}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrAdUnavailable       = &Error{Kind: KindAdUnavailable}
	ErrDuplicate           = &Error{Kind: KindDuplicate}
)

// Errorf builds an *Error of kind for op.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and op to err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind carried by err, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
