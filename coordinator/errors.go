package coordinator

import (
	"fmt"
)

// Kind is the machine-readable classification of a pipeline failure.
// Callers branch on kinds, never on error text.
type Kind string

const (
	KindNotSynced         Kind = "not_synced"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindInsufficientFee   Kind = "insufficient_fee"
	KindSigningDenied     Kind = "signing_denied"
	KindKeyUnavailable    Kind = "key_unavailable"
	KindRejected          Kind = "rejected"
	KindTimedOut          Kind = "timed_out"
	KindTxExpired         Kind = "tx_expired"
	KindProofFailed       Kind = "proof_failed"
)

var hints = map[Kind]string{
	KindNotSynced:         "wait for wallet sync to complete, then retry",
	KindInsufficientFunds: "fund the wallet with more ember or lower the amount",
	KindInsufficientFee:   "register ember to generate dust before transacting",
	KindSigningDenied:     "re-run the operation and approve the signing prompt",
	KindKeyUnavailable:    "unlock the wallet and retry",
	KindRejected:          "inspect the rejection reason and rebuild the transaction",
	KindTimedOut:          "confirmation is unknown, re-check wallet state before retrying",
	KindTxExpired:         "the transaction expired, rebuild it from a fresh draft",
	KindProofFailed:       "check that the proving service is running, then retry",
}

// Error is a classified pipeline failure: a stable kind for machines and a
// remediation hint for humans. It wraps the underlying cause, if any.
type Error struct {
	Kind Kind
	Hint string

	cause error
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Hint: hints[kind], cause: cause}
}

func newErrorf(kind Kind, format string, a ...interface{}) *Error {
	return newError(kind, fmt.Errorf(format, a...))
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same kind, so
// errors.Is(err, ErrInsufficientFunds) works regardless of the cause.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotSynced         = newError(KindNotSynced, nil)
	ErrInsufficientFunds = newError(KindInsufficientFunds, nil)
	ErrInsufficientFee   = newError(KindInsufficientFee, nil)
	ErrSigningDenied     = newError(KindSigningDenied, nil)
	ErrKeyUnavailable    = newError(KindKeyUnavailable, nil)
	ErrRejected          = newError(KindRejected, nil)
	ErrTimedOut          = newError(KindTimedOut, nil)
	ErrTxExpired         = newError(KindTxExpired, nil)
	ErrProofFailed       = newError(KindProofFailed, nil)
)
