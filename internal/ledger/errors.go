package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound: the identity is unknown to the ledger.
	ErrAccountNotFound = errors.New("account not found on ledger")

	// ErrInsufficientBalance: the source cannot cover the moved amount plus fee.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSequenceConflict: the envelope's sequence number does not follow the
	// account's current one. Retryable after a fresh sequence read.
	ErrSequenceConflict = errors.New("sequence number conflict")

	// ErrSignatureThreshold: the combined weight of valid signatures is below
	// the source account's required threshold.
	ErrSignatureThreshold = errors.New("signature threshold not met")

	// ErrTransactionExpired: the envelope's validity window has passed.
	// Retryable only by rebuilding with a fresh window.
	ErrTransactionExpired = errors.New("transaction validity window expired")

	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidAddress = errors.New("invalid account address")
)

// SubmissionError is an opaque ledger rejection carrying the gateway's
// original code.
type SubmissionError struct {
	Code    string
	Message string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("transaction rejected by ledger (code %s): %s", e.Code, e.Message)
}

// IsRetryable reports whether the error can be resolved by rebuilding the
// envelope, per the propagation policy: sequence conflicts retry from a fresh
// sequence number, expiry retries with a fresh validity window.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSequenceConflict) || errors.Is(err, ErrTransactionExpired)
}
