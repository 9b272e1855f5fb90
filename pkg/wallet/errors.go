package wallet

import (
	"context"
	"errors"
)

// Errors returned by the wallet service. The first group is caused by the
// request and is safe to show to the caller; the rest are internal.
var (
	// ErrInvalidAmount is returned for zero, negative or out-of-range amounts
	ErrInvalidAmount = errors.New("wallet: invalid amount")

	// ErrInsufficientBalance is returned when the sender cannot cover the amount
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")

	// ErrRecipientNotFound is returned when the recipient does not resolve
	ErrRecipientNotFound = errors.New("wallet: recipient not found")

	// ErrAccountNotFound is returned when an account id does not exist
	ErrAccountNotFound = errors.New("wallet: account not found")

	// ErrSelfTransfer is returned when sender and recipient are the same account
	ErrSelfTransfer = errors.New("wallet: cannot transfer to own account")

	// ErrIdempotencyMismatch is returned when an idempotency key is reused
	// for a different recipient or amount
	ErrIdempotencyMismatch = errors.New("wallet: idempotency key reused with different request")

	// ErrInvalidRequest is returned for malformed queries and inputs
	ErrInvalidRequest = errors.New("wallet: invalid request")

	// ErrTransferFailed wraps every unexpected failure while moving money.
	// The wrapped cause is for logs only.
	ErrTransferFailed = errors.New("wallet: transfer failed")
)

// Store level errors.
var (
	// ErrConflict is returned by a store when the transaction lost a
	// serialization or lock race and may be retried as a whole
	ErrConflict = errors.New("wallet: transaction conflict")

	// ErrNegativeBalance is returned by AdjustBalance when the result would
	// drop below zero
	ErrNegativeBalance = errors.New("wallet: balance would become negative")
)

// IsUserError reports whether err was caused by the request rather than by
// the system.
func IsUserError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrRecipientNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrSelfTransfer) ||
		errors.Is(err, ErrIdempotencyMismatch) ||
		errors.Is(err, ErrInvalidRequest)
}

// ClassifyError returns a short label for logs and metrics.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrRecipientNotFound):
		return "recipient_not_found"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrSelfTransfer):
		return "self_transfer"
	case errors.Is(err, ErrIdempotencyMismatch):
		return "idempotency_mismatch"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
