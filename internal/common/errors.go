// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Reconciliation rejections.
	ErrAlreadyReconciled    = errors.New("bank transaction is already fully reconciled")
	ErrMixedVoucherKinds    = errors.New("cannot settle multiple voucher kinds at once")
	ErrMixedParties         = errors.New("cannot settle multiple parties at once")
	ErrPeriodClosed         = errors.New("transaction date is within a closed accounting period")
	ErrOverallocatedReturns = errors.New("the allocated amount cannot be negative")
	ErrCurrencyMismatch     = errors.New("currency mismatch")
	ErrInvalidVoucherKind   = errors.New("invalid voucher kind")
	ErrVoucherNotFinalized  = errors.New("voucher is not finalized")
	ErrTransactionNotOpen   = errors.New("bank transaction is not finalized")
	ErrInvalidPeer          = errors.New("bank transaction is not the opposite leg of a transfer")
	ErrMissingAccount       = errors.New("missing account")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidInput         = errors.New("invalid input")

	// Consistency violations.
	ErrOverAllocated = errors.New("bank transaction is over-allocated")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRejection reports whether err is a validation rejection rather than a
// storage or consistency failure.
func IsRejection(err error) bool {
	var userErr *UserError
	return errors.As(err, &userErr)
}

// OverAllocationError identifies the allocation row that drove a bank
// transaction's remaining amount below zero.
type OverAllocationError struct {
	TransactionID string
	Excess        decimal.Decimal
	Row           int
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("bank transaction %s is over-allocated by %s at row %d",
		e.TransactionID, e.Excess.StringFixed(2), e.Row)
}

func (e *OverAllocationError) Unwrap() error {
	return ErrOverAllocated
}
