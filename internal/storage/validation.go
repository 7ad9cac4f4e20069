// Package storage provides the SQLite-backed voucher store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/bankrec/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidDateRange   = errors.New("start date must be before end date")
	ErrInvalidTransaction = errors.New("invalid bank transaction")
	ErrInvalidVoucher     = errors.New("invalid voucher")
	ErrInvalidSettlement  = errors.New("invalid settlement")
	ErrInvalidAccount     = errors.New("invalid bank account")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateRef(ref model.VoucherRef) error {
	if !ref.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidVoucher, ref.Kind)
	}
	return validateString(ref.ID, "voucher id")
}

func validateBankAccount(account *model.BankAccount) error {
	if account == nil {
		return fmt.Errorf("%w: bank account", ErrNilParameter)
	}
	if account.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidAccount)
	}
	if account.LedgerAccount == "" {
		return fmt.Errorf("%w: missing ledger account", ErrInvalidAccount)
	}
	if account.Currency == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidAccount)
	}
	return nil
}

func validateLedgerAccount(account *model.LedgerAccount) error {
	if account == nil {
		return fmt.Errorf("%w: ledger account", ErrNilParameter)
	}
	if account.Name == "" {
		return fmt.Errorf("%w: missing ledger account name", ErrInvalidAccount)
	}
	if account.Currency == "" {
		return fmt.Errorf("%w: missing ledger account currency", ErrInvalidAccount)
	}
	return nil
}

// validateBankTransaction checks the shape invariants of a bank transaction.
func validateBankTransaction(txn *model.BankTransaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if txn.BankAccount == "" {
		return fmt.Errorf("%w: missing bank account", ErrInvalidTransaction)
	}
	if txn.Deposit.IsNegative() || txn.Withdrawal.IsNegative() {
		return fmt.Errorf("%w: negative deposit or withdrawal", ErrInvalidTransaction)
	}
	if txn.Deposit.IsPositive() == txn.Withdrawal.IsPositive() {
		return fmt.Errorf("%w: exactly one of deposit and withdrawal must be set", ErrInvalidTransaction)
	}

	seen := make(map[model.VoucherRef]struct{}, len(txn.Allocations))
	for i, a := range txn.Allocations {
		ref := a.Ref()
		if err := validateRef(ref); err != nil {
			return fmt.Errorf("allocation at row %d: %w", i+1, err)
		}
		if _, dup := seen[ref]; dup {
			return fmt.Errorf("%w: %s allocated twice", ErrInvalidTransaction, ref)
		}
		seen[ref] = struct{}{}
	}
	return nil
}

func validateVoucher(v *model.Voucher) error {
	if v == nil {
		return fmt.Errorf("%w: voucher", ErrNilParameter)
	}
	if err := validateRef(v.Ref()); err != nil {
		return err
	}
	if v.Kind == model.KindBankTransaction {
		return fmt.Errorf("%w: bank transactions are saved with SaveBankTransaction", ErrInvalidVoucher)
	}
	if v.PostingDate.IsZero() {
		return fmt.Errorf("%w: missing posting date", ErrInvalidVoucher)
	}
	return nil
}

func validateSettlement(s *model.Settlement) error {
	if s == nil {
		return fmt.Errorf("%w: settlement", ErrNilParameter)
	}
	if s.Kind != model.KindPaymentEntry && s.Kind != model.KindJournalEntry {
		return fmt.Errorf("%w: kind %q cannot settle claims", ErrInvalidSettlement, s.Kind)
	}
	if s.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidSettlement)
	}
	if len(s.Lines) == 0 {
		return fmt.Errorf("%w: no reference lines", ErrInvalidSettlement)
	}
	if s.PaidAmount.IsNegative() {
		return fmt.Errorf("%w: negative paid amount", ErrInvalidSettlement)
	}
	return nil
}
