package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction indicates which way money moved on the bank account.
type Direction string

const (
	// DirectionDeposit means money came into the account (payment type "Receive").
	DirectionDeposit Direction = "deposit"
	// DirectionWithdrawal means money left the account (payment type "Pay").
	DirectionWithdrawal Direction = "withdrawal"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionDeposit {
		return DirectionWithdrawal
	}
	return DirectionDeposit
}

// ReconciliationStatus is derived from a bank transaction's unallocated amount.
type ReconciliationStatus string

// Reconciliation states.
const (
	StatusUnreconciled        ReconciliationStatus = "Unreconciled"
	StatusPartiallyReconciled ReconciliationStatus = "Partially Reconciled"
	StatusReconciled          ReconciliationStatus = "Reconciled"
)

// BankAccount links a bank account to its ledger account.
type BankAccount struct {
	Name          string
	LedgerAccount string
	Company       string
	Currency      string
}

// LedgerAccount is a general ledger account and the currency it is kept in.
type LedgerAccount struct {
	Name     string
	Company  string
	Currency string
}

// Allocation links a bank transaction to a voucher with a signed amount.
type Allocation struct {
	Amount    decimal.Decimal
	Kind      VoucherKind
	VoucherID string
	Party     string
	PartyType string
}

// Ref returns the referenced voucher.
func (a *Allocation) Ref() VoucherRef {
	return VoucherRef{Kind: a.Kind, ID: a.VoucherID}
}

// BankTransaction is one imported bank statement line.
type BankTransaction struct {
	Date              time.Time
	ID                string
	BankAccount       string
	Company           string
	Currency          string
	Description       string
	ReferenceNo       string
	Party             string
	PartyType         string
	Status            ReconciliationStatus
	Deposit           decimal.Decimal
	Withdrawal        decimal.Decimal
	AllocatedAmount   decimal.Decimal
	UnallocatedAmount decimal.Decimal
	Allocations       []Allocation
	DocStatus         DocStatus
}

// Amount returns the gross amount of the transaction.
func (t *BankTransaction) Amount() decimal.Decimal {
	if t.Deposit.IsPositive() {
		return t.Deposit
	}
	return t.Withdrawal
}

// Direction returns whether the transaction is a deposit or a withdrawal.
func (t *BankTransaction) Direction() Direction {
	if t.Deposit.IsPositive() {
		return DirectionDeposit
	}
	return DirectionWithdrawal
}

// Finalized reports whether the transaction is submitted.
func (t *BankTransaction) Finalized() bool {
	return t.DocStatus == DocFinalized
}

// FindAllocation returns the index of the allocation referencing ref, or -1.
func (t *BankTransaction) FindAllocation(ref VoucherRef) int {
	for i := range t.Allocations {
		if t.Allocations[i].Kind == ref.Kind && t.Allocations[i].VoucherID == ref.ID {
			return i
		}
	}
	return -1
}

// HasAllocation reports whether ref is already linked to the transaction.
func (t *BankTransaction) HasAllocation(ref VoucherRef) bool {
	return t.FindAllocation(ref) >= 0
}

// RecomputeTotals derives the allocated and unallocated amounts and the status
// from the allocation rows.
func (t *BankTransaction) RecomputeTotals() {
	allocated := decimal.Zero
	for _, a := range t.Allocations {
		allocated = allocated.Add(a.Amount)
	}
	t.AllocatedAmount = allocated.Round(2)
	t.UnallocatedAmount = t.Amount().Sub(t.AllocatedAmount).Round(2)

	switch {
	case t.UnallocatedAmount.IsZero() || t.UnallocatedAmount.IsNegative():
		t.Status = StatusReconciled
	case t.AllocatedAmount.IsZero():
		t.Status = StatusUnreconciled
	default:
		t.Status = StatusPartiallyReconciled
	}
}
