// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// VoucherKind names a ledger document type that can be matched against a bank transaction.
type VoucherKind string

// Voucher kinds known to the engine.
const (
	KindPaymentEntry     VoucherKind = "Payment Entry"
	KindJournalEntry     VoucherKind = "Journal Entry"
	KindSalesInvoice     VoucherKind = "Sales Invoice"
	KindPurchaseInvoice  VoucherKind = "Purchase Invoice"
	KindExpenseClaim     VoucherKind = "Expense Claim"
	KindLoanDisbursement VoucherKind = "Loan Disbursement"
	KindLoanRepayment    VoucherKind = "Loan Repayment"
	KindBankTransaction  VoucherKind = "Bank Transaction"
)

// VoucherCategory groups voucher kinds by how the engine treats them.
type VoucherCategory int

// Voucher categories.
const (
	// CategorySettlement vouchers represent money that actually moved.
	CategorySettlement VoucherCategory = iota + 1
	// CategoryClaim vouchers carry an outstanding amount and need a settlement voucher.
	CategoryClaim
	// CategoryPeer is another bank transaction on the same account.
	CategoryPeer
)

// AllKinds lists every voucher kind in the order candidate builders run.
var AllKinds = []VoucherKind{
	KindPaymentEntry,
	KindJournalEntry,
	KindBankTransaction,
	KindSalesInvoice,
	KindPurchaseInvoice,
	KindExpenseClaim,
	KindLoanDisbursement,
	KindLoanRepayment,
}

// SettlementKinds are the kinds auto-reconciliation is allowed to consider.
var SettlementKinds = []VoucherKind{KindPaymentEntry, KindJournalEntry}

// Category returns the category of the kind. Unknown kinds return zero.
func (k VoucherKind) Category() VoucherCategory {
	switch k {
	case KindPaymentEntry, KindJournalEntry:
		return CategorySettlement
	case KindSalesInvoice, KindPurchaseInvoice, KindExpenseClaim, KindLoanDisbursement, KindLoanRepayment:
		return CategoryClaim
	case KindBankTransaction:
		return CategoryPeer
	default:
		return 0
	}
}

// Valid reports whether the kind is one the engine knows.
func (k VoucherKind) Valid() bool {
	return k.Category() != 0
}

// IsClaim reports whether vouchers of this kind need a settlement voucher.
func (k VoucherKind) IsClaim() bool {
	return k.Category() == CategoryClaim
}

// PartyType returns the party type claims of this kind are raised against.
func (k VoucherKind) PartyType() string {
	switch k {
	case KindSalesInvoice:
		return PartyCustomer
	case KindPurchaseInvoice:
		return PartySupplier
	case KindExpenseClaim:
		return PartyEmployee
	case KindLoanDisbursement, KindLoanRepayment:
		return PartyCustomer
	default:
		return ""
	}
}

// ParseVoucherKind maps a kind name to a VoucherKind.
func ParseVoucherKind(s string) (VoucherKind, error) {
	k := VoucherKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown voucher kind %q", s)
	}
	return k, nil
}

// Party types.
const (
	PartyCustomer = "Customer"
	PartySupplier = "Supplier"
	PartyEmployee = "Employee"
)

// DocStatus is the lifecycle state of a ledger document.
type DocStatus int

// Document states.
const (
	DocDraft     DocStatus = 0
	DocFinalized DocStatus = 1
	DocCancelled DocStatus = 2
)

// VoucherRef identifies a voucher by kind and id.
type VoucherRef struct {
	Kind VoucherKind
	ID   string
}

func (r VoucherRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// Voucher is the projection of any ledger document the engine can match.
//
// Outstanding is signed for claims: return invoices carry a negative amount.
// For settlement vouchers it mirrors Total; for peer transactions it is the
// peer's unallocated amount.
type Voucher struct {
	PostingDate   time.Time
	ReferenceDate *time.Time
	DueDate       *time.Time
	ClearanceDate *time.Time
	Total         decimal.Decimal
	Outstanding   decimal.Decimal
	Kind          VoucherKind
	ID            string
	Company       string
	Account       string
	BankAccount   string
	Direction     Direction
	Currency      string
	Party         string
	PartyType     string
	ReferenceNo   string
	Status        DocStatus
	IsReturn      bool
}

// Ref returns the voucher's reference.
func (v *Voucher) Ref() VoucherRef {
	return VoucherRef{Kind: v.Kind, ID: v.ID}
}

// Finalized reports whether the voucher is submitted and not cancelled.
func (v *Voucher) Finalized() bool {
	return v.Status == DocFinalized
}

// Cleared reports whether the voucher already has a clearance date.
func (v *Voucher) Cleared() bool {
	return v.ClearanceDate != nil
}

// MatchDate is the reference date when present, else the posting date.
func (v *Voucher) MatchDate() time.Time {
	if v.ReferenceDate != nil && !v.ReferenceDate.IsZero() {
		return *v.ReferenceDate
	}
	return v.PostingDate
}

// Installment is one row of a claim's payment schedule.
type Installment struct {
	DueDate       time.Time
	PaymentAmount decimal.Decimal
	Outstanding   decimal.Decimal
}
