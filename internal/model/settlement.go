package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementLine references a claim (or one installment of it) paid by a settlement voucher.
type SettlementLine struct {
	DueDate   *time.Time
	Allocated decimal.Decimal
	ClaimKind VoucherKind
	ClaimID   string
	Party     string
	PartyType string
}

// ClaimRef returns the referenced claim.
func (l *SettlementLine) ClaimRef() VoucherRef {
	return VoucherRef{Kind: l.ClaimKind, ID: l.ClaimID}
}

// Posting is one ledger line of a journal voucher.
type Posting struct {
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Account   string
	Party     string
	PartyType string
}

// Settlement is a payment or journal voucher created to settle claims.
type Settlement struct {
	PostingDate   time.Time
	ReferenceDate time.Time
	PaidAmount    decimal.Decimal
	Kind          VoucherKind
	ID            string
	Company       string
	BankAccount   string
	LedgerAccount string
	Direction     Direction
	Currency      string
	Party         string
	PartyType     string
	ReferenceNo   string
	Lines         []SettlementLine
	Postings      []Posting
}

// Ref returns the settlement's voucher reference.
func (s *Settlement) Ref() VoucherRef {
	return VoucherRef{Kind: s.Kind, ID: s.ID}
}
