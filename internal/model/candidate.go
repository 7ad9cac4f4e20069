package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchMode selects how candidates are accepted.
type MatchMode int

const (
	// ModeInteractive returns every plausible candidate, ranked for a human.
	ModeInteractive MatchMode = iota
	// ModeAutoReconcile only returns candidates with an exact reference number match.
	ModeAutoReconcile
)

// DateRange is an inclusive date window. Nil bounds are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether t lies inside the window, comparing calendar days.
func (r DateRange) Contains(t time.Time) bool {
	day := truncateDay(t)
	if r.From != nil && day.Before(truncateDay(*r.From)) {
		return false
	}
	if r.To != nil && day.After(truncateDay(*r.To)) {
		return false
	}
	return true
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool {
	return r.From == nil && r.To == nil
}

// SameDay reports whether two timestamps fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return truncateDay(a).Equal(truncateDay(b))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MatchContext is the query input shared read-only by all candidate builders.
type MatchContext struct {
	Date            time.Time
	Amount          decimal.Decimal
	TransactionID   string
	Direction       Direction
	ReferenceNo     string
	Party           string
	PartyType       string
	BankAccount     string
	LedgerAccount   string
	Company         string
	Currency        string
	PostingDates    DateRange
	ReferenceDates  DateRange
	Mode            MatchMode
	ExactMatch      bool
	ExactPartyMatch bool
}

// MatchCandidate is a ranked voucher proposed for a bank transaction.
type MatchCandidate struct {
	PostingDate          time.Time
	ReferenceDate        *time.Time
	Amount               decimal.Decimal
	Kind                 VoucherKind
	ID                   string
	ReferenceNo          string
	Party                string
	PartyType            string
	Currency             string
	Rank                 int
	ReferenceNumberMatch bool
	AmountMatch          bool
	PartyMatch           bool
	DateMatch            bool
	NameInDescMatch      bool
	IsReturn             bool
}

// Ref returns the candidate's voucher reference.
func (c *MatchCandidate) Ref() VoucherRef {
	return VoucherRef{Kind: c.Kind, ID: c.ID}
}
