// Package matching turns a bank transaction into ranked candidate vouchers.
//
// Each voucher kind has one Builder. Builders are pure: they receive the
// shared MatchContext and the rows the store returned for their kind, and
// decide which rows qualify and how they rank. The Matcher fans out over the
// enabled builders, and the Adjustor discounts what other transactions
// already claimed.
package matching

import (
	"strings"
	"time"

	"github.com/Veraticus/bankrec/internal/model"
	"github.com/shopspring/decimal"
)

// Builder produces candidates of one voucher kind.
type Builder interface {
	Kind() model.VoucherKind
	Build(mc model.MatchContext, rows []model.Voucher) []model.MatchCandidate
}

// DefaultBuilders returns one builder per voucher kind.
func DefaultBuilders() map[model.VoucherKind]Builder {
	builders := []Builder{
		paymentEntryBuilder{},
		journalEntryBuilder{},
		peerTransactionBuilder{},
		newClaimBuilder(model.KindSalesInvoice, model.DirectionDeposit, true),
		newClaimBuilder(model.KindPurchaseInvoice, model.DirectionWithdrawal, true),
		newClaimBuilder(model.KindExpenseClaim, model.DirectionWithdrawal, false),
		newClaimBuilder(model.KindLoanDisbursement, model.DirectionWithdrawal, false),
		newClaimBuilder(model.KindLoanRepayment, model.DirectionDeposit, false),
	}

	out := make(map[model.VoucherKind]Builder, len(builders))
	for _, b := range builders {
		out[b.Kind()] = b
	}
	return out
}

// criteria holds the per-criterion outcome for one row.
type criteria struct {
	reference bool
	amount    bool
	party     bool
	date      bool
}

// rank is 1 plus one point per satisfied criterion.
func (c criteria) rank() int {
	r := 1
	for _, ok := range []bool{c.reference, c.amount, c.party, c.date} {
		if ok {
			r++
		}
	}
	return r
}

// accepts applies the mode and exact-match restrictions of mc.
func (c criteria) accepts(mc model.MatchContext) bool {
	if mc.ExactMatch && !c.amount {
		return false
	}
	if mc.ExactPartyMatch && !c.party {
		return false
	}
	if mc.Mode == model.ModeAutoReconcile && !c.reference {
		return false
	}
	return true
}

func referenceMatches(mc model.MatchContext, referenceNo string) bool {
	ref := strings.TrimSpace(mc.ReferenceNo)
	return ref != "" && ref == strings.TrimSpace(referenceNo)
}

// AmountsEqual compares two amounts at currency precision, ignoring sign.
func AmountsEqual(a, b decimal.Decimal) bool {
	return a.Abs().Round(2).Equal(b.Abs().Round(2))
}

func partyMatches(mc model.MatchContext, party, partyType string) bool {
	if mc.Party == "" || party != mc.Party {
		return false
	}
	return mc.PartyType == "" || partyType == "" || partyType == mc.PartyType
}

// inWindows checks the optional posting-date and reference-date filters.
func inWindows(mc model.MatchContext, postingDate time.Time, matchDate time.Time) bool {
	if !mc.PostingDates.Contains(postingDate) {
		return false
	}
	return mc.ReferenceDates.IsZero() || mc.ReferenceDates.Contains(matchDate)
}

func sameCompany(mc model.MatchContext, company string) bool {
	return mc.Company == "" || company == "" || company == mc.Company
}

func candidateFrom(v *model.Voucher, amount decimal.Decimal, referenceNo string, c criteria) model.MatchCandidate {
	return model.MatchCandidate{
		Kind:                 v.Kind,
		ID:                   v.ID,
		Amount:               amount,
		ReferenceNo:          referenceNo,
		ReferenceDate:        v.ReferenceDate,
		PostingDate:          v.PostingDate,
		Party:                v.Party,
		PartyType:            v.PartyType,
		Currency:             v.Currency,
		IsReturn:             v.IsReturn,
		Rank:                 c.rank(),
		ReferenceNumberMatch: c.reference,
		AmountMatch:          c.amount,
		PartyMatch:           c.party,
		DateMatch:            c.date,
	}
}
