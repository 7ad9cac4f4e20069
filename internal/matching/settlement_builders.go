package matching

import (
	"github.com/Veraticus/bankrec/internal/model"
)

// paymentEntryBuilder matches payment vouchers booked through the bank account.
type paymentEntryBuilder struct{}

func (paymentEntryBuilder) Kind() model.VoucherKind { return model.KindPaymentEntry }

func (paymentEntryBuilder) Build(mc model.MatchContext, rows []model.Voucher) []model.MatchCandidate {
	var out []model.MatchCandidate
	for i := range rows {
		v := &rows[i]
		if v.BankAccount != mc.BankAccount {
			continue
		}
		if c, ok := settlementCandidate(mc, v); ok {
			out = append(out, c)
		}
	}
	return out
}

// journalEntryBuilder matches journal vouchers with a line on the bank's ledger account.
type journalEntryBuilder struct{}

func (journalEntryBuilder) Kind() model.VoucherKind { return model.KindJournalEntry }

func (journalEntryBuilder) Build(mc model.MatchContext, rows []model.Voucher) []model.MatchCandidate {
	var out []model.MatchCandidate
	for i := range rows {
		v := &rows[i]
		if v.Account != mc.LedgerAccount && v.BankAccount != mc.BankAccount {
			continue
		}
		if c, ok := settlementCandidate(mc, v); ok {
			out = append(out, c)
		}
	}
	return out
}

// settlementCandidate applies the filters and ranking shared by settlement vouchers.
func settlementCandidate(mc model.MatchContext, v *model.Voucher) (model.MatchCandidate, bool) {
	if !v.Finalized() || v.Cleared() {
		return model.MatchCandidate{}, false
	}
	if v.Direction != mc.Direction || v.Currency != mc.Currency || !sameCompany(mc, v.Company) {
		return model.MatchCandidate{}, false
	}
	if !v.Total.IsPositive() || !inWindows(mc, v.PostingDate, v.MatchDate()) {
		return model.MatchCandidate{}, false
	}

	c := criteria{
		reference: referenceMatches(mc, v.ReferenceNo),
		amount:    AmountsEqual(v.Total, mc.Amount),
		party:     partyMatches(mc, v.Party, v.PartyType),
		date:      model.SameDay(v.MatchDate(), mc.Date),
	}
	if !c.accepts(mc) {
		return model.MatchCandidate{}, false
	}
	return candidateFrom(v, v.Total, v.ReferenceNo, c), true
}

// peerTransactionBuilder matches the opposite leg of a transfer inside the same bank account.
type peerTransactionBuilder struct{}

func (peerTransactionBuilder) Kind() model.VoucherKind { return model.KindBankTransaction }

func (peerTransactionBuilder) Build(mc model.MatchContext, rows []model.Voucher) []model.MatchCandidate {
	var out []model.MatchCandidate
	for i := range rows {
		v := &rows[i]
		if v.ID == mc.TransactionID || !v.Finalized() {
			continue
		}
		if v.Direction != mc.Direction.Opposite() || v.BankAccount != mc.BankAccount || v.Currency != mc.Currency {
			continue
		}
		if !v.Outstanding.IsPositive() || !inWindows(mc, v.PostingDate, v.MatchDate()) {
			continue
		}

		c := criteria{
			reference: referenceMatches(mc, v.ReferenceNo),
			amount:    AmountsEqual(v.Outstanding, mc.Amount),
			party:     partyMatches(mc, v.Party, v.PartyType),
			date:      model.SameDay(v.PostingDate, mc.Date),
		}
		if !c.accepts(mc) {
			continue
		}
		out = append(out, candidateFrom(v, v.Outstanding, v.ReferenceNo, c))
	}
	return out
}
