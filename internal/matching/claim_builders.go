package matching

import (
	"github.com/Veraticus/bankrec/internal/model"
)

// claimBuilder matches unpaid claims. Ordinary rows (positive outstanding)
// match transactions in the claim's natural direction; return rows (negative
// outstanding) match the opposite direction when the kind supports returns.
type claimBuilder struct {
	kind       model.VoucherKind
	natural    model.Direction
	hasReturns bool
}

func newClaimBuilder(kind model.VoucherKind, natural model.Direction, hasReturns bool) claimBuilder {
	return claimBuilder{kind: kind, natural: natural, hasReturns: hasReturns}
}

func (b claimBuilder) Kind() model.VoucherKind { return b.kind }

func (b claimBuilder) Build(mc model.MatchContext, rows []model.Voucher) []model.MatchCandidate {
	wantReturns := mc.Direction != b.natural
	if wantReturns && !b.hasReturns {
		return nil
	}

	var out []model.MatchCandidate
	for i := range rows {
		v := &rows[i]
		if !v.Finalized() || v.Currency != mc.Currency || !sameCompany(mc, v.Company) {
			continue
		}
		if v.IsReturn != wantReturns {
			continue
		}
		if wantReturns && !v.Outstanding.IsNegative() {
			continue
		}
		if !wantReturns && !v.Outstanding.IsPositive() {
			continue
		}
		if !inWindows(mc, v.PostingDate, v.MatchDate()) {
			continue
		}

		referenceNo := v.ReferenceNo
		if referenceNo == "" {
			referenceNo = v.ID
		}
		partyType := v.PartyType
		if partyType == "" {
			partyType = b.kind.PartyType()
		}

		c := criteria{
			reference: referenceMatches(mc, referenceNo),
			amount:    AmountsEqual(v.Outstanding, mc.Amount),
			party:     partyMatches(mc, v.Party, partyType),
		}
		if !c.accepts(mc) {
			continue
		}

		cand := candidateFrom(v, v.Outstanding, referenceNo, c)
		cand.PartyType = partyType
		out = append(out, cand)
	}
	return out
}
