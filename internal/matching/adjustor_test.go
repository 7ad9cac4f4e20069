package matching

import (
	"testing"

	"github.com/Veraticus/bankrec/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustCandidates(t *testing.T) {
	pe := func(id, amt string, amountMatch bool, rank int) model.MatchCandidate {
		return model.MatchCandidate{Kind: model.KindPaymentEntry, ID: id, Amount: amount(amt), AmountMatch: amountMatch, Rank: rank}
	}
	candidates := []model.MatchCandidate{
		pe("PE-SHARED", "100", false, 2),
		pe("PE-USED", "50", false, 1),
		pe("PE-WAS-EXACT", "40", true, 3),
		pe("PE-UNTOUCHED", "40", true, 2),
		{Kind: model.KindSalesInvoice, ID: "INV-1", Amount: amount("10"), Rank: 1},
	}
	allocated := map[model.VoucherRef]decimal.Decimal{
		{Kind: model.KindPaymentEntry, ID: "PE-SHARED"}:    amount("60"),
		{Kind: model.KindPaymentEntry, ID: "PE-USED"}:      amount("50"),
		{Kind: model.KindPaymentEntry, ID: "PE-WAS-EXACT"}: amount("15"),
		{Kind: model.KindSalesInvoice, ID: "INV-1"}:        amount("10"),
	}

	got := AdjustCandidates(candidates, allocated, amount("40"), false)
	require.Len(t, got, 4, "fully consumed candidates are dropped")

	assert.Equal(t, "PE-SHARED", got[0].ID)
	assert.True(t, amount("40").Equal(got[0].Amount))
	assert.True(t, got[0].AmountMatch)
	assert.Equal(t, 3, got[0].Rank)

	assert.Equal(t, "PE-WAS-EXACT", got[1].ID)
	assert.True(t, amount("25").Equal(got[1].Amount))
	assert.False(t, got[1].AmountMatch)
	assert.Equal(t, 2, got[1].Rank)

	assert.Equal(t, "PE-UNTOUCHED", got[2].ID)
	assert.True(t, amount("40").Equal(got[2].Amount))

	assert.Equal(t, "INV-1", got[3].ID)
	assert.True(t, amount("10").Equal(got[3].Amount), "claims pass through")
}

func TestAdjustCandidates_ExactMatchDropsChangedAmounts(t *testing.T) {
	candidates := []model.MatchCandidate{
		{Kind: model.KindPaymentEntry, ID: "PE-SHRUNK", Amount: amount("100"), AmountMatch: true, Rank: 2},
		{Kind: model.KindPaymentEntry, ID: "PE-NOW-EQUAL", Amount: amount("130"), Rank: 1},
		{Kind: model.KindPaymentEntry, ID: "PE-UNTOUCHED", Amount: amount("100"), AmountMatch: true, Rank: 1},
	}
	allocated := map[model.VoucherRef]decimal.Decimal{
		{Kind: model.KindPaymentEntry, ID: "PE-SHRUNK"}:    amount("30"),
		{Kind: model.KindPaymentEntry, ID: "PE-NOW-EQUAL"}: amount("30"),
	}

	got := AdjustCandidates(candidates, allocated, amount("100"), true)
	require.Len(t, got, 2)
	assert.Equal(t, "PE-NOW-EQUAL", got[0].ID)
	assert.True(t, got[0].AmountMatch)
	assert.Equal(t, 2, got[0].Rank)
	assert.Equal(t, "PE-UNTOUCHED", got[1].ID)
}
