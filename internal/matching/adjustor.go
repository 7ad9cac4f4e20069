package matching

import (
	"context"
	"fmt"

	"github.com/Veraticus/bankrec/internal/model"
	"github.com/shopspring/decimal"
)

// Adjustor discounts settlement candidates by what other bank transactions of
// the same account have already allocated to them.
type Adjustor struct {
	store VoucherReader
}

// NewAdjustor creates an adjustor over the store's allocation index.
func NewAdjustor(store VoucherReader) *Adjustor {
	return &Adjustor{store: store}
}

// Adjust returns the candidates with their amounts reduced by allocations
// from other transactions, re-sorted by rank. Candidates with nothing left
// are dropped, and so are those no longer equal to the target when exact is set.
func (a *Adjustor) Adjust(ctx context.Context, txn *model.BankTransaction, candidates []model.MatchCandidate, exact bool) ([]model.MatchCandidate, error) {
	var refs []model.VoucherRef
	for i := range candidates {
		if candidates[i].Kind.Category() == model.CategorySettlement {
			refs = append(refs, candidates[i].Ref())
		}
	}
	if len(refs) == 0 {
		return candidates, nil
	}

	allocated, err := a.store.GetAllocatedAmounts(ctx, txn.BankAccount, refs, txn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocated amounts: %w", err)
	}

	adjusted := AdjustCandidates(candidates, allocated, txn.UnallocatedAmount, exact)
	SortByRank(adjusted)
	return adjusted, nil
}

// AdjustCandidates is the pure core of Adjust. It preserves input order.
func AdjustCandidates(candidates []model.MatchCandidate, allocated map[model.VoucherRef]decimal.Decimal, target decimal.Decimal, exact bool) []model.MatchCandidate {
	out := make([]model.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		used, ok := allocated[c.Ref()]
		if !ok || c.Kind.Category() != model.CategorySettlement {
			out = append(out, c)
			continue
		}

		remaining := c.Amount.Sub(used)
		if !remaining.IsPositive() {
			continue
		}

		wasMatch := c.AmountMatch
		c.Amount = remaining
		c.AmountMatch = AmountsEqual(remaining, target)
		if exact && !c.AmountMatch {
			continue
		}
		switch {
		case wasMatch && !c.AmountMatch:
			c.Rank--
		case !wasMatch && c.AmountMatch:
			c.Rank++
		}
		out = append(out, c)
	}
	return out
}
