package reconcile

import (
	"time"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/shopspring/decimal"
)

// claimRow is one claim (or one installment of a claim) queued for settlement.
type claimRow struct {
	DueDate     *time.Time
	Outstanding decimal.Decimal
	Allocated   decimal.Decimal
	Kind        model.VoucherKind
	ID          string
	Party       string
	PartyType   string
	Account     string
	IsReturn    bool
}

func (r *claimRow) ref() model.VoucherRef {
	return model.VoucherRef{Kind: r.Kind, ID: r.ID}
}

// splitInstallments replaces a claim with one row per open installment when
// its payment schedule has several open rows that add up to the claim's
// outstanding amount. Other claims pass through unchanged.
func splitInstallments(row claimRow, schedule []model.Installment) []claimRow {
	var open []model.Installment
	total := decimal.Zero
	for _, inst := range schedule {
		if inst.Outstanding.IsZero() {
			continue
		}
		open = append(open, inst)
		total = total.Add(inst.Outstanding)
	}

	if len(open) < 2 || !total.Round(2).Equal(row.Outstanding.Round(2)) {
		return []claimRow{row}
	}

	rows := make([]claimRow, 0, len(open))
	for _, inst := range open {
		due := inst.DueDate
		split := row
		split.DueDate = &due
		split.Outstanding = inst.Outstanding
		rows = append(rows, split)
	}
	return rows
}

// allocationPools computes the positive and negative pools for a claim batch.
//
// The negative pool may never exceed the positive one, except for a batch of
// returns only settled by a transaction in the opposite direction (a refund),
// in which case the negative pool is capped at the unallocated amount. When
// the net of the pools exceeds the unallocated amount the positive pool is
// trimmed by the excess.
func allocationPools(rows []claimRow, unallocated decimal.Decimal, direction model.Direction) (decimal.Decimal, decimal.Decimal, error) {
	sumPositive := decimal.Zero
	sumNegative := decimal.Zero
	for _, row := range rows {
		if row.Outstanding.IsPositive() {
			sumPositive = sumPositive.Add(row.Outstanding)
		} else {
			sumNegative = sumNegative.Add(row.Outstanding.Abs())
		}
	}

	if sumNegative.IsPositive() && sumPositive.IsZero() && isRefund(rows, direction) {
		return sumPositive, decimal.Min(sumNegative, unallocated), nil
	}

	if sumNegative.GreaterThan(sumPositive) {
		return decimal.Zero, decimal.Zero, common.NewUserError(
			"Overallocated Returns: the allocated amount cannot be negative, please adjust the selected return vouchers",
			common.ErrOverallocatedReturns,
		)
	}

	excess := sumPositive.Sub(sumNegative).Sub(unallocated)
	if excess.IsPositive() {
		sumPositive = sumPositive.Sub(excess)
	}
	return sumPositive, sumNegative, nil
}

// isRefund reports whether a returns-only batch settles money flowing the
// opposite way to the claims' natural direction: a sales return paid out of
// the account or a purchase return paid into it.
func isRefund(rows []claimRow, direction model.Direction) bool {
	if len(rows) == 0 {
		return false
	}
	switch rows[0].Kind {
	case model.KindSalesInvoice:
		return direction == model.DirectionWithdrawal
	case model.KindPurchaseInvoice:
		return direction == model.DirectionDeposit
	default:
		return false
	}
}

// allocateGreedy walks rows in input order, filling positive rows from the
// positive pool and negative rows from the negative pool, each capped at its
// own outstanding amount. Rows that receive nothing are dropped.
func allocateGreedy(rows []claimRow, sumPositive, sumNegative decimal.Decimal) []claimRow {
	out := make([]claimRow, 0, len(rows))
	for _, row := range rows {
		var allocated decimal.Decimal
		if row.Outstanding.IsPositive() {
			if !sumPositive.IsPositive() {
				continue
			}
			allocated = decimal.Min(row.Outstanding, sumPositive)
			sumPositive = sumPositive.Sub(allocated)
		} else {
			if !sumNegative.IsPositive() {
				continue
			}
			canAllocate := decimal.Min(row.Outstanding.Abs(), sumNegative)
			allocated = canAllocate.Neg()
			sumNegative = sumNegative.Sub(canAllocate)
		}

		if allocated.IsZero() {
			continue
		}
		row.Allocated = allocated
		out = append(out, row)
	}
	return out
}

// totalAllocated sums the signed allocations of a batch.
func totalAllocated(rows []claimRow) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Allocated)
	}
	return total
}

// distinctParties returns the parties of rows in first-appearance order.
func distinctParties(rows []claimRow) []partyKey {
	seen := make(map[partyKey]struct{})
	var out []partyKey
	for _, row := range rows {
		k := partyKey{Party: row.Party, PartyType: row.PartyType}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

type partyKey struct {
	Party     string
	PartyType string
}
