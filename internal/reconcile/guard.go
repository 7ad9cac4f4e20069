package reconcile

import (
	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/model"
)

// CheckAllocations walks the allocation rows of a finalized transaction in
// order and fails on the first row that takes the running remainder below
// zero at currency precision.
func CheckAllocations(txn *model.BankTransaction) error {
	if !txn.Finalized() {
		return nil
	}

	toAllocate := txn.Amount()
	for i := range txn.Allocations {
		toAllocate = toAllocate.Sub(txn.Allocations[i].Amount)
		if toAllocate.Round(2).IsNegative() {
			return &common.OverAllocationError{
				TransactionID: txn.ID,
				Excess:        toAllocate.Abs().Round(2),
				Row:           i + 1,
			}
		}
	}
	return nil
}
