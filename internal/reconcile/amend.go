package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/service"
	"github.com/shopspring/decimal"
)

const maxLockAttempts = 3

// SingleResult is the outcome of ReconcileSingle.
type SingleResult struct {
	Transaction *model.BankTransaction
	// Deleted is set when the voucher no longer exists.
	Deleted bool
}

// ReconcileSingle reconciles one voucher with an explicit amount. A voucher
// that has been deleted yields Deleted, and one that is not finalized yields
// an empty result; neither is an error.
func (r *Reconciler) ReconcileSingle(ctx context.Context, transactionID string, amount decimal.Decimal, kind model.VoucherKind, id string) (SingleResult, error) {
	ref := model.VoucherRef{Kind: kind, ID: id}
	if !kind.Valid() {
		return SingleResult{}, common.NewUserError(
			fmt.Sprintf("%q is not a voucher kind that can be reconciled", kind),
			common.ErrInvalidVoucherKind,
		)
	}

	v, err := r.store.GetVoucher(ctx, ref)
	if errors.Is(err, common.ErrNotFound) {
		return SingleResult{Deleted: true}, nil
	}
	if err != nil {
		return SingleResult{}, err
	}
	if !v.Finalized() {
		return SingleResult{}, nil
	}

	txn, err := r.Reconcile(ctx, Request{
		TransactionID: transactionID,
		Vouchers:      []Selection{{Kind: kind, ID: id, Amount: &amount}},
	})
	if err != nil {
		return SingleResult{}, err
	}
	return SingleResult{Transaction: txn}, nil
}

// AmendSettlement changes a settlement voucher's amount and re-derives the
// allocation rows that reference it, in transaction date order. Every row but
// the last keeps at most its previous amount; the last row takes whatever is
// left. Nothing is saved if any affected transaction would be over-allocated.
func (r *Reconciler) AmendSettlement(ctx context.Context, ref model.VoucherRef, amount decimal.Decimal) ([]*model.BankTransaction, error) {
	if ref.Kind.Category() != model.CategorySettlement {
		return nil, common.NewUserError(
			fmt.Sprintf("only payment and journal vouchers can be amended, not %s", ref.Kind),
			common.ErrInvalidVoucherKind,
		)
	}
	if amount.IsNegative() {
		return nil, common.NewUserError("a settlement amount cannot be negative", common.ErrInvalidAmount)
	}

	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		links, err := r.store.GetAllocationLinks(ctx, ref)
		if err != nil {
			return nil, err
		}

		keys := []string{ref.String()}
		locked := make(map[string]struct{}, len(links))
		for _, link := range links {
			keys = append(keys, transactionKey(link.TransactionID))
			locked[link.TransactionID] = struct{}{}
		}

		unlock, err := r.locks.Lock(ctx, keys...)
		if err != nil {
			return nil, err
		}
		txns, retry, err := r.amendLocked(ctx, ref, amount, locked)
		unlock()
		if retry {
			continue
		}
		return txns, err
	}
	return nil, fmt.Errorf("allocations of %s kept changing while amending", ref)
}

func (r *Reconciler) amendLocked(ctx context.Context, ref model.VoucherRef, amount decimal.Decimal, locked map[string]struct{}) ([]*model.BankTransaction, bool, error) {
	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	links, err := tx.GetAllocationLinks(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	for _, link := range links {
		if _, ok := locked[link.TransactionID]; !ok {
			return nil, true, nil
		}
	}

	v, err := tx.GetVoucher(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	if !v.Finalized() {
		return nil, false, common.NewUserError(
			fmt.Sprintf("%s must be submitted before it can be amended", ref),
			common.ErrVoucherNotFinalized,
		)
	}
	v.Total = amount
	v.Outstanding = amount

	remaining := amount
	affected := make([]*model.BankTransaction, 0, len(links))
	for i, link := range links {
		txn, err := tx.GetBankTransaction(ctx, link.TransactionID)
		if err != nil {
			return nil, false, err
		}
		idx := txn.FindAllocation(ref)
		if idx < 0 {
			continue
		}

		share := decimal.Max(remaining, decimal.Zero)
		if i < len(links)-1 {
			share = decimal.Min(txn.Allocations[idx].Amount, share)
		}
		remaining = remaining.Sub(share)

		if share.IsPositive() {
			txn.Allocations[idx].Amount = share
		} else {
			txn.Allocations = append(txn.Allocations[:idx], txn.Allocations[idx+1:]...)
		}

		txn.RecomputeTotals()
		if err := CheckAllocations(txn); err != nil {
			return nil, false, err
		}
		if err := tx.SaveBankTransaction(ctx, txn); err != nil {
			return nil, false, fmt.Errorf("failed to save bank transaction: %w", err)
		}
		affected = append(affected, txn)
	}

	if len(links) == 0 || remaining.IsPositive() {
		v.ClearanceDate = nil
	} else if v.ClearanceDate == nil && len(affected) > 0 {
		date := affected[len(affected)-1].Date
		v.ClearanceDate = &date
	}
	if err := tx.SaveVoucher(ctx, v); err != nil {
		return nil, false, fmt.Errorf("failed to save voucher: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit amendment: %w", err)
	}
	committed = true

	common.LogInfo("amended settlement", common.Fields{
		"voucher":      ref.String(),
		"amount":       amount.StringFixed(2),
		"transactions": len(affected),
	})
	return affected, false, nil
}

// Unlink removes one allocation row from a transaction, un-clears the
// voucher and drops a peer's reciprocal row.
func (r *Reconciler) Unlink(ctx context.Context, transactionID string, ref model.VoucherRef) (*model.BankTransaction, error) {
	unlock, err := r.locks.Lock(ctx, transactionKey(transactionID), ref.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	txn, err := tx.GetBankTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := removeAllocation(ctx, tx, txn, ref); err != nil {
		return nil, err
	}

	switch ref.Kind.Category() {
	case model.CategorySettlement:
		if err := tx.SetClearanceDate(ctx, ref, nil); err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("failed to clear clearance date: %w", err)
		}
	case model.CategoryPeer:
		peer, err := tx.GetBankTransaction(ctx, ref.ID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		if peer != nil {
			self := model.VoucherRef{Kind: model.KindBankTransaction, ID: txn.ID}
			if err := removeAllocation(ctx, tx, peer, self); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit unlink: %w", err)
	}
	committed = true

	common.LogInfo("unlinked voucher", common.Fields{
		"transaction": txn.ID,
		"voucher":     ref.String(),
		"unallocated": txn.UnallocatedAmount.StringFixed(2),
	})
	return txn, nil
}

func removeAllocation(ctx context.Context, tx service.Transaction, txn *model.BankTransaction, ref model.VoucherRef) error {
	idx := txn.FindAllocation(ref)
	if idx < 0 {
		return nil
	}
	txn.Allocations = append(txn.Allocations[:idx], txn.Allocations[idx+1:]...)
	txn.RecomputeTotals()
	if err := tx.SaveBankTransaction(ctx, txn); err != nil {
		return fmt.Errorf("failed to save bank transaction: %w", err)
	}
	return nil
}
