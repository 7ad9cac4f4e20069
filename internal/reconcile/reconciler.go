// Package reconcile commits allocations between bank transactions and ledger
// vouchers, creating settlement vouchers for unpaid claims when needed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/service"
	"github.com/shopspring/decimal"
)

// Selection names one voucher to reconcile against a transaction.
type Selection struct {
	// Amount optionally caps what is allocated to the voucher.
	Amount    *decimal.Decimal
	Kind      model.VoucherKind
	ID        string
	Party     string
	PartyType string
}

// Ref returns the selected voucher.
func (s *Selection) Ref() model.VoucherRef {
	return model.VoucherRef{Kind: s.Kind, ID: s.ID}
}

// Request is the input of Reconcile.
type Request struct {
	TransactionID string
	// Account overrides the contra account of a multi-party journal voucher.
	Account    string
	Vouchers   []Selection
	MultiParty bool
}

// Reconciler runs the reconciliation command against a store.
type Reconciler struct {
	store service.Storage
	locks *common.KeyLock
}

// New creates a reconciler. Reconcilers sharing locks serialise commands
// touching the same transactions or vouchers.
func New(store service.Storage, locks *common.KeyLock) *Reconciler {
	if locks == nil {
		locks = common.NewKeyLock()
	}
	return &Reconciler{store: store, locks: locks}
}

// settledVoucher is an already-settled voucher waiting for its true amount at commit.
type settledVoucher struct {
	cap       *decimal.Decimal
	ref       model.VoucherRef
	party     string
	partyType string
}

// Reconcile allocates the selected vouchers to a bank transaction. Unpaid
// claims are settled by a new payment or journal voucher first. The whole
// command either commits or leaves the store untouched.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (*model.BankTransaction, error) {
	if req.TransactionID == "" {
		return nil, fmt.Errorf("transaction id is required")
	}

	unlock, err := r.locks.Lock(ctx, lockKeys(req)...)
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

	txn, err := tx.GetBankTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if !txn.Finalized() {
		return nil, common.NewUserError(
			fmt.Sprintf("Bank Transaction %s is not submitted", txn.ID),
			common.ErrTransactionNotOpen,
		)
	}

	pending, err := r.pendingSelections(ctx, tx, txn, req.Vouchers)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return txn, nil
	}

	if !txn.UnallocatedAmount.IsPositive() {
		return nil, common.NewUserError(
			fmt.Sprintf("Bank Transaction %s is already fully reconciled", txn.ID),
			common.ErrAlreadyReconciled,
		)
	}

	settled, claims, err := r.partition(ctx, tx, txn, pending)
	if err != nil {
		return nil, err
	}

	var newRows []model.Allocation
	if len(claims) > 0 {
		settlement, err := r.settleClaims(ctx, tx, txn, claims, req)
		if err != nil {
			return nil, err
		}
		if settlement != nil {
			newRows = append(newRows, model.Allocation{
				Kind:      settlement.Kind,
				VoucherID: settlement.ID,
				Party:     settlement.Party,
				PartyType: settlement.PartyType,
			})
		}
	}

	caps := make(map[model.VoucherRef]decimal.Decimal)
	for _, sv := range settled {
		newRows = append(newRows, model.Allocation{
			Kind:      sv.ref.Kind,
			VoucherID: sv.ref.ID,
			Party:     sv.party,
			PartyType: sv.partyType,
		})
		if sv.cap != nil {
			caps[sv.ref] = *sv.cap
		}
	}

	before := txn.UnallocatedAmount
	txn.Allocations = append(txn.Allocations, newRows...)
	if err := r.commitAllocations(ctx, tx, txn, caps); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reconciliation: %w", err)
	}
	committed = true

	common.LogInfo("reconciled bank transaction", common.Fields{
		"transaction": txn.ID,
		"vouchers":    len(newRows),
		"allocated":   before.Sub(txn.UnallocatedAmount).StringFixed(2),
		"unallocated": txn.UnallocatedAmount.StringFixed(2),
		"status":      string(txn.Status),
	})
	return txn, nil
}

// pendingSelections drops selections already linked to txn, claims already
// paid by a settlement linked to txn, and repeats within the request.
func (r *Reconciler) pendingSelections(ctx context.Context, tx service.Transaction, txn *model.BankTransaction, selections []Selection) ([]Selection, error) {
	paidClaims := make(map[model.VoucherRef]struct{})
	for i := range txn.Allocations {
		a := &txn.Allocations[i]
		if a.Kind.Category() != model.CategorySettlement {
			continue
		}
		st, err := tx.GetSettlement(ctx, a.Ref())
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for j := range st.Lines {
			paidClaims[st.Lines[j].ClaimRef()] = struct{}{}
		}
	}

	seen := make(map[model.VoucherRef]struct{}, len(selections))
	var out []Selection
	for _, sel := range selections {
		ref := sel.Ref()
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}

		if txn.HasAllocation(ref) {
			continue
		}
		if _, ok := paidClaims[ref]; ok {
			continue
		}
		out = append(out, sel)
	}
	return out, nil
}

// partition loads every selected voucher and splits them into vouchers that
// already move money (settlements, peers) and claims still to be settled.
func (r *Reconciler) partition(ctx context.Context, tx service.Transaction, txn *model.BankTransaction, selections []Selection) ([]settledVoucher, []claimRow, error) {
	var settled []settledVoucher
	var claims []claimRow

	for i := range selections {
		sel := &selections[i]
		if !sel.Kind.Valid() {
			return nil, nil, common.NewUserError(
				fmt.Sprintf("%q is not a voucher kind that can be reconciled", sel.Kind),
				common.ErrInvalidVoucherKind,
			)
		}
		if sel.Kind == model.KindBankTransaction && sel.ID == txn.ID {
			return nil, nil, common.NewUserError("a bank transaction cannot be reconciled with itself", common.ErrInvalidVoucherKind)
		}

		v, err := tx.GetVoucher(ctx, sel.Ref())
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, common.NewUserError(fmt.Sprintf("%s does not exist", sel.Ref()), err)
		}
		if err != nil {
			return nil, nil, err
		}
		if !v.Finalized() {
			return nil, nil, common.NewUserError(
				fmt.Sprintf("%s must be submitted before it can be reconciled", v.Ref()),
				common.ErrVoucherNotFinalized,
			)
		}
		if v.Currency != "" && txn.Currency != "" && v.Currency != txn.Currency {
			return nil, nil, common.NewUserError(
				fmt.Sprintf("%s is in %s but the bank transaction is in %s", v.Ref(), v.Currency, txn.Currency),
				common.ErrCurrencyMismatch,
			)
		}
		if v.Kind == model.KindBankTransaction {
			if err := checkPeer(txn, v); err != nil {
				return nil, nil, err
			}
		}

		party, partyType := v.Party, v.PartyType
		if sel.Party != "" {
			party = sel.Party
		}
		if sel.PartyType != "" {
			partyType = sel.PartyType
		}

		if !sel.Kind.IsClaim() {
			settled = append(settled, settledVoucher{
				cap:       sel.Amount,
				ref:       v.Ref(),
				party:     party,
				partyType: partyType,
			})
			continue
		}

		outstanding := v.Outstanding
		if sel.Amount != nil {
			limited := decimal.Min(sel.Amount.Abs(), outstanding.Abs())
			if outstanding.IsNegative() {
				limited = limited.Neg()
			}
			outstanding = limited
		}
		if outstanding.IsZero() {
			slog.Debug("skipping settled claim", "voucher", v.Ref().String())
			continue
		}
		if partyType == "" {
			partyType = v.Kind.PartyType()
		}

		claims = append(claims, claimRow{
			Outstanding: outstanding,
			Kind:        v.Kind,
			ID:          v.ID,
			Party:       party,
			PartyType:   partyType,
			Account:     v.Account,
			IsReturn:    v.IsReturn,
		})
	}

	return settled, claims, nil
}

// checkPeer rejects a peer that is not an open opposite leg on the same bank account.
func checkPeer(txn *model.BankTransaction, peer *model.Voucher) error {
	var reason string
	switch {
	case peer.BankAccount != txn.BankAccount:
		reason = fmt.Sprintf("belongs to bank account %s", peer.BankAccount)
	case peer.Direction != txn.Direction().Opposite():
		reason = fmt.Sprintf("is also a %s", peer.Direction)
	case !peer.Outstanding.IsPositive():
		reason = "has nothing left to allocate"
	default:
		return nil
	}
	return common.NewUserError(
		fmt.Sprintf("Bank Transaction %s %s", peer.ID, reason),
		common.ErrInvalidPeer,
	)
}

// commitAllocations resolves the true amount of every zero row, books the
// side effects on the referenced vouchers and saves txn.
func (r *Reconciler) commitAllocations(ctx context.Context, tx service.Transaction, txn *model.BankTransaction, caps map[model.VoucherRef]decimal.Decimal) error {
	remaining := txn.Amount()
	for i := range txn.Allocations {
		remaining = remaining.Sub(txn.Allocations[i].Amount)
	}

	kept := txn.Allocations[:0]
	for _, a := range txn.Allocations {
		if !a.Amount.IsZero() {
			kept = append(kept, a)
			continue
		}

		available, err := r.voucherRemaining(ctx, tx, txn, a.Ref())
		if err != nil {
			return err
		}
		amount := decimal.Min(available, remaining)
		if limit, ok := caps[a.Ref()]; ok {
			amount = decimal.Min(amount, limit.Abs())
		}
		amount = amount.Round(2)
		if !amount.IsPositive() {
			slog.Debug("dropping allocation with nothing left",
				"transaction", txn.ID, "voucher", a.Ref().String())
			continue
		}

		a.Amount = amount
		remaining = remaining.Sub(amount)
		kept = append(kept, a)

		switch a.Kind.Category() {
		case model.CategorySettlement:
			if amount.Equal(available.Round(2)) {
				date := txn.Date
				if err := tx.SetClearanceDate(ctx, a.Ref(), &date); err != nil {
					return fmt.Errorf("failed to set clearance date: %w", err)
				}
			}
		case model.CategoryPeer:
			if err := r.linkPeer(ctx, tx, txn, a.VoucherID, amount); err != nil {
				return err
			}
		}
	}
	txn.Allocations = kept

	txn.RecomputeTotals()
	if err := CheckAllocations(txn); err != nil {
		return err
	}
	if err := tx.SaveBankTransaction(ctx, txn); err != nil {
		return fmt.Errorf("failed to save bank transaction: %w", err)
	}
	return nil
}

// voucherRemaining is what a settlement or peer can still absorb from txn.
func (r *Reconciler) voucherRemaining(ctx context.Context, tx service.Transaction, txn *model.BankTransaction, ref model.VoucherRef) (decimal.Decimal, error) {
	if ref.Kind == model.KindBankTransaction {
		peer, err := tx.GetBankTransaction(ctx, ref.ID)
		if err != nil {
			return decimal.Zero, err
		}
		return peer.UnallocatedAmount, nil
	}

	v, err := tx.GetVoucher(ctx, ref)
	if err != nil {
		return decimal.Zero, err
	}
	allocated, err := tx.GetAllocatedAmounts(ctx, "", []model.VoucherRef{ref}, txn.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load allocated amounts: %w", err)
	}
	return v.Total.Sub(allocated[ref]), nil
}

// linkPeer books the reciprocal allocation on the opposite leg of a transfer.
func (r *Reconciler) linkPeer(ctx context.Context, tx service.Transaction, txn *model.BankTransaction, peerID string, amount decimal.Decimal) error {
	peer, err := tx.GetBankTransaction(ctx, peerID)
	if err != nil {
		return err
	}

	ref := model.VoucherRef{Kind: model.KindBankTransaction, ID: txn.ID}
	if idx := peer.FindAllocation(ref); idx >= 0 {
		peer.Allocations[idx].Amount = peer.Allocations[idx].Amount.Add(amount)
	} else {
		peer.Allocations = append(peer.Allocations, model.Allocation{
			Amount:    amount,
			Kind:      model.KindBankTransaction,
			VoucherID: txn.ID,
			Party:     txn.Party,
			PartyType: txn.PartyType,
		})
	}

	peer.RecomputeTotals()
	if err := CheckAllocations(peer); err != nil {
		return err
	}
	if err := tx.SaveBankTransaction(ctx, peer); err != nil {
		return fmt.Errorf("failed to save peer transaction: %w", err)
	}
	return nil
}

// lockKeys names every record a request may touch. Bank transactions and
// peers share a key space so a transfer locks both legs.
func lockKeys(req Request) []string {
	keys := make([]string, 0, len(req.Vouchers)+1)
	keys = append(keys, transactionKey(req.TransactionID))
	for i := range req.Vouchers {
		keys = append(keys, req.Vouchers[i].Ref().String())
	}
	return keys
}

func transactionKey(id string) string {
	return model.VoucherRef{Kind: model.KindBankTransaction, ID: id}.String()
}
