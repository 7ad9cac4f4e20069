package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/matching"
	"github.com/Veraticus/bankrec/internal/metrics"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/reconcile"
	"github.com/Veraticus/bankrec/internal/service"
)

// AutoReconcileRequest selects the transactions an auto-reconciliation run visits.
type AutoReconcileRequest struct {
	From     *time.Time
	To       *time.Time
	Progress ProgressFunc
	// ReferenceDates restricts candidates when FilterByReferenceDate is set.
	ReferenceDates        model.DateRange
	BankAccount           string
	FilterByReferenceDate bool
}

// AutoReconcileResult lists the transactions a run changed.
type AutoReconcileResult struct {
	Reconciled          []string
	PartiallyReconciled []string
	Stats               service.AutoReconcileStats
}

// AutoReconcile matches every open transaction of a bank account against
// settlement vouchers with an exact reference number and reconciles all of
// them. A rejected transaction is logged and skipped. On cancellation the
// result so far is returned with the context's error.
func (e *Engine) AutoReconcile(ctx context.Context, req AutoReconcileRequest) (AutoReconcileResult, error) {
	start := time.Now()
	var result AutoReconcileResult

	if req.BankAccount == "" {
		return result, fmt.Errorf("%w: bank account is required", common.ErrMissingConfig)
	}

	txns, err := e.ListOpenTransactions(ctx, req.BankAccount, req.From, req.To)
	if err != nil {
		return result, err
	}

	slog.Info("Starting auto-reconciliation",
		"bank_account", req.BankAccount,
		"transactions", len(txns))

	opts := matching.Options{Mode: model.ModeAutoReconcile}
	if req.FilterByReferenceDate {
		opts.ReferenceDates = req.ReferenceDates
	}

	finish := func() {
		result.Stats.Duration = time.Since(start)
		e.metrics.ObserveRun(result.Stats.Duration, time.Now())
	}

	for i := range txns {
		select {
		case <-ctx.Done():
			finish()
			return result, ctx.Err()
		default:
		}

		txn := &txns[i]
		outcome, err := e.autoReconcileOne(ctx, txn, opts)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			finish()
			return result, err
		}

		result.Stats.Processed++
		switch {
		case err != nil:
			result.Stats.Rejected++
			e.metrics.ObserveOutcome(metrics.OutcomeRejected)
			common.LogError(err, "auto-reconciliation skipped transaction", common.Fields{
				"transaction": txn.ID,
				"rejection":   common.IsRejection(err),
			})
		case outcome == outcomeReconciled:
			result.Stats.Reconciled++
			result.Reconciled = append(result.Reconciled, txn.ID)
			e.metrics.ObserveOutcome(metrics.OutcomeReconciled)
		case outcome == outcomePartial:
			result.Stats.PartiallyReconciled++
			result.PartiallyReconciled = append(result.PartiallyReconciled, txn.ID)
			e.metrics.ObserveOutcome(metrics.OutcomePartial)
		default:
			result.Stats.Untouched++
			e.metrics.ObserveOutcome(metrics.OutcomeUntouched)
		}

		if req.Progress != nil {
			req.Progress(i+1, len(txns))
		}
	}

	finish()
	slog.Info("Auto-reconciliation complete",
		"processed", result.Stats.Processed,
		"reconciled", result.Stats.Reconciled,
		"partially_reconciled", result.Stats.PartiallyReconciled,
		"untouched", result.Stats.Untouched,
		"rejected", result.Stats.Rejected,
		"duration", result.Stats.Duration)
	return result, nil
}

type outcome int

const (
	outcomeUntouched outcome = iota
	outcomePartial
	outcomeReconciled
)

func (e *Engine) autoReconcileOne(ctx context.Context, txn *model.BankTransaction, opts matching.Options) (outcome, error) {
	candidates, err := e.candidates(ctx, txn, model.SettlementKinds, opts)
	if err != nil {
		return outcomeUntouched, err
	}
	if len(candidates) == 0 {
		return outcomeUntouched, nil
	}

	selections := make([]reconcile.Selection, 0, len(candidates))
	for _, c := range candidates {
		selections = append(selections, reconcile.Selection{Kind: c.Kind, ID: c.ID})
	}

	updated, err := e.reconciler.Reconcile(ctx, reconcile.Request{
		TransactionID: txn.ID,
		Vouchers:      selections,
	})
	if err != nil {
		return outcomeUntouched, err
	}
	e.metrics.ObserveReconcile(txn.UnallocatedAmount.Sub(updated.UnallocatedAmount).InexactFloat64(), nil)

	switch {
	case updated.Status == model.StatusReconciled:
		return outcomeReconciled, nil
	case !updated.UnallocatedAmount.Equal(txn.UnallocatedAmount):
		return outcomePartial, nil
	default:
		return outcomeUntouched, nil
	}
}
