// Package engine exposes the reconciliation commands: candidate listing,
// manual and automatic reconciliation, and the settlement maintenance
// commands built on the same store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/matching"
	"github.com/Veraticus/bankrec/internal/metrics"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/reconcile"
	"github.com/Veraticus/bankrec/internal/service"
	"github.com/shopspring/decimal"
)

// Engine wires the matcher, the adjustor and the reconciler to one store.
type Engine struct {
	storage    service.Storage
	matcher    CandidateSource
	adjustor   CandidateAdjustor
	reconciler *reconcile.Reconciler
	metrics    *metrics.Recorder
	config     Config
}

// Config holds the default matching options of the engine.
type Config struct {
	Kinds           []model.VoucherKind
	ExactMatch      bool
	ExactPartyMatch bool
	UnpaidInvoices  bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Kinds: []model.VoucherKind{
			model.KindPaymentEntry,
			model.KindJournalEntry,
			model.KindBankTransaction,
		},
	}
}

// MatchOptions returns the configured matching flags as matcher options.
func (c Config) MatchOptions() matching.Options {
	return matching.Options{
		Mode:            model.ModeInteractive,
		ExactMatch:      c.ExactMatch,
		ExactPartyMatch: c.ExactPartyMatch,
		UnpaidInvoices:  c.UnpaidInvoices,
	}
}

// New creates an engine with the default configuration.
func New(storage service.Storage) *Engine {
	return NewWithConfig(storage, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(storage service.Storage, config Config) *Engine {
	if len(config.Kinds) == 0 {
		config.Kinds = DefaultConfig().Kinds
	}
	return &Engine{
		storage:    storage,
		matcher:    matching.NewMatcher(storage),
		adjustor:   matching.NewAdjustor(storage),
		reconciler: reconcile.New(storage, common.NewKeyLock()),
		config:     config,
	}
}

// WithMetrics makes the engine report reconciliations to r.
func (e *Engine) WithMetrics(r *metrics.Recorder) *Engine {
	e.metrics = r
	return e
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.config
}

// ListCandidateVouchers returns the ranked vouchers a transaction could be
// reconciled with. Empty kinds fall back to the configured kinds.
func (e *Engine) ListCandidateVouchers(ctx context.Context, transactionID string, kinds []model.VoucherKind, opts matching.Options) ([]model.MatchCandidate, error) {
	txn, err := e.storage.GetBankTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bank transaction: %w", err)
	}
	if len(kinds) == 0 {
		kinds = e.config.Kinds
	}
	return e.candidates(ctx, txn, kinds, opts)
}

func (e *Engine) candidates(ctx context.Context, txn *model.BankTransaction, kinds []model.VoucherKind, opts matching.Options) ([]model.MatchCandidate, error) {
	candidates, err := e.matcher.Candidates(ctx, txn, kinds, opts)
	if err != nil {
		return nil, err
	}
	candidates, err = e.adjustor.Adjust(ctx, txn, candidates, opts.ExactMatch)
	if err != nil {
		return nil, err
	}

	slog.Debug("Found candidate vouchers",
		"transaction", txn.ID,
		"count", len(candidates))
	return candidates, nil
}

// Reconcile allocates the requested vouchers to a transaction.
func (e *Engine) Reconcile(ctx context.Context, req reconcile.Request) (*model.BankTransaction, error) {
	if e.metrics == nil {
		return e.reconciler.Reconcile(ctx, req)
	}

	var before decimal.Decimal
	if txn, err := e.storage.GetBankTransaction(ctx, req.TransactionID); err == nil {
		before = txn.UnallocatedAmount
	}
	txn, err := e.reconciler.Reconcile(ctx, req)
	e.observeReconcile(before, txn, err)
	return txn, err
}

func (e *Engine) observeReconcile(before decimal.Decimal, after *model.BankTransaction, err error) {
	if err != nil || after == nil {
		e.metrics.ObserveReconcile(0, err)
		return
	}
	e.metrics.ObserveReconcile(before.Sub(after.UnallocatedAmount).InexactFloat64(), nil)
}

// ReconcileSingle reconciles one voucher with an explicit amount.
func (e *Engine) ReconcileSingle(ctx context.Context, transactionID string, amount decimal.Decimal, kind model.VoucherKind, id string) (reconcile.SingleResult, error) {
	return e.reconciler.ReconcileSingle(ctx, transactionID, amount, kind, id)
}

// AmendSettlement changes a settlement voucher's amount.
func (e *Engine) AmendSettlement(ctx context.Context, ref model.VoucherRef, amount decimal.Decimal) ([]*model.BankTransaction, error) {
	return e.reconciler.AmendSettlement(ctx, ref, amount)
}

// Unlink removes one allocation from a transaction.
func (e *Engine) Unlink(ctx context.Context, transactionID string, ref model.VoucherRef) (*model.BankTransaction, error) {
	return e.reconciler.Unlink(ctx, transactionID, ref)
}

// ListOpenTransactions returns the finalized transactions of an account that
// still have an unallocated amount, oldest first.
func (e *Engine) ListOpenTransactions(ctx context.Context, bankAccount string, from, to *time.Time) ([]model.BankTransaction, error) {
	txns, err := e.storage.GetBankTransactions(ctx, service.TransactionFilter{
		BankAccount: bankAccount,
		StartDate:   from,
		EndDate:     to,
		OpenOnly:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list open transactions: %w", err)
	}
	return txns, nil
}
