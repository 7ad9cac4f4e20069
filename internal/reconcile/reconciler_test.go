package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/reconcile"
	"github.com/Veraticus/bankrec/internal/service"
	"github.com/Veraticus/bankrec/internal/testutil"
	"github.com/Veraticus/bankrec/internal/testutil/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claims(kind model.VoucherKind, ids ...string) []reconcile.Selection {
	out := make([]reconcile.Selection, 0, len(ids))
	for _, id := range ids {
		out = append(out, reconcile.Selection{Kind: kind, ID: id})
	}
	return out
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, ledger.Amount(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func TestReconcile_SingleInvoiceExactMatch(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-1", "100.00", ledger.TxnReference("INV-1")).
			WithSalesInvoice("INV-1", "Alice", "100.00")
	})
	r := reconcile.New(db.Storage, nil)

	txn, err := r.Reconcile(context.Background(), reconcile.Request{
		TransactionID: "BT-1",
		Vouchers:      claims(model.KindSalesInvoice, "INV-1"),
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusReconciled, txn.Status)
	assertAmount(t, "0", txn.UnallocatedAmount)
	require.Len(t, txn.Allocations, 1)
	assert.Equal(t, model.KindPaymentEntry, txn.Allocations[0].Kind)
	assertAmount(t, "100", txn.Allocations[0].Amount)

	invoice := db.MustGetVoucher(model.KindSalesInvoice, "INV-1")
	assertAmount(t, "0", invoice.Outstanding)

	st := db.MustGetSettlement(txn.Allocations[0].Ref())
	assert.Equal(t, "Alice", st.Party)
	assert.Equal(t, "INV-1", st.ReferenceNo)
	assertAmount(t, "100", st.PaidAmount)
	require.Len(t, st.Lines, 1)
	assert.Equal(t, "INV-1", st.Lines[0].ClaimID)

	pe := db.MustGetVoucher(model.KindPaymentEntry, st.ID)
	assert.NotNil(t, pe.ClearanceDate, "fully consumed settlement should be cleared")

	stored := db.MustGetTransaction("BT-1")
	assert.Equal(t, model.StatusReconciled, stored.Status)
}

func TestReconcile_PartialAcrossInvoices(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-1", "150.00").
			WithSalesInvoice("INV-1", "Alice", "100.00").
			WithSalesInvoice("INV-2", "Alice", "100.00")
	})
	r := reconcile.New(db.Storage, nil)

	txn, err := r.Reconcile(context.Background(), reconcile.Request{
		TransactionID: "BT-1",
		Vouchers:      claims(model.KindSalesInvoice, "INV-1", "INV-2"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusReconciled, txn.Status)

	st := db.MustGetSettlement(txn.Allocations[0].Ref())
	require.Len(t, st.Lines, 2)
	assertAmount(t, "100", st.Lines[0].Allocated)
	assertAmount(t, "50", st.Lines[1].Allocated)

	assertAmount(t, "0", db.MustGetVoucher(model.KindSalesInvoice, "INV-1").Outstanding)
	assertAmount(t, "50", db.MustGetVoucher(model.KindSalesInvoice, "INV-2").Outstanding)
}

func TestReconcile_PartialTransaction(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-1", "150.00").
			WithSalesInvoice("INV-1", "Alice", "100.00")
	})
	r := reconcile.New(db.Storage, nil)

	txn, err := r.Reconcile(context.Background(), reconcile.Request{
		TransactionID: "BT-1",
		Vouchers:      claims(model.KindSalesInvoice, "INV-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartiallyReconciled, txn.Status)
	assertAmount(t, "100", txn.AllocatedAmount)
	assertAmount(t, "50", txn.UnallocatedAmount)
}

func TestReconcile_Rejections(t *testing.T) {
	tests := []struct {
		books   func(ledger.Builder) ledger.Builder
		name    string
		req     reconcile.Request
		wantErr error
	}{
		{
			name: "returns exceed invoices",
			books: func(b ledger.Builder) ledger.Builder {
				return b.
					WithDeposit("BT-1", "100.00").
					WithSalesInvoice("INV-1", "Alice", "50.00").
					WithSalesInvoice("RET-1", "Alice", "-80.00", ledger.AsReturn())
			},
			req:     reconcile.Request{Vouchers: claims(model.KindSalesInvoice, "INV-1", "RET-1")},
			wantErr: common.ErrOverallocatedReturns,
		},
		{
			name: "mixed claim kinds",
			books: func(b ledger.Builder) ledger.Builder {
				return b.
					WithDeposit("BT-1", "100.00").
					WithSalesInvoice("INV-1", "Alice", "50.00").
					WithPurchaseInvoice("PINV-1", "Alice", "50.00")
			},
			req: reconcile.Request{Vouchers: append(
				claims(model.KindSalesInvoice, "INV-1"),
				claims(model.KindPurchaseInvoice, "PINV-1")...,
			)},
			wantErr: common.ErrMixedVoucherKinds,
		},
		{
			name: "mixed parties",
			books: func(b ledger.Builder) ledger.Builder {
				return b.
					WithDeposit("BT-1", "100.00").
					WithSalesInvoice("INV-1", "Alice", "50.00").
					WithSalesInvoice("INV-2", "Bob", "50.00")
			},
			req:     reconcile.Request{Vouchers: claims(model.KindSalesInvoice, "INV-1", "INV-2")},
			wantErr: common.ErrMixedParties,
		},
		{
			name: "period closed on transaction date",
			books: func(b ledger.Builder) ledger.Builder {
				return b.
					WithDeposit("BT-1", "100.00").
					WithSalesInvoice("INV-1", "Alice", "100.00").
					WithPeriodClose(ledger.BaseDate)
			},
			req:     reconcile.Request{Vouchers: claims(model.KindSalesInvoice, "INV-1")},
			wantErr: common.ErrPeriodClosed,
		},
		{
			name: "draft voucher",
			books: func(b ledger.Builder) ledger.Builder {
				return b.
					WithDeposit("BT-1", "100.00").
					WithPaymentEntry("PE-1", model.DirectionDeposit, "100.00", ledger.AsDraft())
			},
			req:     reconcile.Request{Vouchers: claims(model.KindPaymentEntry, "PE-1")},
			wantErr: common.ErrVoucherNotFinalized,
		},
		{
			name: "missing voucher",
			books: func(b ledger.Builder) ledger.Builder {
				return b.WithDeposit("BT-1", "100.00")
			},
			req:     reconcile.Request{Vouchers: claims(model.KindPaymentEntry, "PE-404")},
			wantErr: common.ErrNotFound,
		},
		{
			name: "currency mismatch",
			books: func(b ledger.Builder) ledger.Builder {
				return b.
					WithDeposit("BT-1", "100.00").
					WithSalesInvoice("INV-1", "Alice", "100.00", ledger.VoucherCurrency("EUR"))
			},
			req:     reconcile.Request{Vouchers: claims(model.KindSalesInvoice, "INV-1")},
			wantErr: common.ErrCurrencyMismatch,
		},
		{
			name: "unknown kind",
			books: func(b ledger.Builder) ledger.Builder {
				return b.WithDeposit("BT-1", "100.00")
			},
			req:     reconcile.Request{Vouchers: claims(model.VoucherKind("Sales Order"), "SO-1")},
			wantErr: common.ErrInvalidVoucherKind,
		},
		{
			name: "contra account in another currency",
			books: func(b ledger.Builder) ledger.Builder {
				return b.
					WithLedgerAccount("2199 - Clearing - EUR", "EUR").
					WithDeposit("BT-1", "100.00").
					WithSalesInvoice("INV-1", "Alice", "50.00").
					WithSalesInvoice("INV-2", "Bob", "50.00")
			},
			req: reconcile.Request{
				Vouchers:   claims(model.KindSalesInvoice, "INV-1", "INV-2"),
				MultiParty: true,
				Account:    "2199 - Clearing - EUR",
			},
			wantErr: common.ErrCurrencyMismatch,
		},
		{
			name: "contra account without a currency",
			books: func(b ledger.Builder) ledger.Builder {
				return b.
					WithDeposit("BT-1", "100.00").
					WithSalesInvoice("INV-1", "Alice", "50.00").
					WithSalesInvoice("INV-2", "Bob", "50.00")
			},
			req: reconcile.Request{
				Vouchers:   claims(model.KindSalesInvoice, "INV-1", "INV-2"),
				MultiParty: true,
				Account:    "9999 - Suspense - ACME",
			},
			wantErr: common.ErrCurrencyMismatch,
		},
		{
			name: "peer in the same direction",
			books: func(b ledger.Builder) ledger.Builder {
				return b.
					WithDeposit("BT-1", "100.00").
					WithDeposit("BT-2", "100.00")
			},
			req:     reconcile.Request{Vouchers: claims(model.KindBankTransaction, "BT-2")},
			wantErr: common.ErrInvalidPeer,
		},
		{
			name: "peer on another bank account",
			books: func(b ledger.Builder) ledger.Builder {
				return b.
					WithDeposit("BT-1", "100.00").
					WithWithdrawal("BT-2", "100.00", func(txn *model.BankTransaction) {
						txn.BankAccount = "Acme Savings"
					})
			},
			req:     reconcile.Request{Vouchers: claims(model.KindBankTransaction, "BT-2")},
			wantErr: common.ErrInvalidPeer,
		},
		{
			name: "peer fully allocated",
			books: func(b ledger.Builder) ledger.Builder {
				return b.
					WithDeposit("BT-1", "100.00").
					WithWithdrawal("BT-2", "100.00", func(txn *model.BankTransaction) {
						txn.Allocations = []model.Allocation{{
							Kind:      model.KindPaymentEntry,
							VoucherID: "PE-9",
							Amount:    ledger.Amount("100"),
						}}
					})
			},
			req:     reconcile.Request{Vouchers: claims(model.KindBankTransaction, "BT-2")},
			wantErr: common.ErrInvalidPeer,
		},
		{
			name: "draft transaction",
			books: func(b ledger.Builder) ledger.Builder {
				return b.
					WithDeposit("BT-1", "100.00", ledger.TxnDraft()).
					WithSalesInvoice("INV-1", "Alice", "100.00")
			},
			req:     reconcile.Request{Vouchers: claims(model.KindSalesInvoice, "INV-1")},
			wantErr: common.ErrTransactionNotOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.SetupTestDBWithBuilder(t, tt.books)
			r := reconcile.New(db.Storage, nil)

			ctx := context.Background()
			before := db.MustGetTransaction("BT-1")
			settlementsBefore := countSettlements(t, db.Storage)

			tt.req.TransactionID = "BT-1"
			_, err := r.Reconcile(ctx, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, common.IsRejection(err), "rejections are user errors: %v", err)

			after := db.MustGetTransaction("BT-1")
			assert.Equal(t, before.Status, after.Status)
			assert.Len(t, after.Allocations, len(before.Allocations))
			assert.Equal(t, settlementsBefore, countSettlements(t, db.Storage), "no settlement may be created on rejection")
		})
	}
}

func countSettlements(t *testing.T, store service.Storage) int {
	t.Helper()
	n := 0
	for _, kind := range model.SettlementKinds {
		vouchers, err := store.GetVouchers(context.Background(), service.VoucherFilter{Kind: kind})
		require.NoError(t, err)
		n += len(vouchers)
	}
	return n
}

func TestReconcile_PeriodOpenAfterClosing(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-1", "100.00", ledger.TxnOn(ledger.Day(1))).
			WithSalesInvoice("INV-1", "Alice", "100.00").
			WithPeriodClose(ledger.BaseDate)
	})
	r := reconcile.New(db.Storage, nil)

	txn, err := r.Reconcile(context.Background(), reconcile.Request{
		TransactionID: "BT-1",
		Vouchers:      claims(model.KindSalesInvoice, "INV-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusReconciled, txn.Status)
}

func TestReconcile_Idempotent(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-1", "100.00").
			WithSalesInvoice("INV-1", "Alice", "100.00")
	})
	r := reconcile.New(db.Storage, nil)
	ctx := context.Background()
	req := reconcile.Request{
		TransactionID: "BT-1",
		Vouchers:      claims(model.KindSalesInvoice, "INV-1"),
	}

	first, err := r.Reconcile(ctx, req)
	require.NoError(t, err)

	second, err := r.Reconcile(ctx, req)
	require.NoError(t, err, "re-submitting the same vouchers is a no-op")
	assert.Equal(t, first.Allocations, second.Allocations)
	assert.True(t, first.UnallocatedAmount.Equal(second.UnallocatedAmount))

	settlements, err := db.Storage.GetVouchers(ctx, service.VoucherFilter{Kind: model.KindPaymentEntry})
	require.NoError(t, err)
	assert.Len(t, settlements, 1)
}

func TestReconcile_AlreadyReconciled(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-1", "100.00").
			WithSalesInvoice("INV-1", "Alice", "100.00").
			WithSalesInvoice("INV-2", "Alice", "20.00")
	})
	r := reconcile.New(db.Storage, nil)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, reconcile.Request{TransactionID: "BT-1", Vouchers: claims(model.KindSalesInvoice, "INV-1")})
	require.NoError(t, err)

	_, err = r.Reconcile(ctx, reconcile.Request{TransactionID: "BT-1", Vouchers: claims(model.KindSalesInvoice, "INV-2")})
	assert.ErrorIs(t, err, common.ErrAlreadyReconciled)
	assertAmount(t, "20", db.MustGetVoucher(model.KindSalesInvoice, "INV-2").Outstanding)
}

func TestReconcile_ReturnsNettedAgainstInvoices(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-1", "70.00").
			WithSalesInvoice("INV-1", "Alice", "100.00").
			WithSalesInvoice("RET-1", "Alice", "-30.00", ledger.AsReturn())
	})
	r := reconcile.New(db.Storage, nil)

	txn, err := r.Reconcile(context.Background(), reconcile.Request{
		TransactionID: "BT-1",
		Vouchers:      claims(model.KindSalesInvoice, "INV-1", "RET-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusReconciled, txn.Status)

	st := db.MustGetSettlement(txn.Allocations[0].Ref())
	assertAmount(t, "70", st.PaidAmount)
	assertAmount(t, "0", db.MustGetVoucher(model.KindSalesInvoice, "INV-1").Outstanding)
	assertAmount(t, "0", db.MustGetVoucher(model.KindSalesInvoice, "RET-1").Outstanding)
}

func TestReconcile_ReturnsCancellingInvoicesBookNothing(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-1", "50.00").
			WithSalesInvoice("SI-1", "Alice", "100.00").
			WithSalesInvoice("SI-R", "Alice", "-100.00", ledger.AsReturn())
	})
	r := reconcile.New(db.Storage, nil)

	txn, err := r.Reconcile(context.Background(), reconcile.Request{
		TransactionID: "BT-1",
		Vouchers:      claims(model.KindSalesInvoice, "SI-1", "SI-R"),
	})
	require.NoError(t, err)

	assert.Empty(t, txn.Allocations)
	assert.Equal(t, model.StatusUnreconciled, txn.Status)
	assertAmount(t, "50", txn.UnallocatedAmount)
	assertAmount(t, "100", db.MustGetVoucher(model.KindSalesInvoice, "SI-1").Outstanding)
	assertAmount(t, "-100", db.MustGetVoucher(model.KindSalesInvoice, "SI-R").Outstanding)
	assert.Zero(t, countSettlements(t, db.Storage), "a settlement moving no money is not booked")
}

func TestReconcile_RefundOfReturn(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithWithdrawal("BT-1", "30.00").
			WithSalesInvoice("RET-1", "Alice", "-50.00", ledger.AsReturn())
	})
	r := reconcile.New(db.Storage, nil)

	txn, err := r.Reconcile(context.Background(), reconcile.Request{
		TransactionID: "BT-1",
		Vouchers:      claims(model.KindSalesInvoice, "RET-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusReconciled, txn.Status)
	assertAmount(t, "30", txn.Allocations[0].Amount)

	st := db.MustGetSettlement(txn.Allocations[0].Ref())
	assert.Equal(t, model.DirectionWithdrawal, st.Direction)
	assertAmount(t, "-30", st.Lines[0].Allocated)
	assertAmount(t, "-20", db.MustGetVoucher(model.KindSalesInvoice, "RET-1").Outstanding)
}

func TestReconcile_MultiPartyJournal(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-1", "100.00").
			WithSalesInvoice("INV-1", "Alice", "60.00").
			WithSalesInvoice("INV-2", "Bob", "40.00")
	})
	r := reconcile.New(db.Storage, nil)

	txn, err := r.Reconcile(context.Background(), reconcile.Request{
		TransactionID: "BT-1",
		Vouchers:      claims(model.KindSalesInvoice, "INV-1", "INV-2"),
		MultiParty:    true,
	})
	require.NoError(t, err)
	require.Len(t, txn.Allocations, 1)
	assert.Equal(t, model.KindJournalEntry, txn.Allocations[0].Kind)

	st := db.MustGetSettlement(txn.Allocations[0].Ref())
	require.Len(t, st.Postings, 3)

	assert.Equal(t, ledger.Receivable, st.Postings[0].Account)
	assert.Equal(t, "Alice", st.Postings[0].Party)
	assertAmount(t, "60", st.Postings[0].Credit)
	assert.Equal(t, "Bob", st.Postings[1].Party)
	assertAmount(t, "40", st.Postings[1].Credit)
	assert.Equal(t, ledger.BankLedger, st.Postings[2].Account)
	assertAmount(t, "100", st.Postings[2].Debit)

	debits, credits := decimal.Zero, decimal.Zero
	for _, p := range st.Postings {
		debits = debits.Add(p.Debit)
		credits = credits.Add(p.Credit)
	}
	assert.True(t, debits.Equal(credits), "journal must balance")
}

func TestReconcile_MultiPartyOverrideAccount(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithLedgerAccount("2199 - Clearing - ACME", ledger.Currency).
			WithWithdrawal("BT-1", "90.00").
			WithPurchaseInvoice("PINV-1", "Globex", "50.00").
			WithPurchaseInvoice("PINV-2", "Initech", "40.00")
	})
	r := reconcile.New(db.Storage, nil)

	txn, err := r.Reconcile(context.Background(), reconcile.Request{
		TransactionID: "BT-1",
		Vouchers:      claims(model.KindPurchaseInvoice, "PINV-1", "PINV-2"),
		MultiParty:    true,
		Account:       "2199 - Clearing - ACME",
	})
	require.NoError(t, err)

	st := db.MustGetSettlement(txn.Allocations[0].Ref())
	require.Len(t, st.Postings, 3)
	assert.Equal(t, "2199 - Clearing - ACME", st.Postings[0].Account)
	assertAmount(t, "50", st.Postings[0].Debit)
	assertAmount(t, "90", st.Postings[2].Credit)
}

func TestReconcile_InstallmentSplit(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-1", "50.00").
			WithSalesInvoice("INV-1", "Alice", "100.00").
			WithSchedule(model.KindSalesInvoice, "INV-1",
				model.Installment{DueDate: ledger.Day(10), PaymentAmount: ledger.Amount("50"), Outstanding: ledger.Amount("50")},
				model.Installment{DueDate: ledger.Day(40), PaymentAmount: ledger.Amount("50"), Outstanding: ledger.Amount("50")},
			)
	})
	r := reconcile.New(db.Storage, nil)
	ctx := context.Background()

	txn, err := r.Reconcile(ctx, reconcile.Request{
		TransactionID: "BT-1",
		Vouchers:      claims(model.KindSalesInvoice, "INV-1"),
	})
	require.NoError(t, err)

	st := db.MustGetSettlement(txn.Allocations[0].Ref())
	require.Len(t, st.Lines, 1)
	require.NotNil(t, st.Lines[0].DueDate)
	assert.True(t, model.SameDay(ledger.Day(10), *st.Lines[0].DueDate))

	schedule, err := db.Storage.GetPaymentSchedule(ctx, model.VoucherRef{Kind: model.KindSalesInvoice, ID: "INV-1"})
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	assertAmount(t, "0", schedule[0].Outstanding)
	assertAmount(t, "50", schedule[1].Outstanding)
	assertAmount(t, "50", db.MustGetVoucher(model.KindSalesInvoice, "INV-1").Outstanding)
}

func TestReconcile_ExistingPaymentEntry(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.WithFixture(ledger.FixtureSupplierPayments)
	})
	r := reconcile.New(db.Storage, nil)

	txn, err := r.Reconcile(context.Background(), reconcile.Request{
		TransactionID: "BT-PAY-1",
		Vouchers:      claims(model.KindPaymentEntry, "PE-0001"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusReconciled, txn.Status)
	assertAmount(t, "400", txn.Allocations[0].Amount)
	assert.Equal(t, "Globex", txn.Allocations[0].Party)
	assert.NotNil(t, db.MustGetVoucher(model.KindPaymentEntry, "PE-0001").ClearanceDate)
	assertAmount(t, "400", db.MustGetVoucher(model.KindPurchaseInvoice, "PINV-0001").Outstanding,
		"an existing payment voucher does not touch claims")
}

func TestReconcile_SettlementSplitAcrossTransactions(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-A", "60.00").
			WithDeposit("BT-B", "40.00", ledger.TxnOn(ledger.Day(1))).
			WithPaymentEntry("PE-1", model.DirectionDeposit, "100.00")
	})
	r := reconcile.New(db.Storage, nil)
	ctx := context.Background()

	a, err := r.Reconcile(ctx, reconcile.Request{TransactionID: "BT-A", Vouchers: claims(model.KindPaymentEntry, "PE-1")})
	require.NoError(t, err)
	assertAmount(t, "60", a.Allocations[0].Amount)
	assert.Nil(t, db.MustGetVoucher(model.KindPaymentEntry, "PE-1").ClearanceDate)

	b, err := r.Reconcile(ctx, reconcile.Request{TransactionID: "BT-B", Vouchers: claims(model.KindPaymentEntry, "PE-1")})
	require.NoError(t, err)
	assertAmount(t, "40", b.Allocations[0].Amount)
	assert.Equal(t, model.StatusReconciled, b.Status)
	assert.NotNil(t, db.MustGetVoucher(model.KindPaymentEntry, "PE-1").ClearanceDate)
}

func TestReconcile_ConsumedSettlementIsDropped(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-A", "100.00").
			WithDeposit("BT-B", "100.00").
			WithPaymentEntry("PE-1", model.DirectionDeposit, "100.00")
	})
	r := reconcile.New(db.Storage, nil)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, reconcile.Request{TransactionID: "BT-A", Vouchers: claims(model.KindPaymentEntry, "PE-1")})
	require.NoError(t, err)

	b, err := r.Reconcile(ctx, reconcile.Request{TransactionID: "BT-B", Vouchers: claims(model.KindPaymentEntry, "PE-1")})
	require.NoError(t, err)
	assert.Empty(t, b.Allocations)
	assert.Equal(t, model.StatusUnreconciled, b.Status)
}

func TestReconcile_ConcurrentTransactionsShareSettlement(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-A", "100.00").
			WithDeposit("BT-B", "100.00").
			WithDeposit("BT-C", "100.00").
			WithPaymentEntry("PE-1", model.DirectionDeposit, "100.00")
	})
	r := reconcile.New(db.Storage, common.NewKeyLock())
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"BT-A", "BT-B", "BT-C"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := r.Reconcile(ctx, reconcile.Request{TransactionID: id, Vouchers: claims(model.KindPaymentEntry, "PE-1")})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	allocated, err := db.Storage.GetAllocatedAmounts(ctx, "", []model.VoucherRef{{Kind: model.KindPaymentEntry, ID: "PE-1"}}, "")
	require.NoError(t, err)
	assertAmount(t, "100", allocated[model.VoucherRef{Kind: model.KindPaymentEntry, ID: "PE-1"}])
}

func TestReconcile_PeerTransfer(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.WithFixture(ledger.FixtureTransfer)
	})
	r := reconcile.New(db.Storage, nil)

	out, err := r.Reconcile(context.Background(), reconcile.Request{
		TransactionID: "BT-OUT",
		Vouchers:      claims(model.KindBankTransaction, "BT-IN"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusReconciled, out.Status)

	in := db.MustGetTransaction("BT-IN")
	assert.Equal(t, model.StatusReconciled, in.Status)
	require.Len(t, in.Allocations, 1)
	assert.Equal(t, model.KindBankTransaction, in.Allocations[0].Kind)
	assert.Equal(t, "BT-OUT", in.Allocations[0].VoucherID)
	assertAmount(t, "500", in.Allocations[0].Amount)
}

func TestReconcile_SelfPeerRejected(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.WithFixture(ledger.FixtureTransfer)
	})
	r := reconcile.New(db.Storage, nil)

	_, err := r.Reconcile(context.Background(), reconcile.Request{
		TransactionID: "BT-OUT",
		Vouchers:      claims(model.KindBankTransaction, "BT-OUT"),
	})
	assert.ErrorIs(t, err, common.ErrInvalidVoucherKind)
}

func TestReconcile_ConservesAmounts(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-1", "175.25").
			WithSalesInvoice("INV-1", "Alice", "80.10").
			WithSalesInvoice("INV-2", "Alice", "60.05").
			WithSalesInvoice("INV-3", "Alice", "99.99")
	})
	r := reconcile.New(db.Storage, nil)

	txn, err := r.Reconcile(context.Background(), reconcile.Request{
		TransactionID: "BT-1",
		Vouchers:      claims(model.KindSalesInvoice, "INV-1", "INV-2", "INV-3"),
	})
	require.NoError(t, err)

	sum := decimal.Zero
	for _, a := range txn.Allocations {
		sum = sum.Add(a.Amount)
	}
	assert.True(t, sum.Equal(txn.AllocatedAmount))
	assert.True(t, txn.AllocatedAmount.Add(txn.UnallocatedAmount).Equal(txn.Amount()))
	assert.False(t, txn.UnallocatedAmount.IsNegative())

	outstanding := decimal.Zero
	for _, id := range []string{"INV-1", "INV-2", "INV-3"} {
		outstanding = outstanding.Add(db.MustGetVoucher(model.KindSalesInvoice, id).Outstanding)
	}
	assertAmount(t, "64.89", outstanding, "claims lose exactly what was paid")
}

func TestReconcileSingle(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-1", "100.00").
			WithSalesInvoice("INV-1", "Alice", "100.00").
			WithSalesInvoice("INV-DRAFT", "Alice", "100.00", ledger.AsDraft())
	})
	r := reconcile.New(db.Storage, nil)
	ctx := context.Background()

	res, err := r.ReconcileSingle(ctx, "BT-1", ledger.Amount("40"), model.KindSalesInvoice, "INV-GONE")
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.Nil(t, res.Transaction)

	res, err = r.ReconcileSingle(ctx, "BT-1", ledger.Amount("40"), model.KindSalesInvoice, "INV-DRAFT")
	require.NoError(t, err)
	assert.False(t, res.Deleted)
	assert.Nil(t, res.Transaction)

	res, err = r.ReconcileSingle(ctx, "BT-1", ledger.Amount("40"), model.KindSalesInvoice, "INV-1")
	require.NoError(t, err)
	require.NotNil(t, res.Transaction)
	assertAmount(t, "40", res.Transaction.AllocatedAmount)
	assertAmount(t, "60", db.MustGetVoucher(model.KindSalesInvoice, "INV-1").Outstanding)
}

func TestReconcile_ErrorsAreDistinguishable(t *testing.T) {
	err := &common.OverAllocationError{TransactionID: "BT-1", Excess: ledger.Amount("5"), Row: 2}
	assert.True(t, errors.Is(err, common.ErrOverAllocated))
	assert.False(t, common.IsRejection(err))
}
