package storage

import (
	"context"
	"testing"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBankTransaction_RoundTrip(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	txn := deposit("BT-1", "100.25", testDay)
	txn.Description = "Card batch 42"
	txn.ReferenceNo = "R-42"
	txn.Party, txn.PartyType = "Alice", model.PartyCustomer
	txn.Allocations = []model.Allocation{
		{Kind: model.KindPaymentEntry, VoucherID: "PE-1", Amount: dec("60.25"), Party: "Alice", PartyType: model.PartyCustomer},
		{Kind: model.KindJournalEntry, VoucherID: "JE-1", Amount: dec("15")},
	}
	txn.RecomputeTotals()
	require.NoError(t, store.SaveBankTransaction(ctx, txn))

	got, err := store.GetBankTransaction(ctx, "BT-1")
	require.NoError(t, err)
	assert.True(t, testDay.Equal(got.Date))
	assert.Equal(t, "Card batch 42", got.Description)
	assert.Equal(t, "R-42", got.ReferenceNo)
	assert.Equal(t, "Alice", got.Party)
	assert.True(t, dec("100.25").Equal(got.Deposit))
	assert.True(t, got.Withdrawal.IsZero())
	assert.True(t, dec("75.25").Equal(got.AllocatedAmount))
	assert.True(t, dec("25").Equal(got.UnallocatedAmount))
	assert.Equal(t, model.StatusPartiallyReconciled, got.Status)
	require.Len(t, got.Allocations, 2)
	assert.Equal(t, "PE-1", got.Allocations[0].VoucherID, "rows keep their position")
	assert.Equal(t, model.KindJournalEntry, got.Allocations[1].Kind)
}

func TestBankTransaction_SaveReplacesAllocations(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	txn := deposit("BT-1", "100", testDay)
	txn.Allocations = []model.Allocation{{Kind: model.KindPaymentEntry, VoucherID: "PE-1", Amount: dec("100")}}
	txn.RecomputeTotals()
	require.NoError(t, store.SaveBankTransaction(ctx, txn))

	txn.Allocations = nil
	txn.RecomputeTotals()
	require.NoError(t, store.SaveBankTransaction(ctx, txn))

	got, err := store.GetBankTransaction(ctx, "BT-1")
	require.NoError(t, err)
	assert.Empty(t, got.Allocations)
	assert.Equal(t, model.StatusUnreconciled, got.Status)
}

func TestBankTransaction_NotFound(t *testing.T) {
	store := createTestStorage(t)

	_, err := store.GetBankTransaction(context.Background(), "BT-404")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetBankTransactions_Filters(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	reconciled := deposit("BT-DONE", "10", day(0))
	reconciled.Allocations = []model.Allocation{{Kind: model.KindPaymentEntry, VoucherID: "PE-1", Amount: dec("10")}}
	reconciled.RecomputeTotals()
	draft := deposit("BT-DRAFT", "10", day(0))
	draft.DocStatus = model.DocDraft
	other := deposit("BT-OTHER", "10", day(0))
	other.BankAccount = "Acme Savings"

	for _, txn := range []*model.BankTransaction{
		deposit("BT-3", "10", day(2)),
		deposit("BT-1", "10", day(-2)),
		deposit("BT-2", "10", day(0)),
		reconciled, draft, other,
	} {
		require.NoError(t, store.SaveBankTransaction(ctx, txn))
	}

	ids := func(filter service.TransactionFilter) []string {
		t.Helper()
		txns, err := store.GetBankTransactions(ctx, filter)
		require.NoError(t, err)
		out := make([]string, 0, len(txns))
		for _, txn := range txns {
			out = append(out, txn.ID)
		}
		return out
	}

	from, to := day(0), day(0)
	tests := []struct {
		name   string
		filter service.TransactionFilter
		want   []string
	}{
		{
			name:   "open only, oldest first",
			filter: service.TransactionFilter{BankAccount: testAccount, OpenOnly: true},
			want:   []string{"BT-1", "BT-2", "BT-3"},
		},
		{
			name:   "everything of the account",
			filter: service.TransactionFilter{BankAccount: testAccount},
			want:   []string{"BT-1", "BT-2", "BT-DONE", "BT-DRAFT", "BT-3"},
		},
		{
			name:   "single day",
			filter: service.TransactionFilter{BankAccount: testAccount, StartDate: &from, EndDate: &to, OpenOnly: true},
			want:   []string{"BT-2"},
		},
		{
			name:   "limit and offset",
			filter: service.TransactionFilter{BankAccount: testAccount, OpenOnly: true, Limit: 1, Offset: 1},
			want:   []string{"BT-2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(tt.filter))
		})
	}
}

func TestGetBankTransactions_InvalidRange(t *testing.T) {
	store := createTestStorage(t)
	from, to := day(1), day(0)

	_, err := store.GetBankTransactions(context.Background(), service.TransactionFilter{StartDate: &from, EndDate: &to})
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}
