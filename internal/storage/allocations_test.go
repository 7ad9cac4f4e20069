package storage

import (
	"context"
	"testing"

	"github.com/Veraticus/bankrec/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAllocatedAmounts(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	pe := model.VoucherRef{Kind: model.KindPaymentEntry, ID: "PE-1"}
	je := model.VoucherRef{Kind: model.KindJournalEntry, ID: "JE-1"}

	allocate := func(txn *model.BankTransaction, amounts ...string) *model.BankTransaction {
		refs := []model.VoucherRef{pe, je}
		for i, amount := range amounts {
			txn.Allocations = append(txn.Allocations, model.Allocation{Kind: refs[i].Kind, VoucherID: refs[i].ID, Amount: dec(amount)})
		}
		txn.RecomputeTotals()
		return txn
	}

	draft := allocate(deposit("BT-DRAFT", "100", testDay), "100")
	draft.DocStatus = model.DocDraft
	savings := allocate(deposit("BT-SAV", "100", testDay), "5")
	savings.BankAccount = "Acme Savings"

	for _, txn := range []*model.BankTransaction{
		allocate(deposit("BT-1", "100", testDay), "30", "10"),
		allocate(deposit("BT-2", "100", day(1)), "20"),
		draft,
		savings,
	} {
		require.NoError(t, store.SaveBankTransaction(ctx, txn))
	}

	t.Run("sums finalized rows of the account", func(t *testing.T) {
		got, err := store.GetAllocatedAmounts(ctx, testAccount, []model.VoucherRef{pe, je}, "")
		require.NoError(t, err)
		assert.True(t, dec("50").Equal(got[pe]))
		assert.True(t, dec("10").Equal(got[je]))
	})

	t.Run("excludes the current transaction", func(t *testing.T) {
		got, err := store.GetAllocatedAmounts(ctx, testAccount, []model.VoucherRef{pe, je}, "BT-1")
		require.NoError(t, err)
		assert.True(t, dec("20").Equal(got[pe]))
		_, ok := got[je]
		assert.False(t, ok)
	})

	t.Run("any account", func(t *testing.T) {
		got, err := store.GetAllocatedAmounts(ctx, "", []model.VoucherRef{pe}, "")
		require.NoError(t, err)
		assert.True(t, dec("55").Equal(got[pe]))
	})

	t.Run("no refs", func(t *testing.T) {
		got, err := store.GetAllocatedAmounts(ctx, testAccount, nil, "")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("links in transaction order", func(t *testing.T) {
		links, err := store.GetAllocationLinks(ctx, pe)
		require.NoError(t, err)
		require.Len(t, links, 4)
		assert.Equal(t, "BT-1", links[0].TransactionID)
		assert.Equal(t, 1, links[0].Position)
		assert.True(t, dec("30").Equal(links[0].Amount))
		assert.Equal(t, "BT-DRAFT", links[1].TransactionID)
		assert.Equal(t, "BT-SAV", links[2].TransactionID)
		assert.Equal(t, "BT-2", links[3].TransactionID)
	})
}
