package storage

import (
	"context"
	"testing"

	"github.com/Veraticus/bankrec/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSettlement(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	invoice := paymentEntry("PINV-1", "100")
	invoice.Kind = model.KindPurchaseInvoice
	invoice.Direction = model.DirectionWithdrawal
	invoice.Party, invoice.PartyType = "Globex", model.PartySupplier
	require.NoError(t, store.SaveVoucher(ctx, invoice))
	require.NoError(t, store.SavePaymentSchedule(ctx, invoice.Ref(), []model.Installment{
		{DueDate: day(10), PaymentAmount: dec("60"), Outstanding: dec("60")},
		{DueDate: day(40), PaymentAmount: dec("40"), Outstanding: dec("40")},
	}))

	due := day(10)
	settlement := &model.Settlement{
		Kind:          model.KindPaymentEntry,
		ID:            "PE-NEW",
		Company:       testCompany,
		BankAccount:   testAccount,
		LedgerAccount: testLedger,
		Direction:     model.DirectionWithdrawal,
		Currency:      "USD",
		Party:         "Globex",
		PartyType:     model.PartySupplier,
		ReferenceNo:   "WIRE-9",
		PostingDate:   day(1),
		ReferenceDate: day(1),
		PaidAmount:    dec("60"),
		Lines: []model.SettlementLine{{
			ClaimKind: model.KindPurchaseInvoice,
			ClaimID:   "PINV-1",
			Party:     "Globex",
			PartyType: model.PartySupplier,
			DueDate:   &due,
			Allocated: dec("60"),
		}},
		Postings: []model.Posting{
			{Account: "2100 - Payables", Party: "Globex", PartyType: model.PartySupplier, Debit: dec("60")},
			{Account: testLedger, Credit: dec("60")},
		},
	}
	require.NoError(t, store.CreateSettlement(ctx, settlement))

	claim, err := store.GetVoucher(ctx, invoice.Ref())
	require.NoError(t, err)
	assert.True(t, dec("40").Equal(claim.Outstanding))

	schedule, err := store.GetPaymentSchedule(ctx, invoice.Ref())
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	assert.True(t, schedule[0].Outstanding.IsZero())
	assert.True(t, dec("40").Equal(schedule[1].Outstanding))

	voucher, err := store.GetVoucher(ctx, settlement.Ref())
	require.NoError(t, err)
	assert.True(t, voucher.Finalized())
	assert.True(t, dec("60").Equal(voucher.Outstanding))

	got, err := store.GetSettlement(ctx, settlement.Ref())
	require.NoError(t, err)
	assert.Equal(t, "WIRE-9", got.ReferenceNo)
	assert.True(t, day(1).Equal(got.ReferenceDate))
	require.Len(t, got.Lines, 1)
	require.NotNil(t, got.Lines[0].DueDate)
	assert.True(t, due.Equal(*got.Lines[0].DueDate))
	assert.Equal(t, invoice.Ref(), got.Lines[0].ClaimRef())
	require.Len(t, got.Postings, 2)
	assert.True(t, dec("60").Equal(got.Postings[0].Debit))
	assert.True(t, dec("60").Equal(got.Postings[1].Credit))
}

func TestCreateSettlement_MissingClaimRollsBack(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	settlement := &model.Settlement{
		Kind:        model.KindPaymentEntry,
		ID:          "PE-NEW",
		Company:     testCompany,
		PostingDate: testDay,
		PaidAmount:  dec("10"),
		Lines:       []model.SettlementLine{{ClaimKind: model.KindSalesInvoice, ClaimID: "INV-404", Allocated: dec("10")}},
	}
	require.Error(t, store.CreateSettlement(ctx, settlement))

	_, err := store.GetVoucher(ctx, settlement.Ref())
	assert.Error(t, err)
}

func TestPeriodClose(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	latest, err := store.GetLatestPeriodClose(ctx, testCompany)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, store.ClosePeriod(ctx, testCompany, day(-30)))
	require.NoError(t, store.ClosePeriod(ctx, testCompany, day(-1)))
	require.NoError(t, store.ClosePeriod(ctx, "Globex Ltd", day(5)))

	latest, err = store.GetLatestPeriodClose(ctx, testCompany)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, day(-1).Equal(*latest))

	assert.ErrorIs(t, store.ClosePeriod(ctx, " ", testDay), ErrEmptyString)
}
