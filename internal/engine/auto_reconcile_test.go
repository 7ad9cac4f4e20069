package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/engine"
	"github.com/Veraticus/bankrec/internal/metrics"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/testutil"
	"github.com/Veraticus/bankrec/internal/testutil/ledger"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func autoBooks(b ledger.Builder) ledger.Builder {
	return b.
		WithDeposit("BT-1", "100.00", ledger.TxnReference("R1")).
		WithDeposit("BT-2", "100.00", ledger.TxnReference("R2"), ledger.TxnOn(ledger.Day(1))).
		WithDeposit("BT-3", "100.00", ledger.TxnReference("R3"), ledger.TxnOn(ledger.Day(2))).
		WithDeposit("BT-4", "100.00", ledger.TxnOn(ledger.Day(3))).
		WithPaymentEntry("PE-R1", model.DirectionDeposit, "100.00", ledger.VoucherReference("R1")).
		WithPaymentEntry("PE-R2", model.DirectionDeposit, "60.00", ledger.VoucherReference("R2")).
		WithPaymentEntry("PE-R3-DRAFT", model.DirectionDeposit, "100.00", ledger.VoucherReference("R3"), ledger.AsDraft()).
		WithPaymentEntry("PE-NOREF", model.DirectionDeposit, "100.00").
		WithSalesInvoice("R3", "Alice", "100.00")
}

func TestAutoReconcile_ClassifiesOutcomes(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, autoBooks)
	e := engine.New(db.Storage)

	var progress []int
	result, err := e.AutoReconcile(context.Background(), engine.AutoReconcileRequest{
		BankAccount: ledger.BankAccount,
		Progress:    func(done, _ int) { progress = append(progress, done) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"BT-1"}, result.Reconciled)
	assert.Equal(t, []string{"BT-2"}, result.PartiallyReconciled)
	assert.Equal(t, 4, result.Stats.Processed)
	assert.Equal(t, 1, result.Stats.Reconciled)
	assert.Equal(t, 1, result.Stats.PartiallyReconciled)
	assert.Equal(t, 2, result.Stats.Untouched)
	assert.Equal(t, 0, result.Stats.Rejected)
	assert.Equal(t, []int{1, 2, 3, 4}, progress)

	assert.Equal(t, model.StatusReconciled, db.MustGetTransaction("BT-1").Status)
	bt2 := db.MustGetTransaction("BT-2")
	assert.Equal(t, model.StatusPartiallyReconciled, bt2.Status)
	assert.True(t, ledger.Amount("40").Equal(bt2.UnallocatedAmount))
	assert.Equal(t, model.StatusUnreconciled, db.MustGetTransaction("BT-3").Status,
		"claims are never auto-reconciled")
	assert.True(t, ledger.Amount("100").Equal(db.MustGetVoucher(model.KindSalesInvoice, "R3").Outstanding))
}

func TestAutoReconcile_Restartable(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, autoBooks)
	e := engine.New(db.Storage)
	req := engine.AutoReconcileRequest{BankAccount: ledger.BankAccount}

	_, err := e.AutoReconcile(context.Background(), req)
	require.NoError(t, err)

	again, err := e.AutoReconcile(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, again.Reconciled)
	assert.Empty(t, again.PartiallyReconciled)
	assert.Equal(t, 3, again.Stats.Processed, "the reconciled transaction is no longer open")
	assert.Equal(t, 3, again.Stats.Untouched)
}

func TestAutoReconcile_DateRange(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, autoBooks)
	e := engine.New(db.Storage)
	from, to := ledger.Day(1), ledger.Day(1)

	result, err := e.AutoReconcile(context.Background(), engine.AutoReconcileRequest{
		BankAccount: ledger.BankAccount,
		From:        &from,
		To:          &to,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Processed)
	assert.Equal(t, []string{"BT-2"}, result.PartiallyReconciled)
	assert.Equal(t, model.StatusUnreconciled, db.MustGetTransaction("BT-1").Status)
}

func TestAutoReconcile_ReferenceDateFilter(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
		return b.
			WithDeposit("BT-1", "100.00", ledger.TxnReference("R1")).
			WithPaymentEntry("PE-R1", model.DirectionDeposit, "100.00",
				ledger.VoucherReference("R1"), ledger.VoucherReferenceDate(ledger.Day(-40)))
	})
	e := engine.New(db.Storage)
	from, to := ledger.Day(-7), ledger.Day(7)

	result, err := e.AutoReconcile(context.Background(), engine.AutoReconcileRequest{
		BankAccount:           ledger.BankAccount,
		FilterByReferenceDate: true,
		ReferenceDates:        model.DateRange{From: &from, To: &to},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Reconciled)
	assert.Equal(t, 1, result.Stats.Untouched)
}

func TestAutoReconcile_StopsOnCancel(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, autoBooks)
	rec := metrics.New()
	e := engine.New(db.Storage).WithMetrics(rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := e.AutoReconcile(ctx, engine.AutoReconcileRequest{
		BankAccount: ledger.BankAccount,
		Progress:    func(int, int) { cancel() },
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, result.Stats.Processed)
	assert.Equal(t, []string{"BT-1"}, result.Reconciled)
	assert.Equal(t, model.StatusUnreconciled, db.MustGetTransaction("BT-2").Status)

	// An interrupted run is still exported.
	runs, lastRun := gatherRun(t, rec)
	assert.Equal(t, uint64(1), runs)
	assert.Positive(t, lastRun)
}

func gatherRun(t *testing.T, rec *metrics.Recorder) (uint64, float64) {
	t.Helper()
	families, err := rec.Registry().Gather()
	require.NoError(t, err)

	var runs uint64
	var lastRun float64
	for _, mf := range families {
		switch mf.GetName() {
		case "bankrec_auto_reconcile_duration_seconds":
			runs = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		case "bankrec_auto_reconcile_last_run_timestamp_seconds":
			lastRun = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return runs, lastRun
}

func TestAutoReconcile_RequiresBankAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := engine.New(db.Storage)

	_, err := e.AutoReconcile(context.Background(), engine.AutoReconcileRequest{})
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestAutoReconcile_RecordsMetrics(t *testing.T) {
	db := testutil.SetupTestDBWithBuilder(t, autoBooks)
	rec := metrics.New()
	e := engine.New(db.Storage).WithMetrics(rec)

	_, err := e.AutoReconcile(context.Background(), engine.AutoReconcileRequest{BankAccount: ledger.BankAccount})
	require.NoError(t, err)

	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	outcomes := map[string]float64{}
	var allocated float64
	for _, mf := range families {
		switch mf.GetName() {
		case "bankrec_auto_reconcile_transactions_total":
			for _, m := range mf.GetMetric() {
				outcomes[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
			}
		case "bankrec_reconcile_allocated_amount_total":
			allocated = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{
		metrics.OutcomeReconciled: 1,
		metrics.OutcomePartial:    1,
		metrics.OutcomeUntouched:  2,
	}, outcomes)
	assert.InDelta(t, 160, allocated, 0.001)
	series, err := promtest.GatherAndCount(rec.Registry(), "bankrec_auto_reconcile_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
	runs, lastRun := gatherRun(t, rec)
	assert.Equal(t, uint64(1), runs)
	assert.Positive(t, lastRun)
}
