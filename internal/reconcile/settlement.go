package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// settleClaims validates a claim batch, allocates the transaction's
// unallocated amount across it and books the resulting settlement voucher.
// It returns nil when nothing could be allocated.
func (r *Reconciler) settleClaims(ctx context.Context, tx service.Transaction, txn *model.BankTransaction, claims []claimRow, req Request) (*model.Settlement, error) {
	if err := checkPeriodOpen(ctx, tx, txn); err != nil {
		return nil, err
	}

	kind := claims[0].Kind
	for i := range claims[1:] {
		if claims[i+1].Kind != kind {
			return nil, common.NewUserError(
				"Cannot reconcile a Bank Transaction with vouchers of different kinds at once",
				common.ErrMixedVoucherKinds,
			)
		}
	}

	parties := distinctParties(claims)
	if len(parties) > 1 && !req.MultiParty {
		return nil, common.NewUserError(
			"Cannot reconcile a Bank Transaction with vouchers of different parties at once",
			common.ErrMixedParties,
		)
	}

	account, err := tx.GetBankAccount(ctx, txn.BankAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to load bank account: %w", err)
	}

	var rows []claimRow
	for _, claim := range claims {
		schedule, err := tx.GetPaymentSchedule(ctx, claim.ref())
		if err != nil {
			return nil, fmt.Errorf("failed to load payment schedule: %w", err)
		}
		rows = append(rows, splitInstallments(claim, schedule)...)
	}

	sumPositive, sumNegative, err := allocationPools(rows, txn.UnallocatedAmount, txn.Direction())
	if err != nil {
		return nil, err
	}
	rows = allocateGreedy(rows, sumPositive, sumNegative)
	if len(rows) == 0 || totalAllocated(rows).IsZero() {
		// Returns netting out their invoices move no money through the bank.
		return nil, nil
	}

	settlement := newSettlement(txn, account, rows)
	if settlement.Kind == model.KindJournalEntry {
		contra := req.Account
		if contra == "" {
			contra = rows[0].Account
		}
		if contra == "" {
			return nil, common.NewUserError(
				"An account is required to reconcile vouchers of several parties",
				common.ErrMissingAccount,
			)
		}
		if err := checkContraCurrency(ctx, tx, contra, account); err != nil {
			return nil, err
		}
		settlement.Postings = journalPostings(rows, contra, account.LedgerAccount)
	}

	if err := tx.CreateSettlement(ctx, settlement); err != nil {
		return nil, fmt.Errorf("failed to create settlement: %w", err)
	}

	common.LogDebug("created settlement voucher", common.Fields{
		"transaction": txn.ID,
		"settlement":  settlement.Ref().String(),
		"lines":       len(settlement.Lines),
		"paid_amount": settlement.PaidAmount.StringFixed(2),
	})
	return settlement, nil
}

// checkContraCurrency rejects a journal voucher whose contra account is not
// kept in the bank account's currency.
func checkContraCurrency(ctx context.Context, tx service.Transaction, contra string, bank *model.BankAccount) error {
	ledger, err := tx.GetLedgerAccount(ctx, contra)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("failed to load ledger account: %w", err)
	}
	if ledger != nil && ledger.Currency == bank.Currency {
		return nil
	}
	return common.NewUserError(
		fmt.Sprintf("The currency of the second account (%s) must be the same as of the bank account (%s)", contra, bank.Currency),
		common.ErrCurrencyMismatch,
	)
}

// checkPeriodOpen rejects claim settlement dated on or before the company's
// latest period closing.
func checkPeriodOpen(ctx context.Context, tx service.Transaction, txn *model.BankTransaction) error {
	closed, err := tx.GetLatestPeriodClose(ctx, txn.Company)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("failed to load period closing: %w", err)
	}
	if closed == nil {
		return nil
	}

	if !dayOf(txn.Date).After(dayOf(*closed)) {
		return common.NewUserError(
			fmt.Sprintf("Due to Period Closing, you cannot reconcile unpaid vouchers with a Bank Transaction before %s",
				closed.Format("2006-01-02")),
			common.ErrPeriodClosed,
		)
	}
	return nil
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// newSettlement drafts a payment voucher for a single party or a journal
// voucher for several.
func newSettlement(txn *model.BankTransaction, account *model.BankAccount, rows []claimRow) *model.Settlement {
	parties := distinctParties(rows)

	referenceNo := txn.ReferenceNo
	if referenceNo == "" {
		referenceNo = rows[0].ID
	}

	st := &model.Settlement{
		PostingDate:   txn.Date,
		ReferenceDate: txn.Date,
		PaidAmount:    totalAllocated(rows).Abs(),
		Company:       txn.Company,
		BankAccount:   txn.BankAccount,
		LedgerAccount: account.LedgerAccount,
		Direction:     txn.Direction(),
		Currency:      txn.Currency,
		ReferenceNo:   referenceNo,
	}
	if st.Company == "" {
		st.Company = account.Company
	}
	if st.Currency == "" {
		st.Currency = account.Currency
	}

	if len(parties) == 1 {
		st.Kind = model.KindPaymentEntry
		st.ID = "PE-" + uuid.NewString()
		st.Party = parties[0].Party
		st.PartyType = parties[0].PartyType
	} else {
		st.Kind = model.KindJournalEntry
		st.ID = "JE-" + uuid.NewString()
	}

	st.Lines = make([]model.SettlementLine, 0, len(rows))
	for _, row := range rows {
		st.Lines = append(st.Lines, model.SettlementLine{
			DueDate:   row.DueDate,
			Allocated: row.Allocated,
			ClaimKind: row.Kind,
			ClaimID:   row.ID,
			Party:     row.Party,
			PartyType: row.PartyType,
		})
	}
	return st
}

// journalPostings books one contra line per party and a balancing bank line.
// Claims for money received are credited to the contra account, claims for
// money paid out are debited; return amounts flip the side.
func journalPostings(rows []claimRow, contra, bankLedger string) []model.Posting {
	perParty := make(map[partyKey]decimal.Decimal)
	for _, row := range rows {
		k := partyKey{Party: row.Party, PartyType: row.PartyType}
		perParty[k] = perParty[k].Add(row.Allocated)
	}
	credit := receivesMoney(rows[0].Kind)

	var postings []model.Posting
	balance := decimal.Zero
	for _, k := range distinctParties(rows) {
		p := sidedPosting(contra, k, perParty[k], credit)
		balance = balance.Add(p.Credit).Sub(p.Debit)
		postings = append(postings, p)
	}
	return append(postings, sidedPosting(bankLedger, partyKey{}, balance, false))
}

func receivesMoney(kind model.VoucherKind) bool {
	return kind == model.KindSalesInvoice || kind == model.KindLoanRepayment
}

// sidedPosting puts a positive amount on the credit side when credit is set
// and flips sides for negative amounts.
func sidedPosting(account string, party partyKey, amount decimal.Decimal, credit bool) model.Posting {
	p := model.Posting{
		Debit:     decimal.Zero,
		Credit:    decimal.Zero,
		Account:   account,
		Party:     party.Party,
		PartyType: party.PartyType,
	}
	if amount.IsNegative() {
		credit = !credit
		amount = amount.Abs()
	}
	if credit {
		p.Credit = amount
	} else {
		p.Debit = amount
	}
	return p
}
