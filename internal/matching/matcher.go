package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/service"
	"github.com/shopspring/decimal"
)

// VoucherReader is the read-only slice of the voucher store matching needs.
type VoucherReader interface {
	GetBankAccount(ctx context.Context, name string) (*model.BankAccount, error)
	GetVouchers(ctx context.Context, filter service.VoucherFilter) ([]model.Voucher, error)
	GetAllocatedAmounts(ctx context.Context, bankAccount string, refs []model.VoucherRef, excludeTransactionID string) (map[model.VoucherRef]decimal.Decimal, error)
}

// Options are the mode flags of a matching call.
type Options struct {
	PostingDates    model.DateRange
	ReferenceDates  model.DateRange
	Mode            model.MatchMode
	ExactMatch      bool
	ExactPartyMatch bool
	UnpaidInvoices  bool
}

// Matcher is the matching orchestrator.
type Matcher struct {
	store    VoucherReader
	builders map[model.VoucherKind]Builder
}

// NewMatcher creates a matcher using the default builder for every kind.
func NewMatcher(store VoucherReader) *Matcher {
	return &Matcher{
		store:    store,
		builders: DefaultBuilders(),
	}
}

// NewContext builds the match context for a transaction.
func NewContext(txn *model.BankTransaction, account *model.BankAccount, opts Options) model.MatchContext {
	mc := model.MatchContext{
		TransactionID:   txn.ID,
		Amount:          txn.UnallocatedAmount,
		Direction:       txn.Direction(),
		ReferenceNo:     txn.ReferenceNo,
		Party:           txn.Party,
		PartyType:       txn.PartyType,
		BankAccount:     txn.BankAccount,
		Company:         txn.Company,
		Currency:        txn.Currency,
		Date:            txn.Date,
		PostingDates:    opts.PostingDates,
		ReferenceDates:  opts.ReferenceDates,
		Mode:            opts.Mode,
		ExactMatch:      opts.ExactMatch,
		ExactPartyMatch: opts.ExactPartyMatch,
	}
	if account != nil {
		mc.LedgerAccount = account.LedgerAccount
		if mc.Company == "" {
			mc.Company = account.Company
		}
		if mc.Currency == "" {
			mc.Currency = account.Currency
		}
	}
	return mc
}

// Candidates runs every enabled builder for txn and returns one list sorted by
// rank, highest first. Ties keep builder order, then store order.
func (m *Matcher) Candidates(ctx context.Context, txn *model.BankTransaction, kinds []model.VoucherKind, opts Options) ([]model.MatchCandidate, error) {
	account, err := m.store.GetBankAccount(ctx, txn.BankAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to load bank account: %w", err)
	}
	mc := NewContext(txn, account, opts)

	var candidates []model.MatchCandidate
	for _, kind := range enabledKinds(kinds, opts.UnpaidInvoices) {
		builder, ok := m.builders[kind]
		if !ok {
			return nil, fmt.Errorf("no candidate builder for %q", kind)
		}

		rows, err := m.store.GetVouchers(ctx, service.VoucherFilter{
			Kind:        kind,
			Company:     mc.Company,
			Currency:    mc.Currency,
			BankAccount: bankAccountFilter(kind, mc.BankAccount),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load %s rows: %w", kind, err)
		}

		candidates = append(candidates, builder.Build(mc, rows)...)
	}

	ApplyDescriptionBonus(candidates, txn.Description)
	SortByRank(candidates)
	return candidates, nil
}

// ApplyDescriptionBonus rewards candidates whose reference number appears
// verbatim in the transaction description.
func ApplyDescriptionBonus(candidates []model.MatchCandidate, description string) {
	if strings.TrimSpace(description) == "" {
		return
	}
	for i := range candidates {
		ref := candidates[i].ReferenceNo
		if ref == "" || !strings.Contains(description, ref) {
			continue
		}
		candidates[i].NameInDescMatch = true
		candidates[i].Rank++
	}
}

// SortByRank orders candidates by rank, highest first, keeping input order on ties.
func SortByRank(candidates []model.MatchCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Rank > candidates[j].Rank
	})
}

// enabledKinds dedupes kinds in caller order and drops claims unless unpaid
// invoices were requested.
func enabledKinds(kinds []model.VoucherKind, unpaidInvoices bool) []model.VoucherKind {
	seen := make(map[model.VoucherKind]struct{}, len(kinds))
	out := make([]model.VoucherKind, 0, len(kinds))
	for _, k := range kinds {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if k.IsClaim() && !unpaidInvoices {
			continue
		}
		out = append(out, k)
	}
	return out
}

// Journal entries may post to the ledger account without naming the bank
// account, and claims never carry one, so only narrow the query where safe.
func bankAccountFilter(kind model.VoucherKind, bankAccount string) string {
	switch kind {
	case model.KindPaymentEntry, model.KindBankTransaction:
		return bankAccount
	default:
		return ""
	}
}
