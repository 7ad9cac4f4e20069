// Package ledger provides test infrastructure for seeding a voucher store with
// bank accounts, bank transactions and ledger vouchers. It offers a fluent API
// so tests read as a description of the books they start from.
//
// Example usage:
//
//	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
//		return b.
//			WithDeposit("BT-1", "100.00", ledger.TxnReference("INV-1")).
//			WithSalesInvoice("INV-1", "Alice", "100.00")
//	})
package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/service"
	"github.com/shopspring/decimal"
)

// Standard books every builder starts from.
const (
	Company       = "Acme Ltd"
	Currency      = "USD"
	BankAccount   = "Acme Checking"
	BankLedger    = "1100 - Checking - ACME"
	Receivable    = "1310 - Debtors - ACME"
	Payable       = "2110 - Creditors - ACME"
	EmployeeOwed  = "2120 - Payroll Payable - ACME"
	LoansReceived = "1410 - Loans - ACME"
)

// BaseDate is the default date of every seeded document.
var BaseDate = time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)

// Amount parses a decimal literal and panics on malformed input.
func Amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Day returns BaseDate shifted by n days.
func Day(n int) time.Time {
	return BaseDate.AddDate(0, 0, n)
}

// Builder provides a fluent interface for constructing test books.
type Builder interface {
	// WithBankAccount replaces the default bank account.
	WithBankAccount(account model.BankAccount) Builder

	// WithLedgerAccount registers a ledger account kept in currency.
	WithLedgerAccount(name, currency string) Builder

	// WithDeposit adds a finalized deposit on the bank account.
	WithDeposit(id, amount string, opts ...TxnOption) Builder

	// WithWithdrawal adds a finalized withdrawal on the bank account.
	WithWithdrawal(id, amount string, opts ...TxnOption) Builder

	// WithPaymentEntry adds a finalized payment voucher through the bank account.
	WithPaymentEntry(id string, direction model.Direction, amount string, opts ...VoucherOption) Builder

	// WithJournalEntry adds a finalized journal voucher with a bank line.
	WithJournalEntry(id string, direction model.Direction, amount string, opts ...VoucherOption) Builder

	// WithSalesInvoice adds an unpaid sales invoice for a customer.
	WithSalesInvoice(id, customer, outstanding string, opts ...VoucherOption) Builder

	// WithPurchaseInvoice adds an unpaid purchase invoice from a supplier.
	WithPurchaseInvoice(id, supplier, outstanding string, opts ...VoucherOption) Builder

	// WithClaim adds an unpaid claim of any kind.
	WithClaim(kind model.VoucherKind, id, party, outstanding string, opts ...VoucherOption) Builder

	// WithSchedule attaches a payment schedule to a claim.
	WithSchedule(kind model.VoucherKind, id string, installments ...model.Installment) Builder

	// WithPeriodClose records a period closing for the company.
	WithPeriodClose(date time.Time) Builder

	// WithFixture applies a predefined fixture.
	WithFixture(fixture Fixture) Builder

	// Build writes the books to storage.
	Build(ctx context.Context, storage service.Storage) (*Books, error)
}

// Books describes what a builder seeded.
type Books struct {
	Account      model.BankAccount
	Transactions []string
	Vouchers     []model.VoucherRef
}

// TxnOption customises a seeded bank transaction.
type TxnOption func(*model.BankTransaction)

// TxnReference sets the transaction's reference number.
func TxnReference(ref string) TxnOption {
	return func(t *model.BankTransaction) { t.ReferenceNo = ref }
}

// TxnDescription sets the transaction's description.
func TxnDescription(desc string) TxnOption {
	return func(t *model.BankTransaction) { t.Description = desc }
}

// TxnParty sets the transaction's party.
func TxnParty(partyType, party string) TxnOption {
	return func(t *model.BankTransaction) {
		t.PartyType = partyType
		t.Party = party
	}
}

// TxnOn sets the transaction date.
func TxnOn(date time.Time) TxnOption {
	return func(t *model.BankTransaction) { t.Date = date }
}

// TxnDraft leaves the transaction unsubmitted.
func TxnDraft() TxnOption {
	return func(t *model.BankTransaction) { t.DocStatus = model.DocDraft }
}

// VoucherOption customises a seeded voucher.
type VoucherOption func(*model.Voucher)

// VoucherReference sets the voucher's reference number.
func VoucherReference(ref string) VoucherOption {
	return func(v *model.Voucher) { v.ReferenceNo = ref }
}

// VoucherParty sets the voucher's party.
func VoucherParty(partyType, party string) VoucherOption {
	return func(v *model.Voucher) {
		v.PartyType = partyType
		v.Party = party
	}
}

// VoucherOn sets the voucher's posting date.
func VoucherOn(date time.Time) VoucherOption {
	return func(v *model.Voucher) { v.PostingDate = date }
}

// VoucherReferenceDate sets the voucher's reference date.
func VoucherReferenceDate(date time.Time) VoucherOption {
	return func(v *model.Voucher) { v.ReferenceDate = &date }
}

// VoucherCurrency sets the voucher's currency.
func VoucherCurrency(currency string) VoucherOption {
	return func(v *model.Voucher) { v.Currency = currency }
}

// VoucherAccount sets the voucher's ledger account.
func VoucherAccount(account string) VoucherOption {
	return func(v *model.Voucher) { v.Account = account }
}

// AsReturn marks a claim as a return.
func AsReturn() VoucherOption {
	return func(v *model.Voucher) { v.IsReturn = true }
}

// AsDraft leaves the voucher unsubmitted.
func AsDraft() VoucherOption {
	return func(v *model.Voucher) { v.Status = model.DocDraft }
}

type schedule struct {
	ref          model.VoucherRef
	installments []model.Installment
}

// ledgerBuilder implements the Builder interface.
type ledgerBuilder struct {
	t            *testing.T
	account      model.BankAccount
	ledgers      []model.LedgerAccount
	transactions []model.BankTransaction
	vouchers     []model.Voucher
	schedules    []schedule
	closings     []time.Time
}

// NewBuilder creates a builder seeded with the standard bank account.
func NewBuilder(t *testing.T) Builder {
	t.Helper()
	return &ledgerBuilder{
		t: t,
		account: model.BankAccount{
			Name:          BankAccount,
			LedgerAccount: BankLedger,
			Company:       Company,
			Currency:      Currency,
		},
	}
}

func (b *ledgerBuilder) WithBankAccount(account model.BankAccount) Builder {
	b.account = account
	return b
}

func (b *ledgerBuilder) WithLedgerAccount(name, currency string) Builder {
	b.ledgers = append(b.ledgers, model.LedgerAccount{
		Name:     name,
		Company:  b.account.Company,
		Currency: currency,
	})
	return b
}

func (b *ledgerBuilder) WithDeposit(id, amount string, opts ...TxnOption) Builder {
	txn := b.newTransaction(id, opts)
	txn.Deposit = Amount(amount)
	b.transactions = append(b.transactions, txn)
	return b
}

func (b *ledgerBuilder) WithWithdrawal(id, amount string, opts ...TxnOption) Builder {
	txn := b.newTransaction(id, opts)
	txn.Withdrawal = Amount(amount)
	b.transactions = append(b.transactions, txn)
	return b
}

func (b *ledgerBuilder) newTransaction(id string, opts []TxnOption) model.BankTransaction {
	txn := model.BankTransaction{
		ID:          id,
		Date:        BaseDate,
		BankAccount: b.account.Name,
		Company:     b.account.Company,
		Currency:    b.account.Currency,
		DocStatus:   model.DocFinalized,
		Deposit:     decimal.Zero,
		Withdrawal:  decimal.Zero,
	}
	for _, opt := range opts {
		opt(&txn)
	}
	return txn
}

func (b *ledgerBuilder) WithPaymentEntry(id string, direction model.Direction, amount string, opts ...VoucherOption) Builder {
	v := b.newVoucher(model.KindPaymentEntry, id, amount)
	v.Direction = direction
	v.Account = b.account.LedgerAccount
	v.BankAccount = b.account.Name
	b.vouchers = append(b.vouchers, applyVoucher(v, opts))
	return b
}

func (b *ledgerBuilder) WithJournalEntry(id string, direction model.Direction, amount string, opts ...VoucherOption) Builder {
	v := b.newVoucher(model.KindJournalEntry, id, amount)
	v.Direction = direction
	v.Account = b.account.LedgerAccount
	b.vouchers = append(b.vouchers, applyVoucher(v, opts))
	return b
}

func (b *ledgerBuilder) WithSalesInvoice(id, customer, outstanding string, opts ...VoucherOption) Builder {
	return b.WithClaim(model.KindSalesInvoice, id, customer, outstanding, opts...)
}

func (b *ledgerBuilder) WithPurchaseInvoice(id, supplier, outstanding string, opts ...VoucherOption) Builder {
	return b.WithClaim(model.KindPurchaseInvoice, id, supplier, outstanding, opts...)
}

func (b *ledgerBuilder) WithClaim(kind model.VoucherKind, id, party, outstanding string, opts ...VoucherOption) Builder {
	v := b.newVoucher(kind, id, outstanding)
	v.Party = party
	v.PartyType = kind.PartyType()
	v.Account = claimAccount(kind)
	v.Total = v.Outstanding.Abs()
	b.vouchers = append(b.vouchers, applyVoucher(v, opts))
	return b
}

func (b *ledgerBuilder) newVoucher(kind model.VoucherKind, id, amount string) model.Voucher {
	a := Amount(amount)
	return model.Voucher{
		Kind:        kind,
		ID:          id,
		Company:     b.account.Company,
		Currency:    b.account.Currency,
		Total:       a,
		Outstanding: a,
		PostingDate: BaseDate,
		Status:      model.DocFinalized,
	}
}

func (b *ledgerBuilder) WithSchedule(kind model.VoucherKind, id string, installments ...model.Installment) Builder {
	b.schedules = append(b.schedules, schedule{
		ref:          model.VoucherRef{Kind: kind, ID: id},
		installments: installments,
	})
	return b
}

func (b *ledgerBuilder) WithPeriodClose(date time.Time) Builder {
	b.closings = append(b.closings, date)
	return b
}

func (b *ledgerBuilder) WithFixture(fixture Fixture) Builder {
	return fixture.Apply(b)
}

func (b *ledgerBuilder) Build(ctx context.Context, storage service.Storage) (*Books, error) {
	b.t.Helper()

	account := b.account
	if err := storage.SaveBankAccount(ctx, &account); err != nil {
		return nil, fmt.Errorf("failed to seed bank account: %w", err)
	}
	books := &Books{Account: account}

	// Party accounts default to the bank account's currency; explicit
	// registrations are saved afterwards and win.
	ledgers := make([]model.LedgerAccount, 0, 4+len(b.ledgers))
	for _, name := range []string{Receivable, Payable, EmployeeOwed, LoansReceived} {
		ledgers = append(ledgers, model.LedgerAccount{Name: name, Company: account.Company, Currency: account.Currency})
	}
	ledgers = append(ledgers, b.ledgers...)
	for i := range ledgers {
		if err := storage.SaveLedgerAccount(ctx, &ledgers[i]); err != nil {
			return nil, fmt.Errorf("failed to seed ledger account %q: %w", ledgers[i].Name, err)
		}
	}

	for i := range b.transactions {
		txn := b.transactions[i]
		txn.RecomputeTotals()
		if err := storage.SaveBankTransaction(ctx, &txn); err != nil {
			return nil, fmt.Errorf("failed to seed bank transaction %q: %w", txn.ID, err)
		}
		books.Transactions = append(books.Transactions, txn.ID)
	}

	for i := range b.vouchers {
		v := b.vouchers[i]
		if err := storage.SaveVoucher(ctx, &v); err != nil {
			return nil, fmt.Errorf("failed to seed %s: %w", v.Ref(), err)
		}
		books.Vouchers = append(books.Vouchers, v.Ref())
	}

	for _, s := range b.schedules {
		if err := storage.SavePaymentSchedule(ctx, s.ref, s.installments); err != nil {
			return nil, fmt.Errorf("failed to seed schedule of %s: %w", s.ref, err)
		}
	}

	for _, date := range b.closings {
		if err := storage.ClosePeriod(ctx, account.Company, date); err != nil {
			return nil, fmt.Errorf("failed to seed period closing: %w", err)
		}
	}

	return books, nil
}

func claimAccount(kind model.VoucherKind) string {
	switch kind {
	case model.KindSalesInvoice:
		return Receivable
	case model.KindPurchaseInvoice:
		return Payable
	case model.KindExpenseClaim:
		return EmployeeOwed
	default:
		return LoansReceived
	}
}

func applyVoucher(v model.Voucher, opts []VoucherOption) model.Voucher {
	for _, opt := range opts {
		opt(&v)
	}
	return v
}
