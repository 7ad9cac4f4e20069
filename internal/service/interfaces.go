// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/bankrec/internal/model"
	"github.com/shopspring/decimal"
)

// TransactionFilter defines filtering options for bank transaction queries.
type TransactionFilter struct {
	StartDate   *time.Time
	EndDate     *time.Time
	BankAccount string
	OpenOnly    bool
	Limit       int
	Offset      int
}

// VoucherFilter narrows the rows a store returns for one voucher kind.
// Builders apply the fine-grained matching rules themselves.
type VoucherFilter struct {
	Kind        model.VoucherKind
	Company     string
	Currency    string
	BankAccount string
	Account     string
}

// Storage is the Voucher Store contract the engine depends on.
type Storage interface {
	// Bank accounts
	SaveBankAccount(ctx context.Context, account *model.BankAccount) error
	GetBankAccount(ctx context.Context, name string) (*model.BankAccount, error)

	// Ledger accounts
	SaveLedgerAccount(ctx context.Context, account *model.LedgerAccount) error
	GetLedgerAccount(ctx context.Context, name string) (*model.LedgerAccount, error)

	// Bank transactions
	SaveBankTransaction(ctx context.Context, txn *model.BankTransaction) error
	GetBankTransaction(ctx context.Context, id string) (*model.BankTransaction, error)
	GetBankTransactions(ctx context.Context, filter TransactionFilter) ([]model.BankTransaction, error)

	// Vouchers
	SaveVoucher(ctx context.Context, voucher *model.Voucher) error
	GetVoucher(ctx context.Context, ref model.VoucherRef) (*model.Voucher, error)
	GetVouchers(ctx context.Context, filter VoucherFilter) ([]model.Voucher, error)
	SetClearanceDate(ctx context.Context, ref model.VoucherRef, date *time.Time) error
	SavePaymentSchedule(ctx context.Context, ref model.VoucherRef, schedule []model.Installment) error
	GetPaymentSchedule(ctx context.Context, ref model.VoucherRef) ([]model.Installment, error)

	// Allocation index
	GetAllocatedAmounts(ctx context.Context, bankAccount string, refs []model.VoucherRef, excludeTransactionID string) (map[model.VoucherRef]decimal.Decimal, error)
	GetAllocationLinks(ctx context.Context, ref model.VoucherRef) ([]AllocationLink, error)

	// Settlements
	CreateSettlement(ctx context.Context, settlement *model.Settlement) error
	GetSettlement(ctx context.Context, ref model.VoucherRef) (*model.Settlement, error)

	// Period closing
	ClosePeriod(ctx context.Context, company string, date time.Time) error
	GetLatestPeriodClose(ctx context.Context, company string) (*time.Time, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// AllocationLink is an allocation row seen from the voucher side.
type AllocationLink struct {
	TransactionID string
	Date          time.Time
	Position      int
	Amount        decimal.Decimal
}

// AutoReconcileStats summarises an auto-reconciliation run.
type AutoReconcileStats struct {
	Processed           int
	Reconciled          int
	PartiallyReconciled int
	Untouched           int
	Rejected            int
	Duration            time.Duration
}
