package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/service"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases alive and serialises writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
// Every method runs against the open transaction: with a single pooled
// connection, falling back to s.db here would block forever.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTransaction) SaveBankAccount(ctx context.Context, account *model.BankAccount) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBankAccount(account); err != nil {
		return err
	}
	return t.storage.saveBankAccountTx(ctx, t.tx, account)
}

func (t *sqliteTransaction) GetBankAccount(ctx context.Context, name string) (*model.BankAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return t.storage.getBankAccountTx(ctx, t.tx, name)
}

func (t *sqliteTransaction) SaveLedgerAccount(ctx context.Context, account *model.LedgerAccount) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateLedgerAccount(account); err != nil {
		return err
	}
	return t.storage.saveLedgerAccountTx(ctx, t.tx, account)
}

func (t *sqliteTransaction) GetLedgerAccount(ctx context.Context, name string) (*model.LedgerAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return t.storage.getLedgerAccountTx(ctx, t.tx, name)
}

func (t *sqliteTransaction) SaveBankTransaction(ctx context.Context, txn *model.BankTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBankTransaction(txn); err != nil {
		return err
	}
	return t.storage.saveBankTransactionTx(ctx, t.tx, txn)
}

func (t *sqliteTransaction) GetBankTransaction(ctx context.Context, id string) (*model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getBankTransactionTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetBankTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getBankTransactionsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) SaveVoucher(ctx context.Context, voucher *model.Voucher) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateVoucher(voucher); err != nil {
		return err
	}
	return t.storage.saveVoucherTx(ctx, t.tx, voucher)
}

func (t *sqliteTransaction) GetVoucher(ctx context.Context, ref model.VoucherRef) (*model.Voucher, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	return t.storage.getVoucherTx(ctx, t.tx, ref)
}

func (t *sqliteTransaction) GetVouchers(ctx context.Context, filter service.VoucherFilter) ([]model.Voucher, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getVouchersTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) SetClearanceDate(ctx context.Context, ref model.VoucherRef, date *time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRef(ref); err != nil {
		return err
	}
	return t.storage.setClearanceDateTx(ctx, t.tx, ref, date)
}

func (t *sqliteTransaction) SavePaymentSchedule(ctx context.Context, ref model.VoucherRef, schedule []model.Installment) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRef(ref); err != nil {
		return err
	}
	return t.storage.savePaymentScheduleTx(ctx, t.tx, ref, schedule)
}

func (t *sqliteTransaction) GetPaymentSchedule(ctx context.Context, ref model.VoucherRef) ([]model.Installment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getPaymentScheduleTx(ctx, t.tx, ref)
}

func (t *sqliteTransaction) GetAllocatedAmounts(ctx context.Context, bankAccount string, refs []model.VoucherRef, excludeTransactionID string) (map[model.VoucherRef]decimal.Decimal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getAllocatedAmountsTx(ctx, t.tx, bankAccount, refs, excludeTransactionID)
}

func (t *sqliteTransaction) GetAllocationLinks(ctx context.Context, ref model.VoucherRef) ([]service.AllocationLink, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getAllocationLinksTx(ctx, t.tx, ref)
}

func (t *sqliteTransaction) CreateSettlement(ctx context.Context, settlement *model.Settlement) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSettlement(settlement); err != nil {
		return err
	}
	return t.storage.createSettlementTx(ctx, t.tx, settlement)
}

func (t *sqliteTransaction) GetSettlement(ctx context.Context, ref model.VoucherRef) (*model.Settlement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	return t.storage.getSettlementTx(ctx, t.tx, ref)
}

func (t *sqliteTransaction) ClosePeriod(ctx context.Context, company string, date time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(company, "company"); err != nil {
		return err
	}
	return t.storage.closePeriodTx(ctx, t.tx, company, date)
}

func (t *sqliteTransaction) GetLatestPeriodClose(ctx context.Context, company string) (*time.Time, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getLatestPeriodCloseTx(ctx, t.tx, company)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
