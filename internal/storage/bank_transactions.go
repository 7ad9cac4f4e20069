package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/service"
)

// SaveBankAccount creates or updates a bank account.
func (s *SQLiteStorage) SaveBankAccount(ctx context.Context, account *model.BankAccount) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBankAccount(account); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveBankAccountTx(ctx, tx, account); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) saveBankAccountTx(ctx context.Context, q queryable, account *model.BankAccount) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bank_accounts (name, ledger_account, company, currency)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			ledger_account = excluded.ledger_account,
			company = excluded.company,
			currency = excluded.currency
	`, account.Name, account.LedgerAccount, account.Company, account.Currency)
	if err != nil {
		return fmt.Errorf("failed to save bank account %s: %w", account.Name, err)
	}

	// The bank ledger is kept in the bank account's currency.
	return s.saveLedgerAccountTx(ctx, q, &model.LedgerAccount{
		Name:     account.LedgerAccount,
		Company:  account.Company,
		Currency: account.Currency,
	})
}

// GetBankAccount retrieves a bank account by name.
func (s *SQLiteStorage) GetBankAccount(ctx context.Context, name string) (*model.BankAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return s.getBankAccountTx(ctx, s.db, name)
}

func (s *SQLiteStorage) getBankAccountTx(ctx context.Context, q queryable, name string) (*model.BankAccount, error) {
	var account model.BankAccount
	err := q.QueryRowContext(ctx, `
		SELECT name, ledger_account, company, currency
		FROM bank_accounts
		WHERE name = ?
	`, name).Scan(&account.Name, &account.LedgerAccount, &account.Company, &account.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bank account %s: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bank account: %w", err)
	}
	return &account, nil
}

// SaveBankTransaction upserts a bank transaction and replaces its allocation rows.
func (s *SQLiteStorage) SaveBankTransaction(ctx context.Context, txn *model.BankTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBankTransaction(txn); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveBankTransactionTx(ctx, tx, txn); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) saveBankTransactionTx(ctx context.Context, q queryable, txn *model.BankTransaction) error {
	if txn.Status == "" {
		txn.RecomputeTotals()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO bank_transactions (
			id, date, bank_account, company, currency, description, reference_no,
			party, party_type, deposit, withdrawal, allocated_amount,
			unallocated_amount, status, docstatus
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			bank_account = excluded.bank_account,
			company = excluded.company,
			currency = excluded.currency,
			description = excluded.description,
			reference_no = excluded.reference_no,
			party = excluded.party,
			party_type = excluded.party_type,
			deposit = excluded.deposit,
			withdrawal = excluded.withdrawal,
			allocated_amount = excluded.allocated_amount,
			unallocated_amount = excluded.unallocated_amount,
			status = excluded.status,
			docstatus = excluded.docstatus,
			updated_at = CURRENT_TIMESTAMP
	`,
		txn.ID,
		txn.Date,
		txn.BankAccount,
		txn.Company,
		txn.Currency,
		txn.Description,
		txn.ReferenceNo,
		txn.Party,
		txn.PartyType,
		txn.Deposit.String(),
		txn.Withdrawal.String(),
		txn.AllocatedAmount.String(),
		txn.UnallocatedAmount.String(),
		string(txn.Status),
		int(txn.DocStatus),
	)
	if err != nil {
		return fmt.Errorf("failed to save bank transaction %s: %w", txn.ID, err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM allocations WHERE transaction_id = ?`, txn.ID); err != nil {
		return fmt.Errorf("failed to clear allocations of %s: %w", txn.ID, err)
	}

	for i, a := range txn.Allocations {
		_, err := q.ExecContext(ctx, `
			INSERT INTO allocations (
				transaction_id, position, voucher_kind, voucher_id, amount, party, party_type
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, txn.ID, i+1, string(a.Kind), a.VoucherID, a.Amount.String(), a.Party, a.PartyType)
		if err != nil {
			return fmt.Errorf("failed to insert allocation %d of %s: %w", i+1, txn.ID, err)
		}
	}

	return nil
}

// GetBankTransaction retrieves a bank transaction with its allocations.
func (s *SQLiteStorage) GetBankTransaction(ctx context.Context, id string) (*model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getBankTransactionTx(ctx, s.db, id)
}

const bankTransactionColumns = `
	id, date, bank_account, company, currency, description, reference_no,
	party, party_type, deposit, withdrawal, allocated_amount,
	unallocated_amount, status, docstatus`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBankTransaction(row rowScanner) (*model.BankTransaction, error) {
	var txn model.BankTransaction
	var status string
	var docStatus int
	err := row.Scan(
		&txn.ID,
		&txn.Date,
		&txn.BankAccount,
		&txn.Company,
		&txn.Currency,
		&txn.Description,
		&txn.ReferenceNo,
		&txn.Party,
		&txn.PartyType,
		&txn.Deposit,
		&txn.Withdrawal,
		&txn.AllocatedAmount,
		&txn.UnallocatedAmount,
		&status,
		&docStatus,
	)
	if err != nil {
		return nil, err
	}
	txn.Status = model.ReconciliationStatus(status)
	txn.DocStatus = model.DocStatus(docStatus)
	return &txn, nil
}

func (s *SQLiteStorage) getBankTransactionTx(ctx context.Context, q queryable, id string) (*model.BankTransaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bankTransactionColumns+` FROM bank_transactions WHERE id = ?`, id)
	txn, err := scanBankTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bank transaction %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bank transaction: %w", err)
	}

	allocations, err := s.getAllocationsTx(ctx, q, id)
	if err != nil {
		return nil, err
	}
	txn.Allocations = allocations
	return txn, nil
}

func (s *SQLiteStorage) getAllocationsTx(ctx context.Context, q queryable, transactionID string) ([]model.Allocation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT voucher_kind, voucher_id, amount, party, party_type
		FROM allocations
		WHERE transaction_id = ?
		ORDER BY position ASC
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var allocations []model.Allocation
	for rows.Next() {
		var a model.Allocation
		var kind string
		if err := rows.Scan(&kind, &a.VoucherID, &a.Amount, &a.Party, &a.PartyType); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.Kind = model.VoucherKind(kind)
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

// GetBankTransactions lists bank transactions matching the filter, oldest first.
func (s *SQLiteStorage) GetBankTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getBankTransactionsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) getBankTransactionsTx(ctx context.Context, q queryable, filter service.TransactionFilter) ([]model.BankTransaction, error) {
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, *filter.EndDate, *filter.StartDate)
	}

	var conditions []string
	var args []any

	if filter.BankAccount != "" {
		conditions = append(conditions, "bank_account = ?")
		args = append(args, filter.BankAccount)
	}
	if filter.StartDate != nil {
		conditions = append(conditions, "date >= ?")
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		conditions = append(conditions, "date <= ?")
		args = append(args, *filter.EndDate)
	}
	if filter.OpenOnly {
		conditions = append(conditions, "docstatus = ?", "status != ?")
		args = append(args, int(model.DocFinalized), string(model.StatusReconciled))
	}

	query := `SELECT ` + bankTransactionColumns + ` FROM bank_transactions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date ASC, id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank transactions: %w", err)
	}

	var transactions []model.BankTransaction
	for rows.Next() {
		txn, scanErr := scanBankTransaction(rows)
		if scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan bank transaction: %w", scanErr)
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating bank transactions: %w", err)
	}
	_ = rows.Close()

	// Allocations are loaded after the cursor is closed; the pool has one connection.
	for i := range transactions {
		allocations, allocErr := s.getAllocationsTx(ctx, q, transactions[i].ID)
		if allocErr != nil {
			return nil, allocErr
		}
		transactions[i].Allocations = allocations
	}

	return transactions, nil
}
