package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/model"
)

// SaveLedgerAccount creates or updates a ledger account.
func (s *SQLiteStorage) SaveLedgerAccount(ctx context.Context, account *model.LedgerAccount) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateLedgerAccount(account); err != nil {
		return err
	}
	return s.saveLedgerAccountTx(ctx, s.db, account)
}

func (s *SQLiteStorage) saveLedgerAccountTx(ctx context.Context, q queryable, account *model.LedgerAccount) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_accounts (name, company, currency)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			company = excluded.company,
			currency = excluded.currency
	`, account.Name, account.Company, account.Currency)
	if err != nil {
		return fmt.Errorf("failed to save ledger account %s: %w", account.Name, err)
	}
	return nil
}

// GetLedgerAccount retrieves a ledger account by name.
func (s *SQLiteStorage) GetLedgerAccount(ctx context.Context, name string) (*model.LedgerAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return s.getLedgerAccountTx(ctx, s.db, name)
}

func (s *SQLiteStorage) getLedgerAccountTx(ctx context.Context, q queryable, name string) (*model.LedgerAccount, error) {
	var account model.LedgerAccount
	err := q.QueryRowContext(ctx, `
		SELECT name, company, currency
		FROM ledger_accounts
		WHERE name = ?
	`, name).Scan(&account.Name, &account.Company, &account.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger account %s: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger account: %w", err)
	}
	return &account, nil
}
