package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

// Amounts are stored as TEXT so decimals round-trip without float drift.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS bank_accounts (
					name TEXT PRIMARY KEY,
					ledger_account TEXT NOT NULL,
					company TEXT NOT NULL DEFAULT '',
					currency TEXT NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS bank_transactions (
					id TEXT PRIMARY KEY,
					date DATETIME NOT NULL,
					bank_account TEXT NOT NULL,
					company TEXT NOT NULL DEFAULT '',
					currency TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					reference_no TEXT NOT NULL DEFAULT '',
					party TEXT NOT NULL DEFAULT '',
					party_type TEXT NOT NULL DEFAULT '',
					deposit TEXT NOT NULL DEFAULT '0',
					withdrawal TEXT NOT NULL DEFAULT '0',
					allocated_amount TEXT NOT NULL DEFAULT '0',
					unallocated_amount TEXT NOT NULL DEFAULT '0',
					status TEXT NOT NULL,
					docstatus INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_bank_transactions_account_date ON bank_transactions(bank_account, date)`,

				`CREATE TABLE IF NOT EXISTS allocations (
					transaction_id TEXT NOT NULL,
					position INTEGER NOT NULL,
					voucher_kind TEXT NOT NULL,
					voucher_id TEXT NOT NULL,
					amount TEXT NOT NULL DEFAULT '0',
					party TEXT NOT NULL DEFAULT '',
					party_type TEXT NOT NULL DEFAULT '',
					PRIMARY KEY (transaction_id, voucher_kind, voucher_id),
					FOREIGN KEY (transaction_id) REFERENCES bank_transactions(id)
				)`,
				`CREATE INDEX idx_allocations_voucher ON allocations(voucher_kind, voucher_id)`,

				`CREATE TABLE IF NOT EXISTS vouchers (
					kind TEXT NOT NULL,
					id TEXT NOT NULL,
					company TEXT NOT NULL DEFAULT '',
					account TEXT NOT NULL DEFAULT '',
					bank_account TEXT NOT NULL DEFAULT '',
					direction TEXT NOT NULL DEFAULT '',
					total TEXT NOT NULL DEFAULT '0',
					outstanding TEXT NOT NULL DEFAULT '0',
					currency TEXT NOT NULL DEFAULT '',
					party TEXT NOT NULL DEFAULT '',
					party_type TEXT NOT NULL DEFAULT '',
					reference_no TEXT NOT NULL DEFAULT '',
					reference_date DATETIME,
					posting_date DATETIME NOT NULL,
					due_date DATETIME,
					clearance_date DATETIME,
					status INTEGER NOT NULL DEFAULT 0,
					is_return BOOLEAN NOT NULL DEFAULT 0,
					PRIMARY KEY (kind, id)
				)`,
				`CREATE INDEX idx_vouchers_kind_company ON vouchers(kind, company)`,
				`CREATE INDEX idx_vouchers_bank_account ON vouchers(bank_account)`,

				`CREATE TABLE IF NOT EXISTS period_closings (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					company TEXT NOT NULL,
					posting_date DATETIME NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_period_closings_company ON period_closings(company, posting_date)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add payment schedules",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS payment_schedules (
					voucher_kind TEXT NOT NULL,
					voucher_id TEXT NOT NULL,
					idx INTEGER NOT NULL,
					due_date DATETIME NOT NULL,
					payment_amount TEXT NOT NULL DEFAULT '0',
					outstanding TEXT NOT NULL DEFAULT '0',
					PRIMARY KEY (voucher_kind, voucher_id, idx),
					FOREIGN KEY (voucher_kind, voucher_id) REFERENCES vouchers(kind, id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Add settlement reference lines and journal postings",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS settlement_lines (
					settlement_kind TEXT NOT NULL,
					settlement_id TEXT NOT NULL,
					idx INTEGER NOT NULL,
					claim_kind TEXT NOT NULL,
					claim_id TEXT NOT NULL,
					party TEXT NOT NULL DEFAULT '',
					party_type TEXT NOT NULL DEFAULT '',
					due_date DATETIME,
					allocated TEXT NOT NULL DEFAULT '0',
					PRIMARY KEY (settlement_kind, settlement_id, idx),
					FOREIGN KEY (settlement_kind, settlement_id) REFERENCES vouchers(kind, id)
				)`,
				`CREATE INDEX idx_settlement_lines_claim ON settlement_lines(claim_kind, claim_id)`,

				`CREATE TABLE IF NOT EXISTS settlement_postings (
					settlement_kind TEXT NOT NULL,
					settlement_id TEXT NOT NULL,
					idx INTEGER NOT NULL,
					account TEXT NOT NULL,
					party TEXT NOT NULL DEFAULT '',
					party_type TEXT NOT NULL DEFAULT '',
					debit TEXT NOT NULL DEFAULT '0',
					credit TEXT NOT NULL DEFAULT '0',
					PRIMARY KEY (settlement_kind, settlement_id, idx),
					FOREIGN KEY (settlement_kind, settlement_id) REFERENCES vouchers(kind, id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     4,
		Description: "Add ledger account currencies",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS ledger_accounts (
					name TEXT PRIMARY KEY,
					company TEXT NOT NULL DEFAULT '',
					currency TEXT NOT NULL
				)`,
				// Bank ledgers are kept in their bank account's currency.
				`INSERT OR IGNORE INTO ledger_accounts (name, company, currency)
					SELECT ledger_account, company, currency FROM bank_accounts`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
