// Package testutil provides test utilities for the bankrec project: isolated
// in-memory voucher stores seeded through the ledger builder.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/service"
	"github.com/Veraticus/bankrec/internal/storage"
	"github.com/Veraticus/bankrec/internal/testutil/ledger"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage service.Storage
	Books   *ledger.Books
	t       *testing.T
}

// SetupTestDB creates a migrated in-memory database holding only the
// standard bank account.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	return SetupTestDBWithBuilder(t, nil)
}

// SetupTestDBWithBuilder creates a test database seeded by a ledger builder.
//
// Example:
//
//	db := testutil.SetupTestDBWithBuilder(t, func(b ledger.Builder) ledger.Builder {
//		return b.WithFixture(ledger.FixtureCustomerReceipts)
//	})
func SetupTestDBWithBuilder(t *testing.T, configure func(ledger.Builder) ledger.Builder) *TestDB {
	t.Helper()

	builder := ledger.NewBuilder(t)
	if configure != nil {
		builder = configure(builder)
	}

	// Create in-memory SQLite storage
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	// Run migrations
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	books, err := builder.Build(ctx, store)
	if err != nil {
		t.Fatalf("failed to seed books: %v", err)
	}

	// Register cleanup
	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		Books:   books,
		t:       t,
	}
}

// MustGetTransaction loads a bank transaction or fails the test.
func (db *TestDB) MustGetTransaction(id string) *model.BankTransaction {
	db.t.Helper()
	txn, err := db.Storage.GetBankTransaction(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to load bank transaction %q: %v", id, err)
	}
	return txn
}

// MustGetVoucher loads a voucher or fails the test.
func (db *TestDB) MustGetVoucher(kind model.VoucherKind, id string) *model.Voucher {
	db.t.Helper()
	v, err := db.Storage.GetVoucher(context.Background(), model.VoucherRef{Kind: kind, ID: id})
	if err != nil {
		db.t.Fatalf("failed to load %s %q: %v", kind, id, err)
	}
	return v
}

// MustGetSettlement loads a settlement voucher or fails the test.
func (db *TestDB) MustGetSettlement(ref model.VoucherRef) *model.Settlement {
	db.t.Helper()
	st, err := db.Storage.GetSettlement(context.Background(), ref)
	if err != nil {
		db.t.Fatalf("failed to load settlement %s: %v", ref, err)
	}
	return st
}

// WithTransaction executes the given function within a database transaction.
// The transaction is automatically rolled back after the function completes.
func (db *TestDB) WithTransaction(fn func(tx service.Transaction) error) error {
	ctx := context.Background()
	tx, err := db.Storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	return fn(tx)
}
