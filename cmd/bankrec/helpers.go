package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/config"
	"github.com/Veraticus/bankrec/internal/engine"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/reconcile"
	"github.com/Veraticus/bankrec/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const dateLayout = "2006-01-02"

var envKeyReplacer = strings.NewReplacer(".", "_")

func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

// initStorage opens the configured database and migrates it.
func initStorage(ctx context.Context, cfg config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func newEngine(store *storage.SQLiteStorage, cfg config.Config) *engine.Engine {
	return engine.NewWithConfig(store, engine.Config{
		Kinds:           cfg.Matching.Kinds,
		ExactMatch:      cfg.Matching.ExactMatch,
		ExactPartyMatch: cfg.Matching.ExactPartyMatch,
		UnpaidInvoices:  cfg.Matching.UnpaidInvoices,
	})
}

// openEngine loads the configuration, opens the store and builds an engine.
// The returned close function releases the store.
func openEngine(ctx context.Context) (*engine.Engine, config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, nil, err
	}
	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, cfg, nil, err
	}
	return newEngine(store, cfg), cfg, func() { _ = store.Close() }, nil
}

// dateFlag parses an optional YYYY-MM-DD flag.
func dateFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, common.NewUserError(fmt.Sprintf("--%s must be a date like 2024-03-31", name), err)
	}
	return &d, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return decimal.Zero, common.NewUserError(fmt.Sprintf("%q is not an amount", raw), common.ErrInvalidAmount)
	}
	return d, nil
}

func parseKind(raw string) (model.VoucherKind, error) {
	kinds, err := config.ParseKinds([]string{raw})
	if err != nil {
		return "", common.NewUserError(fmt.Sprintf("unknown voucher kind %q", raw), common.ErrInvalidVoucherKind)
	}
	return kinds[0], nil
}

// parseSelection reads KIND:ID[=AMOUNT][@PARTY_TYPE/PARTY], for example
// "sales-invoice:INV-0001=40.00" or "journal-entry:JE-7@Customer/Alice".
func parseSelection(raw string) (reconcile.Selection, error) {
	var sel reconcile.Selection

	rest, party, hasParty := strings.Cut(raw, "@")
	if hasParty {
		partyType, name, ok := strings.Cut(party, "/")
		if !ok || partyType == "" || name == "" {
			return sel, common.NewUserError(fmt.Sprintf("party in %q must be PARTY_TYPE/PARTY", raw), common.ErrInvalidInput)
		}
		sel.PartyType, sel.Party = partyType, name
	}

	rest, amount, hasAmount := strings.Cut(rest, "=")
	if hasAmount {
		d, err := parseAmount(amount)
		if err != nil {
			return sel, err
		}
		sel.Amount = &d
	}

	kind, id, ok := strings.Cut(rest, ":")
	if !ok || id == "" {
		return sel, common.NewUserError(fmt.Sprintf("voucher %q must be KIND:ID", raw), common.ErrInvalidInput)
	}
	k, err := parseKind(kind)
	if err != nil {
		return sel, err
	}
	sel.Kind, sel.ID = k, id
	return sel, nil
}

func bankAccountFlag(cmd *cobra.Command, cfg config.Config) (string, error) {
	account, _ := cmd.Flags().GetString("account")
	if account == "" {
		account = cfg.Matching.BankAccount
	}
	if account == "" {
		return "", common.NewUserError("no bank account: pass --account or set matching.bank_account", common.ErrMissingConfig)
	}
	return account, nil
}
