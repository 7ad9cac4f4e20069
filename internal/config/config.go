package config

import (
	"fmt"
	"strings"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/spf13/viper"
)

// DefaultDatabasePath is used when database.path is unset.
const DefaultDatabasePath = "~/.local/share/bankrec/bankrec.db"

// Config is the typed view of the bankrec configuration file.
type Config struct {
	Database DatabaseConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
	Matching MatchingConfig
}

// DatabaseConfig locates the voucher store.
type DatabaseConfig struct {
	Path string
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	TextfilePath string
}

// MatchingConfig holds the default candidate options.
type MatchingConfig struct {
	BankAccount     string
	Kinds           []model.VoucherKind
	ExactMatch      bool
	ExactPartyMatch bool
	UnpaidInvoices  bool
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("matching.kinds", []string{
		string(model.KindPaymentEntry),
		string(model.KindJournalEntry),
		string(model.KindBankTransaction),
	})
	v.SetDefault("matching.exact_match", false)
	v.SetDefault("matching.exact_party_match", false)
	v.SetDefault("matching.unpaid_invoices", false)
}

// Load reads the configuration from v. Unknown voucher kinds and logging
// settings are rejected.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Config{
		Database: DatabaseConfig{Path: ExpandPath(v.GetString("database.path"))},
		Logging: LoggingConfig{
			Level:  strings.ToLower(v.GetString("logging.level")),
			Format: strings.ToLower(v.GetString("logging.format")),
		},
		Metrics: MetricsConfig{TextfilePath: ExpandPath(v.GetString("metrics.textfile_path"))},
		Matching: MatchingConfig{
			BankAccount:     v.GetString("matching.bank_account"),
			ExactMatch:      v.GetBool("matching.exact_match"),
			ExactPartyMatch: v.GetBool("matching.exact_party_match"),
			UnpaidInvoices:  v.GetBool("matching.unpaid_invoices"),
		},
	}

	kinds, err := ParseKinds(v.GetStringSlice("matching.kinds"))
	if err != nil {
		return Config{}, err
	}
	cfg.Matching.Kinds = kinds

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("%w: unknown logging level %q", common.ErrInvalidConfig, cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "console", "json":
	default:
		return Config{}, fmt.Errorf("%w: unknown logging format %q", common.ErrInvalidConfig, cfg.Logging.Format)
	}

	return cfg, nil
}

// ParseKinds converts voucher kind names, accepting either the exact name or
// its lower-case form with dashes or underscores in place of spaces.
func ParseKinds(names []string) ([]model.VoucherKind, error) {
	kinds := make([]model.VoucherKind, 0, len(names))
	for _, name := range names {
		kind, ok := lookupKind(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown voucher kind %q", common.ErrInvalidConfig, name)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func lookupKind(name string) (model.VoucherKind, bool) {
	norm := normalizeKind(name)
	for _, kind := range model.AllKinds {
		if normalizeKind(string(kind)) == norm {
			return kind, true
		}
	}
	return "", false
}

func normalizeKind(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", " ", "_", " ").Replace(s)
}
