package main

import (
	"fmt"

	"github.com/Veraticus/bankrec/internal/cli"
	"github.com/Veraticus/bankrec/internal/service"
	"github.com/spf13/cobra"
)

func transactionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List bank transactions",
		Long: `List the bank transactions of an account. By default only finalized
transactions with an unallocated amount are shown.`,
		Example: `  # Open transactions of March
  bankrec transactions --account "Acme Checking" --from 2024-03-01 --to 2024-03-31

  # Everything, reconciled or not
  bankrec transactions --all

  # One transaction with its allocations
  bankrec transactions show BT-0042`,
		RunE: runTransactions,
	}

	cmd.Flags().String("account", "", "bank account (defaults to matching.bank_account)")
	cmd.Flags().String("from", "", "first transaction date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "last transaction date (YYYY-MM-DD)")
	cmd.Flags().Bool("all", false, "include reconciled and draft transactions")
	cmd.Flags().Int("limit", 0, "maximum number of transactions")

	cmd.AddCommand(transactionShowCmd())
	return cmd
}

func runTransactions(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	account, err := bankAccountFlag(cmd, cfg)
	if err != nil {
		return err
	}
	from, err := dateFlag(cmd, "from")
	if err != nil {
		return err
	}
	to, err := dateFlag(cmd, "to")
	if err != nil {
		return err
	}
	all, _ := cmd.Flags().GetBool("all")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	txns, err := store.GetBankTransactions(ctx, service.TransactionFilter{
		BankAccount: account,
		StartDate:   from,
		EndDate:     to,
		OpenOnly:    !all,
		Limit:       limit,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatTitle(fmt.Sprintf("%s: %d transactions", account, len(txns))))
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTransactions(txns))
	return nil
}

func transactionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <transaction-id>",
		Short: "Show one bank transaction and its allocations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			txn, err := store.GetBankTransaction(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTransaction(txn))
			return nil
		},
	}
}
