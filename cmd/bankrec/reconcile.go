package main

import (
	"fmt"

	"github.com/Veraticus/bankrec/internal/cli"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/reconcile"
	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <transaction-id>",
		Short: "Allocate vouchers to a bank transaction",
		Long: `Allocate one or more vouchers to a bank transaction. Payment and journal
entries and opposite bank transactions are linked directly. Invoices and
other claims are first settled by a new payment entry (one party) or
journal entry (several parties, with --multi-party).

Vouchers are given as KIND:ID, optionally followed by =AMOUNT to cap the
allocation and @PARTY_TYPE/PARTY to override the party.`,
		Example: `  bankrec reconcile BT-0042 --voucher payment-entry:PE-0107
  bankrec reconcile BT-0042 --voucher sales-invoice:INV-0001 --voucher sales-invoice:INV-0002=40
  bankrec reconcile BT-0042 --multi-party --account "1400 - Clearing - ACME" \
    --voucher sales-invoice:INV-0001 --voucher sales-invoice:INV-0003`,
		Args: cobra.ExactArgs(1),
		RunE: runReconcile,
	}

	cmd.Flags().StringArrayP("voucher", "v", nil, "voucher to allocate as KIND:ID[=AMOUNT][@PARTY_TYPE/PARTY] (repeatable)")
	cmd.Flags().String("account", "", "contra account for journal entries")
	cmd.Flags().Bool("multi-party", false, "allow claims of several parties (creates a journal entry)")
	_ = cmd.MarkFlagRequired("voucher")

	return cmd
}

func runReconcile(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetStringArray("voucher")
	account, _ := cmd.Flags().GetString("account")
	multiParty, _ := cmd.Flags().GetBool("multi-party")

	selections := make([]reconcile.Selection, 0, len(raw))
	for _, r := range raw {
		sel, err := parseSelection(r)
		if err != nil {
			return err
		}
		selections = append(selections, sel)
	}

	ctx := cmd.Context()
	e, _, closeStore, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	txn, err := e.Reconcile(ctx, reconcile.Request{
		TransactionID: args[0],
		Account:       account,
		Vouchers:      selections,
		MultiParty:    multiParty,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTransaction(txn))
	return nil
}

func reconcileSingleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-single <transaction-id> <kind> <voucher-id> <amount>",
		Short: "Allocate one voucher with an explicit amount",
		Long: `Allocate a single voucher to a bank transaction, capped at the given
amount. A voucher that no longer exists or is not finalized is reported
and nothing changes.`,
		Example: `  bankrec reconcile-single BT-0042 payment-entry PE-0107 250.00`,
		Args:    cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[1])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[3])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, _, closeStore, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			result, err := e.ReconcileSingle(ctx, args[0], amount, kind, args[2])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case result.Deleted:
				fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%s %s no longer exists", kind, args[2])))
			case result.Transaction == nil:
				fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%s %s is not finalized", kind, args[2])))
			default:
				fmt.Fprintln(out, cli.RenderTransaction(result.Transaction))
			}
			return nil
		},
	}
}

func amendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "amend <kind> <voucher-id> <amount>",
		Short: "Change a payment or journal entry's amount and re-derive its allocations",
		Long: `Set a settlement voucher's amount. Allocations referencing it are
re-derived in transaction order: every allocation but the last keeps at
most its amount, the last takes whatever remains. Nothing changes if any
affected bank transaction would become over-allocated.`,
		Example: `  bankrec amend payment-entry PE-0107 180.00`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, _, closeStore, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			txns, err := e.AmendSettlement(ctx, model.VoucherRef{Kind: kind, ID: args[1]}, amount)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s %s amended to %s", kind, args[1], cli.FormatAmount(amount))))
			for _, txn := range txns {
				fmt.Fprintln(out, cli.RenderTransaction(txn))
			}
			return nil
		},
	}
}

func unlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <transaction-id> <kind> <voucher-id>",
		Short: "Remove one allocation from a bank transaction",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, _, closeStore, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			txn, err := e.Unlink(ctx, args[0], model.VoucherRef{Kind: kind, ID: args[2]})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTransaction(txn))
			return nil
		},
	}
}
