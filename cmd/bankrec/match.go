package main

import (
	"fmt"

	"github.com/Veraticus/bankrec/internal/cli"
	"github.com/Veraticus/bankrec/internal/config"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/spf13/cobra"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <transaction-id>",
		Short: "List candidate vouchers for a bank transaction",
		Long: `Rank the vouchers a bank transaction could be reconciled with. Each
candidate scores one point per matching reference number, amount, party
and date, plus one when its reference appears in the description.`,
		Example: `  bankrec match BT-0042
  bankrec match BT-0042 --kinds sales-invoice,purchase-invoice --unpaid-invoices
  bankrec match BT-0042 --exact --from 2024-03-01 --to 2024-03-31`,
		Args: cobra.ExactArgs(1),
		RunE: runMatch,
	}

	cmd.Flags().StringSlice("kinds", nil, "voucher kinds to search (defaults to matching.kinds)")
	cmd.Flags().Bool("exact", false, "only vouchers whose amount matches exactly")
	cmd.Flags().Bool("exact-party", false, "only vouchers whose party matches")
	cmd.Flags().Bool("unpaid-invoices", false, "include unpaid invoices and claims")
	cmd.Flags().String("from", "", "earliest posting date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "latest posting date (YYYY-MM-DD)")
	cmd.Flags().String("ref-from", "", "earliest reference date (YYYY-MM-DD)")
	cmd.Flags().String("ref-to", "", "latest reference date (YYYY-MM-DD)")

	return cmd
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, _, closeStore, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var kinds []model.VoucherKind
	if raw, _ := cmd.Flags().GetStringSlice("kinds"); len(raw) > 0 {
		if kinds, err = config.ParseKinds(raw); err != nil {
			return err
		}
	}

	opts := e.Config().MatchOptions()
	if cmd.Flags().Changed("exact") {
		opts.ExactMatch, _ = cmd.Flags().GetBool("exact")
	}
	if cmd.Flags().Changed("exact-party") {
		opts.ExactPartyMatch, _ = cmd.Flags().GetBool("exact-party")
	}
	if cmd.Flags().Changed("unpaid-invoices") {
		opts.UnpaidInvoices, _ = cmd.Flags().GetBool("unpaid-invoices")
	}
	if opts.PostingDates.From, err = dateFlag(cmd, "from"); err != nil {
		return err
	}
	if opts.PostingDates.To, err = dateFlag(cmd, "to"); err != nil {
		return err
	}
	if opts.ReferenceDates.From, err = dateFlag(cmd, "ref-from"); err != nil {
		return err
	}
	if opts.ReferenceDates.To, err = dateFlag(cmd, "ref-to"); err != nil {
		return err
	}

	candidates, err := e.ListCandidateVouchers(ctx, args[0], kinds, opts)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatTitle(fmt.Sprintf("Candidates for %s", args[0])))
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderCandidates(candidates))
	return nil
}
