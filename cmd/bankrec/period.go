package main

import (
	"fmt"
	"time"

	"github.com/Veraticus/bankrec/internal/cli"
	"github.com/Veraticus/bankrec/internal/common"
	"github.com/spf13/cobra"
)

func closePeriodCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close-period <company> <date>",
		Short: "Record a period closing",
		Long: `Record that the books of a company are closed up to and including a
date. Bank transactions dated on or before the latest closing can no longer
settle invoices.`,
		Example: `  bankrec close-period "Acme Ltd" 2024-02-29`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := time.Parse(dateLayout, args[1])
			if err != nil {
				return common.NewUserError("date must look like 2024-02-29", err)
			}

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

			if err := store.ClosePeriod(ctx, args[0], date); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s closed through %s", args[0], date.Format(dateLayout))))
			return nil
		},
	}
}
