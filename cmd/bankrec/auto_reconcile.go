package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/bankrec/internal/cli"
	"github.com/Veraticus/bankrec/internal/engine"
	"github.com/Veraticus/bankrec/internal/metrics"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/storage"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func autoReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto-reconcile",
		Short: "Reconcile open transactions whose reference number matches a voucher",
		Long: `Visit every open bank transaction of an account and allocate the payment
and journal entries carrying the same reference number. Transactions that
are rejected are logged and skipped. Invoices are never auto-reconciled.

A snapshot of the database is taken first; restore it with
"bankrec snapshot restore" to undo the run.`,
		Example: `  bankrec auto-reconcile --account "Acme Checking" --from 2024-03-01 --to 2024-03-31
  bankrec auto-reconcile --filter-by-reference-date --ref-from 2024-03-01 --ref-to 2024-03-31`,
		RunE: runAutoReconcile,
	}

	cmd.Flags().String("account", "", "bank account (defaults to matching.bank_account)")
	cmd.Flags().String("from", "", "first transaction date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "last transaction date (YYYY-MM-DD)")
	cmd.Flags().Bool("filter-by-reference-date", false, "only consider vouchers whose reference date is in --ref-from/--ref-to")
	cmd.Flags().String("ref-from", "", "earliest voucher reference date (YYYY-MM-DD)")
	cmd.Flags().String("ref-to", "", "latest voucher reference date (YYYY-MM-DD)")
	cmd.Flags().Bool("no-snapshot", false, "skip the snapshot taken before the run")
	cmd.Flags().String("metrics-textfile", "", "write Prometheus metrics to this file (defaults to metrics.textfile_path)")
	cmd.Flags().Bool("no-progress", false, "hide the progress bar")

	return cmd
}

func runAutoReconcile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	account, err := bankAccountFlag(cmd, cfg)
	if err != nil {
		return err
	}

	req := engine.AutoReconcileRequest{BankAccount: account}
	if req.From, err = dateFlag(cmd, "from"); err != nil {
		return err
	}
	if req.To, err = dateFlag(cmd, "to"); err != nil {
		return err
	}
	req.FilterByReferenceDate, _ = cmd.Flags().GetBool("filter-by-reference-date")
	if req.FilterByReferenceDate {
		var refDates model.DateRange
		if refDates.From, err = dateFlag(cmd, "ref-from"); err != nil {
			return err
		}
		if refDates.To, err = dateFlag(cmd, "ref-to"); err != nil {
			return err
		}
		req.ReferenceDates = refDates
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if noSnapshot, _ := cmd.Flags().GetBool("no-snapshot"); !noSnapshot {
		if err := snapshotBeforeRun(cmd, store); err != nil {
			return err
		}
	}

	recorder := metrics.New()
	e := newEngine(store, cfg).WithMetrics(recorder)

	if noProgress, _ := cmd.Flags().GetBool("no-progress"); !noProgress {
		var bar *progressbar.ProgressBar
		req.Progress = func(done, total int) {
			if bar == nil {
				bar = newProgressBar(cmd, total)
			}
			_ = bar.Set(done)
		}
	}

	result, runErr := e.AutoReconcile(ctx, req)
	if runErr != nil && !errors.Is(runErr, ctx.Err()) {
		return runErr
	}

	textfile, _ := cmd.Flags().GetString("metrics-textfile")
	if textfile == "" {
		textfile = cfg.Metrics.TextfilePath
	}
	if textfile != "" {
		if err := recorder.WriteTextfile(textfile); err != nil {
			slog.Warn("Failed to write metrics", "error", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderAutoReconcileReport(result.Stats, result.Reconciled, result.PartiallyReconciled))
	if runErr != nil {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("Interrupted; run again to continue"))
	}
	return runErr
}

func snapshotBeforeRun(cmd *cobra.Command, store *storage.SQLiteStorage) error {
	snapshots, err := store.Snapshots()
	if errors.Is(err, storage.ErrInMemoryDatabase) {
		return nil
	}
	if err != nil {
		return err
	}
	info, err := snapshots.Auto(cmd.Context(), "auto-reconcile")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Snapshot "+info.ID))
	return nil
}

func newProgressBar(cmd *cobra.Command, total int) *progressbar.ProgressBar {
	w := cmd.ErrOrStderr()
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Reconciling transactions...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}
