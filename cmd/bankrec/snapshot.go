package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Veraticus/bankrec/internal/cli"
	"github.com/Veraticus/bankrec/internal/storage"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage database snapshots",
		Long: `Create, list, restore, and delete snapshots of the voucher store.

auto-reconcile takes a snapshot before every run; the five most recent
automatic snapshots are kept.`,
		Example: `  # Snapshot before a manual clean-up
  bankrec snapshot create --id before-march-cleanup

  # Undo the last auto-reconcile run
  bankrec snapshot list
  bankrec snapshot restore auto-auto-reconcile-20240331-101500.000000000`,
	}

	cmd.AddCommand(snapshotCreateCmd())
	cmd.AddCommand(snapshotListCmd())
	cmd.AddCommand(snapshotRestoreCmd())
	cmd.AddCommand(snapshotDeleteCmd())

	return cmd
}

// withSnapshots opens the store and runs fn with its snapshot manager.
func withSnapshots(cmd *cobra.Command, fn func(*storage.SnapshotManager) error) error {
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

	m, err := store.Snapshots()
	if err != nil {
		return err
	}
	return fn(m)
}

func snapshotCreateCmd() *cobra.Command {
	var id, description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSnapshots(cmd, func(m *storage.SnapshotManager) error {
				info, err := m.Create(cmd.Context(), id, description)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
					"Snapshot %s: %d transactions, %d allocations, %s",
					info.ID, info.Transactions(), info.Allocations(), formatBytes(info.FileSize))))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "snapshot id (default: snapshot-<timestamp>)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "snapshot description")

	return cmd
}

func snapshotListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSnapshots(cmd, func(m *storage.SnapshotManager) error {
				snapshots, err := m.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(snapshots) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No snapshots yet"))
					return nil
				}

				t := table.New().
					Border(lipgloss.HiddenBorder()).
					Headers("ID", "CREATED", "TRANSACTIONS", "ALLOCATIONS", "SIZE", "DESCRIPTION").
					StyleFunc(func(row, _ int) lipgloss.Style {
						if row == table.HeaderRow {
							return cli.TableHeaderStyle
						}
						return cli.TableCellStyle
					})
				for _, s := range snapshots {
					t.Row(
						s.ID,
						s.CreatedAt.Format(time.DateTime),
						strconv.Itoa(s.Transactions()),
						strconv.Itoa(s.Allocations()),
						formatBytes(s.FileSize),
						s.Description,
					)
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.Render())
				return nil
			})
		},
	}
}

func snapshotRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Replace the database with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSnapshots(cmd, func(m *storage.SnapshotManager) error {
				if err := m.Restore(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Restored snapshot "+args[0]))
				return nil
			})
		},
	}
}

func snapshotDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSnapshots(cmd, func(m *storage.SnapshotManager) error {
				if err := m.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted snapshot "+args[0]))
				return nil
			})
		},
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
