package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"decklens/internal/api"
	"decklens/internal/retention"
)

func newRetentionCommand(ctx *commandContext) *cobra.Command {
	retentionCmd := &cobra.Command{
		Use:   "retention",
		Short: "Expire stored images, jobs, resolution entries and locks",
	}
	retentionCmd.AddCommand(newRetentionSweepCommand(ctx))
	retentionCmd.AddCommand(newRetentionRunCommand(ctx))
	return retentionCmd
}

func newRetentionSweepCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(svc *api.Service) error {
				report, err := svc.SweepRetention(cmd.Context(), dryRun)
				if err != nil {
					return err
				}
				return ctx.output(cmd, report, func(out io.Writer) {
					fmt.Fprintln(out, renderReport(report))
				})
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without deleting")
	return cmd
}

func newRetentionRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sweep on the configured interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock := flock.New(cfg.RetentionLockPath())
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire retention lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another retention loop holds %s", cfg.RetentionLockPath())
			}
			defer func() { _ = lock.Unlock() }()

			fmt.Fprintf(cmd.OutOrStdout(), "Retention loop running every %s\n", cfg.Retention.Interval())
			return ctx.withService(cmd, func(svc *api.Service) error {
				err := svc.RunRetention(cmd.Context())
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func renderReport(report retention.Report) string {
	rows := make([][]string, 0, len(report.Classes))
	for _, c := range report.Classes {
		removed := c.Deleted
		if report.DryRun {
			removed = c.WouldDelete
		}
		rows = append(rows, []string{
			string(c.Class),
			fmt.Sprintf("%d", c.Scanned),
			fmt.Sprintf("%d", removed),
			fmt.Sprintf("%d", c.Raced),
		})
	}
	if logs := report.Logs; logs != nil {
		removed := logs.Deleted
		if report.DryRun {
			removed = logs.WouldDelete
		}
		rows = append(rows, []string{
			"logs",
			fmt.Sprintf("%d", logs.Scanned),
			fmt.Sprintf("%d", removed),
			fmt.Sprintf("%d", logs.Failed),
		})
	}
	title := "Retention sweep"
	removedHeader := "Deleted"
	if report.DryRun {
		title += " (dry run)"
		removedHeader = "Would delete"
	}
	return renderTable(title,
		[]string{"Class", "Scanned", removedHeader, "Skipped"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	)
}
