package main

import (
	"io"

	"github.com/spf13/cobra"

	"decklens/internal/api"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect stored jobs",
	}
	jobCmd.AddCommand(&cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the state and result of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(svc *api.Service) error {
				view, err := svc.JobStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return ctx.output(cmd, view, func(out io.Writer) {
					renderJobView(out, view, "")
				})
			})
		},
	})
	return jobCmd
}
