package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"decklens/internal/api"
	"decklens/internal/resolve"
	"decklens/internal/services"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <name>...",
		Short: "Resolve raw card names through the exact, fuzzy and remote tiers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(svc *api.Service) error {
				results := make([]resolve.Resolution, 0, len(args))
				for _, token := range args {
					res, err := svc.ResolveToken(cmd.Context(), token)
					if err != nil && !unresolvedToken(err) {
						return fmt.Errorf("resolve %q: %w", token, err)
					}
					results = append(results, res)
				}
				return ctx.output(cmd, results, func(out io.Writer) {
					rows := make([][]string, 0, len(results))
					for _, res := range results {
						name := res.Name
						if !res.Resolved() {
							name = res.Reason
						}
						rows = append(rows, []string{
							res.Query,
							string(res.Status),
							name,
							string(res.Tier),
							fmt.Sprintf("%.2f", res.Score),
							yesNo(res.CacheHit),
						})
					}
					fmt.Fprintln(out, renderTable("",
						[]string{"Query", "Status", "Name", "Tier", "Score", "Cached"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
					))
				})
			})
		},
	}
}

// unresolvedToken reports errors that describe the token rather than a failure
// to look it up. Those rows are still printed.
func unresolvedToken(err error) bool {
	return errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrAmbiguous)
}
