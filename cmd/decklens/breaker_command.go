package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"decklens/internal/api"
	"decklens/internal/breaker"
)

func newBreakerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "breaker",
		Short: "Show fallback breaker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(svc *api.Service) error {
				snaps := svc.BreakerState()
				return ctx.output(cmd, snaps, func(out io.Writer) {
					if len(snaps) == 0 {
						fmt.Fprintln(out, "No fallback engine configured")
						return
					}
					colorize := shouldColorize(out)
					for _, snap := range snaps {
						fmt.Fprintln(out, renderStatusLine(snap.Engine, breakerKind(snap.State), breakerMessage(snap), colorize))
					}
				})
			})
		},
	}
}

func breakerKind(state breaker.State) statusKind {
	switch state {
	case breaker.StateClosed:
		return statusOK
	case breaker.StateHalfOpen:
		return statusWarn
	default:
		return statusError
	}
}

func breakerMessage(snap breaker.Snapshot) string {
	msg := fmt.Sprintf("%s jobs=%d fallbacks=%d failures=%d rate=%.2f adjustment=%.2f",
		snap.State, snap.Jobs, snap.Fallbacks, snap.Failures, snap.FallbackRate, snap.Adjustment)
	if !snap.OpenUntil.IsZero() {
		msg += " open_until=" + snap.OpenUntil.Format(time.RFC3339)
	}
	return msg
}
