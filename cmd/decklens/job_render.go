package main

import (
	"fmt"
	"io"
	"strings"

	"decklens/internal/api"
	"decklens/internal/pipeline"
)

func renderJobView(out io.Writer, view api.JobView, role string) {
	colorize := shouldColorize(out)

	writeLines(out, renderSectionHeader("Job "+view.ID, colorize))
	fmt.Fprintln(out, renderStatusLine("State", jobStateKind(view.State), jobStateMessage(view, role), colorize))
	if view.Attempts > 1 {
		fmt.Fprintln(out, renderStatusLine("Attempts", statusInfo, fmt.Sprintf("%d", view.Attempts), colorize))
	}
	if view.Result == nil {
		return
	}
	result := view.Result
	rec := result.Recognition
	fmt.Fprintln(out, renderStatusLine("Recognition", recognitionKind(rec), fmt.Sprintf(
		"%s/%s class=%s confidence=%.2f lines=%d",
		rec.Engine, rec.Variant, rec.Class, rec.MeanConfidence, rec.LineCount,
	), colorize))
	fallback := yesNo(rec.UsedFallback)
	if rec.FallbackSkipped != "" {
		fallback += " (" + rec.FallbackSkipped + ")"
	}
	fmt.Fprintln(out, renderStatusLine("Fallback used", statusInfo, fallback, colorize))
	fmt.Fprintln(out, renderStatusLine("Cards", statusInfo, fmt.Sprintf(
		"main=%d sideboard=%d unresolved=%d",
		result.CardCount(pipeline.SectionMain), result.CardCount(pipeline.SectionSideboard), len(result.Unresolved),
	), colorize))
	fmt.Fprintln(out)

	if len(result.Cards) > 0 {
		rows := make([][]string, 0, len(result.Cards))
		for _, c := range result.Cards {
			rows = append(rows, []string{c.Section, fmt.Sprintf("%d", c.Quantity), c.Name, string(c.Tier), fmt.Sprintf("%.2f", c.Score)})
		}
		fmt.Fprintln(out, renderTable("Cards",
			[]string{"Section", "Qty", "Name", "Tier", "Score"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight},
		))
	}
	if len(result.Unresolved) > 0 {
		rows := make([][]string, 0, len(result.Unresolved))
		for _, u := range result.Unresolved {
			rows = append(rows, []string{u.Section, fmt.Sprintf("%d", u.Quantity), u.Token, string(u.Status), candidateNames(u)})
		}
		fmt.Fprintln(out, renderTable("Unresolved",
			[]string{"Section", "Qty", "Token", "Status", "Candidates"},
			rows,
			[]columnAlignment{alignLeft, alignRight},
		))
	}
	for _, w := range result.Warnings {
		fmt.Fprintln(out, renderStatusLine("Warning", statusWarn, w, colorize))
	}
}

func jobStateKind(state string) statusKind {
	switch state {
	case "completed":
		return statusOK
	case "failed":
		return statusError
	case "still-processing", "running":
		return statusWarn
	default:
		return statusInfo
	}
}

func jobStateMessage(view api.JobView, role string) string {
	parts := []string{view.State}
	if role != "" {
		parts = append(parts, "role="+role)
	}
	if view.Code != "" {
		parts = append(parts, "code="+view.Code)
	}
	if view.Error != "" {
		parts = append(parts, view.Error)
	}
	return strings.Join(parts, " ")
}

func recognitionKind(rec pipeline.Recognition) statusKind {
	if rec.NeedsFallback && !rec.UsedFallback {
		return statusWarn
	}
	return statusOK
}

func candidateNames(u pipeline.Unresolved) string {
	names := make([]string, 0, len(u.Candidates))
	for _, c := range u.Candidates {
		names = append(names, fmt.Sprintf("%s (%.2f)", c.Entry.Name, c.Score))
	}
	return strings.Join(names, ", ")
}
