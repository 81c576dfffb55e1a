package api

import (
	"fmt"
	"time"

	"decklens/internal/idempotency"
	"decklens/internal/pipeline"
)

// FromJob converts a stored job into its transport form, decoding the result
// of completed jobs.
func FromJob(job idempotency.Job) (JobView, error) {
	view := JobView{
		ID:         job.ID,
		Key:        job.Key,
		State:      string(job.State),
		Code:       job.Code,
		Error:      job.Error,
		Attempts:   job.Attempts,
		CreatedAt:  formatTime(job.CreatedAt),
		UpdatedAt:  formatTime(job.UpdatedAt),
		FinishedAt: formatTime(job.FinishedAt),
	}
	if job.State == idempotency.StateCompleted && len(job.Result) > 0 {
		var result pipeline.Result
		if err := job.DecodeResult(&result); err != nil {
			return view, fmt.Errorf("decode job %s result: %w", job.ID, err)
		}
		view.Result = &result
	}
	return view, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
