package api

import (
	"decklens/internal/pipeline"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ScanRequest is one recognition job.
type ScanRequest struct {
	// Image is the original encoded image. It determines the job key.
	Image []byte
	// Variants are optional preprocessed renditions tried after the original.
	Variants []Variant
	Width    int
	Height   int
	// Class overrides the resolution class ("sd", "720p", "1080p", "1440p").
	Class string
}

// Variant is a named preprocessed rendition of the image.
type Variant struct {
	Name string
	Data []byte
}

// Submission identifies a submitted job.
type Submission struct {
	JobID string `json:"jobId"`
	Key   string `json:"key"`
	Role  string `json:"role"`
}

// JobView describes a job in a transport-friendly format.
type JobView struct {
	ID         string           `json:"id"`
	Key        string           `json:"key"`
	State      string           `json:"state"`
	Code       string           `json:"code,omitempty"`
	Error      string           `json:"error,omitempty"`
	Attempts   int              `json:"attempts"`
	CreatedAt  string           `json:"createdAt,omitempty"`
	UpdatedAt  string           `json:"updatedAt,omitempty"`
	FinishedAt string           `json:"finishedAt,omitempty"`
	Result     *pipeline.Result `json:"result,omitempty"`
}

// Terminal reports whether the job reached a final state.
func (v JobView) Terminal() bool {
	return v.State == "completed" || v.State == "failed"
}
