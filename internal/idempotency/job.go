package idempotency

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateProcessing State = "still-processing"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is the persisted record of one keyed execution.
type Job struct {
	ID         string          `json:"id"`
	Key        string          `json:"key"`
	State      State           `json:"state"`
	Result     json.RawMessage `json:"result,omitempty"`
	Code       string          `json:"code,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	Owner      string          `json:"owner,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	StartedAt  time.Time       `json:"started_at,omitzero"`
	FinishedAt time.Time       `json:"finished_at,omitzero"`
}

// DecodeResult unmarshals the stored result into v.
func (j Job) DecodeResult(v any) error {
	if len(j.Result) == 0 {
		return nil
	}
	return json.Unmarshal(j.Result, v)
}

type lockRecord struct {
	Owner      string    `json:"owner"`
	JobID      string    `json:"job_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Role describes how a submit was satisfied.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleJoiner Role = "joiner"
	RoleReused Role = "reused"
)

func jobKey(id string) string   { return "id:" + id }
func indexKey(key string) string { return "key:" + key }
func lockKey(key string) string  { return "lock:" + key }
func imageKey(digest string) string {
	return "img:" + digest
}
