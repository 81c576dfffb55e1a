package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrTransient       = errors.New("transient failure")
	ErrConflict        = errors.New("conflict")
	ErrStaleLock       = errors.New("stale lock")
	ErrAmbiguous       = errors.New("ambiguous resolution")
	ErrRateLimited     = errors.New("rate limited")
	ErrStillProcessing = errors.New("still processing")
	ErrRecognition     = errors.New("recognition failed")
)

// Failure codes persisted on failed jobs.
const (
	CodeAllVariantsFailed = "all_variants_failed"
	CodeTimeout           = "timeout"
	CodeLockUnavailable   = "lock_unavailable"
	CodeConfiguration     = "configuration"
	CodeCanceled          = "canceled"
	CodeInternal          = "internal"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Code maps an error to the structured failure code stored on a job.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRecognition):
		return CodeAllVariantsFailed
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStaleLock):
		return CodeLockUnavailable
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return CodeInternal
	}
}

// RateLimitedError carries the retry-after hint produced by a rejected
// rate-limit check. It matches ErrRateLimited under errors.Is.
type RateLimitedError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: key=%s retry_after=%s", e.Key, e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfter extracts the retry-after hint from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
