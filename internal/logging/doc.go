// Package logging assembles structured slog loggers and formatting helpers used
// across decklens.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so pipeline and coordinator code can tag
// log lines with job IDs, idempotency keys, stages, and correlation IDs.
// WarnWithContext enforces the event_type / error_hint / impact triple on
// every warning. A no-op logger is provided for tests and wiring code.
package logging
