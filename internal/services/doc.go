// Package services defines shared utilities consumed by the pipeline, the
// idempotency coordinator, and the external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, idempotency keys, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Code which maps a
//     failure to the code persisted on a failed job.
//   - RateLimitedError, which carries the retry-after signal out of the rate
//     limiter.
//
// Use these helpers when wiring new components so operational behaviour (error
// classification, observability, retries) stays uniform.
package services
