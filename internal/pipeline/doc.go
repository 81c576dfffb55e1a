// Package pipeline runs recognition and resolution for one card-list image.
//
// The Orchestrator sweeps the primary recognizer over the pre-built image
// variants and stops early once the confidence policy accepts. When the best
// result still needs a second opinion and the fallback breaker allows it, the
// fallback recognizer runs once under its own timeout. Recognized lines are
// parsed as deck lines and every distinct name is resolved concurrently.
// Single variant failures, fallback failures and unresolved tokens are
// absorbed into warnings and a partial result; only a run with no usable
// recognition at all fails.
package pipeline
