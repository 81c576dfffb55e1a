// Package idempotency makes job submission safe to repeat.
//
// A job is identified by a key derived from its content and everything that
// can change its output. The first submitter of a key atomically creates the
// lock and runs the work; concurrent submitters join and receive the same
// terminal job. Completed jobs are returned without re-running, failed jobs
// are retried on the next submit, and a lock whose owner stopped
// heartbeating is stolen by compare-and-swap.
package idempotency
