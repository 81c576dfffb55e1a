// Package breaker guards the expensive fallback recognizer.
//
// Each Breaker tracks jobs, fallback invocations and fallback failures over a
// sliding window of fixed buckets. A high fallback rate never opens the
// breaker; it raises a soft adjustment that the confidence policy subtracts
// from its fallback threshold. Consecutive engine failures trip the hard path:
// closed, open for a cooldown, then half-open with a single probe whose
// outcome closes the breaker or reopens it with a longer cooldown.
package breaker
