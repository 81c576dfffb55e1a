// Package resolve turns noisy recognized card names into catalog entries.
//
// Resolution walks three tiers. The exact tier is an in-memory map of
// normalized names, face names and user aliases. The fuzzy tier draws a
// bounded candidate set from a trigram index and ranks it with a hybrid
// Levenshtein and Soundex score. The remote tier asks the authoritative
// catalog service behind a rate limiter, with per-call timeouts, bounded
// retries and single-flight deduplication per normalized query.
//
// Accepted results are written through to the resolution storage class and
// read back on later calls. A write never replaces an unexpired entry from a
// more authoritative tier, ordered exact, remote, fuzzy. Tokens that stay
// unresolved are reported with their candidates and are never cached.
package resolve
