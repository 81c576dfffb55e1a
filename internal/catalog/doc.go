// Package catalog holds the reference card data used for name resolution.
//
// Entry is a canonical card with its layout and face names. Index is the
// local catalog loaded from a JSON file; the SHA-256 of that file is the
// snapshot id folded into idempotency keys. Aliases maps user-provided
// spellings to canonical names. Client is the remote authoritative lookup, a
// small HTTP client for a Scryfall-compatible API with request pacing.
package catalog
