// Package storage persists decklens state behind a small key-value contract.
//
// State is partitioned into classes (images, jobs, resolution, locks) so each
// can carry its own retention policy. Every backend offers the same atomic
// primitives: create-if-absent for lock acquisition, version-based
// compare-and-swap for publishing terminal job state, and compare-and-delete
// so retention sweeps never remove a record rewritten after it was scanned.
//
// Backends: Memory for tests, SQLite (modernc.org/sqlite, one table per class)
// as the default, and Redis (go-redis with Lua scripts) for shared deployments.
package storage
