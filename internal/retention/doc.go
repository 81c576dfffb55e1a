// Package retention reclaims stored records once their class TTL elapses.
//
// A sweep streams every storage class page by page and removes a record only
// by compare-and-delete against the version it observed, so a record that is
// rewritten mid-sweep survives and repeated sweeps converge.
package retention
