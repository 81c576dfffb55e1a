// Package ratelimit implements a per-key sliding-window limiter.
//
// Each caller key owns a bucket holding the timestamps of admitted requests
// inside the current window. Buckets are created on first use, guarded by
// their own mutex, and evicted once idle for longer than the window.
package ratelimit
