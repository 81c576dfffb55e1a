package storage

import (
	"context"
	"fmt"
	"time"

	"decklens/internal/services"
)

// Class partitions persisted state so each data class can carry its own
// retention policy.
type Class string

const (
	ClassImages     Class = "images"
	ClassJobs       Class = "jobs"
	ClassResolution Class = "resolution"
	ClassLocks      Class = "locks"
)

// Classes lists every storage class in sweep order.
var Classes = []Class{ClassImages, ClassJobs, ClassResolution, ClassLocks}

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	for _, known := range Classes {
		if c == known {
			return true
		}
	}
	return false
}

var (
	// ErrNotFound is returned by Get when no record exists for a key.
	ErrNotFound = fmt.Errorf("record %w", services.ErrNotFound)
	// ErrVersionMismatch is returned by CompareAndSwap when the stored record
	// changed (or vanished) since it was read.
	ErrVersionMismatch = fmt.Errorf("record version mismatch: %w", services.ErrConflict)
)

// Record is a single stored value. Version is the token used by the
// compare-and-swap operations. Every write draws it from a sequence shared by
// the whole backend, so it increases on each write and a key that is deleted
// and created again never reuses an earlier version.
type Record struct {
	Key       string
	Value     []byte
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time // zero means no expiry
}

// Expired reports whether the record's own TTL has elapsed at now. Backends
// never hide expired records; callers and the retention sweep decide.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// ScanOptions bounds a streaming scan.
type ScanOptions struct {
	Prefix   string
	PageSize int
}

// Bucket is the key-value view of one storage class.
type Bucket interface {
	Get(ctx context.Context, key string) (Record, error)
	// Put writes unconditionally. ttl <= 0 stores without expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) (Record, error)
	// PutIfAbsent atomically creates the record. When a record already exists
	// (expired or not) it is returned with created=false.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (rec Record, created bool, err error)
	// CompareAndSwap replaces the record only if its version still equals
	// version. Returns ErrVersionMismatch otherwise.
	CompareAndSwap(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (Record, error)
	// CompareAndDelete removes the record only if its version still equals
	// version.
	CompareAndDelete(ctx context.Context, key string, version int64) (bool, error)
	Delete(ctx context.Context, key string) error
	// Scan streams records in pages without holding a store-wide lock. fn may
	// delete the record it is given.
	Scan(ctx context.Context, opts ScanOptions, fn func(Record) error) error
}

// Backend hands out one bucket per class.
type Backend interface {
	Name() string
	Bucket(class Class) Bucket
	Close() error
}

const defaultPageSize = 256

// Option tunes backend construction.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for CreatedAt/UpdatedAt/ExpiresAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func pageSize(opts ScanOptions) int {
	if opts.PageSize <= 0 {
		return defaultPageSize
	}
	return opts.PageSize
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
