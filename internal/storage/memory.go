package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is an in-process backend used by tests and the memory storage mode.
type Memory struct {
	opts    options
	seq     *atomic.Int64
	mu      sync.Mutex
	buckets map[Class]*memoryBucket
}

// NewMemory builds an empty in-memory backend.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{opts: buildOptions(opts), seq: new(atomic.Int64), buckets: make(map[Class]*memoryBucket)}
	for _, class := range Classes {
		m.buckets[class] = m.newBucket()
	}
	return m
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Bucket(class Class) Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[class]
	if !ok {
		b = m.newBucket()
		m.buckets[class] = b
	}
	return b
}

func (m *Memory) newBucket() *memoryBucket {
	return &memoryBucket{now: m.opts.now, seq: m.seq, records: make(map[string]Record)}
}

func (m *Memory) Close() error { return nil }

type memoryBucket struct {
	now     func() time.Time
	seq     *atomic.Int64
	mu      sync.Mutex
	records map[string]Record
}

func cloneRecord(r Record) Record {
	r.Value = append([]byte(nil), r.Value...)
	return r
}

func (b *memoryBucket) Get(ctx context.Context, key string) (Record, error) {
	if err := ensureContext(ctx).Err(); err != nil {
		return Record{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (b *memoryBucket) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (Record, error) {
	if err := ensureContext(ctx).Err(); err != nil {
		return Record{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now().UTC()
	rec := Record{Key: key, Value: append([]byte(nil), value...), Version: b.seq.Add(1), CreatedAt: now, UpdatedAt: now, ExpiresAt: expiry(now, ttl)}
	if prev, ok := b.records[key]; ok {
		rec.CreatedAt = prev.CreatedAt
	}
	b.records[key] = rec
	return cloneRecord(rec), nil
}

func (b *memoryBucket) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (Record, bool, error) {
	if err := ensureContext(ctx).Err(); err != nil {
		return Record{}, false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.records[key]; ok {
		return cloneRecord(existing), false, nil
	}
	now := b.now().UTC()
	rec := Record{Key: key, Value: append([]byte(nil), value...), Version: b.seq.Add(1), CreatedAt: now, UpdatedAt: now, ExpiresAt: expiry(now, ttl)}
	b.records[key] = rec
	return cloneRecord(rec), true, nil
}

func (b *memoryBucket) CompareAndSwap(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (Record, error) {
	if err := ensureContext(ctx).Err(); err != nil {
		return Record{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	prev, ok := b.records[key]
	if !ok || prev.Version != version {
		return Record{}, ErrVersionMismatch
	}
	now := b.now().UTC()
	rec := Record{Key: key, Value: append([]byte(nil), value...), Version: b.seq.Add(1), CreatedAt: prev.CreatedAt, UpdatedAt: now, ExpiresAt: expiry(now, ttl)}
	b.records[key] = rec
	return cloneRecord(rec), nil
}

func (b *memoryBucket) CompareAndDelete(ctx context.Context, key string, version int64) (bool, error) {
	if err := ensureContext(ctx).Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	prev, ok := b.records[key]
	if !ok || prev.Version != version {
		return false, nil
	}
	delete(b.records, key)
	return true, nil
}

func (b *memoryBucket) Delete(ctx context.Context, key string) error {
	if err := ensureContext(ctx).Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, key)
	return nil
}

// Scan walks a sorted key snapshot page by page, re-reading each record so the
// callback never runs under the bucket mutex.
func (b *memoryBucket) Scan(ctx context.Context, opts ScanOptions, fn func(Record) error) error {
	ctx = ensureContext(ctx)
	b.mu.Lock()
	keys := make([]string, 0, len(b.records))
	for key := range b.records {
		if strings.HasPrefix(key, opts.Prefix) {
			keys = append(keys, key)
		}
	}
	b.mu.Unlock()
	sort.Strings(keys)

	size := pageSize(opts)
	for start := 0; start < len(keys); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+size, len(keys))
		page := make([]Record, 0, end-start)
		b.mu.Lock()
		for _, key := range keys[start:end] {
			if rec, ok := b.records[key]; ok {
				page = append(page, cloneRecord(rec))
			}
		}
		b.mu.Unlock()
		for _, rec := range page {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	return nil
}
