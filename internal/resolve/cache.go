package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"decklens/internal/catalog"
	"decklens/internal/logging"
	"decklens/internal/storage"
)

const cacheWriteAttempts = 3

// cacheEntry is the persisted form of an accepted resolution.
type cacheEntry struct {
	Query      string        `json:"query"`
	Tier       Tier          `json:"tier"`
	Entry      catalog.Entry `json:"entry"`
	Score      float64       `json:"score"`
	Candidates []Scored      `json:"candidates,omitempty"`
	ResolvedAt time.Time     `json:"resolved_at"`
}

func (c cacheEntry) resolution(raw string) Resolution {
	entry := c.Entry
	return Resolution{
		Query:      raw,
		Normalized: c.Query,
		Status:     StatusResolved,
		Entry:      &entry,
		Name:       entry.CanonicalName(),
		Score:      c.Score,
		Tier:       c.Tier,
		Candidates: c.Candidates,
		CacheHit:   true,
	}
}

// readCache returns the unexpired cached entry for normalized.
func (r *Resolver) readCache(ctx context.Context, normalized string) (cacheEntry, bool) {
	if r.cache == nil {
		return cacheEntry{}, false
	}
	rec, err := r.cache.Get(ctx, normalized)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logging.WarnWithContext(r.logger, "resolution cache read failed", "resolution_cache_read_failed",
				logging.String("query", normalized),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the storage backend"),
			)
		}
		return cacheEntry{}, false
	}
	if rec.Expired(r.now()) {
		return cacheEntry{}, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(rec.Value, &entry); err != nil {
		r.logger.Warn("resolution cache entry unreadable", logging.String("query", normalized), logging.Error(err))
		return cacheEntry{}, false
	}
	return entry, true
}

// writeCache stores entry unless an unexpired entry from a more
// authoritative tier is already present. Concurrent writers race through
// compare-and-swap; a loser re-reads and re-applies the authority rule.
func (r *Resolver) writeCache(ctx context.Context, entry cacheEntry) {
	if r.cache == nil {
		return
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return
	}
	ttl := r.opts.ttl(entry.Tier)
	for range cacheWriteAttempts {
		rec, err := r.cache.Get(ctx, entry.Query)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if _, created, err := r.cache.PutIfAbsent(ctx, entry.Query, value, ttl); err != nil || created {
				r.logCacheWrite(entry, err)
				return
			}
			continue
		case err != nil:
			r.logCacheWrite(entry, err)
			return
		}
		if !rec.Expired(r.now()) {
			var existing cacheEntry
			if json.Unmarshal(rec.Value, &existing) == nil && existing.Tier.authority() > entry.Tier.authority() {
				return
			}
		}
		_, err = r.cache.CompareAndSwap(ctx, entry.Query, rec.Version, value, ttl)
		if err == nil {
			return
		}
		if !errors.Is(err, storage.ErrVersionMismatch) {
			r.logCacheWrite(entry, err)
			return
		}
	}
}

func (r *Resolver) logCacheWrite(entry cacheEntry, err error) {
	if err == nil {
		return
	}
	logging.WarnWithContext(r.logger, "resolution cache write failed", "resolution_cache_write_failed",
		logging.String("query", entry.Query),
		logging.String("tier", string(entry.Tier)),
		logging.Error(err),
		logging.String(logging.FieldImpact, "the next lookup repeats the tier walk"),
	)
}
