package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"decklens/internal/catalog"
	"decklens/internal/logging"
	"decklens/internal/metrics"
	"decklens/internal/ratelimit"
	"decklens/internal/services"
	"decklens/internal/storage"
	"decklens/internal/textutil"
)

// Resolver resolves raw tokens through the exact, fuzzy and remote tiers.
// It is safe for concurrent use.
type Resolver struct {
	opts    Options
	index   *nameIndex
	catalog *catalog.Index
	lookup  catalog.Lookup
	limiter *ratelimit.Limiter
	cache   storage.Bucket
	scorer  Scorer
	aliases catalog.Aliases
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	flight  singleflight.Group
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithCatalog seeds the local tiers from idx. Remote results are added back
// to idx as they are accepted.
func WithCatalog(idx *catalog.Index) Option {
	return func(r *Resolver) { r.catalog = idx }
}

// WithAliases registers user aliases. Unknown targets are logged and skipped.
func WithAliases(aliases catalog.Aliases) Option {
	return func(r *Resolver) { r.aliases = aliases }
}

// WithLookup enables the remote tier.
func WithLookup(lookup catalog.Lookup) Option {
	return func(r *Resolver) { r.lookup = lookup }
}

// WithRateLimiter gates remote calls.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(r *Resolver) { r.limiter = l }
}

// WithCache enables read-through and write-through caching in bucket.
func WithCache(bucket storage.Bucket) Option {
	return func(r *Resolver) { r.cache = bucket }
}

// WithScorer replaces the default hybrid scorer.
func WithScorer(s Scorer) Option {
	return func(r *Resolver) {
		if s != nil {
			r.scorer = s
		}
	}
}

// WithMetrics records lookups and remote calls.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logging.NewComponentLogger(logger, "resolve") }
}

// WithClock overrides the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a resolver and indexes the catalog and aliases.
func New(opts Options, options ...Option) *Resolver {
	r := &Resolver{
		opts:   opts.normalized(),
		index:  newNameIndex(),
		scorer: HybridScorer{},
		logger: logging.NewComponentLogger(nil, "resolve"),
		now:    time.Now,
	}
	for _, opt := range options {
		if opt != nil {
			opt(r)
		}
	}
	if r.catalog != nil {
		for _, e := range r.catalog.Entries() {
			r.index.add(e)
		}
	}
	for alias, target := range r.aliases {
		if !r.index.alias(alias, target) {
			r.logger.Warn("alias target not in catalog",
				logging.String("alias", alias),
				logging.String("target", target),
				logging.String(logging.FieldEventType, "alias_unknown_target"),
			)
		}
	}
	return r
}

// Resolve maps raw to a catalog entry. Unresolved tokens return a Resolution
// carrying the candidates together with an error wrapping
// services.ErrNotFound or services.ErrAmbiguous.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Resolution, error) {
	normalized := textutil.Normalize(raw)
	res := Resolution{Query: raw, Normalized: normalized, Status: StatusUnresolved}
	if normalized == "" {
		res.Reason = "empty token"
		return res, services.Wrap(services.ErrNotFound, "resolve", "normalize", "empty token", nil)
	}

	cached, cacheHit := r.readCache(ctx, normalized)
	if entry, ok := r.index.lookupExact(normalized); ok {
		r.metrics.Lookup(string(TierExact), "hit")
		if !cacheHit || cached.Tier != TierExact || cached.Entry.Key() != entry.Key() {
			r.writeCache(ctx, cacheEntry{Query: normalized, Tier: TierExact, Entry: entry, Score: 1, ResolvedAt: r.now()})
		}
		res = r.resolved(res, Scored{Entry: entry, Score: 1}, TierExact, nil)
		res.CacheHit = cacheHit && cached.Tier == TierExact
		return res, nil
	}
	if cacheHit {
		r.metrics.Lookup("cache", "hit")
		return cached.resolution(raw), nil
	}
	r.metrics.Lookup("cache", "miss")

	fuzzy := rank(r.scorer, normalized, r.index.candidates(normalized, r.opts.MaxCandidates), r.opts.TopK)
	top, status := accept(fuzzy, r.opts)
	if status == StatusResolved {
		r.metrics.Lookup(string(TierFuzzy), "accepted")
		r.writeCache(ctx, cacheEntry{Query: normalized, Tier: TierFuzzy, Entry: top.Entry, Score: top.Score, Candidates: fuzzy, ResolvedAt: r.now()})
		return r.resolved(res, top, TierFuzzy, fuzzy), nil
	}
	r.metrics.Lookup(string(TierFuzzy), string(status))
	res.Status = status
	res.Candidates = fuzzy

	if r.lookup == nil {
		return r.unresolved(res, "no local match and remote lookup disabled")
	}
	remote, err := r.remote(ctx, raw, normalized)
	if err != nil {
		logging.WarnWithContext(r.logger, "remote catalog lookup failed", "catalog_lookup_failed",
			logging.String("query", normalized),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check catalog connectivity and rate limits"),
			logging.String(logging.FieldImpact, "token reported as unresolved"),
		)
		res.Reason = "remote lookup failed: " + err.Error()
		return res, services.Wrap(services.ErrTransient, "resolve", "remote", fmt.Sprintf("token %q unresolved", raw), err)
	}
	merged := mergeRanked(fuzzy, remote, r.opts.TopK)
	top, status = accept(remote, r.opts)
	if status != StatusResolved {
		r.metrics.Lookup(string(TierRemote), string(status))
		res.Status = status
		res.Candidates = merged
		return r.unresolved(res, "no candidate cleared the acceptance rule")
	}
	r.metrics.Lookup(string(TierRemote), "accepted")
	r.learn(top.Entry)
	r.writeCache(ctx, cacheEntry{Query: normalized, Tier: TierRemote, Entry: top.Entry, Score: top.Score, Candidates: remote, ResolvedAt: r.now()})
	return r.resolved(res, top, TierRemote, remote), nil
}

func (r *Resolver) resolved(res Resolution, top Scored, tier Tier, candidates []Scored) Resolution {
	entry := top.Entry
	res.Status = StatusResolved
	res.Entry = &entry
	res.Name = entry.CanonicalName()
	res.Score = top.Score
	res.Tier = tier
	res.Candidates = candidates
	res.Reason = ""
	return res
}

func (r *Resolver) unresolved(res Resolution, reason string) (Resolution, error) {
	if res.Status == "" || res.Status == StatusResolved {
		res.Status = StatusUnresolved
	}
	res.Reason = reason
	marker := services.ErrNotFound
	if res.Status == StatusAmbiguous {
		marker = services.ErrAmbiguous
	}
	return res, services.Wrap(marker, "resolve", string(res.Status), fmt.Sprintf("token %q: %s", res.Query, reason), nil)
}

// learn adds a remotely accepted entry to the local tiers.
func (r *Resolver) learn(e catalog.Entry) {
	if e.Name == "" {
		return
	}
	if r.index.add(e) && r.catalog != nil {
		r.catalog.Add(e)
	}
}

// Learn adds e to the local tiers.
func (r *Resolver) Learn(e catalog.Entry) { r.learn(e) }

// Size returns the number of entries in the local tiers.
func (r *Resolver) Size() int { return r.index.len() }

// mergeRanked combines two ranked lists, keeping the best score per entry.
func mergeRanked(a, b []Scored, k int) []Scored {
	entries := make([]catalog.Entry, 0, len(a)+len(b))
	scores := make(map[string]float64, len(a)+len(b))
	for _, list := range [][]Scored{a, b} {
		for _, s := range list {
			key := s.Entry.Key()
			if prev, ok := scores[key]; !ok || s.Score > prev {
				if !ok {
					entries = append(entries, s.Entry)
				}
				scores[key] = s.Score
			}
		}
	}
	return rank(ScorerFunc(func(_ string, e catalog.Entry) float64 { return scores[e.Key()] }), "", entries, k)
}
