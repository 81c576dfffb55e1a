package resolve_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decklens/internal/catalog"
	"decklens/internal/ratelimit"
	"decklens/internal/resolve"
	"decklens/internal/services"
	"decklens/internal/storage"
)

var (
	fireIce   = catalog.Entry{ID: "fire-ice", Name: "Fire // Ice", Layout: "split", Faces: []string{"Fire", "Ice"}}
	wildfire  = catalog.Entry{ID: "wildfire", Name: "Wildfire", Layout: "normal"}
	bolt      = catalog.Entry{ID: "bolt", Name: "Lightning Bolt", Layout: "normal"}
	delver    = catalog.Entry{ID: "delver", Name: "Delver of Secrets // Insectile Aberration", Layout: "transform", Faces: []string{"Delver of Secrets", "Insectile Aberration"}}
	testClock = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
)

func fastOptions() resolve.Options {
	opts := resolve.DefaultOptions()
	opts.RemoteBackoff = time.Millisecond
	opts.RemoteMaxBackoff = 2 * time.Millisecond
	opts.RemoteTimeout = time.Second
	return opts
}

func scripted(scores map[string]float64) resolve.Scorer {
	return resolve.ScorerFunc(func(_ string, e catalog.Entry) float64 { return scores[e.ID] })
}

func newCache() storage.Bucket {
	return storage.NewMemory(storage.WithClock(testClock)).Bucket(storage.ClassResolution)
}

func TestExactTierUsesCanonicalSide(t *testing.T) {
	r := resolve.New(fastOptions(), resolve.WithCatalog(catalog.NewIndex("test", []catalog.Entry{fireIce, wildfire, delver})))

	res, err := r.Resolve(context.Background(), "FIRE")
	require.NoError(t, err)
	assert.Equal(t, resolve.TierExact, res.Tier)
	assert.Equal(t, "Fire // Ice", res.Name)
	assert.Equal(t, 1.0, res.Score)

	res, err = r.Resolve(context.Background(), "insectile  aberration")
	require.NoError(t, err)
	assert.Equal(t, "Delver of Secrets", res.Name, "transform cards resolve to the front face")

	res, err = r.Resolve(context.Background(), "Fire/Ice")
	require.NoError(t, err)
	assert.Equal(t, "Fire // Ice", res.Name)
}

func TestFuzzyAcceptsClearWinner(t *testing.T) {
	r := resolve.New(fastOptions(),
		resolve.WithCatalog(catalog.NewIndex("test", []catalog.Entry{fireIce, wildfire})),
		resolve.WithScorer(scripted(map[string]float64{"fire-ice": 0.95, "wildfire": 0.80})),
	)

	res, err := r.Resolve(context.Background(), "Fyre")
	require.NoError(t, err)
	assert.True(t, res.Resolved())
	assert.Equal(t, resolve.TierFuzzy, res.Tier)
	assert.Equal(t, "Fire // Ice", res.Name)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, 0.95, res.Candidates[0].Score)
	assert.Equal(t, "Wildfire", res.Candidates[1].Entry.Name)
}

func TestFuzzyAmbiguousWithinMargin(t *testing.T) {
	r := resolve.New(fastOptions(),
		resolve.WithCatalog(catalog.NewIndex("test", []catalog.Entry{fireIce, wildfire})),
		resolve.WithScorer(scripted(map[string]float64{"fire-ice": 0.95, "wildfire": 0.94})),
	)
	res, err := r.Resolve(context.Background(), "Fyre")
	require.ErrorIs(t, err, services.ErrAmbiguous)
	assert.Equal(t, resolve.StatusAmbiguous, res.Status)
	assert.Nil(t, res.Entry, "ambiguous tokens are never guessed")
	assert.Len(t, res.Candidates, 2)
}

func TestLowScoreStaysUnresolvedAndUncached(t *testing.T) {
	cache := newCache()
	var calls atomic.Int32
	lookup := catalog.LookupFunc(func(ctx context.Context, query string) ([]catalog.Candidate, error) {
		calls.Add(1)
		return []catalog.Candidate{{Entry: wildfire}}, nil
	})
	r := resolve.New(fastOptions(),
		resolve.WithLookup(lookup),
		resolve.WithCache(cache),
		resolve.WithScorer(scripted(map[string]float64{"wildfire": 0.4})),
	)

	res, err := r.Resolve(context.Background(), "Xyz")
	require.ErrorIs(t, err, services.ErrNotFound)
	assert.Equal(t, resolve.StatusUnresolved, res.Status)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, 0.4, res.Candidates[0].Score)

	_, err = cache.Get(context.Background(), "xyz")
	assert.ErrorIs(t, err, storage.ErrNotFound, "negative results are not cached")

	_, _ = r.Resolve(context.Background(), "Xyz")
	assert.Equal(t, int32(2), calls.Load())
}

func TestRemoteResultIsCachedAndLearned(t *testing.T) {
	cache := newCache()
	var calls atomic.Int32
	lookup := catalog.LookupFunc(func(ctx context.Context, query string) ([]catalog.Candidate, error) {
		calls.Add(1)
		return []catalog.Candidate{{Entry: bolt, Source: catalog.SourceNamed}}, nil
	})
	idx := catalog.NewIndex("test", nil)
	r := resolve.New(fastOptions(), resolve.WithCatalog(idx), resolve.WithLookup(lookup), resolve.WithCache(cache), resolve.WithClock(testClock))

	first, err := r.Resolve(context.Background(), "Lightnin Bolt")
	require.NoError(t, err)
	assert.Equal(t, resolve.TierRemote, first.Tier)
	assert.False(t, first.CacheHit)
	assert.GreaterOrEqual(t, first.Score, 0.9)
	assert.Equal(t, 1, idx.Len(), "accepted remote entries are added to the catalog index")

	second, err := r.Resolve(context.Background(), "lightnin bolt")
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "Lightning Bolt", second.Name)

	exact, err := r.Resolve(context.Background(), "Lightning Bolt")
	require.NoError(t, err)
	assert.Equal(t, resolve.TierExact, exact.Tier, "learned entries answer the exact tier")

	fresh := resolve.New(fastOptions(), resolve.WithLookup(lookup), resolve.WithCache(cache), resolve.WithClock(testClock))
	third, err := fresh.Resolve(context.Background(), "Lightnin Bolt")
	require.NoError(t, err)
	assert.True(t, third.CacheHit)
	assert.Equal(t, resolve.TierRemote, third.Tier)
	assert.Equal(t, int32(1), calls.Load(), "cache round-trip must not call the remote again")
}

func TestRemoteSingleFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	lookup := catalog.LookupFunc(func(ctx context.Context, query string) ([]catalog.Candidate, error) {
		calls.Add(1)
		<-release
		return []catalog.Candidate{{Entry: bolt}}, nil
	})
	r := resolve.New(fastOptions(), resolve.WithLookup(lookup), resolve.WithScorer(scripted(map[string]float64{"bolt": 0.99})))

	var wg sync.WaitGroup
	results := make([]resolve.Resolution, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.Resolve(context.Background(), "Lightning Blot")
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, res := range results {
		assert.Equal(t, "Lightning Bolt", res.Name)
	}
}

func TestRemoteRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	lookup := catalog.LookupFunc(func(ctx context.Context, query string) ([]catalog.Candidate, error) {
		if calls.Add(1) < 3 {
			return nil, services.Wrap(services.ErrTransient, "catalog", "search", "catalog named returned 503", nil)
		}
		return []catalog.Candidate{{Entry: bolt}}, nil
	})
	r := resolve.New(fastOptions(), resolve.WithLookup(lookup))
	res, err := r.Resolve(context.Background(), "Lightning Bolt")
	require.NoError(t, err)
	assert.Equal(t, resolve.TierRemote, res.Tier)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRemoteFailureDegradesToUnresolved(t *testing.T) {
	var calls atomic.Int32
	lookup := catalog.LookupFunc(func(ctx context.Context, query string) ([]catalog.Candidate, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	opts := fastOptions()
	opts.RemoteTimeout = 10 * time.Millisecond
	opts.RemoteMaxRetries = 1
	r := resolve.New(opts, resolve.WithLookup(lookup))

	res, err := r.Resolve(context.Background(), "Lightning Bolt")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrTimeout)
	assert.Equal(t, resolve.StatusUnresolved, res.Status)
	assert.Nil(t, res.Entry)
	assert.Equal(t, int32(2), calls.Load(), "one retry after the first timeout")
}

func TestRemoteRateLimited(t *testing.T) {
	lookup := catalog.LookupFunc(func(ctx context.Context, query string) ([]catalog.Candidate, error) {
		return nil, nil
	})
	limiter := ratelimit.New(1, time.Hour)
	r := resolve.New(fastOptions(), resolve.WithLookup(lookup), resolve.WithRateLimiter(limiter))

	_, err := r.Resolve(context.Background(), "first")
	require.ErrorIs(t, err, services.ErrNotFound)

	_, err = r.Resolve(context.Background(), "second")
	require.ErrorIs(t, err, services.ErrRateLimited)
	retry, ok := services.RetryAfter(err)
	require.True(t, ok)
	assert.Positive(t, retry)
}

func TestRemoteRetriesSpendRateLimit(t *testing.T) {
	var calls atomic.Int32
	lookup := catalog.LookupFunc(func(ctx context.Context, query string) ([]catalog.Candidate, error) {
		calls.Add(1)
		return nil, services.Wrap(services.ErrTransient, "catalog", "search", "catalog named returned 503", nil)
	})
	opts := fastOptions()
	opts.RemoteMaxRetries = 5
	limiter := ratelimit.New(2, time.Hour)
	r := resolve.New(opts, resolve.WithLookup(lookup), resolve.WithRateLimiter(limiter))

	_, err := r.Resolve(context.Background(), "Lightning Bolt")
	require.ErrorIs(t, err, services.ErrRateLimited, "retries stop once the window is spent")
	assert.Equal(t, int32(2), calls.Load())

	_, err = r.Resolve(context.Background(), "Counterspell")
	require.ErrorIs(t, err, services.ErrRateLimited)
	assert.Equal(t, int32(2), calls.Load(), "no call once the limit is spent")
}

func TestAliasesResolveExactly(t *testing.T) {
	r := resolve.New(fastOptions(),
		resolve.WithCatalog(catalog.NewIndex("test", []catalog.Entry{bolt, fireIce})),
		resolve.WithAliases(catalog.Aliases{"bolt": "Lightning Bolt", "ghost": "Missing Card"}),
	)
	res, err := r.Resolve(context.Background(), "Bolt")
	require.NoError(t, err)
	assert.Equal(t, resolve.TierExact, res.Tier)
	assert.Equal(t, "Lightning Bolt", res.Name)

	_, err = r.Resolve(context.Background(), "ghost")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestHybridScorer(t *testing.T) {
	s := resolve.HybridScorer{}
	assert.Equal(t, 1.0, s.Score("fire", fireIce), "face names score as full matches")
	assert.Greater(t, s.Score("lightnlng bolt", bolt), 0.9)
	assert.Less(t, s.Score("fire", wildfire), 0.5)
	assert.Zero(t, s.Score("", bolt))
}

func TestEmptyTokenIsNotFound(t *testing.T) {
	r := resolve.New(fastOptions())
	_, err := r.Resolve(context.Background(), " !! ")
	assert.ErrorIs(t, err, services.ErrNotFound)
}
