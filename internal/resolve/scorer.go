package resolve

import (
	"cmp"
	"slices"

	"decklens/internal/catalog"
	"decklens/internal/textutil"
)

// Scorer rates how well a normalized query matches an entry, in [0,1].
type Scorer interface {
	Score(normalizedQuery string, entry catalog.Entry) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(normalizedQuery string, entry catalog.Entry) float64

// Score calls f.
func (f ScorerFunc) Score(q string, e catalog.Entry) float64 { return f(q, e) }

// Hybrid weights for the default scorer.
const (
	levenshteinWeight = 0.75
	soundexWeight     = 0.25
)

// HybridScorer blends Levenshtein similarity with token Soundex agreement and
// takes the best match over the printed name and each face.
type HybridScorer struct{}

// Score implements Scorer.
func (HybridScorer) Score(q string, e catalog.Entry) float64 {
	if q == "" {
		return 0
	}
	qTokens := textutil.Tokens(q)
	best := 0.0
	for _, name := range e.Names() {
		n := textutil.Normalize(name)
		score := levenshteinWeight*textutil.LevenshteinSimilarity(q, n) +
			soundexWeight*textutil.SoundexAgreement(qTokens, textutil.Tokens(n))
		best = max(best, score)
	}
	return min(best, 1)
}

// rank scores entries, keeps the best score per entry, and returns the top k
// in descending order. Ties break on name for determinism.
func rank(scorer Scorer, q string, entries []catalog.Entry, k int) []Scored {
	byKey := make(map[string]int, len(entries))
	out := make([]Scored, 0, len(entries))
	for _, e := range entries {
		s := scorer.Score(q, e)
		if s <= 0 {
			continue
		}
		key := e.Key()
		if pos, ok := byKey[key]; ok {
			if s > out[pos].Score {
				out[pos] = Scored{Entry: e, Score: s}
			}
			continue
		}
		byKey[key] = len(out)
		out = append(out, Scored{Entry: e, Score: s})
	}
	slices.SortStableFunc(out, func(a, b Scored) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Entry.Name, b.Entry.Name)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// accept applies the acceptance rule: the top candidate clears the threshold
// and leads the runner-up by at least the ambiguity margin.
func accept(ranked []Scored, opts Options) (Scored, Status) {
	if len(ranked) == 0 || ranked[0].Score < opts.AcceptanceThreshold {
		return Scored{}, StatusUnresolved
	}
	if len(ranked) > 1 && ranked[0].Score-ranked[1].Score < opts.AmbiguityMargin {
		return Scored{}, StatusAmbiguous
	}
	return ranked[0], StatusResolved
}
