package resolve

import (
	"cmp"
	"slices"
	"sync"

	"decklens/internal/catalog"
	"decklens/internal/textutil"
)

// nameIndex holds the exact map and the trigram postings. Postings point at
// name slots; each slot belongs to one entry.
type nameIndex struct {
	mu       sync.RWMutex
	entries  []catalog.Entry
	byKey    map[string]int
	exact    map[string]int
	aliases  map[string]int
	slots    []int
	postings map[string][]int
}

func newNameIndex() *nameIndex {
	return &nameIndex{
		byKey:    make(map[string]int),
		exact:    make(map[string]int),
		aliases:  make(map[string]int),
		postings: make(map[string][]int),
	}
}

// add indexes e and reports whether it was new. Printed names win over face
// names when two entries share a normalized string.
func (x *nameIndex) add(e catalog.Entry) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	key := e.Key()
	if pos, ok := x.byKey[key]; ok {
		x.entries[pos] = e
		return false
	}
	pos := len(x.entries)
	x.entries = append(x.entries, e)
	x.byKey[key] = pos

	for i, name := range e.Names() {
		n := textutil.Normalize(name)
		if n == "" {
			continue
		}
		if existing, ok := x.exact[n]; !ok || (i == 0 && textutil.Normalize(x.entries[existing].Name) != n) {
			x.exact[n] = pos
		}
		slot := len(x.slots)
		x.slots = append(x.slots, pos)
		for _, gram := range textutil.Trigrams(n) {
			x.postings[gram] = append(x.postings[gram], slot)
		}
	}
	return true
}

// alias maps alias to the entry whose printed or canonical name normalizes to
// target. It reports false when target is unknown.
func (x *nameIndex) alias(alias, target string) bool {
	a, t := textutil.Normalize(alias), textutil.Normalize(target)
	if a == "" || t == "" {
		return false
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	pos, ok := x.exact[t]
	if !ok {
		return false
	}
	x.aliases[a] = pos
	return true
}

func (x *nameIndex) lookupExact(normalized string) (catalog.Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if pos, ok := x.exact[normalized]; ok {
		return x.entries[pos], true
	}
	if pos, ok := x.aliases[normalized]; ok {
		return x.entries[pos], true
	}
	return catalog.Entry{}, false
}

// candidates returns at most limit entries sharing the most trigrams with
// the normalized query.
func (x *nameIndex) candidates(normalized string, limit int) []catalog.Entry {
	grams := textutil.Trigrams(normalized)
	if len(grams) == 0 {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	shared := make(map[int]int)
	for _, gram := range grams {
		seen := make(map[int]struct{})
		for _, slot := range x.postings[gram] {
			pos := x.slots[slot]
			if _, ok := seen[pos]; ok {
				continue
			}
			seen[pos] = struct{}{}
			shared[pos]++
		}
	}
	type hit struct{ pos, count int }
	hits := make([]hit, 0, len(shared))
	for pos, count := range shared {
		hits = append(hits, hit{pos, count})
	}
	slices.SortFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.pos, b.pos)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]catalog.Entry, len(hits))
	for i, h := range hits {
		out[i] = x.entries[h.pos]
	}
	return out
}

func (x *nameIndex) len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}
