package breaker

import (
	"slices"
	"sync"
)

// Set holds one breaker per engine name. Breakers are created on first use
// and share the same configuration and options.
type Set struct {
	cfg  Config
	opts []Option

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet builds an empty set.
func NewSet(cfg Config, opts ...Option) *Set {
	return &Set{cfg: cfg, opts: opts, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for engine, creating it when absent.
func (s *Set) Get(engine string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[engine]; ok {
		return b
	}
	b := New(engine, s.cfg, s.opts...)
	s.breakers[engine] = b
	return b
}

// Snapshots returns a snapshot for every known engine, sorted by name.
func (s *Set) Snapshots() []Snapshot {
	s.mu.Lock()
	list := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		list = append(list, b)
	}
	s.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		switch {
		case a.Engine < b.Engine:
			return -1
		case a.Engine > b.Engine:
			return 1
		}
		return 0
	})
	return out
}
