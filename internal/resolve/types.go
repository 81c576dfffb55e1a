package resolve

import (
	"time"

	"decklens/internal/catalog"
	"decklens/internal/config"
)

// Tier names the layer that produced a resolution.
type Tier string

const (
	TierExact  Tier = "exact"
	TierFuzzy  Tier = "fuzzy"
	TierRemote Tier = "remote"
)

// authority orders tiers for cache writes.
func (t Tier) authority() int {
	switch t {
	case TierExact:
		return 3
	case TierRemote:
		return 2
	case TierFuzzy:
		return 1
	default:
		return 0
	}
}

// Status is the outcome of one Resolve call.
type Status string

const (
	StatusResolved   Status = "resolved"
	StatusAmbiguous  Status = "ambiguous"
	StatusUnresolved Status = "unresolved"
)

// Scored is one ranked candidate.
type Scored struct {
	Entry catalog.Entry `json:"entry"`
	Score float64       `json:"score"`
}

// Resolution is the answer for one raw token.
type Resolution struct {
	Query      string         `json:"query"`
	Normalized string         `json:"normalized"`
	Status     Status         `json:"status"`
	Entry      *catalog.Entry `json:"entry,omitempty"`
	Name       string         `json:"name,omitempty"`
	Score      float64        `json:"score,omitempty"`
	Tier       Tier           `json:"tier,omitempty"`
	Candidates []Scored       `json:"candidates,omitempty"`
	CacheHit   bool           `json:"cache_hit"`
	Reason     string         `json:"reason,omitempty"`
}

// Resolved reports whether the token maps to an entry.
func (r Resolution) Resolved() bool { return r.Status == StatusResolved && r.Entry != nil }

// Options tunes acceptance and the remote tier.
type Options struct {
	AcceptanceThreshold float64
	AmbiguityMargin     float64
	TopK                int
	MaxCandidates       int
	ExactTTL            time.Duration
	FuzzyTTL            time.Duration
	RemoteTTL           time.Duration
	RemoteTimeout       time.Duration
	RemoteMaxRetries    int
	RemoteBackoff       time.Duration
	RemoteMaxBackoff    time.Duration
	RateLimitKey        string
}

// OptionsFrom converts the [resolution] section.
func OptionsFrom(r config.Resolution) Options {
	return Options{
		AcceptanceThreshold: r.AcceptanceThreshold,
		AmbiguityMargin:     r.AmbiguityMargin,
		TopK:                r.TopK,
		MaxCandidates:       r.MaxCandidates,
		ExactTTL:            r.ExactTTL(),
		FuzzyTTL:            r.FuzzyTTL(),
		RemoteTTL:           r.RemoteTTL(),
		RemoteTimeout:       r.RemoteTimeoutDuration(),
		RemoteMaxRetries:    r.RemoteMaxRetries,
		RemoteBackoff:       r.RemoteBackoff(),
		RemoteMaxBackoff:    r.RemoteMaxBackoff(),
	}
}

// DefaultOptions returns options built from the repository defaults.
func DefaultOptions() Options {
	return OptionsFrom(config.Default().Resolution)
}

func (o Options) normalized() Options {
	if o.AcceptanceThreshold <= 0 {
		o.AcceptanceThreshold = 0.90
	}
	if o.AmbiguityMargin < 0 {
		o.AmbiguityMargin = 0
	}
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = 64
	}
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = 5 * time.Second
	}
	if o.RemoteMaxRetries < 0 {
		o.RemoteMaxRetries = 0
	}
	if o.RemoteBackoff <= 0 {
		o.RemoteBackoff = 250 * time.Millisecond
	}
	if o.RemoteMaxBackoff < o.RemoteBackoff {
		o.RemoteMaxBackoff = o.RemoteBackoff
	}
	if o.RateLimitKey == "" {
		o.RateLimitKey = "catalog"
	}
	return o
}

func (o Options) ttl(t Tier) time.Duration {
	switch t {
	case TierExact:
		return o.ExactTTL
	case TierRemote:
		return o.RemoteTTL
	default:
		return o.FuzzyTTL
	}
}
