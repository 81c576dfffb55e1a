package pipeline

import (
	"decklens/internal/confidence"
	"decklens/internal/resolve"
)

// Card is one resolved deck entry with merged quantity.
type Card struct {
	Section  string       `json:"section"`
	Quantity int          `json:"quantity"`
	Name     string       `json:"name"`
	EntryID  string       `json:"entry_id,omitempty"`
	Score    float64      `json:"score"`
	Tier     resolve.Tier `json:"tier"`
	Tokens   []string     `json:"tokens,omitempty"`
}

// Unresolved is a token that could not be mapped to a catalog entry.
type Unresolved struct {
	Section    string           `json:"section"`
	Quantity   int              `json:"quantity"`
	Token      string           `json:"token"`
	Status     resolve.Status   `json:"status"`
	Reason     string           `json:"reason"`
	Candidates []resolve.Scored `json:"candidates,omitempty"`
}

// Recognition summarizes the recognition phase.
type Recognition struct {
	Engine          string           `json:"engine"`
	Variant         string           `json:"variant"`
	Class           confidence.Class `json:"resolution_class"`
	MeanConfidence  float64          `json:"mean_confidence"`
	LineCount       int              `json:"line_count"`
	VariantsTried   int              `json:"variants_tried"`
	EarlyStop       bool             `json:"early_stop"`
	NeedsFallback   bool             `json:"needs_fallback"`
	UsedFallback    bool             `json:"used_fallback"`
	FallbackSkipped string           `json:"fallback_skipped,omitempty"`
	Adjustment      float64          `json:"breaker_adjustment,omitempty"`
}

// Result is the structured output of one pipeline run.
type Result struct {
	Cards       []Card       `json:"cards"`
	Unresolved  []Unresolved `json:"unresolved,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
	Partial     bool         `json:"partial"`
	Recognition Recognition  `json:"recognition"`
	Lines       []string     `json:"lines,omitempty"`
}

// CardCount returns the total quantity across resolved cards in section, or
// across every section when section is empty.
func (r Result) CardCount(section string) int {
	total := 0
	for _, c := range r.Cards {
		if section == "" || c.Section == section {
			total += c.Quantity
		}
	}
	return total
}

// FallbackUsed reports whether the secondary recognizer produced the lines.
func (r Result) FallbackUsed() bool { return r.Recognition.UsedFallback }
