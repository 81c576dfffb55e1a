package confidence

import (
	"fmt"
	"strings"

	"decklens/internal/config"
	"decklens/internal/services"
)

// Class is the resolution class of an input image.
type Class string

const (
	ClassSD    Class = "sd"
	Class720p  Class = "720p"
	Class1080p Class = "1080p"
	Class1440p Class = "1440p"
)

// Classify maps pixel dimensions to a resolution class using the shorter side,
// so portrait phone screenshots and landscape captures classify alike.
func Classify(width, height int) Class {
	short := min(width, height)
	if short <= 0 {
		short = max(width, height)
	}
	switch {
	case short >= 1440:
		return Class1440p
	case short >= 1080:
		return Class1080p
	case short >= 720:
		return Class720p
	default:
		return ClassSD
	}
}

// ParseClass accepts class names such as "1080p", "1080", "SD", or "4k".
func ParseClass(value string) (Class, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "sd", "480p", "480", "576p", "576":
		return ClassSD, true
	case "720p", "720", "hd":
		return Class720p, true
	case "1080p", "1080", "fhd":
		return Class1080p, true
	case "1440p", "1440", "qhd", "2160p", "2160", "4k", "uhd":
		return Class1440p, true
	default:
		return "", false
	}
}

// Band holds the thresholds for one resolution class.
type Band struct {
	EarlyStop float64
	Fallback  float64
	MinLines  int
}

// Input is one recognition summary to judge.
type Input struct {
	MeanConfidence float64
	LineCount      int
	Class          Class
}

// Decision is the evaluator's verdict.
type Decision struct {
	Accept            bool
	NeedsFallback     bool
	Band              Band
	EffectiveFallback float64
	Reason            string
}

// Policy evaluates recognition results against resolution-aware bands.
// It holds no mutable state and is safe for concurrent use.
type Policy struct {
	bands map[Class]Band
}

// NewPolicy builds a policy from configured bands. Every class must be present.
func NewPolicy(bands map[string]config.Band) (*Policy, error) {
	p := &Policy{bands: make(map[Class]Band, len(bands))}
	for _, name := range config.BandOrder {
		b, ok := bands[name]
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "confidence", "policy", fmt.Sprintf("missing band %q", name), nil)
		}
		if b.Fallback > b.EarlyStop {
			return nil, services.Wrap(services.ErrConfiguration, "confidence", "policy", fmt.Sprintf("band %q fallback exceeds early_stop", name), nil)
		}
		p.bands[Class(name)] = Band{EarlyStop: b.EarlyStop, Fallback: b.Fallback, MinLines: b.MinLines}
	}
	return p, nil
}

// DefaultPolicy returns the policy built from the repository default bands.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(config.DefaultBands())
	if err != nil {
		panic(err)
	}
	return p
}

// Band returns the thresholds for class, falling back to the SD band for
// unknown classes since it is the most permissive on confidence.
func (p *Policy) Band(class Class) Band {
	if b, ok := p.bands[class]; ok {
		return b
	}
	return p.bands[ClassSD]
}

// Evaluate judges in under the band for its class. adjustment is the circuit
// breaker's soft adaptation: it lowers the effective fallback threshold so a
// fallback becomes harder to trigger while the fallback rate is high.
//
// Accept is monotonic in MeanConfidence; NeedsFallback is antitone in both
// MeanConfidence and LineCount.
func (p *Policy) Evaluate(in Input, adjustment float64) Decision {
	band := p.Band(in.Class)
	effective := band.Fallback - max(adjustment, 0)
	if effective < 0 {
		effective = 0
	}

	d := Decision{Band: band, EffectiveFallback: effective}
	d.Accept = in.MeanConfidence >= band.EarlyStop
	lowConfidence := in.MeanConfidence < effective
	fewLines := in.LineCount < band.MinLines
	d.NeedsFallback = lowConfidence || fewLines

	switch {
	case lowConfidence && fewLines:
		d.Reason = "low confidence and too few lines"
	case lowConfidence:
		d.Reason = "low confidence"
	case fewLines:
		d.Reason = "too few lines"
	case d.Accept:
		d.Reason = "early stop threshold met"
	default:
		d.Reason = "within band"
	}
	return d
}
