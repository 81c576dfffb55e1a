package pipeline

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Deck sections.
const (
	SectionMain       = "main"
	SectionSideboard  = "sideboard"
	SectionCommander  = "commander"
	SectionCompanion  = "companion"
	SectionMaybeboard = "maybeboard"
)

var sectionHeaders = map[string]string{
	"deck":       SectionMain,
	"main":       SectionMain,
	"maindeck":   SectionMain,
	"mainboard":  SectionMain,
	"sideboard":  SectionSideboard,
	"side":       SectionSideboard,
	"sb":         SectionSideboard,
	"commander":  SectionCommander,
	"commanders": SectionCommander,
	"companion":  SectionCompanion,
	"maybeboard": SectionMaybeboard,
	"maybe":      SectionMaybeboard,
}

var categoryHeaders = map[string]struct{}{
	"creature": {}, "creatures": {},
	"instant": {}, "instants": {},
	"sorcery": {}, "sorceries": {},
	"artifact": {}, "artifacts": {},
	"enchantment": {}, "enchantments": {},
	"planeswalker": {}, "planeswalkers": {},
	"land": {}, "lands": {},
	"battle": {}, "battles": {},
	"spells": {}, "other": {}, "tokens": {},
}

var (
	headerCount     = regexp.MustCompile(`\s*(?:\(\s*\d+\s*\)|:\s*\d*|\d+)\s*$`)
	leadingQuantity = regexp.MustCompile(`^(\d{1,3})\s*[xX]?\s+(.+)$`)
	trailingQty     = regexp.MustCompile(`^(.+?)\s+[xX]\s?(\d{1,3})$`)
	setSuffix       = regexp.MustCompile(`\s+\(\s*[A-Za-z0-9]{2,6}\s*\)(?:\s+[A-Za-z0-9★-]+)?\s*$`)
	bracketSuffix   = regexp.MustCompile(`\s+\[[^\]]*\]\s*$`)
	foilMarker      = regexp.MustCompile(`\s+\*[A-Za-z]+\*\s*$`)
	sideboardPrefix = regexp.MustCompile(`(?i)^sb:\s*`)
)

// DeckLine is one parsed card line.
type DeckLine struct {
	Section  string `json:"section"`
	Quantity int    `json:"quantity"`
	Name     string `json:"name"`
	Raw      string `json:"raw"`
}

// ParseDeck parses recognized text lines into card lines. Section headers
// switch the current section; category headers, comments and lines without
// letters are skipped.
func ParseDeck(lines []string) []DeckLine {
	section := SectionMain
	out := make([]DeckLine, 0, len(lines))
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		if !strings.ContainsFunc(line, unicode.IsLetter) {
			continue
		}
		if next, ok := headerSection(line); ok {
			section = next
			continue
		}
		if isCategoryHeader(line) {
			continue
		}

		lineSection := section
		if loc := sideboardPrefix.FindStringIndex(line); loc != nil {
			lineSection = SectionSideboard
			line = strings.TrimSpace(line[loc[1]:])
		}

		qty, name := splitQuantity(line)
		name = stripSuffixes(name)
		if name == "" || !strings.ContainsFunc(name, unicode.IsLetter) {
			continue
		}
		out = append(out, DeckLine{Section: lineSection, Quantity: qty, Name: name, Raw: raw})
	}
	return out
}

func headerLabel(line string) string {
	label := headerCount.ReplaceAllString(line, "")
	return strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(label), ":")))
}

func headerSection(line string) (string, bool) {
	section, ok := sectionHeaders[headerLabel(line)]
	return section, ok
}

func isCategoryHeader(line string) bool {
	_, ok := categoryHeaders[headerLabel(line)]
	return ok
}

func splitQuantity(line string) (int, string) {
	if m := leadingQuantity.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n, strings.TrimSpace(m[2])
		}
	}
	if m := trailingQty.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil && n > 0 {
			return n, strings.TrimSpace(m[1])
		}
	}
	return 1, line
}

func stripSuffixes(name string) string {
	for {
		trimmed := foilMarker.ReplaceAllString(name, "")
		trimmed = bracketSuffix.ReplaceAllString(trimmed, "")
		trimmed = setSuffix.ReplaceAllString(trimmed, "")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == name {
			return trimmed
		}
		name = trimmed
	}
}
