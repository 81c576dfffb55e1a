package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDeckFormats(t *testing.T) {
	lines := []string{
		"Deck",
		"Creatures (12)",
		"4 Lightning Bolt",
		"4x Counterspell",
		"Brainstorm x3",
		"1 Fire // Ice (MH2) 290",
		"2 Bonecrusher Giant (ELD) 115 *F*",
		"1 Opt [XLN]",
		"",
		"# comment",
		"-----",
		"Lands 24",
		"Island",
		"SB: 2 Duress",
		"Sideboard (15)",
		"3 Pyroblast",
		"Commander",
		"1 Atraxa, Praetors' Voice",
	}
	got := ParseDeck(lines)

	want := []struct {
		section string
		qty     int
		name    string
	}{
		{SectionMain, 4, "Lightning Bolt"},
		{SectionMain, 4, "Counterspell"},
		{SectionMain, 3, "Brainstorm"},
		{SectionMain, 1, "Fire // Ice"},
		{SectionMain, 2, "Bonecrusher Giant"},
		{SectionMain, 1, "Opt"},
		{SectionMain, 1, "Island"},
		{SectionSideboard, 2, "Duress"},
		{SectionSideboard, 3, "Pyroblast"},
		{SectionCommander, 1, "Atraxa, Praetors' Voice"},
	}
	if assert.Len(t, got, len(want)) {
		for i, w := range want {
			assert.Equal(t, w.section, got[i].Section, "line %d", i)
			assert.Equal(t, w.qty, got[i].Quantity, "line %d", i)
			assert.Equal(t, w.name, got[i].Name, "line %d", i)
		}
	}
}

func TestParseDeckHeaders(t *testing.T) {
	tests := []struct {
		line    string
		section string
		header  bool
	}{
		{"Sideboard", SectionSideboard, true},
		{"SIDEBOARD:", SectionSideboard, true},
		{"Maybeboard (4)", SectionMaybeboard, true},
		{"Companion", SectionCompanion, true},
		{"Main deck", "", false},
		{"4 Sideboard Guardian", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			section, ok := headerSection(tt.line)
			assert.Equal(t, tt.header, ok)
			if tt.header {
				assert.Equal(t, tt.section, section)
			}
		})
	}
}

func TestParseDeckKeepsRawText(t *testing.T) {
	got := ParseDeck([]string{"  4 Lightning Bolt (M11) 146  "})
	if assert.Len(t, got, 1) {
		assert.Equal(t, "  4 Lightning Bolt (M11) 146  ", got[0].Raw)
		assert.Equal(t, "Lightning Bolt", got[0].Name)
	}
}

func TestParseDeckSkipsNumericNoise(t *testing.T) {
	assert.Empty(t, ParseDeck([]string{"60", "  ", "4 12", "//"}))
}
