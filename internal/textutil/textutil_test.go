package textutil

import (
	"math"
	"slices"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Lightning Bolt", "lightning bolt"},
		{"  LIGHTNING   bolt ", "lightning bolt"},
		{"Lim-Dûl’s Vault", "lim duls vault"},
		{"Fire // Ice", "fire // ice"},
		{"Fire/Ice", "fire // ice"},
		{"Fire | Ice", "fire // ice"},
		{"Æther Vial", "aether vial"},
		{"Jötun Grunt", "jotun grunt"},
		{"Ach! Hans, Run!", "ach hans run"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokensAndFaces(t *testing.T) {
	n := Normalize("Fire // Ice")
	if got := Tokens(n); !slices.Equal(got, []string{"fire", "ice"}) {
		t.Fatalf("Tokens = %v", got)
	}
	if got := Faces(n); !slices.Equal(got, []string{"fire", "ice"}) {
		t.Fatalf("Faces = %v", got)
	}
	if got := Faces("wildfire"); !slices.Equal(got, []string{"wildfire"}) {
		t.Fatalf("Faces = %v", got)
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"fire", "wildfire", 4},
		{"jötun", "jotun", 1},
	}
	for _, tt := range tests {
		if got := Levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("Levenshtein(%q,%q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := Levenshtein(tt.b, tt.a); got != tt.want {
			t.Errorf("Levenshtein(%q,%q) not symmetric: %d", tt.b, tt.a, got)
		}
	}
	if got := LevenshteinSimilarity("fire", "wildfire"); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("LevenshteinSimilarity = %v, want 0.5", got)
	}
	if LevenshteinSimilarity("", "") != 1 {
		t.Fatal("empty strings are identical")
	}
}

func TestSoundex(t *testing.T) {
	tests := map[string]string{
		"Robert":   "R163",
		"Rupert":   "R163",
		"Ashcraft": "A261",
		"Tymczak":  "T522",
		"fire":     "F600",
		"wildfire": "W431",
		"a":        "A000",
		"2":        "2",
		"!!":       "",
	}
	for in, want := range tests {
		if got := Soundex(in); got != want {
			t.Errorf("Soundex(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSoundexAgreement(t *testing.T) {
	if got := SoundexAgreement([]string{"lightning", "bolt"}, []string{"lightnlng", "bolt"}); got != 1 {
		t.Fatalf("expected full agreement for OCR slip, got %v", got)
	}
	if got := SoundexAgreement([]string{"lightning", "bolt"}, []string{"bolt"}); got != 0.5 {
		t.Fatalf("expected half agreement, got %v", got)
	}
	if got := SoundexAgreement(nil, nil); got != 0 {
		t.Fatalf("expected zero for empty input, got %v", got)
	}
}

func TestTrigrams(t *testing.T) {
	got := Trigrams("ice")
	want := []string{"  i", " ic", "ice", "ce "}
	if !slices.Equal(got, want) {
		t.Fatalf("Trigrams = %q, want %q", got, want)
	}
	if Trigrams("") != nil {
		t.Fatal("expected no grams for empty input")
	}
}
