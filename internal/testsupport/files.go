package testsupport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// WriteCatalog writes a catalog JSON file with one card per name. Names
// containing " // " become split cards with both faces.
func WriteCatalog(t testing.TB, path string, names ...string) {
	t.Helper()

	type face struct {
		Name string `json:"name"`
	}
	type card struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Layout string `json:"layout"`
		Faces  []face `json:"card_faces,omitempty"`
	}
	cards := make([]card, 0, len(names))
	for i, name := range names {
		c := card{ID: fmt.Sprintf("card-%03d", i), Name: name, Layout: "normal"}
		if parts := strings.Split(name, " // "); len(parts) > 1 {
			c.Layout = "split"
			for _, p := range parts {
				c.Faces = append(c.Faces, face{Name: p})
			}
		}
		cards = append(cards, c)
	}
	data, err := json.Marshal(cards)
	if err != nil {
		t.Fatalf("encode catalog: %v", err)
	}
	writeFile(t, path, data)
}

// WriteAliases writes a YAML alias file.
func WriteAliases(t testing.TB, path string, aliases map[string]string) {
	t.Helper()

	data, err := yaml.Marshal(map[string]map[string]string{"aliases": aliases})
	if err != nil {
		t.Fatalf("encode aliases: %v", err)
	}
	writeFile(t, path, data)
}

// TSV renders recognized lines as Tesseract TSV rows, one level-5 word row
// per line carrying the full text and the given confidence (0-100 scale).
func TSV(confidence float64, lines ...string) string {
	var b strings.Builder
	b.WriteString("level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n")
	for i, line := range lines {
		fmt.Fprintf(&b, "5\t1\t1\t1\t%d\t1\t0\t%d\t100\t20\t%.2f\t%s\n", i+1, i*20, confidence, line)
	}
	return b.String()
}

func writeFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
