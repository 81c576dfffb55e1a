package deps

import (
	"os"
	"path/filepath"
	"testing"

	"decklens/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
	if got := Missing(results); len(got) != 2 {
		t.Fatalf("expected 2 missing requirements, got %d", len(got))
	}
}

func TestEngineRequirements(t *testing.T) {
	cfg := config.Default()
	cfg.Recognizer.Primary = config.Engine{Name: "tesseract", Command: "tesseract"}
	cfg.Recognizer.Fallback = config.Engine{}

	reqs := EngineRequirements(&cfg)
	if len(reqs) != 1 || reqs[0].Name != "tesseract" || reqs[0].Optional {
		t.Fatalf("unexpected requirements without fallback: %+v", reqs)
	}

	cfg.Recognizer.Fallback = config.Engine{Command: "paddleocr"}
	reqs = EngineRequirements(&cfg)
	if len(reqs) != 2 || reqs[1].Name != "fallback" || !reqs[1].Optional {
		t.Fatalf("unexpected requirements with fallback: %+v", reqs)
	}

	statuses := CheckBinaries([]Requirement{{Name: "fallback", Command: "clearly-not-present-binary", Optional: true}})
	if len(Missing(statuses)) != 0 {
		t.Fatal("optional engines must not count as missing")
	}
}
