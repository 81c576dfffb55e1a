package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"decklens/internal/config"
	"decklens/internal/testsupport"
)

var deckNames = []string{"Lightning Bolt", "Counterspell", "Brainstorm", "Island", "Duress", "Fire // Ice"}

var deckText = []string{
	"Deck",
	"4 Lightning Bolt",
	"4 Counterspell",
	"4 Brainstorm",
	"20 Island",
	"2 Lightnin Bolt",
	"1 Fyre // Ice",
	"1 Xyzzy",
	"Sideboard",
	"3 Duress",
}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	imagePath  string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	base := []testsupport.ConfigOption{
		testsupport.WithSQLite(),
		testsupport.WithCatalog(deckNames...),
		testsupport.WithStubRecognizer(testsupport.TSV(93, deckText...), ""),
	}
	cfg := testsupport.NewConfig(t, append(base, opts...)...)
	cfg.Logging.Level = "error"

	dir := testsupport.BaseDir(cfg)
	configPath := filepath.Join(dir, "config.toml")
	writeTestConfig(t, configPath, cfg)

	imagePath := filepath.Join(dir, "deck.png")
	if err := os.WriteFile(imagePath, []byte("deck screenshot"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath, imagePath: imagePath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\noutput:\n%s", needle, haystack)
	}
}
