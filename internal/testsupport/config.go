package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"decklens/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Storage defaults to the in-memory backend and the remote catalog is off.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.CatalogFile = filepath.Join(base, "catalog.json")
	cfgVal.Storage.Backend = "memory"
	cfgVal.Storage.SQLitePath = filepath.Join(base, "state", "decklens.db")
	cfgVal.Catalog.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSQLite switches the test config to the sqlite backend under the temp dir.
func WithSQLite() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.Backend = "sqlite"
	}
}

// WithCatalog writes a catalog file holding the given card names.
func WithCatalog(names ...string) ConfigOption {
	return func(b *configBuilder) {
		WriteCatalog(b.t, b.cfg.Paths.CatalogFile, names...)
	}
}

// WithAliases writes an alias file mapping alias to card name.
func WithAliases(aliases map[string]string) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "aliases.yaml")
		WriteAliases(b.t, path, aliases)
		b.cfg.Paths.AliasFile = path
	}
}

// WithStubRecognizer writes a shell script that prints tsv for any input and
// configures it as the primary recognizer. The fallback recognizer is
// disabled unless fallbackTSV is non-empty.
func WithStubRecognizer(primaryTSV, fallbackTSV string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		b.cfg.Recognizer.Primary.Command = writeStub(b.t, filepath.Join(binDir, "ocr-primary"), primaryTSV)
		b.cfg.Recognizer.Primary.Args = []string{"{input}"}
		b.cfg.Recognizer.Fallback.Command = ""
		if fallbackTSV != "" {
			b.cfg.Recognizer.Fallback.Command = writeStub(b.t, filepath.Join(binDir, "ocr-fallback"), fallbackTSV)
			b.cfg.Recognizer.Fallback.Args = []string{"{input}"}
		}
	}
}

func writeStub(t testing.TB, path, tsv string) string {
	t.Helper()
	dataPath := path + ".tsv"
	if err := os.WriteFile(dataPath, []byte(tsv), 0o644); err != nil {
		t.Fatalf("write stub data %s: %v", dataPath, err)
	}
	script := []byte("#!/bin/sh\ncat '" + dataPath + "'\n")
	if err := os.WriteFile(path, script, 0o755); err != nil {
		t.Fatalf("write stub %s: %v", path, err)
	}
	return path
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
