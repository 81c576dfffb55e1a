package testsupport

import (
	"context"
	"testing"

	"decklens/internal/config"
	"decklens/internal/storage"
)

// MustOpenBackend opens the configured storage backend for tests and
// registers cleanup.
func MustOpenBackend(t testing.TB, cfg *config.Config) storage.Backend {
	t.Helper()

	backend, err := storage.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = backend.Close()
	})
	return backend
}
