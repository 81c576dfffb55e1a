package catalog_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"decklens/internal/catalog"
	"decklens/internal/services"
)

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		name  string
		entry catalog.Entry
		want  string
	}{
		{"single", catalog.Entry{Name: "Lightning Bolt", Layout: "normal"}, "Lightning Bolt"},
		{"split keeps both halves", catalog.Entry{Name: "Fire // Ice", Layout: "split", Faces: []string{"Fire", "Ice"}}, "Fire // Ice"},
		{"aftermath", catalog.Entry{Name: "Commit // Memory", Layout: "aftermath"}, "Commit // Memory"},
		{"transform uses front", catalog.Entry{Name: "Delver of Secrets // Insectile Aberration", Layout: "transform", Faces: []string{"Delver of Secrets", "Insectile Aberration"}}, "Delver of Secrets"},
		{"adventure without faces", catalog.Entry{Name: "Bonecrusher Giant // Stomp", Layout: "adventure"}, "Bonecrusher Giant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.CanonicalName(); got != tt.want {
				t.Fatalf("CanonicalName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNamesIncludesFaces(t *testing.T) {
	names := catalog.Entry{Name: "Fire // Ice", Layout: "split"}.Names()
	want := []string{"Fire // Ice", "Fire", "Ice"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}
}

func TestParseIndexSnapshotTracksContent(t *testing.T) {
	data := []byte(`[
		{"object":"card","id":"a1","name":"Fire // Ice","layout":"split","card_faces":[{"name":"Fire"},{"name":"Ice"}]},
		{"object":"card","id":"b2","name":"Wildfire","layout":"normal"},
		{"object":"card","id":"c3","name":""}
	]`)
	idx, err := catalog.ParseIndex(data)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", idx.Len())
	}
	if got := idx.Entries()[0].Faces; len(got) != 2 || got[1] != "Ice" {
		t.Fatalf("unexpected faces: %v", got)
	}

	other, err := catalog.ParseIndex(append([]byte(" "), data...))
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if other.SnapshotID() == idx.SnapshotID() {
		t.Fatal("snapshot id must change with file content")
	}

	if idx.Add(catalog.Entry{ID: "b2", Name: "Wildfire", Layout: "normal"}) {
		t.Fatal("re-adding an existing id must replace, not append")
	}
	if !idx.Add(catalog.Entry{Name: "Ice Age"}) || idx.Len() != 3 {
		t.Fatal("expected new entry to be appended")
	}
}

func TestLoadIndexMissingFile(t *testing.T) {
	idx, err := catalog.LoadIndex(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if idx.Len() != 0 || idx.SnapshotID() != "empty" {
		t.Fatalf("unexpected index: len=%d snapshot=%s", idx.Len(), idx.SnapshotID())
	}
}

func TestParseIndexRejectsInvalidJSON(t *testing.T) {
	if _, err := catalog.ParseIndex([]byte(`{`)); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoadAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	if err := os.WriteFile(path, []byte("aliases:\n  bolt: Lightning Bolt\n  \"fire/ice\": Fire // Ice\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	aliases, err := catalog.LoadAliases(path)
	if err != nil {
		t.Fatalf("LoadAliases: %v", err)
	}
	if aliases["bolt"] != "Lightning Bolt" || aliases["fire/ice"] != "Fire // Ice" {
		t.Fatalf("unexpected aliases: %v", aliases)
	}

	if _, err := catalog.ParseAliases([]byte("aliases:\n  bolt: \"\"\n")); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for empty target, got %v", err)
	}
	empty, err := catalog.LoadAliases("")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no aliases, got %v %v", empty, err)
	}
}

func newClient(t *testing.T, handler http.HandlerFunc) *catalog.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := catalog.New(server.URL, "decklens-test", catalog.WithMinInterval(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestClientSearchNamed(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cards/named" || r.URL.Query().Get("fuzzy") != "fire ice" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if r.Header.Get("User-Agent") != "decklens-test" {
			t.Errorf("missing user agent, got %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"card","id":"a1","name":"Fire // Ice","layout":"split","card_faces":[{"name":"Fire"},{"name":"Ice"}]}`))
	})

	got, err := client.Search(context.Background(), "fire ice")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Entry.CanonicalName() != "Fire // Ice" || got[0].Source != catalog.SourceNamed {
		t.Fatalf("unexpected candidates: %#v", got)
	}
}

func TestClientSearchAmbiguousUsesAutocomplete(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cards/named":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"object":"error","code":"not_found","type":"ambiguous","details":"Too many cards match"}`))
		case "/cards/autocomplete":
			_, _ = w.Write([]byte(`{"object":"catalog","data":["Fireball","Fire // Ice"]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	got, err := client.Search(context.Background(), "fire")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 || got[1].Entry.Name != "Fire // Ice" || got[0].Source != catalog.SourceAutocomplete {
		t.Fatalf("unexpected candidates: %#v", got)
	}
}

func TestClientSearchNotFound(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"object":"error","code":"not_found"}`))
	})
	got, err := client.Search(context.Background(), "xyz")
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no candidates and no error, got %v %v", got, err)
	}
}

func TestClientSearchServerErrorIsTransient(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := client.Search(context.Background(), "fire")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}

	bad := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err = bad.Search(context.Background(), "fire")
	if err == nil || errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestClientSearchEmptyQuery(t *testing.T) {
	client, err := catalog.New("https://example.com", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.Search(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty query")
	}
	if _, err := catalog.New(" ", ""); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
