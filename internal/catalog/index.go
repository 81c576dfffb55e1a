package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"decklens/internal/services"
)

// cardPayload mirrors the card objects of Scryfall bulk files and API
// responses. Only the fields used for name resolution are decoded.
type cardPayload struct {
	Object    string `json:"object"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Layout    string `json:"layout"`
	CardFaces []struct {
		Name string `json:"name"`
	} `json:"card_faces"`
	Faces []string `json:"faces"`
}

func (p cardPayload) entry() Entry {
	e := Entry{ID: p.ID, Name: strings.TrimSpace(p.Name), Layout: strings.TrimSpace(p.Layout)}
	for _, face := range p.CardFaces {
		if name := strings.TrimSpace(face.Name); name != "" {
			e.Faces = append(e.Faces, name)
		}
	}
	if len(e.Faces) == 0 {
		for _, face := range p.Faces {
			if name := strings.TrimSpace(face); name != "" {
				e.Faces = append(e.Faces, name)
			}
		}
	}
	return e
}

// Index is the local reference catalog.
type Index struct {
	snapshot string

	mu      sync.RWMutex
	entries []Entry
	byKey   map[string]int
}

// NewIndex builds an index over entries with the given snapshot id.
func NewIndex(snapshot string, entries []Entry) *Index {
	idx := &Index{snapshot: snapshot, byKey: make(map[string]int, len(entries))}
	for _, e := range entries {
		idx.Add(e)
	}
	return idx
}

// ParseIndex decodes a JSON array of card objects. The snapshot id is the
// hex SHA-256 of data.
func ParseIndex(data []byte) (*Index, error) {
	var payload []cardPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "parse index", "decode catalog json", err)
	}
	entries := make([]Entry, 0, len(payload))
	for _, p := range payload {
		e := p.entry()
		if e.Name == "" {
			continue
		}
		entries = append(entries, e)
	}
	sum := sha256.Sum256(data)
	return NewIndex(hex.EncodeToString(sum[:]), entries), nil
}

// LoadIndex reads and parses the catalog file at path. A missing file yields
// an empty index with snapshot id "empty" so remote lookups still work.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewIndex("empty", nil), nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "load index", fmt.Sprintf("read %s", path), err)
	}
	return ParseIndex(data)
}

// SnapshotID identifies the catalog content this index was built from.
func (i *Index) SnapshotID() string { return i.snapshot }

// Add inserts or replaces an entry and reports whether it was new.
func (i *Index) Add(e Entry) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	key := e.Key()
	if pos, ok := i.byKey[key]; ok {
		i.entries[pos] = e
		return false
	}
	i.byKey[key] = len(i.entries)
	i.entries = append(i.entries, e)
	return true
}

// Entries returns a copy of every entry.
func (i *Index) Entries() []Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Entry, len(i.entries))
	copy(out, i.entries)
	return out
}

// Len returns the number of entries.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}
