package catalog

import (
	"context"
	"strings"
)

// FaceSeparator joins the faces of a multi-face card name.
const FaceSeparator = " // "

// Layouts whose printed name spans every face.
var combinedLayouts = map[string]struct{}{
	"split":     {},
	"fuse":      {},
	"aftermath": {},
}

// Entry is one canonical catalog card.
type Entry struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Layout string   `json:"layout,omitempty"`
	Faces  []string `json:"faces,omitempty"`
}

// CanonicalName returns the name a resolved token maps to. Split, fuse and
// aftermath cards keep the full "A // B" name; every other multi-face layout
// resolves to its front face.
func (e Entry) CanonicalName() string {
	if _, ok := combinedLayouts[strings.ToLower(e.Layout)]; ok {
		return e.Name
	}
	if len(e.Faces) > 0 && strings.TrimSpace(e.Faces[0]) != "" {
		return e.Faces[0]
	}
	if front, _, ok := strings.Cut(e.Name, FaceSeparator); ok {
		return front
	}
	return e.Name
}

// Names returns every string the entry answers to: the printed name and each
// face name, without duplicates.
func (e Entry) Names() []string {
	seen := make(map[string]struct{}, len(e.Faces)+1)
	out := make([]string, 0, len(e.Faces)+1)
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	add(e.Name)
	for _, face := range e.Faces {
		add(face)
	}
	if len(e.Faces) == 0 && strings.Contains(e.Name, FaceSeparator) {
		for _, face := range strings.Split(e.Name, FaceSeparator) {
			add(face)
		}
	}
	return out
}

// Key identifies an entry: its ID when known, otherwise its printed name.
func (e Entry) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return strings.ToLower(e.Name)
}

// Candidate is one entry offered by a lookup.
type Candidate struct {
	Entry  Entry  `json:"entry"`
	Source string `json:"source,omitempty"`
}

// Lookup is the remote authoritative name search.
type Lookup interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, query string) ([]Candidate, error)

// Search calls f.
func (f LookupFunc) Search(ctx context.Context, query string) ([]Candidate, error) {
	return f(ctx, query)
}
