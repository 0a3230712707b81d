// Package gallery holds the labelled reference embeddings faces are matched against.
//
// A Gallery is immutable once built. Rebuilding produces a new Gallery which is
// published through a Holder, so readers always observe either the old or the new
// gallery in full.
package gallery

import (
	"sync/atomic"

	"github.com/andresmejia3/facerec/internal/types"
)

// Entry is one reference sample: a label and the embedding extracted from its image.
type Entry struct {
	Label     types.Label
	Embedding types.Embedding
	Source    string // file name the entry was built from
}

// Gallery is an ordered, read-only list of entries.
type Gallery struct {
	entries []Entry
}

// New returns a gallery holding copies of entries, in the given order.
func New(entries []Entry) *Gallery {
	cp := make([]Entry, len(entries))
	for i, e := range entries {
		cp[i] = Entry{
			Label:     e.Label,
			Embedding: append(types.Embedding(nil), e.Embedding...),
			Source:    e.Source,
		}
	}
	return &Gallery{entries: cp}
}

// Empty returns a gallery with no entries. It never matches.
func Empty() *Gallery { return &Gallery{} }

// Len returns the number of entries.
func (g *Gallery) Len() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

// At returns the i-th entry. The embedding must not be modified.
func (g *Gallery) At(i int) Entry { return g.entries[i] }

// Entries returns the entries in insertion order. The slice is shared and must not be modified.
func (g *Gallery) Entries() []Entry {
	if g == nil {
		return nil
	}
	return g.entries
}

// Labels returns every entry's label in insertion order.
func (g *Gallery) Labels() []types.Label {
	labels := make([]types.Label, g.Len())
	for i, e := range g.Entries() {
		labels[i] = e.Label
	}
	return labels
}

// Dim returns the embedding length shared by the entries, or 0 for an empty gallery.
func (g *Gallery) Dim() int {
	if g.Len() == 0 {
		return 0
	}
	return len(g.entries[0].Embedding)
}

// Holder publishes the current gallery to concurrent readers.
type Holder struct {
	current atomic.Pointer[Gallery]
}

// NewHolder returns a Holder serving g (an empty gallery if g is nil).
func NewHolder(g *Gallery) *Holder {
	h := &Holder{}
	h.Swap(g)
	return h
}

// Load returns the gallery currently being served. It is never nil.
func (h *Holder) Load() *Gallery {
	return h.current.Load()
}

// Swap atomically replaces the served gallery and returns the previous one.
func (h *Holder) Swap(g *Gallery) *Gallery {
	if g == nil {
		g = Empty()
	}
	return h.current.Swap(g)
}
