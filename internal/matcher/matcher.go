package matcher

import (
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/facerec/internal/gallery"
	"github.com/andresmejia3/facerec/internal/types"
)

// DefaultThreshold is the face_recognition default tolerance: distances at or below it
// count as the same person. Lower is stricter.
const DefaultThreshold = 0.6

// ErrDimensionMismatch is returned when a query embedding and the gallery differ in length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Candidate describes the gallery entry nearest to a query.
type Candidate struct {
	Index    int // -1 when the gallery is empty
	Label    types.Label
	Distance float64
	Matched  bool // the entry's distance is within the threshold
}

// Matcher classifies embeddings by nearest neighbour with an acceptance threshold.
type Matcher struct {
	Threshold float64
}

// New returns a Matcher using threshold, or DefaultThreshold if threshold is not
// a positive finite number.
func New(threshold float64) *Matcher {
	if !(threshold > 0) || math.IsInf(threshold, 1) {
		threshold = DefaultThreshold
	}
	return &Matcher{Threshold: threshold}
}

// Match returns the label of the nearest gallery entry if that entry is within the
// threshold, and types.Unknown otherwise.
func (m *Matcher) Match(g *gallery.Gallery, q types.Embedding) (types.Label, error) {
	c, err := m.Nearest(g, q)
	if err != nil {
		return types.Unknown, err
	}
	return c.Label, nil
}

// Nearest finds the entry with the smallest distance to q (first one on ties) and
// reports whether that entry passes the threshold. Label is types.Unknown unless it does.
//
// Threshold flags are computed for every entry but only the arg-min entry's flag is
// consulted. A NaN distance is treated as the minimum, so a corrupt entry shadows the
// rest of the gallery and yields Unknown.
func (m *Matcher) Nearest(g *gallery.Gallery, q types.Embedding) (Candidate, error) {
	none := Candidate{Index: -1, Label: types.Unknown, Distance: -1}
	if g.Len() == 0 {
		return none, nil
	}

	distances, err := Distances(g, q)
	if err != nil {
		return none, err
	}
	matches := CompareFaces(distances, m.Threshold)

	best := argmin(distances)
	c := Candidate{
		Index:    best,
		Label:    types.Unknown,
		Distance: distances[best],
		Matched:  matches[best],
	}
	if c.Matched {
		c.Label = g.At(best).Label
	}
	return c, nil
}

// Distances returns the Euclidean distance from q to every entry, in gallery order.
func Distances(g *gallery.Gallery, q types.Embedding) ([]float64, error) {
	out := make([]float64, g.Len())
	for i, e := range g.Entries() {
		if len(e.Embedding) != len(q) {
			return nil, fmt.Errorf("%w: query has %d dimensions, gallery entry %q has %d",
				ErrDimensionMismatch, len(q), e.Label, len(e.Embedding))
		}
		out[i] = Euclidean(e.Embedding, q)
	}
	return out, nil
}

// CompareFaces flags every distance that is within threshold.
func CompareFaces(distances []float64, threshold float64) []bool {
	flags := make([]bool, len(distances))
	for i, d := range distances {
		flags[i] = d <= threshold
	}
	return flags
}

// Euclidean returns the L2 distance between two equal-length vectors.
func Euclidean(a, b types.Embedding) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// argmin returns the index of the smallest value, the first on ties. The first NaN,
// if any, wins outright. xs must not be empty.
func argmin(xs []float64) int {
	best := 0
	for i, x := range xs {
		if math.IsNaN(x) {
			return i
		}
		if x < xs[best] {
			best = i
		}
	}
	return best
}
