package types

import "math"

// Embedding is a fixed-length face encoding (128-d for face_recognition).
type Embedding []float64

// Label identifies a known subject. It is derived from a sample image's filename.
type Label string

// Unknown is reported for faces that do not match any gallery entry.
const Unknown Label = "Unknown"

// Known reports whether the label names a gallery subject.
func (l Label) Known() bool { return l != Unknown }

// FaceBox locates a face as [top, right, bottom, left], the order face_recognition uses.
type FaceBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Scale multiplies every coordinate by factor, rounding half away from zero.
func (b FaceBox) Scale(factor float64) FaceBox {
	return FaceBox{
		Top:    int(math.Round(float64(b.Top) * factor)),
		Right:  int(math.Round(float64(b.Right) * factor)),
		Bottom: int(math.Round(float64(b.Bottom) * factor)),
		Left:   int(math.Round(float64(b.Left) * factor)),
	}
}

// Detection pairs a face location with the label the matcher assigned to it.
type Detection struct {
	Box      FaceBox `json:"box"`
	Label    Label   `json:"label"`
	Distance float64 `json:"distance"` // to the nearest gallery entry, -1 if the gallery is empty
}

// DetectionResult lists detections in the order the provider returned the boxes.
type DetectionResult []Detection

// Labels returns the label of every detection, in order.
func (r DetectionResult) Labels() []Label {
	labels := make([]Label, len(r))
	for i, d := range r {
		labels[i] = d.Label
	}
	return labels
}

// FaceResult is one face as decoded from the worker wire protocol.
type FaceResult struct {
	Loc FaceBox   `json:"loc"`
	Vec Embedding `json:"vec"`
}

