package provider

import (
	"context"
	"image"

	"github.com/andresmejia3/facerec/internal/types"
)

// EmbeddingProvider is the face detection and encoding capability backing the
// gallery builder and the frame pipeline. Implementations receive 3-channel RGB
// images (alpha already dropped).
type EmbeddingProvider interface {
	// Detect returns the face boxes found in img, in detector order.
	Detect(ctx context.Context, img image.Image) ([]types.FaceBox, error)

	// Embed returns one embedding per box, index-aligned with boxes.
	// A nil boxes slice asks the provider to detect faces itself and encode all of them.
	Embed(ctx context.Context, img image.Image, boxes []types.FaceBox) ([]types.Embedding, error)
}
