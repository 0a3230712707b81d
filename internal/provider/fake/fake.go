// Package fake provides a deterministic provider.EmbeddingProvider for tests and
// local development without the Python worker.
package fake

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/andresmejia3/facerec/internal/types"
)

// Face is a canned detection returned by a fixed Provider.
type Face struct {
	Box       types.FaceBox
	Embedding types.Embedding
}

// Provider returns either canned faces or faces derived from pixel data.
type Provider struct {
	faces []Face
	dim   int // > 0 selects pixel mode

	// Err, when set, is returned from every call.
	Err error

	mu   sync.Mutex
	seen []image.Rectangle
}

// New returns a Provider that reports the same faces for every image.
func New(faces ...Face) *Provider {
	return &Provider{faces: faces}
}

// NewPixelProvider returns a Provider that finds one face spanning the whole image
// and encodes it from the image's mean colour. Fully black images contain no face.
func NewPixelProvider(dim int) *Provider {
	return &Provider{dim: dim}
}

// Seen returns the bounds of every image passed to Detect or Embed.
func (p *Provider) Seen() []image.Rectangle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]image.Rectangle(nil), p.seen...)
}

func (p *Provider) record(img image.Image) {
	p.mu.Lock()
	p.seen = append(p.seen, img.Bounds())
	p.mu.Unlock()
}

// Detect implements provider.EmbeddingProvider.
func (p *Provider) Detect(ctx context.Context, img image.Image) ([]types.FaceBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.record(img)
	if p.Err != nil {
		return nil, p.Err
	}

	if p.dim > 0 {
		if _, ok := pixelEmbedding(img, p.dim); !ok {
			return nil, nil
		}
		b := img.Bounds()
		return []types.FaceBox{{Top: 0, Right: b.Dx(), Bottom: b.Dy(), Left: 0}}, nil
	}

	boxes := make([]types.FaceBox, len(p.faces))
	for i, f := range p.faces {
		boxes[i] = f.Box
	}
	return boxes, nil
}

// Embed implements provider.EmbeddingProvider.
func (p *Provider) Embed(ctx context.Context, img image.Image, boxes []types.FaceBox) ([]types.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.record(img)
	if p.Err != nil {
		return nil, p.Err
	}

	if p.dim > 0 {
		vec, ok := pixelEmbedding(img, p.dim)
		if !ok {
			return nil, nil
		}
		n := 1
		if boxes != nil {
			n = len(boxes)
		}
		out := make([]types.Embedding, n)
		for i := range out {
			out[i] = append(types.Embedding(nil), vec...)
		}
		return out, nil
	}

	if boxes == nil {
		out := make([]types.Embedding, len(p.faces))
		for i, f := range p.faces {
			out[i] = f.Embedding
		}
		return out, nil
	}

	out := make([]types.Embedding, len(boxes))
	for i, box := range boxes {
		vec, ok := p.lookup(box)
		if !ok {
			return nil, fmt.Errorf("fake provider: no face at %+v", box)
		}
		out[i] = vec
	}
	return out, nil
}

func (p *Provider) lookup(box types.FaceBox) (types.Embedding, bool) {
	for _, f := range p.faces {
		if f.Box == box {
			return f.Embedding, true
		}
	}
	return nil, false
}

// pixelEmbedding spreads the mean R, G and B values over dim components.
func pixelEmbedding(img image.Image, dim int) (types.Embedding, bool) {
	b := img.Bounds()
	if b.Empty() {
		return nil, false
	}

	var sum [3]float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			sum[0] += float64(r >> 8)
			sum[1] += float64(g >> 8)
			sum[2] += float64(bl >> 8)
		}
	}
	if sum[0]+sum[1]+sum[2] == 0 {
		return nil, false
	}

	n := float64(b.Dx() * b.Dy())
	vec := make(types.Embedding, dim)
	for i := range vec {
		vec[i] = sum[i%3] / n / 255 / float64(i/3+1)
	}
	return vec, true
}
