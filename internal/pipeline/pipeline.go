// Package pipeline recognises the faces in a single query frame.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"

	"github.com/andresmejia3/facerec/internal/gallery"
	"github.com/andresmejia3/facerec/internal/matcher"
	"github.com/andresmejia3/facerec/internal/provider"
	"github.com/andresmejia3/facerec/internal/types"
	"github.com/andresmejia3/facerec/internal/utils"
)

// DefaultScaleFactor shrinks frames to a quarter of their size before detection.
const DefaultScaleFactor = 0.25

// Config holds the pipeline's tunables.
type Config struct {
	ScaleFactor float64 // (0, 1]
	Threshold   float64 // matcher acceptance threshold
}

// Pipeline downsamples a frame, detects and encodes faces, matches each against the
// current gallery and maps the boxes back to original-frame coordinates.
type Pipeline struct {
	provider provider.EmbeddingProvider
	gallery  *gallery.Holder
	matcher  *matcher.Matcher
	scale    float64
	logger   *slog.Logger
}

// New validates cfg and returns a Pipeline. A nil logger discards diagnostics.
func New(p provider.EmbeddingProvider, h *gallery.Holder, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if cfg.ScaleFactor == 0 {
		cfg.ScaleFactor = DefaultScaleFactor
	}
	if !(cfg.ScaleFactor > 0 && cfg.ScaleFactor <= 1) {
		return nil, fmt.Errorf("scale factor must be in (0, 1], got %v", cfg.ScaleFactor)
	}
	if math.IsNaN(cfg.Threshold) || math.IsInf(cfg.Threshold, 0) {
		return nil, fmt.Errorf("match threshold must be finite, got %v", cfg.Threshold)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		provider: p,
		gallery:  h,
		matcher:  matcher.New(cfg.Threshold),
		scale:    cfg.ScaleFactor,
		logger:   logger,
	}, nil
}

// ScaleFactor returns the downsampling ratio in use.
func (p *Pipeline) ScaleFactor() float64 { return p.scale }

// Threshold returns the matcher's acceptance threshold.
func (p *Pipeline) Threshold() float64 { return p.matcher.Threshold }

// Process recognises every face in frame. Boxes are reported in frame coordinates,
// each coordinate divided by the scale factor and rounded half away from zero.
// A frame without faces yields an empty result, not an error.
func (p *Pipeline) Process(ctx context.Context, frame image.Image) (types.DetectionResult, error) {
	// One snapshot per call so a concurrent reload cannot mix galleries.
	g := p.gallery.Load()

	small := utils.ToRGB(utils.Downsample(frame, p.scale))

	boxes, err := p.provider.Detect(ctx, small)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	result := make(types.DetectionResult, 0, len(boxes))
	if len(boxes) == 0 {
		p.logger.Debug("no faces detected", slog.Int("gallery", g.Len()))
		return result, nil
	}

	embeddings, err := p.provider.Embed(ctx, small, boxes)
	if err != nil {
		return nil, fmt.Errorf("face encoding failed: %w", err)
	}
	if len(embeddings) != len(boxes) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d faces", len(embeddings), len(boxes))
	}

	inverse := 1 / p.scale
	for i, emb := range embeddings {
		c, err := p.matcher.Nearest(g, emb)
		if err != nil {
			return nil, err
		}
		box := boxes[i].Scale(inverse)
		p.logger.Debug("face classified",
			slog.Int("face", i),
			slog.String("label", string(c.Label)),
			slog.Float64("distance", c.Distance),
			slog.Any("box", box),
		)
		result = append(result, types.Detection{Box: box, Label: c.Label, Distance: c.Distance})
	}
	return result, nil
}
