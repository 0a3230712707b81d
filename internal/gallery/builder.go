package gallery

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facerec/internal/provider"
	"github.com/andresmejia3/facerec/internal/types"
	"github.com/andresmejia3/facerec/internal/utils"
	"github.com/schollz/progressbar/v3"
)

// Builder turns a directory of labelled sample images into a Gallery.
type Builder struct {
	provider provider.EmbeddingProvider
	logger   *slog.Logger
	progress io.Writer
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the diagnostics sink. The default discards everything.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithProgress renders a progress bar to w while building.
func WithProgress(w io.Writer) BuilderOption {
	return func(b *Builder) { b.progress = w }
}

// NewBuilder returns a Builder that encodes samples with p.
func NewBuilder(p provider.EmbeddingProvider, opts ...BuilderOption) *Builder {
	b := &Builder{
		provider: p,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build encodes every regular file in dir, in file name order. Symlinks are followed. Files that cannot be
// decoded, have an unsupported channel layout, or contain no face are skipped with a
// diagnostic. Only an unreadable directory or a cancelled context fail the build.
func (b *Builder) Build(ctx context.Context, dir string) (*Gallery, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery directory: %w", err)
	}

	var files []string
	for _, de := range dirEntries {
		if de.Type().IsRegular() {
			files = append(files, de.Name())
			continue
		}
		if de.Type()&fs.ModeSymlink == 0 {
			continue
		}
		// Mounted volumes (e.g. Kubernetes ConfigMaps) present samples as symlinks.
		info, err := os.Stat(filepath.Join(dir, de.Name()))
		if err != nil {
			b.logger.Warn("could not resolve symlink, skipping", slog.String("file", de.Name()), slog.Any("error", err))
			continue
		}
		if info.Mode().IsRegular() {
			files = append(files, de.Name())
		}
	}
	b.logger.Info("encoding images found", slog.Int("count", len(files)), slog.String("dir", dir))

	var bar *progressbar.ProgressBar
	if b.progress != nil {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("🧠 Encoding gallery"),
			progressbar.OptionSetWriter(b.progress),
			progressbar.OptionShowCount(),
		)
	}

	entries := make([]Entry, 0, len(files))
	dim := 0
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, ok, err := b.encodeFile(ctx, filepath.Join(dir, name))
		if bar != nil {
			bar.Add(1)
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		if dim == 0 {
			dim = len(entry.Embedding)
		} else if len(entry.Embedding) != dim {
			b.logger.Warn("embedding dimension differs from gallery, skipping",
				slog.String("file", name), slog.Int("dim", len(entry.Embedding)), slog.Int("gallery_dim", dim))
			continue
		}
		entries = append(entries, entry)
	}

	if bar != nil {
		bar.Finish()
	}
	b.logger.Info("encoding images loaded", slog.Int("entries", len(entries)), slog.Int("skipped", len(files)-len(entries)))
	return New(entries), nil
}

// encodeFile returns ok=false for per-file failures, which are logged here.
// The error return is reserved for context cancellation.
func (b *Builder) encodeFile(ctx context.Context, path string) (Entry, bool, error) {
	name := filepath.Base(path)
	log := b.logger.With(slog.String("file", name))

	img, _, err := utils.DecodeFile(path)
	if err != nil {
		log.Warn("could not read image", slog.Any("error", err))
		return Entry{}, false, nil
	}

	switch ch := utils.ChannelCount(img); ch {
	case 3, 4:
	default:
		log.Warn("unsupported image format", slog.Int("channels", ch))
		return Entry{}, false, nil
	}

	embeddings, err := b.provider.Embed(ctx, utils.ToRGB(img), nil)
	if err != nil {
		if ctx.Err() != nil {
			return Entry{}, false, ctx.Err()
		}
		log.Warn("error processing image", slog.Any("error", err))
		return Entry{}, false, nil
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		log.Warn("no face encodings found")
		return Entry{}, false, nil
	}
	if len(embeddings) > 1 {
		log.Debug("multiple faces in sample, using the first", slog.Int("faces", len(embeddings)))
	}

	return Entry{
		Label:     types.Label(strings.TrimSuffix(name, filepath.Ext(name))),
		Embedding: embeddings[0],
		Source:    name,
	}, true, nil
}
