package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/facerec/internal/blob"
	"github.com/andresmejia3/facerec/internal/config"
	"github.com/andresmejia3/facerec/internal/gallery"
	"github.com/andresmejia3/facerec/internal/provider"
	"github.com/andresmejia3/facerec/internal/worker"
)

// startEngines spawns the Python worker pool. ctx bounds the lifetime of the processes.
func startEngines(ctx context.Context) (*worker.Pool, error) {
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", cfg.Engines)
	return worker.NewPool(ctx, worker.Config{
		Python:      cfg.Worker.Python,
		Script:      cfg.Worker.Script,
		Model:       cfg.Worker.Model,
		ReadTimeout: cfg.Worker.Timeout,
	}, cfg.Engines, worker.WithLogger(logger))
}

// loadGallery builds the gallery from GALLERY_DIR or reads the stored snapshot.
// progress may be nil.
func loadGallery(ctx context.Context, p provider.EmbeddingProvider, progress io.Writer) (*gallery.Gallery, error) {
	if cfg.GallerySource == config.SourceDB {
		db, err := openStore(ctx)
		if err != nil {
			return nil, err
		}
		return db.LoadGallery(ctx)
	}

	opts := []gallery.BuilderOption{gallery.WithLogger(logger)}
	if progress != nil {
		opts = append(opts, gallery.WithProgress(progress))
	}
	return gallery.NewBuilder(p, opts...).Build(ctx, cfg.GalleryDir)
}

// newFetcher returns the object-storage fetcher when BLOB_ENDPOINT is set, else a directory fetcher.
func newFetcher(c *config.Config) (blob.Fetcher, error) {
	if c.UseObjectStorage() {
		return blob.NewMinioFetcher(blob.MinioConfig{
			Endpoint:  c.Blob.Endpoint,
			AccessKey: c.Blob.AccessKey,
			SecretKey: c.Blob.SecretKey,
			Bucket:    c.Blob.Bucket,
			Region:    c.Blob.Region,
			Secure:    c.Blob.Secure,
		})
	}
	return blob.NewDirFetcher(c.Blob.Dir), nil
}
