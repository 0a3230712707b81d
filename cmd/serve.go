package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/facerec/internal/gallery"
	"github.com/andresmejia3/facerec/internal/pipeline"
	"github.com/andresmejia3/facerec/internal/server"
	"github.com/andresmejia3/facerec/internal/utils"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve face recognition over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "HTTP port (default: $PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	pool, err := startEngines(ctx)
	if err != nil {
		utils.ShowError("Failed to start AI workers", err, nil)
		return err
	}
	defer pool.Close()

	fmt.Fprintf(os.Stderr, "🧠 Loading gallery (%s)...\n", cfg.GallerySource)
	g, err := loadGallery(ctx, pool, os.Stderr)
	if err != nil {
		utils.ShowError("Failed to load gallery", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "✅ Gallery ready: %d entries\n", g.Len())

	holder := gallery.NewHolder(g)
	pl, err := pipeline.New(pool, holder, pipeline.Config{
		ScaleFactor: cfg.ScaleFactor,
		Threshold:   cfg.Threshold,
	}, logger)
	if err != nil {
		return err
	}

	fetcher, err := newFetcher(cfg)
	if err != nil {
		utils.ShowError("Failed to configure frame storage", err, nil)
		return err
	}

	srv := server.New(server.Options{
		Pipeline:   pl,
		Gallery:    holder,
		Fetcher:    fetcher,
		DefaultKey: cfg.Blob.DefaultKey,
		Reload: func(ctx context.Context) (*gallery.Gallery, error) {
			return loadGallery(ctx, pool, nil)
		},
		Stats:  pool.Stats,
		Logger: logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	fmt.Fprintf(os.Stderr, "🚀 Listening on %s\n", addr)
	return srv.ListenAndServe(ctx, addr)
}
