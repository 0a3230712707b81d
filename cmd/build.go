package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/facerec/internal/gallery"
	"github.com/andresmejia3/facerec/internal/utils"
	"github.com/spf13/cobra"
)

var (
	buildDir  string
	buildSave bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Encode a directory of labelled sample images into a gallery",
	Long:  "Every file in the directory is one sample; its name without extension is the label. Files without a usable face are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if buildDir != "" {
			cfg.GalleryDir = buildDir
		}
		return runBuild(cmd.Context(), buildSave)
	},
}

func init() {
	buildCmd.Flags().StringVarP(&buildDir, "dir", "d", "", "Directory of sample images (default: $GALLERY_DIR)")
	buildCmd.Flags().BoolVar(&buildSave, "save", false, "Persist the gallery to PostgreSQL")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(ctx context.Context, save bool) error {
	if err := validateGalleryDir(cfg.GalleryDir); err != nil {
		utils.ShowError("Invalid gallery directory", err, nil)
		return err
	}

	pool, err := startEngines(ctx)
	if err != nil {
		utils.ShowError("Failed to start AI workers", err, nil)
		return err
	}
	defer pool.Close()

	g, err := gallery.NewBuilder(pool, gallery.WithLogger(logger), gallery.WithProgress(os.Stderr)).Build(ctx, cfg.GalleryDir)
	if err != nil {
		utils.ShowError("Gallery build failed", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr)
	printGallery(os.Stdout, g)

	if save {
		db, err := openStore(ctx)
		if err != nil {
			utils.ShowError("Failed to open database", err, nil)
			return err
		}
		if err := db.SaveGallery(ctx, g); err != nil {
			utils.ShowError("Failed to save gallery", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "💾 Saved %d entries to the database\n", g.Len())
	}

	fmt.Fprintf(os.Stderr, "🏁 Gallery built: %d entries from %s\n", g.Len(), cfg.GalleryDir)
	return nil
}

// validateGalleryDir ensures the directory exists before spawning workers.
func validateGalleryDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func printGallery(out io.Writer, g *gallery.Gallery) {
	if g.Len() == 0 {
		fmt.Fprintln(out, "No faces encoded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tLABEL\tSOURCE\tDIM")
	fmt.Fprintln(w, "-\t-----\t------\t---")
	for i, e := range g.Entries() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", i, e.Label, filepath.Base(e.Source), len(e.Embedding))
	}
	w.Flush()
}
