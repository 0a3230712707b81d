package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/facerec/internal/annotate"
	"github.com/andresmejia3/facerec/internal/gallery"
	"github.com/andresmejia3/facerec/internal/pipeline"
	"github.com/andresmejia3/facerec/internal/provider"
	"github.com/andresmejia3/facerec/internal/types"
	"github.com/andresmejia3/facerec/internal/utils"
	"github.com/spf13/cobra"
)

var (
	recognizeKey    string
	recognizeOutput string
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize [image_path]",
	Short: "Recognize the faces in one image against the gallery",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if len(args) == 0 && recognizeKey == "" {
			return errors.New("provide an image path or --key")
		}
		return runRecognize(cmd.Context(), args)
	},
}

func init() {
	recognizeCmd.Flags().StringVarP(&recognizeKey, "key", "k", "", "Fetch the image from frame storage under this key (e.g. data/photo.jpg)")
	recognizeCmd.Flags().StringVarP(&recognizeOutput, "output", "o", "", "Write the annotated image as PNG to this path")
	rootCmd.AddCommand(recognizeCmd)
}

func runRecognize(ctx context.Context, args []string) error {
	img, err := readQuery(ctx, args)
	if err != nil {
		utils.ShowError("Failed to read query image", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	pool, err := startEngines(ctx)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer pool.Close()

	g, err := loadGallery(ctx, pool, os.Stderr)
	if err != nil {
		utils.ShowError("Failed to load gallery", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	result, err := recognize(ctx, pool, g, img)
	if err != nil {
		utils.ShowError("AI processing failed", err, nil)
		return err
	}

	printDetections(os.Stdout, result)

	if recognizeOutput != "" {
		if err := writeAnnotated(recognizeOutput, img, result); err != nil {
			utils.ShowError("Failed to write annotated image", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🖼️  Annotated image written to %s\n", recognizeOutput)
	}
	return nil
}

// readQuery loads the query frame from a path or from frame storage.
func readQuery(ctx context.Context, args []string) (image.Image, error) {
	if len(args) > 0 {
		img, _, err := utils.DecodeFile(args[0])
		return img, err
	}

	fetcher, err := newFetcher(cfg)
	if err != nil {
		return nil, err
	}
	data, err := fetcher.Fetch(ctx, recognizeKey)
	if err != nil {
		return nil, err
	}
	img, _, err := utils.Decode(data)
	return img, err
}

// recognize runs a single frame through a pipeline over g.
func recognize(ctx context.Context, p provider.EmbeddingProvider, g *gallery.Gallery, img image.Image) (types.DetectionResult, error) {
	pl, err := pipeline.New(p, gallery.NewHolder(g), pipeline.Config{
		ScaleFactor: cfg.ScaleFactor,
		Threshold:   cfg.Threshold,
	}, logger)
	if err != nil {
		return nil, err
	}
	return pl.Process(ctx, img)
}

func printDetections(out io.Writer, result types.DetectionResult) {
	if len(result) == 0 {
		fmt.Fprintln(out, "❌ No faces detected in the provided image.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FACE\tNAME\tDISTANCE\tBOX (T,R,B,L)")
	fmt.Fprintln(w, "----\t----\t--------\t-------------")
	for i, d := range result {
		dist := "-"
		if d.Distance >= 0 {
			dist = fmt.Sprintf("%.4f", d.Distance)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d,%d,%d,%d\n", i, d.Label, dist, d.Box.Top, d.Box.Right, d.Box.Bottom, d.Box.Left)
	}
	w.Flush()

	var known []string
	for _, l := range result.Labels() {
		if l.Known() {
			known = append(known, string(l))
		}
	}
	if len(known) > 0 {
		fmt.Fprintf(out, "\n✅ Recognized: %s\n", strings.Join(known, ", "))
	}
}

func writeAnnotated(path string, img image.Image, result types.DetectionResult) error {
	data, err := utils.EncodePNG(annotate.Draw(img, result))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
