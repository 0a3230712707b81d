package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facerec/internal/config"
	"github.com/andresmejia3/facerec/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Options holds the flags shared by every subcommand. Set flags override the environment.
type Options struct {
	MatchThreshold float64
	ScaleFactor    float64
	NumEngines     int
	DatabaseURL    string
	GalleryDir     string
	GallerySource  string
}

var (
	// DB is the database connection shared by subcommands, opened on first use
	DB *store.Store
	// cfg is the resolved configuration
	cfg *config.Config
	// logger is the structured logger for library code
	logger *slog.Logger

	rootOpts Options
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facerec",
	Short:   "Face recognition against a gallery of labelled sample images",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		applyFlags(cmd, &rootOpts, c)
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = c
		logger = config.NewLogger(cfg, os.Stderr)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadDotEnv)
	bindSharedFlags(rootCmd, &rootOpts)
}

// loadDotEnv reads .env from the working directory when present.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to load .env: %v\n", err)
	}
}

func bindSharedFlags(cmd *cobra.Command, o *Options) {
	pf := cmd.PersistentFlags()
	pf.Float64VarP(&o.MatchThreshold, "threshold", "t", 0.6, "Face matching threshold (lower is stricter)")
	pf.Float64VarP(&o.ScaleFactor, "scale", "s", 0.25, "Downsampling factor applied before detection, in (0, 1]")
	pf.IntVarP(&o.NumEngines, "engines", "e", 1, "Number of parallel Python worker engines")
	pf.StringVar(&o.DatabaseURL, "db", "", "PostgreSQL connection string (default: $DATABASE_URL, $POSTGRES_* or postgres://localhost:5432/facerec)")
	pf.StringVar(&o.GalleryDir, "gallery", "", "Directory of labelled sample images (default: $GALLERY_DIR)")
	pf.StringVar(&o.GallerySource, "source", "", "Where the gallery comes from: dir or db (default: $GALLERY_SOURCE)")
}

// applyFlags copies explicitly set flags over the environment configuration.
func applyFlags(cmd *cobra.Command, o *Options, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("threshold") {
		c.Threshold = o.MatchThreshold
	}
	if f.Changed("scale") {
		c.ScaleFactor = o.ScaleFactor
	}
	if f.Changed("engines") {
		c.Engines = o.NumEngines
	}
	if f.Changed("db") {
		c.DatabaseURL = o.DatabaseURL
	}
	if f.Changed("gallery") {
		c.GalleryDir = o.GalleryDir
	}
	if f.Changed("source") {
		c.GallerySource = o.GallerySource
	}
}

// openStore connects to the database on first use.
func openStore(ctx context.Context) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	s, err := store.New(ctx, cfg.ResolveDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = s
	return DB, nil
}
