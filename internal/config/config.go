package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Gallery sources.
const (
	SourceDir = "dir"
	SourceDB  = "db"
)

// DefaultDatabaseURL is used when neither DATABASE_URL nor POSTGRES_HOST is set.
const DefaultDatabaseURL = "postgres://localhost:5432/facerec"

type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"8000"`
	Environment string `envconfig:"ENV" default:"development"`

	// Recognition
	GalleryDir    string  `envconfig:"GALLERY_DIR" default:"Trainingimages"`
	GallerySource string  `envconfig:"GALLERY_SOURCE" default:"dir"`
	Threshold     float64 `envconfig:"MATCH_THRESHOLD" default:"0.6"`
	ScaleFactor   float64 `envconfig:"SCALE_FACTOR" default:"0.25"`
	Engines       int     `envconfig:"ENGINES" default:"1"`

	Worker Worker `envconfig:"WORKER"`

	// Database
	DatabaseURL string   `envconfig:"DATABASE_URL"`
	Postgres    Postgres `envconfig:"POSTGRES"`

	// Query frames
	Blob Blob `envconfig:"BLOB"`
}

// Worker configures the Python face_recognition processes (WORKER_*).
// Nested fields carry no envconfig tag so a bare PORT or USER never leaks in.
type Worker struct {
	Python  string        `default:"python3"`
	Script  string        `default:"python/worker.py"`
	Model   string        `default:"hog"`
	Timeout time.Duration `default:"60s"`
}

// Postgres holds the discrete connection settings used when DATABASE_URL is unset.
type Postgres struct {
	Host     string
	Port     string `default:"5432"`
	User     string
	Password string
	DB       string
}

// Blob selects where query frames come from. Endpoint wins over Dir.
type Blob struct {
	Endpoint   string
	AccessKey  string `split_words:"true"`
	SecretKey  string `split_words:"true"`
	Bucket     string
	Region     string `default:"us-east-1"`
	Secure     bool   `default:"true"`
	Dir        string `default:"."`
	DefaultKey string `split_words:"true" default:"data/photo.jpg"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if !(c.Threshold > 0) || math.IsInf(c.Threshold, 1) {
		errs = append(errs, fmt.Errorf("match threshold must be positive and finite, got %v", c.Threshold))
	}
	if !(c.ScaleFactor > 0 && c.ScaleFactor <= 1) {
		errs = append(errs, fmt.Errorf("scale factor must be in (0, 1], got %v", c.ScaleFactor))
	}
	if c.Engines < 1 {
		errs = append(errs, fmt.Errorf("engines must be at least 1, got %d", c.Engines))
	}
	if c.GallerySource != SourceDir && c.GallerySource != SourceDB {
		errs = append(errs, fmt.Errorf("gallery source must be %q or %q, got %q", SourceDir, SourceDB, c.GallerySource))
	}
	return errors.Join(errs...)
}

// ResolveDatabaseURL returns DATABASE_URL, or a URL built from POSTGRES_*, or the local default.
func (c *Config) ResolveDatabaseURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.Postgres.Host == "" {
		// Fallback to local default if no env vars are present
		return DefaultDatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   c.Postgres.Host + ":" + c.Postgres.Port,
		Path:   "/" + c.Postgres.DB,
	}
	if c.Postgres.User != "" || c.Postgres.Password != "" {
		u.User = url.UserPassword(c.Postgres.User, c.Postgres.Password)
	}
	return u.String()
}

// UseObjectStorage reports whether query frames come from an S3-compatible bucket.
func (c *Config) UseObjectStorage() bool {
	return c.Blob.Endpoint != ""
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
