package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/facerec/internal/gallery"
	"github.com/andresmejia3/facerec/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// ErrLabelNotFound is returned by RenameLabel when no entry carries the label.
var ErrLabelNotFound = errors.New("label not found")

// DB is the subset of *pgx.Conn the store needs. pgxmock's connection mock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
}

// Store persists gallery snapshots in PostgreSQL using pgvector columns.
type Store struct {
	conn DB
}

// EntryInfo describes one stored gallery entry.
type EntryInfo struct {
	ID        int64
	Position  int
	Label     types.Label
	Source    string
	Dim       int
	CreatedAt time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	s := NewWithDB(conn)
	// Initialize schema (Auto-Migration)
	if err := s.initSchema(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return s, nil
}

// NewWithDB wraps an existing connection without touching the schema.
func NewWithDB(db DB) *Store {
	return &Store{conn: db}
}

// initSchema creates the vector extension and the gallery table if they don't exist.
// The embedding column has no fixed dimension so any encoder's output fits.
func (s *Store) initSchema(ctx context.Context) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS gallery_entries (
			id BIGSERIAL PRIMARY KEY,
			position INT NOT NULL,
			label TEXT NOT NULL,
			source_path TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS gallery_entries_position_idx ON gallery_entries (position);
	`
	_, err := s.conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// SaveGallery replaces the stored snapshot with g. Entry order is kept in position.
func (s *Store) SaveGallery(ctx context.Context, g *gallery.Gallery) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save gallery: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Clear the previous snapshot so a rebuild never leaves stale entries behind
	if _, err := tx.Exec(ctx, "DELETE FROM gallery_entries"); err != nil {
		return fmt.Errorf("save gallery: %w", err)
	}

	// 2. Insert the new entries in gallery order
	for i, e := range g.Entries() {
		_, err := tx.Exec(ctx, `
			INSERT INTO gallery_entries (position, label, source_path, embedding)
			VALUES ($1, $2, $3, $4)
		`, i, string(e.Label), e.Source, toVector(e.Embedding))
		if err != nil {
			return fmt.Errorf("save gallery entry %q: %w", e.Label, err)
		}
	}

	return tx.Commit(ctx)
}

// LoadGallery reads the stored snapshot back in its original order.
func (s *Store) LoadGallery(ctx context.Context) (*gallery.Gallery, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT label, source_path, embedding::text
		FROM gallery_entries
		ORDER BY position, id
	`)
	if err != nil {
		return nil, fmt.Errorf("load gallery: %w", err)
	}
	defer rows.Close()

	var entries []gallery.Entry
	for rows.Next() {
		var label, source, vecText string
		if err := rows.Scan(&label, &source, &vecText); err != nil {
			return nil, fmt.Errorf("load gallery: %w", err)
		}
		emb, err := parseVector(vecText)
		if err != nil {
			return nil, fmt.Errorf("load gallery entry %q: %w", label, err)
		}
		entries = append(entries, gallery.Entry{Label: types.Label(label), Source: source, Embedding: emb})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load gallery: %w", err)
	}

	return gallery.New(entries), nil
}

// ListEntries returns every stored entry without its embedding.
func (s *Store) ListEntries(ctx context.Context) ([]EntryInfo, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, position, label, source_path, vector_dims(embedding), created_at
		FROM gallery_entries
		ORDER BY position, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []EntryInfo
	for rows.Next() {
		var e EntryInfo
		var label string
		if err := rows.Scan(&e.ID, &e.Position, &label, &e.Source, &e.Dim, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("list entries: %w", err)
		}
		e.Label = types.Label(label)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RenameLabel relabels every entry named oldLabel and returns how many changed.
func (s *Store) RenameLabel(ctx context.Context, oldLabel, newLabel types.Label) (int64, error) {
	tag, err := s.conn.Exec(ctx, "UPDATE gallery_entries SET label = $1 WHERE label = $2", string(newLabel), string(oldLabel))
	if err != nil {
		return 0, fmt.Errorf("rename label: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("%w: %q", ErrLabelNotFound, oldLabel)
	}
	return tag.RowsAffected(), nil
}

// Reset drops the gallery table. It is recreated on the next New.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, "DROP TABLE IF EXISTS gallery_entries CASCADE;")
	return err
}

func toVector(e types.Embedding) pgvector.Vector {
	floats := make([]float32, len(e))
	for i, v := range e {
		floats[i] = float32(v)
	}
	return pgvector.NewVector(floats)
}

// parseVector reads pgvector's text form "[1,2,3]".
func parseVector(text string) (types.Embedding, error) {
	var v pgvector.Vector
	if err := v.Scan(text); err != nil {
		return nil, err
	}
	out := make(types.Embedding, len(v.Slice()))
	for i, f := range v.Slice() {
		out[i] = float64(f)
	}
	return out, nil
}
