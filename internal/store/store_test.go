package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andresmejia3/facerec/internal/gallery"
	"github.com/andresmejia3/facerec/internal/types"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (pgxmock.PgxConnIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close(context.Background()) })
	return mock, NewWithDB(mock)
}

func TestInitSchema(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS vector`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.initSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveGallery(t *testing.T) {
	g := gallery.New([]gallery.Entry{
		{Label: "alice", Embedding: types.Embedding{0.5, 0.25}, Source: "alice.jpg"},
		{Label: "bob", Embedding: types.Embedding{1, 2}, Source: "bob.png"},
	})

	tests := []struct {
		name      string
		mockSetup func(mock pgxmock.PgxConnIface)
		wantErr   string
	}{
		{
			name: "replaces snapshot in one transaction",
			mockSetup: func(mock pgxmock.PgxConnIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`DELETE FROM gallery_entries`).
					WillReturnResult(pgxmock.NewResult("DELETE", 3))
				mock.ExpectExec(`INSERT INTO gallery_entries`).
					WithArgs(0, "alice", "alice.jpg", pgvector.NewVector([]float32{0.5, 0.25})).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec(`INSERT INTO gallery_entries`).
					WithArgs(1, "bob", "bob.png", pgvector.NewVector([]float32{1, 2})).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "insert failure rolls back",
			mockSetup: func(mock pgxmock.PgxConnIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`DELETE FROM gallery_entries`).
					WillReturnResult(pgxmock.NewResult("DELETE", 0))
				mock.ExpectExec(`INSERT INTO gallery_entries`).
					WithArgs(0, "alice", "alice.jpg", pgxmock.AnyArg()).
					WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			wantErr: `save gallery entry "alice": disk full`,
		},
		{
			name: "begin failure",
			mockSetup: func(mock pgxmock.PgxConnIface) {
				mock.ExpectBegin().WillReturnError(errors.New("connection reset"))
			},
			wantErr: "save gallery: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, s := newMock(t)
			tt.mockSetup(mock)

			err := s.SaveGallery(context.Background(), g)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLoadGallery(t *testing.T) {
	mock, s := newMock(t)

	rows := pgxmock.NewRows([]string{"label", "source_path", "embedding"}).
		AddRow("alice", "alice.jpg", "[0.5,0.25]").
		AddRow("alice", "alice2.jpg", "[1,2]")
	mock.ExpectQuery(`SELECT label, source_path, embedding::text FROM gallery_entries`).
		WillReturnRows(rows)

	g, err := s.LoadGallery(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, g.Len())
	assert.Equal(t, []types.Label{"alice", "alice"}, g.Labels())
	assert.Equal(t, types.Embedding{0.5, 0.25}, g.At(0).Embedding)
	assert.Equal(t, "alice2.jpg", g.At(1).Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadGallery_Empty(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectQuery(`SELECT label, source_path, embedding::text FROM gallery_entries`).
		WillReturnRows(pgxmock.NewRows([]string{"label", "source_path", "embedding"}))

	g, err := s.LoadGallery(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, g.Len())
}

func TestLoadGallery_CorruptVector(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectQuery(`SELECT label, source_path, embedding::text FROM gallery_entries`).
		WillReturnRows(pgxmock.NewRows([]string{"label", "source_path", "embedding"}).
			AddRow("alice", "alice.jpg", "[0.5,oops]"))

	_, err := s.LoadGallery(context.Background())
	assert.ErrorContains(t, err, `load gallery entry "alice"`)
}

func TestListEntries(t *testing.T) {
	mock, s := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, position, label, source_path, vector_dims\(embedding\), created_at FROM gallery_entries`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "position", "label", "source_path", "vector_dims", "created_at"}).
			AddRow(int64(7), 0, "alice", "alice.jpg", 128, now))

	entries, err := s.ListEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EntryInfo{ID: 7, Position: 0, Label: "alice", Source: "alice.jpg", Dim: 128, CreatedAt: now}, entries[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenameLabel(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "renames every matching entry", affected: 2},
		{name: "unknown label", affected: 0, wantErr: ErrLabelNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, s := newMock(t)

			mock.ExpectExec(`UPDATE gallery_entries SET label = \$1 WHERE label = \$2`).
				WithArgs("bob", "alice").
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			n, err := s.RenameLabel(context.Background(), "alice", "bob")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.affected, n)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReset(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectExec(`DROP TABLE IF EXISTS gallery_entries`).
		WillReturnResult(pgxmock.NewResult("DROP", 0))

	require.NoError(t, s.Reset(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseVector(t *testing.T) {
	v, err := parseVector("[1,-2.5,0]")
	require.NoError(t, err)
	assert.Equal(t, types.Embedding{1, -2.5, 0}, v)

	_, err = parseVector("[x]")
	assert.Error(t, err)
}
