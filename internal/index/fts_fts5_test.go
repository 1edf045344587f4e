//go:build sqlite_fts5

package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/sketchmark/internal/models"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	require.NoError(t, db.conn.QueryRow(`SELECT count(*) FROM files_fts`).Scan(&count), "files_fts table")
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	e := entry("fts.excalidraw.md", "f1", "Drawings carry powerful full-text search capabilities.")
	e.Row.Title = "FTS Drawing"
	e.Row.Kind = models.KindDrawing
	e.Row.Tags = []string{"search"}
	require.NoError(t, db.Upsert(e))

	results, err := db.Search("powerful", models.KindDrawing, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fts.excalidraw.md", results[0].Path)
	assert.Equal(t, models.KindDrawing, results[0].Kind)
	assert.NotEmpty(t, results[0].Snippet)
}

func TestFTS5_DeleteRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Upsert(entry("gone.md", "g", "vanishing content")))
	require.NoError(t, db.DeleteDocument("gone.md"))

	results, err := db.Search("vanishing", "", 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "gone.md", r.Path, "deleted document still in FTS index")
	}
}

func TestFTS5_UpsertReplacesContent(t *testing.T) {
	db := testDB(t)
	old := entry("evo.md", "1", "original text")
	old.Row.Title = "Old"
	require.NoError(t, db.Upsert(old))
	next := entry("evo.md", "2", "replacement text")
	next.Row.Title = "New"
	require.NoError(t, db.Upsert(next))

	results, err := db.Search("original", "", 10)
	require.NoError(t, err)
	assert.Empty(t, results, "old FTS content is gone")

	results, err = db.Search("replacement", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "New", results[0].Title)
}
