package drawingservice

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/sketchmark/internal/apperr"
	"github.com/starford/sketchmark/internal/drawsync"
	"github.com/starford/sketchmark/internal/index"
	"github.com/starford/sketchmark/internal/links"
	"github.com/starford/sketchmark/internal/storage"
	"github.com/starford/sketchmark/internal/testutil"
	"github.com/starford/sketchmark/internal/textstore"
)

const board = "---\ntags: [sketch]\n---\n" +
	"# Text Elements\n" +
	"![[Quotes#^q1]] ^abcd1234\n\n" +
	"see [[Quotes]] ^efgh5678\n\n" +
	"# Drawing\n```json\n" +
	`{"type":"excalidraw","elements":[` +
	`{"id":"abcd1234","type":"text","text":"","fontSize":20,"fontFamily":1},` +
	`{"id":"efgh5678","type":"text","text":"","fontSize":20,"fontFamily":1}]}` +
	"\n```\n"

const legacyBoard = `{"type":"excalidraw","elements":[` +
	`{"id":"legacy01","type":"text","text":"old [[Quotes]]","fontSize":20,"fontFamily":1}]}`

type env struct {
	dir   string
	store storage.Provider
	db    *index.DB
	svc   *Service
}

func setup(t *testing.T, opts ...Option) *env {
	t.Helper()
	dir, store := testutil.TestVault(t)
	testutil.WriteFiles(t, dir, map[string]string{
		"notes/Quotes.md":                "# Quotes\nto be or not to be ^q1\n",
		"boards/board.excalidraw.md":     board,
		"boards/legacy.excalidraw":       legacyBoard,
		"notes/unrelated.md":             "nothing to see\n",
		"boards/nodrawing.excalidraw.md": "# Text Elements\nonly text ^abcd1234\n\n",
	})
	db := testutil.TestDB(t)
	require.NoError(t, index.Sync(db, store, slog.Default()))

	settings := drawsync.DefaultSettings()
	settings.Links = links.Options{ShowBrackets: false}
	svc := New(store, db, append([]Option{WithSettings(settings)}, opts...)...)
	t.Cleanup(svc.Close)
	return &env{dir: dir, store: store, db: db, svc: svc}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestGet_ResolvesAcrossVault(t *testing.T) {
	e := setup(t)

	d, err := e.svc.Get(testCtx(t), "boards/board.excalidraw.md", textstore.ModeResolved)
	require.NoError(t, err)
	require.Len(t, d.Texts, 2)
	assert.Equal(t, "to be or not to be", d.Texts[0].Display)
	assert.Equal(t, "![[Quotes#^q1]]", d.Texts[0].Raw)
	assert.Equal(t, "see Quotes", d.Texts[1].Display)
	assert.Equal(t, "resolved", d.Mode)
	assert.Equal(t, "board.excalidraw", d.Title)
	assert.Contains(t, string(d.Scene), "to be or not to be")

	raw, err := e.svc.Get(testCtx(t), "boards/board.excalidraw.md", textstore.ModeRaw)
	require.NoError(t, err)
	assert.Equal(t, "![[Quotes#^q1]]", raw.Texts[0].Display)
}

func TestGet_Errors(t *testing.T) {
	e := setup(t)

	_, err := e.svc.Get(testCtx(t), "boards/missing.excalidraw.md", textstore.ModeRaw)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), err)

	_, err = e.svc.Get(testCtx(t), "boards/nodrawing.excalidraw.md", textstore.ModeRaw)
	assert.True(t, errors.Is(err, apperr.ErrNoDrawing), err)
}

func TestOpenEditSave(t *testing.T) {
	e := setup(t)
	h, err := e.svc.Open(testCtx(t), "boards/board.excalidraw.md")
	require.NoError(t, err)

	got, err := e.svc.Session(h.ID)
	require.NoError(t, err)
	assert.Same(t, h, got)

	_, err = h.SetText("efgh5678", "edited [[Other]]")
	require.NoError(t, err)
	res, err := e.svc.Save(testCtx(t), h.ID)
	require.NoError(t, err)
	assert.Equal(t, "boards/board.excalidraw.md", res.Path)

	data, err := os.ReadFile(filepath.Join(e.dir, "boards", "board.excalidraw.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "edited [[Other]] ^efgh5678\n")
	assert.True(t, strings.HasPrefix(string(data), "---\ntags: [sketch]\n---\n"))

	texts, err := e.db.TextElements("boards/board.excalidraw.md")
	require.NoError(t, err)
	require.Len(t, texts, 2)
	assert.Equal(t, "edited [[Other]]", texts[1].Raw)

	cs, err := e.db.GetChecksum("boards/board.excalidraw.md")
	require.NoError(t, err)
	assert.Equal(t, res.Checksum, cs)
}

func TestSave_LegacyWritesMarkdownDrawing(t *testing.T) {
	e := setup(t)
	h, err := e.svc.Open(testCtx(t), "boards/legacy.excalidraw")
	require.NoError(t, err)

	mode, err := h.Mode()
	require.NoError(t, err)
	assert.Equal(t, textstore.ModeRaw, mode)

	res, err := e.svc.Save(testCtx(t), h.ID)
	require.NoError(t, err)
	assert.Equal(t, "boards/legacy.excalidraw.md", res.Path)
	assert.Equal(t, res.Path, h.Path())

	data, err := os.ReadFile(filepath.Join(e.dir, "boards", "legacy.excalidraw.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "old [[Quotes]] ^legacy01\n")

	row, err := e.db.GetDocument(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "drawing", string(row.Kind))
}

func TestCloseSession(t *testing.T) {
	e := setup(t)
	h, err := e.svc.Open(testCtx(t), "boards/board.excalidraw.md")
	require.NoError(t, err)

	require.NoError(t, e.svc.CloseSession(h.ID))
	_, err = e.svc.Session(h.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.True(t, errors.Is(e.svc.CloseSession(h.ID), apperr.ErrNotFound))

	_, err = h.Scene()
	assert.True(t, errors.Is(err, apperr.ErrSessionClosed))
}

func TestOpen_RejectsNonDocuments(t *testing.T) {
	e := setup(t)
	_, err := e.svc.Open(testCtx(t), "boards/image.png")
	assert.True(t, errors.Is(err, apperr.ErrInvalidPath))
}

func TestCreate(t *testing.T) {
	e := setup(t)

	d, err := e.svc.Create(testCtx(t), "boards/new.excalidraw.md", "")
	require.NoError(t, err)
	assert.Empty(t, d.Texts)
	assert.Equal(t, "parsed", d.Frontmatter["excalidraw-plugin"])

	_, err = e.svc.Create(testCtx(t), "boards/new.excalidraw.md", "")
	assert.True(t, errors.Is(err, apperr.ErrAlreadyExists))

	_, err = e.svc.Create(testCtx(t), "boards/new.md", "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidPath))

	items, total, err := e.svc.List(testCtx(t), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	paths := make([]string, len(items))
	for i, it := range items {
		paths[i] = it.Path
	}
	assert.Contains(t, paths, "boards/new.excalidraw.md")
}

func TestSetText_WithoutSession(t *testing.T) {
	e := setup(t)

	res, err := e.svc.SetText(testCtx(t), "boards/board.excalidraw.md", "abcd1234", "replaced")
	require.NoError(t, err)
	assert.Equal(t, "boards/board.excalidraw.md", res.Path)

	d, err := e.svc.Get(testCtx(t), res.Path, textstore.ModeRaw)
	require.NoError(t, err)
	assert.Equal(t, "replaced", d.Texts[0].Raw)

	_, err = e.svc.SetText(testCtx(t), "boards/board.excalidraw.md", "zzzz9999", "x")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSetText_UsesOpenSession(t *testing.T) {
	updates := make(chan drawsync.Update, 16)
	e := setup(t, WithOnUpdate(func(_, _ string, u drawsync.Update) { updates <- u }))
	h, err := e.svc.Open(testCtx(t), "boards/board.excalidraw.md")
	require.NoError(t, err)

	_, err = e.svc.SetText(testCtx(t), "boards/board.excalidraw.md", "efgh5678", "via tool")
	require.NoError(t, err)

	text, ok, err := h.DisplayText("efgh5678")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "via tool", text)

	// Hosts of the open session learn about the edit.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.ID == "efgh5678" && u.Kind == drawsync.UpdateEdited {
				assert.Equal(t, "via tool", u.Text)
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for edit update")
		}
	}
}

func TestSearch(t *testing.T) {
	e := setup(t)
	results, err := e.svc.Search(testCtx(t), "Quotes", 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "drawing", string(r.Kind))
	}
}

func TestDocumentChanged_ReresolvesOpenSessions(t *testing.T) {
	updates := make(chan drawsync.Update, 16)
	e := setup(t, WithOnUpdate(func(_, path string, u drawsync.Update) {
		if path == "boards/board.excalidraw.md" {
			updates <- u
		}
	}))

	h, err := e.svc.Open(testCtx(t), "boards/board.excalidraw.md")
	require.NoError(t, err)
	require.NoError(t, h.Settle(testCtx(t)))

	require.NoError(t, e.store.Write("notes/Quotes.md", []byte("# Quotes\nall the world's a stage ^q1\n")))
	e.svc.DocumentChanged("notes/Quotes.md")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.Text == "all the world's a stage" {
				assert.Equal(t, "abcd1234", u.ID)
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for re-resolution")
		}
	}
}
