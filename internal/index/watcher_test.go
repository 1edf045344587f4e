package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/sketchmark/internal/models"
	"github.com/starford/sketchmark/internal/storage"
)

const (
	waitFor = 5 * time.Second
	tick    = 50 * time.Millisecond
)

// watcherTestEnv sets up a vault dir, storage, and DB for watcher tests.
func watcherTestEnv(t *testing.T) (string, storage.Provider, *DB) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	require.NoError(t, err)
	return vaultDir, store, testDB(t)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recorder collects watcher callbacks as "kind:path".
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(kind, path string) {
	r.mu.Lock()
	r.events = append(r.events, kind+":"+path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// startWatch runs the watcher until the test ends and gives it time to add
// its directories.
func startWatch(t *testing.T, vaultDir string, store storage.Provider, db *DB, cb EventCallback) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, db, store, vaultDir, quietLogger(), cb)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

func indexed(db *DB, path string) func() bool {
	return func() bool {
		cs, _ := db.GetChecksum(path)
		return cs != ""
	}
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	rec := &recorder{}
	startWatch(t, vaultDir, store, db, rec.record)

	writeFile(t, vaultDir, "new.md", "# New")

	assert.Eventually(t, indexed(db, "new.md"), waitFor, tick, "new file indexed")
	assert.Eventually(t, func() bool {
		return slices.Contains(rec.snapshot(), "created:new.md")
	}, 2*time.Second, tick, "created callback")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	startWatch(t, vaultDir, store, db, nil)

	subDir := filepath.Join(vaultDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0o755))
	time.Sleep(100 * time.Millisecond)
	writeFile(t, subDir, "deep.md", "# Deep")

	assert.Eventually(t, indexed(db, "subdir/deep.md"), waitFor, tick, "file in new subdir indexed")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	writeFile(t, vaultDir, "del.md", "# Delete Me")
	require.NoError(t, Sync(db, store, quietLogger()))
	require.True(t, indexed(db, "del.md")())

	startWatch(t, vaultDir, store, db, nil)
	require.NoError(t, os.Remove(filepath.Join(vaultDir, "del.md")))

	assert.Eventually(t, func() bool { return !indexed(db, "del.md")() }, waitFor, tick,
		"deleted file removed from index")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	writeFile(t, vaultDir, "old.md", "# Rename")
	require.NoError(t, Sync(db, store, quietLogger()))

	startWatch(t, vaultDir, store, db, nil)
	require.NoError(t, os.Rename(filepath.Join(vaultDir, "old.md"), filepath.Join(vaultDir, "renamed.md")))

	assert.Eventually(t, func() bool {
		return !indexed(db, "old.md")() && indexed(db, "renamed.md")()
	}, waitFor, tick, "old path removed and new path indexed")
}

func TestWatcher_DrawingTextIndexed(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	startWatch(t, vaultDir, store, db, nil)

	writeFile(t, vaultDir, "board.excalidraw.md",
		"# Text Elements\nhello [[World]] ^abcd1234\n\n# Drawing\n```json\n{\"elements\":[]}\n```\n")

	assert.Eventually(t, func() bool {
		row, err := db.GetDocument("board.excalidraw.md")
		if err != nil || row.Kind != models.KindDrawing {
			return false
		}
		texts, _ := db.TextElements("board.excalidraw.md")
		return len(texts) == 1 && texts[0].Raw == "hello [[World]]"
	}, waitFor, tick, "drawing text elements indexed")
}

func TestWatcher_UpdateAndUnchangedWrites(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	writeFile(t, vaultDir, "note.md", "# One")
	require.NoError(t, Sync(db, store, quietLogger()))

	rec := &recorder{}
	startWatch(t, vaultDir, store, db, rec.record)

	// Same content as indexed: nothing to report.
	writeFile(t, vaultDir, "note.md", "# One")
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.snapshot(), "unchanged write reported")

	// Storage writes go through a hidden temp file and a rename.
	require.NoError(t, store.Write("note.md", []byte("# Two")))
	assert.Eventually(t, func() bool {
		return slices.Equal(rec.snapshot(), []string{"updated:note.md"})
	}, waitFor, tick, "a single updated callback")
}

func TestWatcher_HiddenFilesIgnored(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	startWatch(t, vaultDir, store, db, nil)

	writeFile(t, vaultDir, ".draft.md", "# Hidden")
	writeFile(t, vaultDir, "shown.md", "# Shown")

	assert.Eventually(t, indexed(db, "shown.md"), waitFor, tick, "visible file indexed")
	assert.False(t, indexed(db, ".draft.md")(), "hidden file indexed")
}
