package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/sketchmark/internal/apperr"
	"github.com/starford/sketchmark/internal/models"
	"github.com/starford/sketchmark/internal/storage"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

const (
	// settleDelay coalesces the bursts of events one save produces.
	settleDelay = 50 * time.Millisecond
	// reconcileDelay debounces full passes after renames.
	reconcileDelay = 200 * time.Millisecond
)

// Watch starts an fsnotify watcher on the vault root and keeps the index in
// step with the documents on disk until ctx is cancelled.
//
// Events are collected per path and applied once the path has been quiet for
// a short while: the file's current content decides whether the document is
// created, updated or deleted. Writes whose content the index already holds,
// such as saves that indexed themselves, produce no callback. Renames also
// schedule a full reconciliation, since a renamed directory reports nothing
// for the files inside it.
func Watch(ctx context.Context, db *DB, store storage.Provider, vaultRoot string, logger *slog.Logger, cb EventCallback) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, vaultRoot); err != nil {
		return err
	}

	w := &watcher{
		fs:      fw,
		db:      db,
		store:   store,
		root:    vaultRoot,
		logger:  logger,
		cb:      cb,
		pending: make(map[string]struct{}),
	}
	logger.Info("watcher: started", slog.String("root", vaultRoot))
	return w.run(ctx)
}

type watcher struct {
	fs     *fsnotify.Watcher
	db     *DB
	store  storage.Provider
	root   string
	logger *slog.Logger
	cb     EventCallback

	pending   map[string]struct{}
	settle    *time.Timer
	reconcile *time.Timer
}

func (w *watcher) run(ctx context.Context) error {
	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped")
			return nil

		case <-timerC(w.settle):
			w.settle = nil
			w.flush()

		case <-timerC(w.reconcile):
			w.reconcile = nil
			w.reconcileAll()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	if isHidden(w.root, ev.Name) {
		return
	}
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.watchDir(ev.Name)
			return
		}
	}
	if ev.Op&fsnotify.Rename != 0 {
		w.reconcile = restart(w.reconcile, reconcileDelay)
	}
	if !models.IsDocument(ev.Name) {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	w.pending[filepath.ToSlash(rel)] = struct{}{}
	w.settle = restart(w.settle, settleDelay)
}

// watchDir adds a directory created at runtime and queues the documents
// already inside it.
func (w *watcher) watchDir(dir string) {
	if err := addDirsRecursive(w.fs, dir); err != nil {
		w.logger.Warn("watcher: add new dir failed",
			slog.String("path", dir),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("watcher: watching new dir", slog.String("path", dir))
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !models.IsDocument(path) || isHidden(w.root, path) {
			return nil
		}
		if rel, relErr := filepath.Rel(w.root, path); relErr == nil {
			w.pending[filepath.ToSlash(rel)] = struct{}{}
		}
		return nil
	})
	w.settle = restart(w.settle, settleDelay)
}

func (w *watcher) flush() {
	for rel := range w.pending {
		delete(w.pending, rel)
		w.apply(rel)
	}
}

// apply brings the index entry of rel in line with the file on disk.
func (w *watcher) apply(rel string) {
	known, _ := w.db.GetChecksum(rel)

	meta, err := w.store.Stat(rel)
	if errors.Is(err, apperr.ErrNotFound) {
		if known == "" {
			return
		}
		if err := w.db.DeleteDocument(rel); err != nil {
			w.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
		w.logger.Debug("watcher: deleted", slog.String("path", rel))
		w.notify("deleted", rel)
		return
	}
	if err != nil {
		w.logger.Warn("watcher: stat failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if meta.Checksum == known {
		return
	}
	if err := indexPath(w.db, w.store, rel); err != nil {
		w.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	kind := "updated"
	if known == "" {
		kind = "created"
	}
	w.logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
	w.notify(kind, rel)
}

// reconcileAll compares every indexed checksum with the vault and applies
// the differences.
func (w *watcher) reconcileAll() {
	checksums, err := w.db.AllChecksums()
	if err != nil {
		w.logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}
	metas, err := w.store.List("")
	if err != nil {
		w.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	for _, m := range metas {
		if checksums[m.Path] != m.Checksum {
			w.apply(m.Path)
		}
		delete(checksums, m.Path)
	}
	// What is left is indexed but gone from disk.
	for p := range checksums {
		w.apply(p)
	}
}

func (w *watcher) notify(kind, rel string) {
	if w.cb != nil {
		w.cb(kind, rel)
	}
}

func (w *watcher) stopTimers() {
	for _, t := range []*time.Timer{w.settle, w.reconcile} {
		if t != nil {
			t.Stop()
		}
	}
}

// timerC returns the channel of t, or nil (blocks forever) without a timer.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func restart(t *time.Timer, d time.Duration) *time.Timer {
	if t == nil {
		return time.NewTimer(d)
	}
	t.Reset(d)
	return t
}

// indexPath reads and indexes one document.
func indexPath(db *DB, store storage.Provider, rel string) error {
	meta, err := store.Stat(rel)
	if err != nil {
		return err
	}
	data, err := store.Read(rel)
	if err != nil {
		return err
	}
	return IndexFile(db, meta, data)
}

// isHidden reports whether abs lies in a dot-directory below root, or is a
// dotfile such as an atomic-write temp file.
func isHidden(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
