// Package vault implements the collaborators the transclusion resolver needs
// on top of vault storage and the index.
package vault

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/starford/sketchmark/internal/storage"
)

// NameIndex finds documents by link name.
type NameIndex interface {
	FindByName(name string) ([]string, error)
}

// Lookup resolves link names to vault paths: first relative to the linking
// document, then from the vault root, then by name anywhere in the vault.
type Lookup struct {
	store  storage.Provider
	names  NameIndex
	logger *slog.Logger
}

// NewLookup creates a Lookup. names may be nil, which disables lookup by
// bare name.
func NewLookup(store storage.Provider, names NameIndex, logger *slog.Logger) *Lookup {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lookup{store: store, names: names, logger: logger}
}

// Lookup implements transclude.DocumentLookup.
func (l *Lookup) Lookup(_ context.Context, name, fromPath string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	file := name
	if !strings.HasSuffix(file, ".md") && !strings.HasSuffix(file, ".excalidraw") {
		file += ".md"
	}

	candidates := []string{path.Join(path.Dir(fromPath), file), path.Clean(file)}
	for _, c := range candidates {
		if strings.HasPrefix(c, "../") || c == ".." {
			continue
		}
		if ok, err := l.store.Exists(c); ok && err == nil {
			return c, true
		}
	}

	if l.names == nil {
		return "", false
	}
	paths, err := l.names.FindByName(path.Base(name))
	if err != nil {
		l.logger.Warn("vault: find by name failed", slog.String("name", name), slog.String("error", err.Error()))
		return "", false
	}
	if len(paths) == 0 {
		return "", false
	}
	return paths[0], true
}
