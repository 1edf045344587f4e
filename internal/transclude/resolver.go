// Package transclude expands "![[document#^anchor]]" embeds by reading the
// anchored line of another vault document.
package transclude

import (
	"context"
	"log/slog"
	"strings"

	"github.com/starford/sketchmark/internal/links"
)

// DocumentLookup resolves a short document name, as written in a link,
// to a vault path. fromPath is the path of the linking document.
type DocumentLookup interface {
	Lookup(ctx context.Context, name, fromPath string) (path string, ok bool)
}

// ContentReader returns the full text of a vault document.
type ContentReader interface {
	Read(ctx context.Context, path string) (string, error)
}

// Resolver expands transclusions. It never fails: every problem degrades to
// returning the original text.
type Resolver struct {
	lookup DocumentLookup
	reader ContentReader
	logger *slog.Logger
}

// NewResolver creates a Resolver over the given collaborators.
func NewResolver(lookup DocumentLookup, reader ContentReader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookup: lookup, reader: reader, logger: logger}
}

// Resolve returns the text of the line in document that carries the block
// anchor, without the anchor marker. original is returned when the document
// or the anchor cannot be found.
func (r *Resolver) Resolve(ctx context.Context, document, anchor, sourcePath, original string) string {
	if out, ok := r.resolve(ctx, document, anchor, sourcePath); ok {
		return out
	}
	return original
}

func (r *Resolver) resolve(ctx context.Context, document, anchor, sourcePath string) (string, bool) {
	if err := ctx.Err(); err != nil {
		return "", false
	}
	path, ok := r.lookup.Lookup(ctx, document, sourcePath)
	if !ok {
		r.logger.Debug("transclude: document not found",
			slog.String("document", document),
			slog.String("source", sourcePath))
		return "", false
	}
	content, err := r.reader.Read(ctx, path)
	if err != nil {
		r.logger.Debug("transclude: read failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return "", false
	}
	line, ok := FindAnchoredLine(content, anchor)
	if !ok {
		r.logger.Debug("transclude: anchor not found",
			slog.String("path", path),
			slog.String("anchor", anchor))
		return "", false
	}
	return line, true
}

// Func adapts the resolver to the links package for documents located at
// sourcePath.
func (r *Resolver) Func(sourcePath string) links.TransclusionFunc {
	return func(ctx context.Context, document, anchor string) (string, bool) {
		return r.resolve(ctx, document, anchor, sourcePath)
	}
}

// FindAnchoredLine returns the text preceding " ^anchor" on the first line of
// content that ends with that marker. Any whitespace may precede the caret.
func FindAnchoredLine(content, anchor string) (string, bool) {
	if anchor == "" {
		return "", false
	}
	marker := "^" + anchor
	for line := range strings.Lines(content) {
		line = strings.TrimRight(line, "\r\n")
		if !strings.HasSuffix(line, marker) {
			continue
		}
		head := line[:len(line)-len(marker)]
		if head == "" {
			continue
		}
		switch head[len(head)-1] {
		case ' ', '\t':
			return head[:len(head)-1], true
		}
	}
	return "", false
}
