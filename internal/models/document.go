// Package models defines the domain types shared by the vault index, the
// drawing service and the API.
package models

import (
	"path"
	"strings"
	"time"
)

// Kind classifies a vault document.
type Kind string

const (
	KindNote    Kind = "note"
	KindDrawing Kind = "drawing"
)

// Drawing file suffixes. Legacy drawings hold the bare scene JSON.
const (
	DrawingSuffix = ".excalidraw.md"
	LegacySuffix  = ".excalidraw"
)

// IsLegacyDrawing reports whether p names a scene-only drawing.
func IsLegacyDrawing(p string) bool { return strings.HasSuffix(p, LegacySuffix) }

// IsDocument reports whether p names a file the vault tracks.
func IsDocument(p string) bool {
	return strings.HasSuffix(p, ".md") || IsLegacyDrawing(p)
}

// DocumentName returns the name links use for the document at p: the base
// name without the .md extension.
func DocumentName(p string) string {
	return strings.TrimSuffix(path.Base(p), ".md")
}

// Document is a parsed vault document.
type Document struct {
	Path         string                 `json:"path"`
	Kind         Kind                   `json:"kind"`
	Title        string                 `json:"title,omitempty"`
	Frontmatter  map[string]interface{} `json:"frontmatter,omitempty"`
	Links        []string               `json:"links,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	TextElements []TextElement          `json:"text_elements,omitempty"`
	Checksum     string                 `json:"checksum"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// DocumentMetadata is a lightweight representation returned by list operations.
type DocumentMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TextElement is one text block of a drawing.
type TextElement struct {
	ID      string `json:"id"`
	Raw     string `json:"raw"`
	Display string `json:"display,omitempty"`
}

// Link represents a directed edge between two documents.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"` // "inline" or "transclusion"
}
