// Package storage defines the vault file-system abstraction.
package storage

import "github.com/starford/sketchmark/internal/models"

// Provider is the interface for vault file operations.
type Provider interface {
	// List returns metadata for every document (.md or .excalidraw) under
	// dir (relative to vault root).
	List(dir string) ([]models.DocumentMetadata, error)
	// Stat returns metadata for the document at path. Missing files fail
	// with apperr.ErrNotFound.
	Stat(path string) (models.DocumentMetadata, error)
	// Exists reports whether a regular file is at path without reading it.
	Exists(path string) (bool, error)
	// Read returns the raw bytes of the file at path (relative to vault root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to vault root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to vault root).
	Delete(path string) error
	// Move renames oldPath to newPath (both relative to vault root).
	Move(oldPath, newPath string) error
}
