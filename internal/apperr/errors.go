// Package apperr holds the sentinel errors shared across sketchmark layers.
package apperr

import "errors"

// Lookup and write conflicts.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
)

// Drawing synchronization errors.
var (
	// ErrNoDrawing reports a document without a recognizable "# Drawing" region.
	// The document cannot be loaded and no state was changed.
	ErrNoDrawing = errors.New("drawing region not found")

	// ErrInvalidScene reports scene data that is not a JSON object.
	ErrInvalidScene = errors.New("invalid scene data")

	// ErrIDExhausted reports that no collision-free element identifier could be minted.
	ErrIDExhausted = errors.New("could not mint a unique element id")

	// ErrSessionClosed is returned by operations on a closed drawing session.
	ErrSessionClosed = errors.New("session closed")
)

// ErrInvalidPath reports a vault path that cannot hold the requested document.
var ErrInvalidPath = errors.New("invalid path")
