// Package reconcile keeps the text elements of a scene and the records of a
// textstore.Store aligned by identity.
package reconcile

import (
	"fmt"
	"log/slog"
	"regexp"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/starford/sketchmark/internal/apperr"
	"github.com/starford/sketchmark/internal/drawing"
	"github.com/starford/sketchmark/internal/scene"
	"github.com/starford/sketchmark/internal/textstore"
)

const (
	idAlphabet      = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	maxMintAttempts = 16
)

var validIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{8}$`)

// ValidID reports whether id can be used as a block anchor.
func ValidID(id string) bool {
	return validIDRe.MatchString(id)
}

// IDFunc returns a candidate element identifier.
type IDFunc func() (string, error)

// NanoID mints a random alphanumeric identifier of anchor length.
func NanoID() (string, error) {
	return gonanoid.Generate(idAlphabet, drawing.IDLength)
}

// Options tune a reconciliation pass.
type Options struct {
	// DetectDrift overwrites stored raw text with scene text that differs
	// from what the store displays. Off while loading a document, where
	// stored blocks win over text cached in the scene.
	DetectDrift bool
	NewID       IDFunc
	Logger      *slog.Logger
}

// Report lists what a reconciliation pass changed.
type Report struct {
	Renamed  map[string]string // old id -> new id
	Migrated []string          // new ids that inherited a record stored under the old id
	Added    []string
	Drifted  []string
	Removed  []string
}

// IDsChanged reports whether identifiers inside the scene were rewritten, so
// the host must replace its copy of the scene.
func (r Report) IDsChanged() bool { return len(r.Renamed) > 0 }

// Changed reports whether the scene or the store changed in any way other
// than orphan removal.
func (r Report) Changed() bool {
	return r.IDsChanged() || len(r.Added) > 0 || len(r.Drifted) > 0
}

// Reconcile aligns st with the text elements of sc:
//
//  1. elements whose id is not a valid anchor get a fresh id, rewritten
//     everywhere in the scene; a record stored under the old id moves along;
//  2. elements without a record get one, seeded from their text;
//  3. with DetectDrift, records whose display text for mode differs from the
//     element text take the element text as new raw text;
//  4. records without an element are deleted.
func Reconcile(sc *scene.Scene, st *textstore.Store, mode textstore.Mode, opts Options) (Report, error) {
	newID := opts.NewID
	if newID == nil {
		newID = NanoID
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	report := Report{Renamed: map[string]string{}}
	texts := sc.TextElements()

	for _, el := range texts {
		if ValidID(el.ID) {
			continue
		}
		old := el.ID
		id, err := mint(sc, st, newID)
		if err != nil {
			return report, err
		}
		sc.RenameID(old, id)
		report.Renamed[old] = id
		if st.Rename(old, id) {
			report.Migrated = append(report.Migrated, id)
		}
		logger.Debug("reconcile: element renamed", slog.String("from", old), slog.String("to", id))
	}

	live := make(map[string]struct{}, len(texts))
	for _, el := range texts {
		live[el.ID] = struct{}{}
		if !st.Has(el.ID) {
			st.Insert(el.ID, el.Text)
			report.Added = append(report.Added, el.ID)
			continue
		}
		if !opts.DetectDrift {
			continue
		}
		cur, _ := st.DisplayText(el.ID, mode)
		if cur.Text() != el.Text {
			st.SetRaw(el.ID, el.Text)
			report.Drifted = append(report.Drifted, el.ID)
		}
	}

	for _, id := range st.IDs() {
		if _, ok := live[id]; !ok {
			st.Delete(id)
			report.Removed = append(report.Removed, id)
		}
	}
	return report, nil
}

func mint(sc *scene.Scene, st *textstore.Store, newID IDFunc) (string, error) {
	for range maxMintAttempts {
		id, err := newID()
		if err != nil {
			return "", fmt.Errorf("reconcile: mint id: %w", err)
		}
		if ValidID(id) && !st.Has(id) && !sc.HasID(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("reconcile: %w after %d attempts", apperr.ErrIDExhausted, maxMintAttempts)
}

// Push writes the store's display text for mode into every text element of
// sc whose text differs, re-measuring it with m. With force every element
// is rewritten and re-measured, which is needed after a mode switch.
// It returns the ids of the elements written.
func Push(sc *scene.Scene, st *textstore.Store, mode textstore.Mode, force bool, m scene.Measurer) []string {
	var updated []string
	for _, el := range sc.TextElements() {
		res, ok := st.DisplayText(el.ID, mode)
		if !ok {
			continue
		}
		text := res.Text()
		if !force && text == el.Text {
			continue
		}
		el.SetText(text, m)
		updated = append(updated, el.ID)
	}
	return updated
}
