package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/sketchmark/internal/apperr"
	"github.com/starford/sketchmark/internal/models"
	"github.com/starford/sketchmark/internal/parser"
)

// DocumentRow represents a row in the documents table.
type DocumentRow struct {
	Path      string
	Kind      models.Kind
	Title     string
	Checksum  string
	Tags      []string
	UpdatedAt time.Time
}

// Entry is everything indexed for one document.
type Entry struct {
	Row     DocumentRow
	Body    string
	Links   []string
	Anchors []parser.Anchor
	Texts   []models.TextElement
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string
	Title   string
	Kind    models.Kind
	Snippet string
}

// Upsert inserts or replaces a document with its FTS entry, links, anchors
// and text elements within a transaction.
func (db *DB) Upsert(e Entry) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	n := e.Row
	if n.Kind == "" {
		n.Kind = models.KindNote
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	tagsJSON, _ := json.Marshal(n.Tags)

	_, err = tx.Exec(`
		INSERT INTO documents (path, name, kind, title, checksum, tags, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name       = excluded.name,
			kind       = excluded.kind,
			title      = excluded.title,
			checksum   = excluded.checksum,
			tags       = excluded.tags,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, n.Path, models.DocumentName(n.Path), string(n.Kind), n.Title, n.Checksum, string(tagsJSON), e.Body, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, n.Path, n.Title, e.Body, n.Tags); err != nil {
		return err
	}

	if err := replaceRows(tx, `DELETE FROM links WHERE source = ?`, n.Path,
		`INSERT OR IGNORE INTO links (source, target, type) VALUES (?, ?, 'inline')`,
		len(e.Links), func(i int) []any { return []any{n.Path, e.Links[i]} }); err != nil {
		return fmt.Errorf("index: links: %w", err)
	}
	if err := replaceRows(tx, `DELETE FROM anchors WHERE path = ?`, n.Path,
		`INSERT OR IGNORE INTO anchors (path, anchor, line) VALUES (?, ?, ?)`,
		len(e.Anchors), func(i int) []any { return []any{n.Path, e.Anchors[i].ID, e.Anchors[i].Line} }); err != nil {
		return fmt.Errorf("index: anchors: %w", err)
	}
	if err := replaceRows(tx, `DELETE FROM text_elements WHERE path = ?`, n.Path,
		`INSERT OR REPLACE INTO text_elements (path, element_id, position, raw) VALUES (?, ?, ?, ?)`,
		len(e.Texts), func(i int) []any { return []any{n.Path, e.Texts[i].ID, i, e.Texts[i].Raw} }); err != nil {
		return fmt.Errorf("index: text elements: %w", err)
	}

	return tx.Commit()
}

// replaceRows deletes the rows owned by path and bulk inserts n new ones.
func replaceRows(tx *sql.Tx, deleteSQL, path, insertSQL string, n int, args func(int) []any) error {
	if _, err := tx.Exec(deleteSQL, path); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range n {
		if _, err := stmt.Exec(args(i)...); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocument removes a document and everything indexed for it.
func (db *DB) DeleteDocument(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	_, _ = tx.Exec(`DELETE FROM links WHERE source = ?`, path)
	_, _ = tx.Exec(`DELETE FROM anchors WHERE path = ?`, path)
	_, _ = tx.Exec(`DELETE FROM text_elements WHERE path = ?`, path)
	_, _ = tx.Exec(`DELETE FROM documents WHERE path = ?`, path)

	return tx.Commit()
}

// GetChecksum returns the stored checksum for a document, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM documents WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// GetDocument returns one document row. Missing documents fail with
// apperr.ErrNotFound.
func (db *DB) GetDocument(path string) (*DocumentRow, error) {
	row := db.conn.QueryRow(`
		SELECT path, kind, title, checksum, tags, updated_at
		FROM documents WHERE path = ?`, path)
	r, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: get %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get %s: %w", path, err)
	}
	return r, nil
}

// ListDocuments returns a page of documents ordered by path, optionally
// filtered by kind, and the total number of matching documents.
func (db *DB) ListDocuments(kind models.Kind, limit, offset int) ([]DocumentRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents WHERE ? = '' OR kind = ?`,
		string(kind), string(kind)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count documents: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT path, kind, title, checksum, tags, updated_at
		FROM documents
		WHERE ? = '' OR kind = ?
		ORDER BY path
		LIMIT ? OFFSET ?`, string(kind), string(kind), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		r, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*DocumentRow, error) {
	var (
		r    DocumentRow
		kind string
		tags string
	)
	if err := s.Scan(&r.Path, &kind, &r.Title, &r.Checksum, &tags, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Kind = models.Kind(kind)
	_ = json.Unmarshal([]byte(tags), &r.Tags)
	return &r, nil
}

// FindByName returns the paths of documents whose link name is name,
// shortest path first. A trailing .md in name is ignored.
func (db *DB) FindByName(name string) ([]string, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".md")
	rows, err := db.conn.Query(`
		SELECT path FROM documents
		WHERE name = ? COLLATE NOCASE
		ORDER BY length(path), path`, name)
	if err != nil {
		return nil, fmt.Errorf("index: find by name: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// Anchor returns the text of the line carrying anchor in the document at path.
func (db *DB) Anchor(path, anchor string) (string, bool, error) {
	var line string
	err := db.conn.QueryRow(`SELECT line FROM anchors WHERE path = ? AND anchor = ?`, path, anchor).Scan(&line)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("index: anchor: %w", err)
	}
	return line, true, nil
}

// TextElements returns the text blocks of a drawing in document order.
func (db *DB) TextElements(path string) ([]models.TextElement, error) {
	rows, err := db.conn.Query(`
		SELECT element_id, raw FROM text_elements
		WHERE path = ? ORDER BY position`, path)
	if err != nil {
		return nil, fmt.Errorf("index: text elements: %w", err)
	}
	defer rows.Close()

	var out []models.TextElement
	for rows.Next() {
		var te models.TextElement
		if err := rows.Scan(&te.ID, &te.Raw); err != nil {
			return nil, err
		}
		out = append(out, te)
	}
	return out, rows.Err()
}

// AllPaths returns every indexed document path.
func (db *DB) AllPaths() (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT path FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}

// AllChecksums returns the stored checksum of every indexed document.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// Backlinks returns all document paths that link to the given target name.
func (db *DB) Backlinks(target string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT source FROM links WHERE target = ? ORDER BY source`, target)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
