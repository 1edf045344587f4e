package index

import (
	"log/slog"

	"github.com/starford/sketchmark/internal/checksum"
	"github.com/starford/sketchmark/internal/models"
	"github.com/starford/sketchmark/internal/parser"
	"github.com/starford/sketchmark/internal/storage"
)

// Sync walks the vault and brings the index up to date:
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the index
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, m, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteDocument(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexFile parses data and upserts it into the DB.
func IndexFile(db DocumentIndex, meta models.DocumentMetadata, data []byte) error {
	var (
		res *parser.Result
		err error
	)
	if models.IsLegacyDrawing(meta.Path) {
		res, err = parser.ParseScene(data)
	} else {
		res, err = parser.Parse(data)
	}
	if err != nil {
		return err
	}

	e := Entry{
		Row: DocumentRow{
			Path:      meta.Path,
			Kind:      models.KindNote,
			Title:     res.Title,
			Checksum:  checksum.Sum(data),
			Tags:      res.Tags,
			UpdatedAt: meta.UpdatedAt,
		},
		Body:    res.Body,
		Links:   res.Links,
		Anchors: res.Anchors,
	}
	if e.Row.Title == "" {
		e.Row.Title = models.DocumentName(meta.Path)
	}
	if res.IsDrawing() {
		e.Row.Kind = models.KindDrawing
		for _, b := range res.Drawing.Blocks {
			e.Texts = append(e.Texts, models.TextElement{ID: b.ID, Raw: b.Raw})
		}
	}
	return db.Upsert(e)
}
