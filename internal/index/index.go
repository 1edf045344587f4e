package index

import "github.com/starford/sketchmark/internal/models"

// DocumentIndex defines the interface for vault indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type DocumentIndex interface {
	Upsert(e Entry) error
	DeleteDocument(path string) error
	GetChecksum(path string) (string, error)
	GetDocument(path string) (*DocumentRow, error)
	ListDocuments(kind models.Kind, limit, offset int) ([]DocumentRow, int, error)
	Search(query string, kind models.Kind, limit int) ([]SearchResult, error)
	Backlinks(target string) ([]string, error)
	FindByName(name string) ([]string, error)
	Anchor(path, anchor string) (string, bool, error)
	TextElements(path string) ([]models.TextElement, error)
	AllPaths() (map[string]struct{}, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies DocumentIndex at compile time.
var _ DocumentIndex = (*DB)(nil)
