// Package drawingservice opens vault drawings as sync sessions, keeps the
// open sessions by id and writes them back to the vault.
package drawingservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/sketchmark/internal/apperr"
	"github.com/starford/sketchmark/internal/checksum"
	"github.com/starford/sketchmark/internal/drawing"
	"github.com/starford/sketchmark/internal/drawsync"
	"github.com/starford/sketchmark/internal/index"
	"github.com/starford/sketchmark/internal/measure"
	"github.com/starford/sketchmark/internal/models"
	"github.com/starford/sketchmark/internal/parser"
	"github.com/starford/sketchmark/internal/scene"
	"github.com/starford/sketchmark/internal/storage"
	"github.com/starford/sketchmark/internal/textstore"
	"github.com/starford/sketchmark/internal/transclude"
	"github.com/starford/sketchmark/internal/vault"
)

// DefaultHeader is written at the top of new drawings.
const DefaultHeader = "---\nexcalidraw-plugin: parsed\n---\n\n"

// Drawing is a read-only view of a drawing document.
type Drawing struct {
	Path        string                 `json:"path"`
	Title       string                 `json:"title"`
	Checksum    string                 `json:"checksum"`
	Mode        string                 `json:"mode"`
	Legacy      bool                   `json:"legacy,omitempty"`
	Frontmatter map[string]interface{} `json:"frontmatter,omitempty"`
	Texts       []models.TextElement   `json:"texts"`
	Backlinks   []string               `json:"backlinks"`
	Scene       json.RawMessage        `json:"scene"`
}

// ListItem is a lightweight item in a list response.
type ListItem struct {
	Path     string   `json:"path"`
	Title    string   `json:"title"`
	Checksum string   `json:"checksum"`
	Tags     []string `json:"tags"`
}

// SaveResult describes a written document.
type SaveResult struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

// UpdateFunc is called when the displayed text of an element in an open
// session changed.
type UpdateFunc func(sessionID, path string, u drawsync.Update)

// Option configures a Service.
type Option func(*Service)

// WithSettings sets the display settings sessions start from.
func WithSettings(st drawsync.Settings) Option {
	return func(s *Service) { s.settings = st }
}

// WithMeasurer sets the text measurer passed to sessions.
func WithMeasurer(m scene.Measurer) Option {
	return func(s *Service) { s.measurer = m }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithOnUpdate registers fn for element text updates of open sessions.
func WithOnUpdate(fn UpdateFunc) Option {
	return func(s *Service) { s.onUpdate = fn }
}

// Handle is an open session.
type Handle struct {
	*drawsync.Session
	ID string

	mu     sync.Mutex
	path   string
	cancel func()
}

// Path returns the vault path the session is saved to.
func (h *Handle) Path() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.path
}

func (h *Handle) setPath(p string) {
	h.mu.Lock()
	h.path = p
	h.mu.Unlock()
}

// Service coordinates storage, the index and open drawing sessions.
type Service struct {
	store    storage.Provider
	db       index.DocumentIndex
	reader   *vault.CachedReader
	resolver *transclude.Resolver
	measurer scene.Measurer
	logger   *slog.Logger
	onUpdate UpdateFunc

	mu       sync.RWMutex
	settings drawsync.Settings
	sessions map[string]*Handle
}

// New creates a drawing service.
func New(store storage.Provider, db index.DocumentIndex, opts ...Option) *Service {
	s := &Service{
		store:    store,
		db:       db,
		settings: drawsync.DefaultSettings(),
		measurer: measure.Heuristic{},
		logger:   slog.Default(),
		sessions: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reader = vault.NewCachedReader(store)
	s.resolver = transclude.NewResolver(vault.NewLookup(store, db, s.logger), s.reader, s.logger)
	return s
}

// Settings returns the display settings new sessions start from.
func (s *Service) Settings() drawsync.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings replaces the display settings of new and open sessions.
// Open sessions keep their frontmatter overrides and redisplay their text
// when the effective link display changed. It returns how many did.
func (s *Service) UpdateSettings(st drawsync.Settings) int {
	s.mu.Lock()
	s.settings = st
	handles := make([]*Handle, 0, len(s.sessions))
	for _, h := range s.sessions {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	changed := 0
	for _, h := range handles {
		ok, err := h.ApplySettings(st)
		if err != nil {
			s.logger.Debug("apply settings failed",
				slog.String("session", h.ID),
				slog.String("error", err.Error()))
			continue
		}
		if ok {
			changed++
		}
	}
	s.logger.Info("settings updated",
		slog.Int("sessions", len(handles)),
		slog.Int("redisplayed", changed))
	return changed
}

// Open loads the drawing at path into a new session.
func (s *Service) Open(_ context.Context, path string) (*Handle, error) {
	sess, err := s.load(path)
	if err != nil {
		return nil, err
	}
	h := &Handle{Session: sess, ID: uuid.NewString(), path: path}
	h.cancel = sess.Subscribe(func(u drawsync.Update) {
		if s.onUpdate != nil {
			s.onUpdate(h.ID, h.Path(), u)
		}
	})

	s.mu.Lock()
	s.sessions[h.ID] = h
	s.mu.Unlock()

	s.logger.Info("session opened", slog.String("session", h.ID), slog.String("path", path))
	return h, nil
}

// Session returns the open session id.
func (s *Service) Session(id string) (*Handle, error) {
	s.mu.RLock()
	h, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("drawingservice: session %s: %w", id, apperr.ErrNotFound)
	}
	return h, nil
}

// CloseSession closes and forgets the session id.
func (s *Service) CloseSession(id string) error {
	s.mu.Lock()
	h, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("drawingservice: session %s: %w", id, apperr.ErrNotFound)
	}
	h.cancel()
	h.Close()
	s.logger.Info("session closed", slog.String("session", id))
	return nil
}

// Save writes the session back to the vault. Legacy scene files are saved
// as Markdown drawings next to the original, and the session follows the
// new path.
func (s *Service) Save(_ context.Context, id string) (*SaveResult, error) {
	h, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	res, err := s.persist(h.Path(), h.Session)
	if err != nil {
		return nil, err
	}
	h.setPath(res.Path)
	return res, nil
}

// Create writes an empty drawing at path. header defaults to DefaultHeader.
func (s *Service) Create(ctx context.Context, path, header string) (*Drawing, error) {
	if !strings.HasSuffix(path, models.DrawingSuffix) {
		return nil, fmt.Errorf("drawingservice: create %s: want %s suffix: %w", path, models.DrawingSuffix, apperr.ErrInvalidPath)
	}
	if _, err := s.store.Stat(path); err == nil {
		return nil, fmt.Errorf("drawingservice: create %s: %w", path, apperr.ErrAlreadyExists)
	}
	if header == "" {
		header = DefaultHeader
	}
	blob, err := scene.New().Marshal()
	if err != nil {
		return nil, err
	}
	text := drawing.Encode(&drawing.Document{Header: header, Scene: blob, HasTextElements: true})
	if err := s.write(path, []byte(text)); err != nil {
		return nil, err
	}
	return s.Get(ctx, path, s.Settings().Mode)
}

// Get returns the drawing at path with its text displayed in mode.
// Transclusions are resolved before Get returns, or until ctx is done.
func (s *Service) Get(ctx context.Context, path string, mode textstore.Mode) (*Drawing, error) {
	data, err := s.store.Read(path)
	if err != nil {
		return nil, fmt.Errorf("drawingservice: get %s: %w", path, err)
	}
	sess, err := s.loadData(path, data)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := sess.SetDisplayMode(mode); err != nil {
		return nil, err
	}
	if err := sess.Settle(ctx); err != nil {
		return nil, fmt.Errorf("drawingservice: get %s: %w", path, err)
	}
	texts, err := sess.Texts()
	if err != nil {
		return nil, err
	}
	blob, err := sess.Scene()
	if err != nil {
		return nil, err
	}

	d := &Drawing{
		Path:      path,
		Title:     models.DocumentName(path),
		Checksum:  checksum.Sum(data),
		Mode:      mode.String(),
		Legacy:    models.IsLegacyDrawing(path),
		Texts:     make([]models.TextElement, len(texts)),
		Backlinks: []string{},
		Scene:     blob,
	}
	for i, tv := range texts {
		d.Texts[i] = models.TextElement{ID: tv.ID, Raw: tv.Raw, Display: tv.Display}
	}
	if !d.Legacy {
		if res, err := parser.Parse(data); err == nil {
			d.Frontmatter = res.Frontmatter
			if res.Title != "" {
				d.Title = res.Title
			}
		}
	}
	if bl, err := s.db.Backlinks(models.DocumentName(path)); err == nil && bl != nil {
		d.Backlinks = bl
	}
	return d, nil
}

// SetText replaces the raw text of element id in the drawing at path and
// saves the drawing. An open session for path is used when there is one.
func (s *Service) SetText(ctx context.Context, path, id, raw string) (*SaveResult, error) {
	if h := s.byPath(path); h != nil {
		if err := requireText(h.Session, path, id); err != nil {
			return nil, err
		}
		if _, err := h.SetText(id, raw); err != nil {
			return nil, err
		}
		return s.Save(ctx, h.ID)
	}

	sess, err := s.load(path)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	if err := requireText(sess, path, id); err != nil {
		return nil, err
	}
	if _, err := sess.SetText(id, raw); err != nil {
		return nil, err
	}
	return s.persist(path, sess)
}

// List returns a page of indexed drawings.
func (s *Service) List(_ context.Context, limit, offset int) ([]ListItem, int, error) {
	rows, total, err := s.db.ListDocuments(models.KindDrawing, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]ListItem, len(rows))
	for i, r := range rows {
		items[i] = ListItem{
			Path:     r.Path,
			Title:    r.Title,
			Checksum: r.Checksum,
			Tags:     nonNilSlice(r.Tags),
		}
	}
	return items, total, nil
}

// Search delegates full-text search over drawings to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, models.KindDrawing, limit)
}

// DocumentChanged drops cached content of path and re-resolves the text of
// every other open session, since any of them may transclude path.
func (s *Service) DocumentChanged(path string) {
	s.reader.Invalidate(path)

	s.mu.RLock()
	handles := make([]*Handle, 0, len(s.sessions))
	for _, h := range s.sessions {
		if h.Path() != path {
			handles = append(handles, h)
		}
	}
	s.mu.RUnlock()

	for _, h := range handles {
		if err := h.Reresolve(); err != nil {
			s.logger.Debug("re-resolve failed",
				slog.String("session", h.ID),
				slog.String("error", err.Error()))
		}
	}
}

// Close closes every open session.
func (s *Service) Close() {
	s.mu.Lock()
	handles := s.sessions
	s.sessions = make(map[string]*Handle)
	s.mu.Unlock()
	for _, h := range handles {
		h.cancel()
		h.Close()
	}
}

func (s *Service) byPath(path string) *Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.sessions {
		if h.Path() == path {
			return h
		}
	}
	return nil
}

func (s *Service) load(path string) (*drawsync.Session, error) {
	if !models.IsDocument(path) {
		return nil, fmt.Errorf("drawingservice: open %s: %w", path, apperr.ErrInvalidPath)
	}
	data, err := s.store.Read(path)
	if err != nil {
		return nil, fmt.Errorf("drawingservice: open %s: %w", path, err)
	}
	return s.loadData(path, data)
}

func (s *Service) loadData(path string, data []byte) (*drawsync.Session, error) {
	sess := drawsync.New(
		drawsync.WithSettings(s.Settings()),
		drawsync.WithTransclusion(s.resolver.Func(path)),
		drawsync.WithMeasurer(s.measurer),
		drawsync.WithLogger(s.logger.With(slog.String("path", path))),
	)
	var err error
	if models.IsLegacyDrawing(path) {
		_, err = sess.LoadLegacy(data)
	} else {
		_, err = sess.Load(string(data))
	}
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("drawingservice: open %s: %w", path, err)
	}
	return sess, nil
}

func (s *Service) persist(path string, sess *drawsync.Session) (*SaveResult, error) {
	text, err := sess.SyncToDocument()
	if err != nil {
		return nil, err
	}
	if models.IsLegacyDrawing(path) {
		path = strings.TrimSuffix(path, models.LegacySuffix) + models.DrawingSuffix
	}
	data := []byte(text)
	if err := s.write(path, data); err != nil {
		return nil, err
	}
	return &SaveResult{Path: path, Checksum: checksum.Sum(data)}, nil
}

// write stores data at path, indexes it and tells the other open sessions.
// The watcher skips content the index already holds, so this is the only
// notification a save produces.
func (s *Service) write(path string, data []byte) error {
	if err := s.store.Write(path, data); err != nil {
		return fmt.Errorf("drawingservice: write %s: %w", path, err)
	}
	meta, err := s.store.Stat(path)
	if err != nil {
		return fmt.Errorf("drawingservice: write %s: %w", path, err)
	}
	if err := index.IndexFile(s.db, meta, data); err != nil {
		return fmt.Errorf("drawingservice: index %s: %w", path, err)
	}
	s.DocumentChanged(path)
	return nil
}

func requireText(sess *drawsync.Session, path, id string) error {
	_, ok, err := sess.DisplayText(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("drawingservice: %s: text %s: %w", path, id, apperr.ErrNotFound)
	}
	return nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
