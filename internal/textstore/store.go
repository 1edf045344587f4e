// Package textstore holds the text of every text element of one open
// drawing: the raw, editable source and a lazily derived resolved form.
//
// A Store is safe for concurrent use. Background resolutions hand their
// results back through the function configured with WithPost, so an owner
// that runs them on its own goroutine sees completions in order with its
// other work.
package textstore

import (
	"context"
	"iter"
	"log/slog"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Mode selects which form of the text is displayed.
type Mode uint8

const (
	ModeRaw Mode = iota
	ModeResolved
)

func (m Mode) String() string {
	if m == ModeResolved {
		return "resolved"
	}
	return "raw"
}

// ParseMode parses "raw" or "resolved" (also accepted: "parsed", "preview").
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "raw":
		return ModeRaw, true
	case "resolved", "parsed", "preview":
		return ModeResolved, true
	default:
		return ModeRaw, false
	}
}

// Record is the stored text of one element. Resolved is only meaningful when
// Current is true; otherwise it holds the last resolved value, if any.
type Record struct {
	ID          string
	Raw         string
	Resolved    string
	Current     bool
	hasResolved bool
}

// Renderer derives resolved text from raw text.
type Renderer interface {
	// Quick resolves synchronously, returning false when I/O is needed.
	Quick(raw string) (string, bool)
	// Render resolves fully; it may block on I/O.
	Render(ctx context.Context, raw string) string
}

// ResolvedFunc observes resolutions applied asynchronously.
type ResolvedFunc func(id, text string)

// Store maps element identifiers to records in insertion order.
type Store struct {
	mu      sync.Mutex
	records *orderedmap.OrderedMap[string, *Record]
	pending map[string]*Task
	render  Renderer

	post       func(func())
	onResolved ResolvedFunc
	ctx        context.Context
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPost sets how asynchronous completions are handed back to the store's
// owner. By default they run on the resolving goroutine.
func WithPost(post func(func())) Option {
	return func(s *Store) { s.post = post }
}

// WithOnResolved registers a callback for asynchronously applied results.
// It runs where completions are posted, after the record was updated and
// without the store lock held.
func WithOnResolved(fn ResolvedFunc) Option {
	return func(s *Store) { s.onResolved = fn }
}

// WithContext sets the context resolutions run under.
func WithContext(ctx context.Context) Option {
	return func(s *Store) { s.ctx = ctx }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty Store.
func New(render Renderer, opts ...Option) *Store {
	s := &Store{
		records: orderedmap.New[string, *Record](),
		pending: make(map[string]*Task),
		render:  render,
		post:    func(fn func()) { fn() },
		ctx:     context.Background(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRenderer replaces the renderer and invalidates every resolved value.
func (s *Store) SetRenderer(render Renderer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.render = render
	s.invalidate()
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.Len()
}

// Has reports whether id has a record.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records.Get(id)
	return ok
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records.Get(id)
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// All yields copies of the records in insertion order, as they were when
// iteration started. The loop body may call back into the store.
func (s *Store) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		s.mu.Lock()
		snapshot := make([]Record, 0, s.records.Len())
		for p := s.records.Oldest(); p != nil; p = p.Next() {
			snapshot = append(snapshot, *p.Value)
		}
		s.mu.Unlock()

		for _, r := range snapshot {
			if !yield(r) {
				return
			}
		}
	}
}

// IDs returns the record identifiers in insertion order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, s.records.Len())
	for p := s.records.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key)
	}
	return out
}

// Insert appends a record for id with the given raw text and resolves it:
// synchronously when possible, otherwise in the background. An existing
// record is overwritten as by SetRaw.
func (s *Store) Insert(id, raw string) Resolution {
	return s.SetRaw(id, raw)
}

// SetRaw overwrites the raw text of id, creating the record if needed, and
// returns its resolved text. Text without transclusions resolves
// immediately; otherwise a Pending resolution is returned and the result is
// applied later. Setting an unchanged raw text does no work.
func (s *Store) SetRaw(id, raw string) Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records.Get(id)
	if ok && r.Raw == raw {
		if r.Current {
			return Resolved(r.Resolved)
		}
		if t, busy := s.pending[id]; busy && t.raw == raw {
			return Pending(t, r.fallback())
		}
	}
	if !ok {
		r = &Record{ID: id}
		s.records.Set(id, r)
	}
	r.Raw = raw
	r.Current = false
	return s.resolve(r)
}

// DisplayText returns the text of id for mode. In resolved mode a missing
// resolved value is computed: immediately when possible, otherwise a
// background resolution is started, or joined if already running.
func (s *Store) DisplayText(id string, mode Mode) (Resolution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records.Get(id)
	if !ok {
		return Resolution{}, false
	}
	if mode == ModeRaw {
		return Resolved(r.Raw), true
	}
	if r.Current {
		return Resolved(r.Resolved), true
	}
	if t, busy := s.pending[id]; busy && t.raw == r.Raw {
		return Pending(t, r.fallback()), true
	}
	return s.resolve(r), true
}

// Delete removes id. A running resolution for it is discarded on completion.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	_, ok := s.records.Delete(id)
	return ok
}

// Rename moves the record stored under oldID to newID, keeping its text and
// resolved value. The record moves to the end of the insertion order, and a
// running resolution follows it.
func (s *Store) Rename(oldID, newID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records.Get(oldID)
	if !ok || oldID == newID {
		return false
	}
	if _, taken := s.records.Get(newID); taken {
		return false
	}
	s.records.Delete(oldID)
	r.ID = newID
	s.records.Set(newID, r)
	if t, busy := s.pending[oldID]; busy {
		delete(s.pending, oldID)
		s.pending[newID] = t
	}
	return true
}

// Invalidate marks every resolved value stale, e.g. after display options
// changed. Values are recomputed on the next resolved-mode read.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidate()
}

// Reset drops every record.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = orderedmap.New[string, *Record]()
	clear(s.pending)
}

func (s *Store) invalidate() {
	for p := s.records.Oldest(); p != nil; p = p.Next() {
		p.Value.Current = false
	}
	clear(s.pending)
}

func (r *Record) fallback() string {
	if r.hasResolved {
		return r.Resolved
	}
	return r.Raw
}

// resolve derives the resolved text of r. Called with s.mu held.
func (s *Store) resolve(r *Record) Resolution {
	if s.render == nil {
		r.apply(r.Raw)
		return Resolved(r.Raw)
	}
	if text, ok := s.render.Quick(r.Raw); ok {
		delete(s.pending, r.ID)
		r.apply(text)
		return Resolved(text)
	}

	t := newTask(r, r.Raw)
	s.pending[r.ID] = t
	fallback := r.fallback()
	render, ctx := s.render, s.ctx
	go func() {
		text := render.Render(ctx, t.raw)
		s.post(func() { s.complete(t, text) })
	}()
	return Pending(t, fallback)
}

// complete offers the result of t to the store. The record is looked up by
// identity, so a rename while t was running does not lose the result.
func (s *Store) complete(t *Task, text string) {
	s.mu.Lock()
	id := t.rec.ID
	applied := false
	if s.pending[id] == t {
		delete(s.pending, id)
		if r, ok := s.records.Get(id); ok && r == t.rec && r.Raw == t.raw {
			r.apply(text)
			applied = true
		}
	}
	s.mu.Unlock()

	if !applied {
		s.logger.Debug("textstore: stale resolution discarded", slog.String("id", id))
	}
	if applied && s.onResolved != nil {
		s.onResolved(id, text)
	}
	t.finish(text, applied)
}

func (r *Record) apply(text string) {
	r.Resolved = text
	r.Current = true
	r.hasResolved = true
}
