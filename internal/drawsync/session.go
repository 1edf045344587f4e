// Package drawsync keeps one open drawing document consistent: the text
// blocks of the document, the text elements of its scene and the resolved
// view of that text.
//
// A Session owns its state exclusively. Every operation is executed on the
// session's own goroutine, so callers on other goroutines never overlap.
package drawsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/sketchmark/internal/drawing"
	"github.com/starford/sketchmark/internal/links"
	"github.com/starford/sketchmark/internal/measure"
	"github.com/starford/sketchmark/internal/parser"
	"github.com/starford/sketchmark/internal/reconcile"
	"github.com/starford/sketchmark/internal/scene"
	"github.com/starford/sketchmark/internal/textstore"
)

// LoadStatus is the outcome of loading a document.
type LoadStatus int

const (
	StatusIncomplete LoadStatus = iota
	StatusReady
)

func (s LoadStatus) String() string {
	if s == StatusReady {
		return "ready"
	}
	return "incomplete"
}

// UpdateKind tells what changed an element.
type UpdateKind int

const (
	// UpdateResolved follows a background resolution.
	UpdateResolved UpdateKind = iota
	// UpdateEdited follows a change the session made itself: new raw text,
	// a mode switch, new settings or a re-resolution.
	UpdateEdited
)

func (k UpdateKind) String() string {
	if k == UpdateEdited {
		return "edited"
	}
	return "resolved"
}

// Update reports a text element whose displayed text changed.
type Update struct {
	ID   string
	Text string
	Kind UpdateKind
}

// TextView is a snapshot of one text record.
type TextView struct {
	ID      string
	Raw     string
	Display string
	Pending bool
}

// Option configures a Session.
type Option func(*Session)

// WithTransclusion sets how transclusions are expanded. Without it they are
// displayed as written.
func WithTransclusion(fn links.TransclusionFunc) Option {
	return func(s *Session) { s.expand = fn }
}

// WithMeasurer sets the text measurer used when element text changes.
func WithMeasurer(m scene.Measurer) Option {
	return func(s *Session) { s.measurer = m }
}

// WithSettings sets the display settings before per-document overrides.
func WithSettings(st Settings) Option {
	return func(s *Session) { s.base = st }
}

// WithIDFunc sets the identifier minter used for renamed elements.
func WithIDFunc(fn reconcile.IDFunc) Option {
	return func(s *Session) { s.newID = fn }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session is one open drawing document.
type Session struct {
	exec   *executor
	ctx    context.Context
	cancel context.CancelFunc

	base     Settings
	settings Settings
	expand   links.TransclusionFunc
	measurer scene.Measurer
	newID    reconcile.IDFunc
	logger   *slog.Logger

	store  *textstore.Store
	scene  *scene.Scene
	header string
	mode   textstore.Mode

	subMu   sync.Mutex
	subs    map[int]func(Update)
	nextSub int
}

// New creates an empty session. Call Load or LoadLegacy to open a document.
func New(opts ...Option) *Session {
	s := &Session{
		base:     DefaultSettings(),
		measurer: measure.Heuristic{},
		newID:    reconcile.NanoID,
		logger:   slog.Default(),
		subs:     make(map[int]func(Update)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.exec = newExecutor()
	s.settings = s.base
	s.mode = s.base.Mode
	s.scene = scene.New()
	s.store = s.newStore()
	return s
}

// newStore creates a store whose background resolutions are applied on the
// session goroutine. Results for a store that has since been replaced are
// ignored.
func (s *Session) newStore() *textstore.Store {
	var st *textstore.Store
	st = textstore.New(s.renderer(),
		textstore.WithPost(s.exec.post),
		textstore.WithContext(s.ctx),
		textstore.WithLogger(s.logger),
		textstore.WithOnResolved(func(id, text string) {
			if s.store == st {
				s.onResolved(id, text)
			}
		}),
	)
	return st
}

func (s *Session) renderer() renderer {
	return renderer{opts: s.settings.Links, expand: s.expand, timeout: s.settings.ResolveTimeout}
}

// Load replaces the session state with the decoded document text. Stored
// text blocks take precedence over the text cached in the scene. On failure
// StatusIncomplete is returned and the previous state is kept.
func (s *Session) Load(text string) (LoadStatus, error) {
	return call(s.exec, func() (LoadStatus, error) {
		doc, err := drawing.Decode(text)
		if err != nil {
			return StatusIncomplete, fmt.Errorf("drawsync: load: %w", err)
		}
		sc, err := scene.Parse(doc.Scene)
		if err != nil {
			return StatusIncomplete, fmt.Errorf("drawsync: load: %w", err)
		}
		if doc.Trimmed {
			s.logger.Warn("drawsync: trailing data after scene dropped")
		}
		settings := s.base.Override(parser.Frontmatter([]byte(doc.Header)))
		if err := s.install(doc.Header, sc, settings, s.mode, doc.Blocks); err != nil {
			return StatusIncomplete, err
		}
		return StatusReady, nil
	})
}

// LoadLegacy opens a scene-only drawing. Its text elements seed the store
// and the session switches to raw display.
func (s *Session) LoadLegacy(blob []byte) (LoadStatus, error) {
	return call(s.exec, func() (LoadStatus, error) {
		sc, err := scene.Parse(blob)
		if err != nil {
			return StatusIncomplete, fmt.Errorf("drawsync: load legacy: %w", err)
		}
		if err := s.install("", sc, s.base, textstore.ModeRaw, nil); err != nil {
			return StatusIncomplete, err
		}
		return StatusReady, nil
	})
}

func (s *Session) install(header string, sc *scene.Scene, settings Settings, mode textstore.Mode, blocks []drawing.Block) error {
	prevStore, prevSettings := s.store, s.settings

	s.settings = settings
	st := s.newStore()
	s.store = st
	for _, b := range blocks {
		st.Insert(b.ID, b.Raw)
	}

	report, err := reconcile.Reconcile(sc, st, mode, s.reconcileOptions(false))
	if err != nil {
		s.store, s.settings = prevStore, prevSettings
		return fmt.Errorf("drawsync: load: %w", err)
	}
	s.scene = sc
	s.header = header
	s.mode = mode
	reconcile.Push(sc, st, mode, true, s.measurer)

	s.logger.Debug("drawsync: document loaded",
		slog.Int("blocks", len(blocks)),
		slog.Int("added", len(report.Added)),
		slog.Int("renamed", len(report.Renamed)),
		slog.Int("removed", len(report.Removed)))
	return nil
}

func (s *Session) reconcileOptions(drift bool) reconcile.Options {
	return reconcile.Options{DetectDrift: drift, NewID: s.newID, Logger: s.logger}
}

// SetDisplayMode switches between raw and resolved display and rewrites
// every text element, re-measuring it even when its text is unchanged.
func (s *Session) SetDisplayMode(mode textstore.Mode) error {
	_, err := call(s.exec, func() (struct{}, error) {
		s.mode = mode
		s.pushed(reconcile.Push(s.scene, s.store, mode, true, s.measurer))
		return struct{}{}, nil
	})
	return err
}

// Mode returns the active display mode.
func (s *Session) Mode() (textstore.Mode, error) {
	return call(s.exec, func() (textstore.Mode, error) { return s.mode, nil })
}

// SyncFromScene adopts the scene edited by the host. Element text that
// differs from what the session displays becomes the new raw text. It
// reports whether identifiers were rewritten or text changed; in that case
// the host must replace its scene with Scene().
func (s *Session) SyncFromScene(blob []byte) (bool, error) {
	return call(s.exec, func() (bool, error) {
		sc, err := scene.Parse(blob)
		if err != nil {
			return false, fmt.Errorf("drawsync: sync from scene: %w", err)
		}
		report, err := reconcile.Reconcile(sc, s.store, s.mode, s.reconcileOptions(true))
		if err != nil {
			return false, fmt.Errorf("drawsync: sync from scene: %w", err)
		}
		s.scene = sc
		if !report.Changed() {
			return false, nil
		}
		s.pushed(reconcile.Push(sc, s.store, s.mode, false, s.measurer))
		return true, nil
	})
}

// SyncToDocument encodes the session as document text.
func (s *Session) SyncToDocument() (string, error) {
	return call(s.exec, func() (string, error) {
		if _, err := reconcile.Reconcile(s.scene, s.store, s.mode, s.reconcileOptions(false)); err != nil {
			return "", fmt.Errorf("drawsync: encode: %w", err)
		}
		blob, err := s.scene.Marshal()
		if err != nil {
			return "", fmt.Errorf("drawsync: encode: %w", err)
		}
		doc := &drawing.Document{Header: s.header, Scene: blob, HasTextElements: true}
		for rec := range s.store.All() {
			doc.Blocks = append(doc.Blocks, drawing.Block{ID: rec.ID, Raw: rec.Raw})
		}
		return drawing.Encode(doc), nil
	})
}

// DisplayText returns the text of id in the active mode. Text whose
// resolution is still running is returned in its last known form.
func (s *Session) DisplayText(id string) (string, bool, error) {
	type result struct {
		text string
		ok   bool
	}
	r, err := call(s.exec, func() (result, error) {
		res, ok := s.store.DisplayText(id, s.mode)
		return result{text: res.Text(), ok: ok}, nil
	})
	return r.text, r.ok, err
}

// SetText stores raw as the text of id and shows it on the matching scene
// element. The returned resolution is immediate unless raw contains a
// transclusion; the element is then updated again once it resolves.
// Subscribers see the new element text as an UpdateEdited.
func (s *Session) SetText(id, raw string) (textstore.Resolution, error) {
	return call(s.exec, func() (textstore.Resolution, error) {
		res := s.store.SetRaw(id, raw)
		if el, ok := s.scene.Element(id); ok {
			text := raw
			if s.mode == textstore.ModeResolved {
				text = res.Text()
			}
			if el.Text != text {
				el.SetText(text, s.measurer)
				s.notify(Update{ID: id, Text: text, Kind: UpdateEdited})
			}
		}
		return res, nil
	})
}

// DeleteText drops the record of id.
func (s *Session) DeleteText(id string) (bool, error) {
	return call(s.exec, func() (bool, error) { return s.store.Delete(id), nil })
}

// Refresh pushes the store's display text into the scene and returns the
// ids of the elements it rewrote.
func (s *Session) Refresh(force bool) ([]string, error) {
	return call(s.exec, func() ([]string, error) {
		ids := reconcile.Push(s.scene, s.store, s.mode, force, s.measurer)
		s.pushed(ids)
		return ids, nil
	})
}

// Reresolve marks every resolved text stale and resolves it again, e.g.
// after a transcluded document changed. Elements are updated as results
// arrive.
func (s *Session) Reresolve() error {
	_, err := call(s.exec, func() (struct{}, error) {
		s.store.Invalidate()
		s.pushed(reconcile.Push(s.scene, s.store, s.mode, false, s.measurer))
		return struct{}{}, nil
	})
	return err
}

// Settle waits until no text of the session is being resolved.
func (s *Session) Settle(ctx context.Context) error {
	for {
		tasks, err := call(s.exec, func() ([]*textstore.Task, error) {
			var out []*textstore.Task
			if s.mode != textstore.ModeResolved {
				return nil, nil
			}
			for _, id := range s.store.IDs() {
				if res, _ := s.store.DisplayText(id, s.mode); res.IsPending() {
					out = append(out, res.Task())
				}
			}
			return out, nil
		})
		if err != nil || len(tasks) == 0 {
			return err
		}
		for _, t := range tasks {
			if _, err := t.Wait(ctx); err != nil {
				return err
			}
		}
	}
}

// Scene returns the session scene as JSON.
func (s *Session) Scene() ([]byte, error) {
	return call(s.exec, func() ([]byte, error) { return s.scene.Marshal() })
}

// Texts returns every text record in document order.
func (s *Session) Texts() ([]TextView, error) {
	return call(s.exec, func() ([]TextView, error) {
		out := make([]TextView, 0, s.store.Len())
		for rec := range s.store.All() {
			res, _ := s.store.DisplayText(rec.ID, s.mode)
			out = append(out, TextView{
				ID:      rec.ID,
				Raw:     rec.Raw,
				Display: res.Text(),
				Pending: res.IsPending(),
			})
		}
		return out, nil
	})
}

// Settings returns the effective display settings.
func (s *Session) Settings() (Settings, error) {
	return call(s.exec, func() (Settings, error) { return s.settings, nil })
}

// ApplySettings replaces the base settings. When the effective link display
// changes every resolved text is recomputed and the scene refreshed.
func (s *Session) ApplySettings(st Settings) (bool, error) {
	return call(s.exec, func() (bool, error) {
		s.base = st
		next := st.Override(parser.Frontmatter([]byte(s.header)))
		changed := next.Links != s.settings.Links
		timeout := next.ResolveTimeout != s.settings.ResolveTimeout
		s.settings = next
		if !changed && !timeout {
			return false, nil
		}
		s.store.SetRenderer(s.renderer())
		if changed {
			s.pushed(reconcile.Push(s.scene, s.store, s.mode, false, s.measurer))
		}
		return changed, nil
	})
}

// Subscribe registers fn for every change of displayed element text, both
// background resolutions and the session's own edits. Hosts keep their scene
// current with these, otherwise a stale scene sent back through
// SyncFromScene reads as an edit and undoes the change.
// fn runs on the session goroutine and must not call back into the session.
func (s *Session) Subscribe(fn func(Update)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Close stops the session. Running resolutions are cancelled and later
// calls fail with apperr.ErrSessionClosed.
func (s *Session) Close() {
	s.cancel()
	s.exec.close()
}

func (s *Session) onResolved(id, text string) {
	if s.mode != textstore.ModeResolved {
		return
	}
	el, ok := s.scene.Element(id)
	if !ok || el.Text == text {
		return
	}
	el.SetText(text, s.measurer)
	s.notify(Update{ID: id, Text: text, Kind: UpdateResolved})
}

// pushed reports the elements a Push rewrote.
func (s *Session) pushed(ids []string) {
	for _, id := range ids {
		if el, ok := s.scene.Element(id); ok {
			s.notify(Update{ID: id, Text: el.Text, Kind: UpdateEdited})
		}
	}
}

func (s *Session) notify(u Update) {
	s.subMu.Lock()
	fns := make([]func(Update), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}
