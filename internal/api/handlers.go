package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/sketchmark/internal/drawingservice"
	"github.com/starford/sketchmark/internal/models"
	"github.com/starford/sketchmark/internal/textstore"
)

const maxBody = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *drawingservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *drawingservice.Service) *Handler {
	return &Handler{svc: svc}
}

// drawingPath extracts the drawing path from the URL (everything after /drawings/).
// Supports encoded slashes from OpenAPI clients (e.g. boards%2Fplan.excalidraw.md).
func drawingPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*drawingservice.Handle, bool) {
	id := chi.URLParam(r, "id")
	s, err := h.svc.Session(id)
	if err != nil {
		writeError(w, "get session", err, slog.String("session", id))
		return nil, false
	}
	return s, true
}

// ListDrawings handles GET /drawings.
//
//	@Summary		List drawings with optional pagination
//	@Tags			drawings
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	DrawingListResponse
//	@Security		BearerAuth
//	@Router			/drawings [get]
func (h *Handler) ListDrawings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, "list drawings", err)
		return
	}
	writeJSON(w, http.StatusOK, DrawingListResponse{Drawings: items, Total: total})
}

// CreateDrawing handles POST /drawings.
//
//	@Summary		Create an empty drawing
//	@Tags			drawings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateDrawingRequest	true	"Drawing to create"
//	@Success		201		{object}	Drawing
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/drawings [post]
func (h *Handler) CreateDrawing(w http.ResponseWriter, r *http.Request) {
	var req CreateDrawingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	d, err := h.svc.Create(r.Context(), req.Path, req.Header)
	if err != nil {
		writeError(w, "create drawing", err, slog.String("path", req.Path))
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetDrawing handles GET /drawings/*.
//
//	@Summary		Get a drawing with its text in the requested display mode
//	@Tags			drawings
//	@Produce		json
//	@Param			path	path		string	true	"Drawing path"
//	@Param			mode	query		string	false	"Display mode"	Enums(raw, resolved)
//	@Success		200		{object}	Drawing
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/drawings/{path} [get]
func (h *Handler) GetDrawing(w http.ResponseWriter, r *http.Request) {
	path := drawingPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	mode, ok := h.mode(r.URL.Query().Get("mode"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("mode must be raw or resolved"))
		return
	}
	d, err := h.svc.Get(r.Context(), path, mode)
	if err != nil {
		writeError(w, "get drawing", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Search handles GET /search.
//
//	@Summary		Full-text search across drawing text
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err, slog.String("query", q))
		return
	}
	out := SearchResponse{Results: make([]SearchResult, len(results))}
	for i, res := range results {
		out.Results[i] = SearchResult{Path: res.Path, Title: res.Title, Kind: res.Kind, Snippet: res.Snippet}
	}
	writeJSON(w, http.StatusOK, out)
}

// OpenSession handles POST /sessions.
//
//	@Summary		Open a drawing for editing
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenSessionRequest	true	"Drawing to open"
//	@Success		201		{object}	SessionResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions [post]
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	s, err := h.svc.Open(r.Context(), req.Path)
	if err != nil {
		writeError(w, "open session", err, slog.String("path", req.Path))
		return
	}
	resp, err := sessionResponse(s)
	if err != nil {
		writeError(w, "open session", err, slog.String("path", req.Path))
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetSession handles GET /sessions/{id}.
//
//	@Summary		Get the state of an open session
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	SessionResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	resp, err := sessionResponse(s)
	if err != nil {
		writeError(w, "get session", err, slog.String("session", s.ID))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CloseSession handles DELETE /sessions/{id}.
//
//	@Summary		Close a session without saving
//	@Tags			sessions
//	@Param			id	path	string	true	"Session id"
//	@Success		204	"Session closed"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [delete]
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.CloseSession(id); err != nil {
		writeError(w, "close session", err, slog.String("session", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetMode handles PUT /sessions/{id}/mode.
//
//	@Summary		Switch between raw and resolved display
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Session id"
//	@Param			body	body		ModeRequest	true	"Display mode"
//	@Success		200		{object}	SessionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/mode [put]
func (h *Handler) SetMode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ModeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mode, ok := textstore.ParseMode(req.Mode)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("mode must be raw or resolved"))
		return
	}
	if err := s.SetDisplayMode(mode); err != nil {
		writeError(w, "set mode", err, slog.String("session", s.ID))
		return
	}
	resp, err := sessionResponse(s)
	if err != nil {
		writeError(w, "set mode", err, slog.String("session", s.ID))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SyncScene handles POST /sessions/{id}/scene.
//
//	@Summary		Adopt a scene edited by the host
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session id"
//	@Param			body	body		SceneRequest	true	"Edited scene"
//	@Success		200		{object}	SceneResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/scene [post]
func (h *Handler) SyncScene(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SceneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	changed, err := s.SyncFromScene(req.Scene)
	if err != nil {
		writeError(w, "sync scene", err, slog.String("session", s.ID))
		return
	}
	resp := SceneResponse{Changed: changed}
	if changed {
		if resp.Scene, err = s.Scene(); err != nil {
			writeError(w, "sync scene", err, slog.String("session", s.ID))
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Refresh handles POST /sessions/{id}/refresh.
//
//	@Summary		Push stored text into the session scene
//	@Tags			sessions
//	@Produce		json
//	@Param			id		path		string	true	"Session id"
//	@Param			force	query		bool	false	"Rewrite every element, re-measuring unchanged text"
//	@Success		200		{object}	RefreshResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("force must be a boolean"))
			return
		}
		force = b
	}
	updated, err := s.Refresh(force)
	if err != nil {
		writeError(w, "refresh", err, slog.String("session", s.ID))
		return
	}
	resp := RefreshResponse{Updated: nonNil(updated)}
	if resp.Scene, err = s.Scene(); err != nil {
		writeError(w, "refresh", err, slog.String("session", s.ID))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetText handles GET /sessions/{id}/texts/{eid}.
//
//	@Summary		Get the displayed text of an element
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Param			eid	path		string	true	"Element id"
//	@Success		200	{object}	TextResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/texts/{eid} [get]
func (h *Handler) GetText(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	eid := chi.URLParam(r, "eid")
	text, found, err := s.DisplayText(eid)
	if err != nil {
		writeError(w, "get text", err, slog.String("session", s.ID))
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, TextResponse{ID: eid, Text: text})
}

// SetText handles PUT /sessions/{id}/texts/{eid}.
//
//	@Summary		Set the raw text of an element
//	@Description	Pending is true while transclusions in the text are resolved; the final text is pushed over the live connection.
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Session id"
//	@Param			eid		path		string		true	"Element id"
//	@Param			body	body		TextRequest	true	"Raw text"
//	@Success		200		{object}	TextResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/texts/{eid} [put]
func (h *Handler) SetText(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req TextRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eid := chi.URLParam(r, "eid")
	res, err := s.SetText(eid, req.Text)
	if err != nil {
		writeError(w, "set text", err, slog.String("session", s.ID))
		return
	}
	writeJSON(w, http.StatusOK, TextResponse{ID: eid, Text: res.Text(), Pending: res.IsPending()})
}

// DeleteText handles DELETE /sessions/{id}/texts/{eid}.
//
//	@Summary		Delete the text record of an element
//	@Tags			sessions
//	@Param			id	path	string	true	"Session id"
//	@Param			eid	path	string	true	"Element id"
//	@Success		204	"Text deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/texts/{eid} [delete]
func (h *Handler) DeleteText(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	deleted, err := s.DeleteText(chi.URLParam(r, "eid"))
	if err != nil {
		writeError(w, "delete text", err, slog.String("session", s.ID))
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Save handles POST /sessions/{id}/save.
//
//	@Summary		Write the session back to the vault
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	SaveResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/save [post]
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.svc.Save(r.Context(), id)
	if err != nil {
		writeError(w, "save", err, slog.String("session", id))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// mode parses a display mode query value, defaulting to the configured mode.
func (h *Handler) mode(v string) (textstore.Mode, bool) {
	if v == "" {
		return h.svc.Settings().Mode, true
	}
	return textstore.ParseMode(v)
}

func sessionResponse(s *drawingservice.Handle) (*SessionResponse, error) {
	mode, err := s.Mode()
	if err != nil {
		return nil, err
	}
	texts, err := s.Texts()
	if err != nil {
		return nil, err
	}
	blob, err := s.Scene()
	if err != nil {
		return nil, err
	}
	resp := &SessionResponse{
		ID:    s.ID,
		Path:  s.Path(),
		Mode:  mode.String(),
		Texts: make([]models.TextElement, len(texts)),
		Scene: blob,
	}
	for i, tv := range texts {
		resp.Texts[i] = models.TextElement{ID: tv.ID, Raw: tv.Raw, Display: tv.Display}
	}
	return resp, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
