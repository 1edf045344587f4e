package api

import (
	"encoding/json"

	"github.com/starford/sketchmark/internal/drawingservice"
	"github.com/starford/sketchmark/internal/models"
)

// CreateDrawingRequest is the request body for creating a drawing.
type CreateDrawingRequest struct {
	Path   string `json:"path" example:"boards/plan.excalidraw.md" validate:"required"`
	Header string `json:"header,omitempty" example:"---\ntags: [plan]\n---\n"`
}

// Drawing is the drawing response type (aliased from the domain layer).
type Drawing = drawingservice.Drawing

// DrawingListItem is a lightweight item in a list response (aliased from the domain layer).
type DrawingListItem = drawingservice.ListItem

// DrawingListResponse wraps paginated drawing listings.
type DrawingListResponse struct {
	Drawings []DrawingListItem `json:"drawings" validate:"required"`
	Total    int               `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Path    string      `json:"path" example:"boards/plan.excalidraw.md" validate:"required"`
	Title   string      `json:"title" example:"Plan" validate:"required"`
	Kind    models.Kind `json:"kind" example:"drawing" validate:"required"`
	Snippet string      `json:"snippet" example:"...matched text..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// OpenSessionRequest is the request body for opening a session.
type OpenSessionRequest struct {
	Path string `json:"path" example:"boards/plan.excalidraw.md" validate:"required"`
}

// SessionResponse describes an open session.
type SessionResponse struct {
	ID    string               `json:"id" example:"6f1c6a9e-8a0e-4a57-9a43-3cf1a0f4f7d2" validate:"required"`
	Path  string               `json:"path" example:"boards/plan.excalidraw.md" validate:"required"`
	Mode  string               `json:"mode" example:"resolved" validate:"required"`
	Texts []models.TextElement `json:"texts" validate:"required"`
	Scene json.RawMessage      `json:"scene" swaggertype:"object" validate:"required"`
}

// ModeRequest is the request body for switching the display mode.
type ModeRequest struct {
	Mode string `json:"mode" example:"raw" enums:"raw,resolved" validate:"required"`
}

// SceneRequest carries a scene edited by the host.
type SceneRequest struct {
	Scene json.RawMessage `json:"scene" swaggertype:"object" validate:"required"`
}

// SceneResponse reports the outcome of a scene sync. Scene is set when the
// host must replace its scene.
type SceneResponse struct {
	Changed bool            `json:"changed"`
	Scene   json.RawMessage `json:"scene,omitempty" swaggertype:"object"`
}

// RefreshResponse lists the elements a refresh rewrote and the scene after
// it.
type RefreshResponse struct {
	Updated []string        `json:"updated"`
	Scene   json.RawMessage `json:"scene" swaggertype:"object"`
}

// TextRequest is the request body for setting element text.
type TextRequest struct {
	Text string `json:"text" example:"see [[Plan]]"`
}

// TextResponse is the displayed text of one element.
type TextResponse struct {
	ID      string `json:"id" example:"abcd1234" validate:"required"`
	Text    string `json:"text" example:"📍[[Plan]]"`
	Pending bool   `json:"pending,omitempty"`
}

// SaveResponse describes a saved document (aliased from the domain layer).
type SaveResponse = drawingservice.SaveResult
