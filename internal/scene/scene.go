// Package scene is a typed view over the scene graph JSON produced by the
// drawing engine. Only the fields sketchmark reads or writes are typed;
// every other field is carried through unchanged.
package scene

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/starford/sketchmark/internal/apperr"
)

// TypeText is the element type of text elements.
const TypeText = "text"

// Scene is a parsed scene graph.
type Scene struct {
	Elements []*Element
	extra    map[string]json.RawMessage
}

// Element is one drawable element.
type Element struct {
	ID         string
	Type       string
	Text       string
	GroupIDs   []string
	FontSize   float64
	FontFamily int
	Width      float64
	Height     float64
	Baseline   float64

	extra map[string]json.RawMessage
	seen  map[string]bool
}

// IsText reports whether the element carries user text.
func (e *Element) IsText() bool { return e.Type == TypeText }

// Parse decodes a scene blob. The blob must be a JSON object.
func Parse(blob []byte) (*Scene, error) {
	blob = bytes.TrimSpace(blob)
	if len(blob) == 0 || blob[0] != '{' {
		return nil, fmt.Errorf("scene: %w", apperr.ErrInvalidScene)
	}
	var fields map[string]json.RawMessage
	if err := unmarshal(blob, &fields); err != nil {
		return nil, fmt.Errorf("scene: %w: %v", apperr.ErrInvalidScene, err)
	}

	s := &Scene{extra: fields}
	if raw, ok := fields["elements"]; ok {
		delete(fields, "elements")
		if !isNull(raw) {
			if err := unmarshal(raw, &s.Elements); err != nil {
				return nil, fmt.Errorf("scene: elements: %w: %v", apperr.ErrInvalidScene, err)
			}
		}
	}
	return s, nil
}

// New returns an empty scene with the standard envelope.
func New() *Scene {
	return &Scene{extra: map[string]json.RawMessage{
		"type":    json.RawMessage(`"excalidraw"`),
		"version": json.RawMessage(`2`),
		"source":  json.RawMessage(`"sketchmark"`),
	}}
}

// Marshal encodes the scene.
func (s *Scene) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// MarshalJSON implements json.Marshaler.
func (s *Scene) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.extra)+1)
	for k, v := range s.extra {
		out[k] = v
	}
	elements := s.Elements
	if elements == nil {
		elements = []*Element{}
	}
	raw, err := json.Marshal(elements)
	if err != nil {
		return nil, err
	}
	out["elements"] = raw
	return json.Marshal(out)
}

// TextElements returns the text elements in scene order.
func (s *Scene) TextElements() []*Element {
	var out []*Element
	for _, el := range s.Elements {
		if el.IsText() {
			out = append(out, el)
		}
	}
	return out
}

// Element returns the element with the given id.
func (s *Scene) Element(id string) (*Element, bool) {
	for _, el := range s.Elements {
		if el.ID == id {
			return el, true
		}
	}
	return nil, false
}

// HasID reports whether any element uses id.
func (s *Scene) HasID(id string) bool {
	_, ok := s.Element(id)
	return ok
}

// Clone returns a deep copy of the scene.
func (s *Scene) Clone() (*Scene, error) {
	raw, err := s.Marshal()
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

var elementKeys = []string{"id", "type", "text", "groupIds", "fontSize", "fontFamily", "width", "height", "baseline"}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Element) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := unmarshal(data, &fields); err != nil {
		return err
	}
	targets := map[string]any{
		"id":         &e.ID,
		"type":       &e.Type,
		"text":       &e.Text,
		"groupIds":   &e.GroupIDs,
		"fontSize":   &e.FontSize,
		"fontFamily": &e.FontFamily,
		"width":      &e.Width,
		"height":     &e.Height,
		"baseline":   &e.Baseline,
	}
	e.seen = make(map[string]bool, len(elementKeys))
	for _, key := range elementKeys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		delete(fields, key)
		e.seen[key] = true
		if isNull(raw) {
			continue
		}
		if err := json.Unmarshal(raw, targets[key]); err != nil {
			return fmt.Errorf("element field %q: %w", key, err)
		}
	}
	e.extra = fields
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e *Element) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.extra)+len(elementKeys))
	for k, v := range e.extra {
		out[k] = v
	}
	out["id"] = e.ID
	out["type"] = e.Type
	groups := e.GroupIDs
	if groups == nil {
		groups = []string{}
	}
	out["groupIds"] = groups
	// Text fields are always written for text elements and only kept on
	// other elements when they were present.
	emit := func(key string, v any) {
		if e.IsText() || e.seen[key] {
			out[key] = v
		}
	}
	emit("text", e.Text)
	emit("fontSize", e.FontSize)
	emit("fontFamily", e.FontFamily)
	emit("baseline", e.Baseline)
	out["width"] = e.Width
	out["height"] = e.Height
	return json.Marshal(out)
}

func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
