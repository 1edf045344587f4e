// Package parser extracts frontmatter, links, tags, block anchors and drawing
// text from vault documents.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/sketchmark/internal/drawing"
	"github.com/starford/sketchmark/internal/links"
	"github.com/starford/sketchmark/internal/scene"
)

var (
	tagRe    = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	anchorRe = regexp.MustCompile(`^(.*\S)[ \t]+\^([A-Za-z0-9_-]+)$`)
)

// Anchor is a line carrying a block anchor.
type Anchor struct {
	ID   string
	Line string // text before the marker
}

// Result holds the output of parsing a document.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Links       []string
	Tags        []string
	Title       string
	Anchors     []Anchor
	// Drawing is set for documents that carry a drawing region.
	Drawing *drawing.Document
}

// IsDrawing reports whether the parsed document is a drawing.
func (r *Result) IsDrawing() bool { return r.Drawing != nil }

// Parse extracts frontmatter, body, links, tags and anchors from a Markdown
// document. Documents with a drawing region additionally get their text
// blocks decoded; their searchable body is the text of those blocks.
func Parse(data []byte) (*Result, error) {
	fm, body := splitFrontmatter(data)

	if doc, err := drawing.Decode(string(data)); err == nil && looksLikeScene(doc.Scene) {
		return fromDrawing(fm, doc), nil
	}

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Links:       links.Targets(body),
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(fm, body),
		Anchors:     extractAnchors(body),
	}, nil
}

// ParseScene parses a scene-only drawing (.excalidraw). Text elements become
// the drawing's blocks in scene order.
func ParseScene(data []byte) (*Result, error) {
	sc, err := scene.Parse(data)
	if err != nil {
		return nil, err
	}
	doc := &drawing.Document{Scene: data}
	for _, el := range sc.TextElements() {
		doc.Blocks = append(doc.Blocks, drawing.Block{ID: el.ID, Raw: el.Text})
	}
	return fromDrawing(nil, doc), nil
}

func fromDrawing(fm map[string]interface{}, doc *drawing.Document) *Result {
	texts := make([]string, 0, len(doc.Blocks))
	for _, b := range doc.Blocks {
		texts = append(texts, b.Raw)
	}
	body := strings.Join(texts, "\n")
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Links:       links.Targets(body),
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(fm, ""),
		Drawing:     doc,
	}
}

// looksLikeScene keeps notes with a "# Drawing" heading from being taken for
// drawings.
func looksLikeScene(blob []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(blob), []byte("{"))
}

// Frontmatter returns the YAML frontmatter of data, or nil.
func Frontmatter(data []byte) map[string]interface{} {
	fm, _ := splitFrontmatter(data)
	return fm
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: treat everything as body.
		return nil, string(data)
	}

	return fm, body
}

// extractAnchors returns the lines of body that end with a block anchor.
func extractAnchors(body string) []Anchor {
	var out []Anchor
	seen := make(map[string]struct{})
	for line := range strings.Lines(body) {
		m := anchorRe.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
		if m == nil {
			continue
		}
		if _, dup := seen[m[2]]; dup {
			continue
		}
		seen[m[2]] = struct{}{}
		out = append(out, Anchor{ID: m[2], Line: m[1]})
	}
	return out
}

// extractTags collects #tags from body and from frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}

	if fm != nil {
		switch v := fm["tags"].(type) {
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		case string:
			for _, s := range strings.Split(v, ",") {
				add(s)
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if s, ok := fm["title"].(string); ok && s != "" {
			return s
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
