// Package drawing encodes and decodes drawing documents: Markdown files
// holding an opaque header, a "# Text Elements" section with one anchored
// block per text element, and a "# Drawing" section with the scene JSON.
//
//	---
//	tags: [sketch]
//	---
//	# Text Elements
//	first text ^abcd1234
//
//	second text ^efgh5678
//
//	# Drawing
//	```json
//	{"type":"excalidraw", ...}
//	```
package drawing

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/sketchmark/internal/apperr"
)

const (
	TextElementsHeader = "# Text Elements"
	DrawingHeader      = "# Drawing"

	// IDLength is the length of block anchor identifiers.
	IDLength = 8

	fenceOpen  = "```json\n"
	fenceClose = "```"
)

// An anchor line is " ^<id>" followed by a blank line, or by the end of the
// section when the blank line was lost.
var (
	anchorRe   = regexp.MustCompile(`\s\^([A-Za-z0-9_-]{8})(?:\n\n|\n?\z)`)
	blockEndRe = regexp.MustCompile(`\s\^[A-Za-z0-9_-]{8}\n\n?\z`)
)

// Block is one text element as stored in the document.
type Block struct {
	ID  string
	Raw string
}

// Document is a decoded drawing document.
type Document struct {
	Header          string // everything before the Text Elements section, verbatim
	Blocks          []Block
	Scene           []byte
	HasTextElements bool
	Trimmed         bool // scene data was cut back to its last closing brace
}

// Decode parses a drawing document. It fails with apperr.ErrNoDrawing when
// the document has no Drawing section.
func Decode(text string) (*Document, error) {
	start, ok := drawingStart(text)
	if !ok {
		return nil, fmt.Errorf("drawing: decode: %w", apperr.ErrNoDrawing)
	}

	doc := &Document{}
	doc.Scene, doc.Trimmed = extractScene(text[start+len(DrawingHeader):])

	body := text[:start]
	te, ok := findHeading(body, TextElementsHeader, 0)
	if !ok {
		doc.Header = body
		return doc, nil
	}
	doc.Header = body[:te]
	doc.HasTextElements = true
	doc.Blocks = splitBlocks(body[te+len(TextElementsHeader):])
	return doc, nil
}

// Encode renders a drawing document.
func Encode(doc *Document) string {
	var b strings.Builder
	b.WriteString(doc.Header)
	if doc.Header != "" && !strings.HasSuffix(doc.Header, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(TextElementsHeader)
	b.WriteByte('\n')
	for _, blk := range doc.Blocks {
		b.WriteString(blk.Raw)
		b.WriteString(" ^")
		b.WriteString(blk.ID)
		b.WriteString("\n\n")
	}
	b.WriteString(DrawingHeader)
	b.WriteByte('\n')
	b.WriteString(fenceOpen)
	b.Write(bytes.TrimSpace(doc.Scene))
	b.WriteByte('\n')
	b.WriteString(fenceClose)
	b.WriteByte('\n')
	return b.String()
}

// IsLegacy reports whether text is a bare scene JSON file rather than a
// Markdown drawing document.
func IsLegacy(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}")
}

// drawingStart returns the offset of the Drawing heading. Text blocks may
// hold "# Drawing" lines of their own, so a heading only counts when scene
// data follows it and the text section before it ends on an anchor line.
// The scene itself cannot contain a heading line, so the last such heading
// wins. Without one, the first heading after the text section is used.
func drawingStart(text string) (int, bool) {
	from := 0
	te, hasTE := findHeading(text, TextElementsHeader, 0)
	if hasTE {
		from = te + len(TextElementsHeader)
	}

	first, best := -1, -1
	for off := from; ; {
		pos, ok := findHeading(text, DrawingHeader, off)
		if !ok {
			break
		}
		if first < 0 {
			first = pos
		}
		if sceneFollows(text[pos+len(DrawingHeader):]) && (!hasTE || blocksComplete(text[from:pos])) {
			best = pos
		}
		off = pos + len(DrawingHeader)
	}
	if best < 0 {
		best = first
	}
	return best, best >= 0
}

func sceneFollows(rest string) bool {
	rest = strings.TrimLeft(rest, " \r\n")
	return strings.HasPrefix(rest, fenceClose) || strings.HasPrefix(rest, "{")
}

func blocksComplete(section string) bool {
	section = strings.TrimLeft(section, "\r\n")
	return section == "" || blockEndRe.MatchString(section)
}

// findHeading returns the offset of the first heading line equal to h at or
// after from.
func findHeading(text, h string, from int) (int, bool) {
	for off := from; off <= len(text); {
		i := strings.Index(text[off:], h)
		if i < 0 {
			return 0, false
		}
		pos := off + i
		end := pos + len(h)
		atStart := pos == 0 || text[pos-1] == '\n'
		atEnd := end == len(text) || text[end] == '\n' || text[end] == '\r'
		if atStart && atEnd {
			return pos, true
		}
		off = end
	}
	return 0, false
}

// extractScene takes the rest of the document after the Drawing heading and
// returns the scene JSON. Sync tools sometimes merge an old and a new
// version of a file, leaving garbage after the JSON; the data is cut back to
// its last closing brace. Without any brace the remainder is returned as is.
func extractScene(rest string) ([]byte, bool) {
	rest = strings.TrimLeft(rest, "\r\n")
	rest = strings.TrimPrefix(rest, fenceOpen)
	if i := strings.Index(rest, "\n"+fenceClose); i >= 0 {
		rest = rest[:i]
	}
	rest = strings.TrimSpace(rest)
	last := strings.LastIndex(rest, "}")
	if last < 0 {
		return []byte(rest), false
	}
	trimmed := last+1 < len(rest)
	return []byte(rest[:last+1]), trimmed
}

// splitBlocks splits the Text Elements section on anchor lines. The text
// before each anchor is the block's raw text.
func splitBlocks(section string) []Block {
	section = strings.TrimPrefix(section, "\r")
	section = strings.TrimPrefix(section, "\n")

	var out []Block
	pos := 0
	for _, m := range anchorRe.FindAllStringSubmatchIndex(section, -1) {
		if m[0] < pos {
			continue
		}
		out = append(out, Block{
			ID:  section[m[2]:m[3]],
			Raw: section[pos:m[0]],
		})
		pos = m[1]
	}
	return out
}
