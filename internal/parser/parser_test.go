package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	r, err := Parse([]byte("---\ntitle: Hello\ntags:\n  - go\n  - sketch\n---\n# Hello\nBody text.\n"))
	require.NoError(t, err)
	assert.Equal(t, "Hello", r.Title)
	assert.Equal(t, []string{"go", "sketch"}, r.Tags)
	assert.Equal(t, "# Hello\nBody text.\n", r.Body)
	assert.False(t, r.IsDrawing(), "plain note reported as drawing")
}

func TestParse_NoFrontmatter(t *testing.T) {
	r, err := Parse([]byte("# Just a heading\nSome text.\n"))
	require.NoError(t, err)
	assert.Nil(t, r.Frontmatter)
	assert.Equal(t, "Just a heading", r.Title)
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	r, err := Parse([]byte("---\n: invalid: yaml: {{{\n---\nBody\n"))
	require.NoError(t, err)
	assert.Nil(t, r.Frontmatter)
}

func TestParse_LinksViaGrammar(t *testing.T) {
	body := "See [[Note A]] and [[Note B|alias]].\nAlso [[Note A#Heading]], ![[Quotes#^abcd1234]] and [site](https://example.com)."
	r, err := Parse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"Note A", "Note B", "Quotes"}, r.Links)
}

func TestParse_Anchors(t *testing.T) {
	body := "first line ^abcd1234\nno anchor here\nsecond\t^note-2\n^orphan\nfirst line again ^abcd1234\n"
	r, err := Parse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, []Anchor{
		{ID: "abcd1234", Line: "first line"},
		{ID: "note-2", Line: "second"},
	}, r.Anchors)
}

func TestParse_Drawing(t *testing.T) {
	input := "---\ntitle: Plan\ntags: [board]\n---\n# Text Elements\nsee [[Roadmap]] #q3 ^abcd1234\n\nsecond ^efgh5678\n\n# Drawing\n```json\n{\"elements\":[]}\n```\n"
	r, err := Parse([]byte(input))
	require.NoError(t, err)
	require.True(t, r.IsDrawing())
	assert.Len(t, r.Drawing.Blocks, 2)
	assert.Equal(t, "Plan", r.Title)
	assert.Equal(t, "see [[Roadmap]] #q3\nsecond", r.Body)
	assert.Equal(t, []string{"Roadmap"}, r.Links)
	assert.Equal(t, []string{"board", "q3"}, r.Tags)
}

func TestParse_DrawingHeadingInNote(t *testing.T) {
	r, err := Parse([]byte("# Drawing\nhow to sketch\n"))
	require.NoError(t, err)
	assert.False(t, r.IsDrawing(), "note with a Drawing heading reported as drawing")
	assert.Equal(t, "Drawing", r.Title)
}

func TestParseScene(t *testing.T) {
	r, err := ParseScene([]byte(`{"elements":[{"id":"a","type":"text","text":"hi [[Note]]"},{"id":"b","type":"rectangle"}]}`))
	require.NoError(t, err)
	require.True(t, r.IsDrawing())
	require.Len(t, r.Drawing.Blocks, 1)
	assert.Equal(t, "a", r.Drawing.Blocks[0].ID)
	assert.Equal(t, []string{"Note"}, r.Links)
}

func TestFrontmatter(t *testing.T) {
	fm := Frontmatter([]byte("---\nsketchmark-link-prefix: \">> \"\n---\n"))
	assert.Equal(t, ">> ", fm["sketchmark-link-prefix"])
	assert.Nil(t, Frontmatter([]byte("no frontmatter")))
}

func TestExtractTags_InlineAndFrontmatter(t *testing.T) {
	fm := map[string]any{"tags": []any{"alpha"}}
	tags := extractTags("Some text #beta and #alpha again.", fm)
	assert.Equal(t, []string{"alpha", "beta"}, tags)
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	fm := map[string]any{"title": "FM Title"}
	assert.Equal(t, "FM Title", deriveTitle(fm, "# H1 Title\ntext"))
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	assert.Equal(t, "My Heading", deriveTitle(nil, "some text\n# My Heading\nmore"))
}
