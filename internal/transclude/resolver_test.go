package transclude

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/sketchmark/internal/links"
)

type mapVault map[string]string

func (m mapVault) Lookup(_ context.Context, name, _ string) (string, bool) {
	p := name + ".md"
	_, ok := m[p]
	return p, ok
}

func (m mapVault) Read(_ context.Context, path string) (string, error) {
	s, ok := m[path]
	if !ok {
		return "", errors.New("missing")
	}
	return s, nil
}

func TestFindAnchoredLine(t *testing.T) {
	content := "# Title\nfirst line ^aaaa1111\nsecond\tline\t^bbbb2222\r\nno marker\n"

	got, ok := FindAnchoredLine(content, "aaaa1111")
	require.True(t, ok)
	assert.Equal(t, "first line", got)

	got, ok = FindAnchoredLine(content, "bbbb2222")
	require.True(t, ok)
	assert.Equal(t, "second\tline", got)

	_, ok = FindAnchoredLine(content, "cccc3333")
	assert.False(t, ok)
}

func TestFindAnchoredLine_RequiresWhitespaceBeforeCaret(t *testing.T) {
	_, ok := FindAnchoredLine("glued^aaaa1111\n", "aaaa1111")
	assert.False(t, ok)
	_, ok = FindAnchoredLine("^aaaa1111\n", "aaaa1111")
	assert.False(t, ok)
}

func TestResolve_Found(t *testing.T) {
	v := mapVault{"Ideas.md": "intro\nthe quoted idea ^idea0001\n"}
	r := NewResolver(v, v, nil)
	got := r.Resolve(context.Background(), "Ideas", "idea0001", "drawing.md", "![[Ideas#^idea0001]]")
	assert.Equal(t, "the quoted idea", got)
}

func TestResolve_MissingDocumentReturnsOriginal(t *testing.T) {
	v := mapVault{}
	r := NewResolver(v, v, nil)
	orig := "![[Missing#^abc12345]]"
	assert.Equal(t, orig, r.Resolve(context.Background(), "Missing", "abc12345", "d.md", orig))
}

func TestResolve_MissingAnchorReturnsOriginal(t *testing.T) {
	v := mapVault{"Doc.md": "line ^other000\n"}
	r := NewResolver(v, v, nil)
	orig := "![[Doc#^abc12345]]"
	assert.Equal(t, orig, r.Resolve(context.Background(), "Doc", "abc12345", "d.md", orig))
}

func TestResolve_CancelledContext(t *testing.T) {
	v := mapVault{"Doc.md": "line ^abc12345\n"}
	r := NewResolver(v, v, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, "orig", r.Resolve(ctx, "Doc", "abc12345", "d.md", "orig"))
}

func TestFunc_WithRender(t *testing.T) {
	v := mapVault{"Doc.md": "hello world ^abc12345\n"}
	r := NewResolver(v, v, nil)
	out := links.Render(context.Background(), "say: ![[Doc#^abc12345]] / ![[Missing#^abc12345]]",
		links.Options{LinkPrefix: "L "}, r.Func("d.md"))
	assert.Equal(t, "say: hello world / ![[Missing#^abc12345]]", out)
}
