package drawsync

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/sketchmark/internal/apperr"
	"github.com/starford/sketchmark/internal/drawing"
	"github.com/starford/sketchmark/internal/links"
	"github.com/starford/sketchmark/internal/scene"
	"github.com/starford/sketchmark/internal/textstore"
)

const doc = "---\ntitle: board\n---\n" +
	"# Text Elements\n" +
	"see [[Note A|alias]] for more ^abcd1234\n\n" +
	"plain ^efgh5678\n\n" +
	"# Drawing\n```json\n" +
	`{"type":"excalidraw","elements":[` +
	`{"id":"abcd1234","type":"text","text":"stale","fontSize":20,"fontFamily":1,"groupIds":[]},` +
	`{"id":"efgh5678","type":"text","text":"plain","fontSize":20,"fontFamily":1,"groupIds":[]},` +
	`{"id":"rect0001","type":"rectangle","groupIds":[]}]}` +
	"\n```\n"

func testSettings(mode textstore.Mode) Settings {
	return Settings{
		Links: links.Options{ShowBrackets: true, LinkPrefix: "🔗 ", URLPrefix: "🌐 "},
		Mode:  mode,
	}
}

func open(t *testing.T, mode textstore.Mode, opts ...Option) *Session {
	t.Helper()
	s := New(append([]Option{WithSettings(testSettings(mode))}, opts...)...)
	t.Cleanup(s.Close)
	status, err := s.Load(doc)
	require.NoError(t, err)
	require.Equal(t, StatusReady, status)
	return s
}

func elementText(t *testing.T, s *Session, id string) string {
	t.Helper()
	blob, err := s.Scene()
	require.NoError(t, err)
	sc, err := scene.Parse(blob)
	require.NoError(t, err)
	el, ok := sc.Element(id)
	require.True(t, ok, id)
	return el.Text
}

func TestLoad_StoredTextWinsAndIsDisplayed(t *testing.T) {
	s := open(t, textstore.ModeResolved)
	assert.Equal(t, "🔗 see [[alias]] for more", elementText(t, s, "abcd1234"))

	text, ok, err := s.DisplayText("abcd1234")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "🔗 see [[alias]] for more", text)

	s2 := open(t, textstore.ModeRaw)
	assert.Equal(t, "see [[Note A|alias]] for more", elementText(t, s2, "abcd1234"))
}

func TestLoad_IncompleteKeepsState(t *testing.T) {
	s := open(t, textstore.ModeRaw)

	status, err := s.Load("# Text Elements\nhello ^abcd1234\n\n")
	assert.Equal(t, StatusIncomplete, status)
	assert.True(t, errors.Is(err, apperr.ErrNoDrawing))

	status, err = s.Load("# Drawing\n```json\n[1,2]\n```\n")
	assert.Equal(t, StatusIncomplete, status)
	assert.True(t, errors.Is(err, apperr.ErrInvalidScene))

	texts, err := s.Texts()
	require.NoError(t, err)
	assert.Len(t, texts, 2)
}

func TestLoad_RecoversBlocksMissingFromDocument(t *testing.T) {
	s := New(WithSettings(testSettings(textstore.ModeRaw)))
	t.Cleanup(s.Close)
	_, err := s.Load("# Drawing\n```json\n" +
		`{"elements":[{"id":"abcd1234","type":"text","text":"only in scene"}]}` + "\n```\n")
	require.NoError(t, err)

	out, err := s.SyncToDocument()
	require.NoError(t, err)
	assert.Contains(t, out, "# Text Elements\nonly in scene ^abcd1234\n\n")
}

func TestSyncToDocument_RoundTrip(t *testing.T) {
	s := open(t, textstore.ModeResolved)
	out, err := s.SyncToDocument()
	require.NoError(t, err)

	decoded, err := drawing.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, "---\ntitle: board\n---\n", decoded.Header)
	assert.Equal(t, []drawing.Block{
		{ID: "abcd1234", Raw: "see [[Note A|alias]] for more"},
		{ID: "efgh5678", Raw: "plain"},
	}, decoded.Blocks)

	s2 := New(WithSettings(testSettings(textstore.ModeRaw)))
	t.Cleanup(s2.Close)
	_, err = s2.Load(out)
	require.NoError(t, err)
	again, err := s2.SyncToDocument()
	require.NoError(t, err)
	redecoded, err := drawing.Decode(again)
	require.NoError(t, err)
	assert.Equal(t, decoded.Blocks, redecoded.Blocks)
}

func TestSetDisplayMode_ForcesUpdate(t *testing.T) {
	s := open(t, textstore.ModeRaw)
	assert.Equal(t, "see [[Note A|alias]] for more", elementText(t, s, "abcd1234"))

	require.NoError(t, s.SetDisplayMode(textstore.ModeResolved))
	assert.Equal(t, "🔗 see [[alias]] for more", elementText(t, s, "abcd1234"))
	assert.Equal(t, "plain", elementText(t, s, "efgh5678"))

	mode, err := s.Mode()
	require.NoError(t, err)
	assert.Equal(t, textstore.ModeResolved, mode)
}

func TestSyncFromScene_OrphanBlockDropped(t *testing.T) {
	s := open(t, textstore.ModeRaw)

	changed, err := s.SyncFromScene([]byte(`{"elements":[{"id":"efgh5678","type":"text","text":"plain"}]}`))
	require.NoError(t, err)
	assert.False(t, changed)

	out, err := s.SyncToDocument()
	require.NoError(t, err)
	assert.NotContains(t, out, "abcd1234")
	assert.Contains(t, out, "plain ^efgh5678\n\n")
}

func TestSyncFromScene_RenamesAndDrift(t *testing.T) {
	s := open(t, textstore.ModeRaw, WithIDFunc(func() (string, error) { return "newid001", nil }))

	changed, err := s.SyncFromScene([]byte(`{"elements":[` +
		`{"id":"abcd1234","type":"text","text":"see [[Note A|alias]] for more"},` +
		`{"id":"efgh5678","type":"text","text":"edited"},` +
		`{"id":"engine-generated-id","type":"text","text":"fresh","groupIds":[]},` +
		`{"id":"grp","type":"rectangle","groupIds":["engine-generated-id"]}]}`))
	require.NoError(t, err)
	assert.True(t, changed)

	blob, err := s.Scene()
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "engine-generated-id")
	assert.Equal(t, 2, strings.Count(string(blob), `"newid001"`))

	out, err := s.SyncToDocument()
	require.NoError(t, err)
	assert.Contains(t, out, "edited ^efgh5678\n\n")
	assert.Contains(t, out, "fresh ^newid001\n\n")

	changed, err = s.SyncFromScene(blob)
	require.NoError(t, err)
	assert.False(t, changed, "reconciling the same scene again is a no-op")
}

func TestSetText_FastPath(t *testing.T) {
	s := open(t, textstore.ModeResolved)

	res, err := s.SetText("efgh5678", "go to [[Other]]")
	require.NoError(t, err)
	assert.False(t, res.IsPending())
	assert.Equal(t, "🔗 go to [[Other]]", res.Text())
	assert.Equal(t, "🔗 go to [[Other]]", elementText(t, s, "efgh5678"))
}

func TestSetText_Transclusion(t *testing.T) {
	gate := make(chan struct{})
	expand := func(_ context.Context, document, anchor string) (string, bool) {
		<-gate
		if document == "Quotes" && anchor == "q1" {
			return "to be or not to be", true
		}
		return "", false
	}
	s := open(t, textstore.ModeResolved, WithTransclusion(expand))

	updates := make(chan Update, 1)
	cancel := s.Subscribe(func(u Update) { updates <- u })
	defer cancel()

	res, err := s.SetText("efgh5678", "![[Quotes#^q1]]")
	require.NoError(t, err)
	require.True(t, res.IsPending())
	assert.Equal(t, "plain", res.Text(), "previous resolved text until resolution completes")
	assert.Equal(t, "plain", elementText(t, s, "efgh5678"))

	close(gate)
	select {
	case u := <-updates:
		assert.Equal(t, Update{ID: "efgh5678", Text: "to be or not to be"}, u)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for resolution")
	}
	assert.Equal(t, "to be or not to be", elementText(t, s, "efgh5678"))

	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCtx()
	text, err := res.Task().Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "to be or not to be", text)
}

func TestSetText_UnresolvedTransclusionKeepsSource(t *testing.T) {
	expand := func(context.Context, string, string) (string, bool) { return "", false }
	s := open(t, textstore.ModeResolved, WithTransclusion(expand))

	res, err := s.SetText("efgh5678", "![[Missing#^abc12345]]")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	text, err := res.Task().Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "![[Missing#^abc12345]]", text)
}

func TestSettleAndReresolve(t *testing.T) {
	var quote atomic.Value
	quote.Store("first")
	expand := func(context.Context, string, string) (string, bool) {
		return quote.Load().(string), true
	}
	s := open(t, textstore.ModeResolved, WithTransclusion(expand))

	_, err := s.SetText("efgh5678", "![[Quotes#^q1]]")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Settle(ctx))
	assert.Equal(t, "first", elementText(t, s, "efgh5678"))

	quote.Store("second")
	require.NoError(t, s.Reresolve())
	require.NoError(t, s.Settle(ctx))
	text, ok, err := s.DisplayText("efgh5678")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", text)
	assert.Equal(t, "second", elementText(t, s, "efgh5678"))
}

func TestSetText_Idempotent(t *testing.T) {
	s := open(t, textstore.ModeResolved)
	first, err := s.SetText("efgh5678", "same [[x]]")
	require.NoError(t, err)
	second, err := s.SetText("efgh5678", "same [[x]]")
	require.NoError(t, err)
	assert.Equal(t, first.Text(), second.Text())
}

func TestDeleteText(t *testing.T) {
	s := open(t, textstore.ModeRaw)
	ok, err := s.DeleteText("efgh5678")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := s.DisplayText("efgh5678")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFrontmatterOverrides(t *testing.T) {
	s := New(WithSettings(testSettings(textstore.ModeResolved)))
	t.Cleanup(s.Close)
	_, err := s.Load(strings.Replace(doc, "title: board\n",
		"title: board\nsketchmark-link-brackets: false\nsketchmark-link-prefix: \"\"\n", 1))
	require.NoError(t, err)
	assert.Equal(t, "see alias for more", elementText(t, s, "abcd1234"))
}

func TestApplySettings_RefreshesResolvedText(t *testing.T) {
	s := open(t, textstore.ModeResolved)

	next := testSettings(textstore.ModeResolved)
	next.Links.ShowBrackets = false
	changed, err := s.ApplySettings(next)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "🔗 see alias for more", elementText(t, s, "abcd1234"))

	changed, err = s.ApplySettings(next)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestLoadLegacy(t *testing.T) {
	s := New(WithSettings(testSettings(textstore.ModeResolved)), WithIDFunc(func() (string, error) { return "legacy01", nil }))
	t.Cleanup(s.Close)

	status, err := s.LoadLegacy([]byte(`{"elements":[{"id":"Xq3kLm9pZr2T","type":"text","text":"old [[Note]]"}]}`))
	require.NoError(t, err)
	assert.Equal(t, StatusReady, status)

	mode, err := s.Mode()
	require.NoError(t, err)
	assert.Equal(t, textstore.ModeRaw, mode)

	out, err := s.SyncToDocument()
	require.NoError(t, err)
	assert.Contains(t, out, "old [[Note]] ^legacy01\n\n")
}

func TestClose(t *testing.T) {
	s := New()
	s.Close()
	s.Close()
	_, err := s.Scene()
	assert.True(t, errors.Is(err, apperr.ErrSessionClosed))
}

func TestSubscribe_ReportsOwnEdits(t *testing.T) {
	s := open(t, textstore.ModeResolved)
	updates := make(chan Update, 8)
	cancel := s.Subscribe(func(u Update) { updates <- u })
	defer cancel()

	drain := func() []Update {
		var out []Update
		for {
			select {
			case u := <-updates:
				out = append(out, u)
			default:
				return out
			}
		}
	}

	_, err := s.SetText("efgh5678", "new [[x]]")
	require.NoError(t, err)
	assert.Equal(t, []Update{{ID: "efgh5678", Text: "🔗 new [[x]]", Kind: UpdateEdited}}, drain())

	_, err = s.SetText("efgh5678", "new [[x]]")
	require.NoError(t, err)
	assert.Empty(t, drain(), "unchanged element text is not reported")

	require.NoError(t, s.SetDisplayMode(textstore.ModeRaw))
	assert.Equal(t, []Update{
		{ID: "abcd1234", Text: "see [[Note A|alias]] for more", Kind: UpdateEdited},
		{ID: "efgh5678", Text: "new [[x]]", Kind: UpdateEdited},
	}, drain())

	require.NoError(t, s.SetDisplayMode(textstore.ModeResolved))
	drain()
	next := testSettings(textstore.ModeResolved)
	next.Links.ShowBrackets = false
	_, err = s.ApplySettings(next)
	require.NoError(t, err)
	assert.Equal(t, []Update{
		{ID: "abcd1234", Text: "🔗 see alias for more", Kind: UpdateEdited},
		{ID: "efgh5678", Text: "🔗 new x", Kind: UpdateEdited},
	}, drain())
}
