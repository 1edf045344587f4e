package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/sketchmark/internal/drawingservice"
	"github.com/starford/sketchmark/internal/drawsync"
	"github.com/starford/sketchmark/internal/index"
	"github.com/starford/sketchmark/internal/links"
	"github.com/starford/sketchmark/internal/testutil"
)

const board = "# Text Elements\n" +
	"plain text ^abcd1234\n\n" +
	"# Drawing\n```json\n" +
	`{"type":"excalidraw","elements":[` +
	`{"id":"abcd1234","type":"text","text":"plain text","fontSize":20,"fontFamily":1}]}` +
	"\n```\n"

type fixture struct {
	dir string
	svc *drawingservice.Service
	srv *httptest.Server
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir, store := testutil.TestVault(t)
	testutil.WriteFiles(t, dir, map[string]string{
		"board.excalidraw.md": board,
		"Quotes.md":           "to be or not to be ^q1\n",
	})
	db := testutil.TestDB(t)
	require.NoError(t, index.Sync(db, store, slog.Default()))

	settings := drawsync.DefaultSettings()
	settings.Links = links.Options{}
	svc := drawingservice.New(store, db, drawingservice.WithSettings(settings))
	t.Cleanup(svc.Close)

	r := chi.NewRouter()
	r.Get("/sessions/{id}/live", NewHandler(svc, nil).ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{dir: dir, svc: svc, srv: srv}
}

func (f *fixture) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/sessions/" + id + "/live"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fixture) open(t *testing.T) *drawingservice.Handle {
	t.Helper()
	h, err := f.svc.Open(context.Background(), "board.excalidraw.md")
	require.NoError(t, err)
	return h
}

func send(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

// receive returns the next message that is not an edited push. Those echo
// the client's own changes ahead of each reply.
func receive(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	for {
		if out := read(t, conn); out["type"] != "edited" {
			return out
		}
	}
}

func TestSetText(t *testing.T) {
	f := setup(t)
	h := f.open(t)
	conn := f.dial(t, h.ID)

	send(t, conn, Message{Type: "setText", ID: "abcd1234", Text: "see [[Quotes|the quotes]]"})
	got := receive(t, conn)
	assert.Equal(t, "text", got["type"])
	assert.Equal(t, "abcd1234", got["id"])
	assert.Equal(t, "see the quotes", got["text"])
	assert.Equal(t, false, got["pending"])

	send(t, conn, Message{Type: "getText", ID: "abcd1234"})
	got = receive(t, conn)
	assert.Equal(t, "see the quotes", got["text"])
}

func TestSetText_PushesResolution(t *testing.T) {
	f := setup(t)
	h := f.open(t)
	conn := f.dial(t, h.ID)

	send(t, conn, Message{Type: "setText", ID: "abcd1234", Text: "![[Quotes#^q1]]"})

	// The reply and the pushed resolution may arrive in either order.
	var sawText, sawResolved bool
	for !sawText || !sawResolved {
		got := receive(t, conn)
		switch got["type"] {
		case "text":
			sawText = true
			assert.Equal(t, true, got["pending"])
		case "resolved":
			sawResolved = true
			assert.Equal(t, "abcd1234", got["id"])
			assert.Equal(t, "to be or not to be", got["text"])
		default:
			t.Fatalf("unexpected message %v", got)
		}
	}
}

func TestSetText_EchoesEdit(t *testing.T) {
	f := setup(t)
	h := f.open(t)
	conn := f.dial(t, h.ID)

	send(t, conn, Message{Type: "setText", ID: "abcd1234", Text: "changed"})
	got := read(t, conn)
	assert.Equal(t, "edited", got["type"])
	assert.Equal(t, "abcd1234", got["id"])
	assert.Equal(t, "changed", got["text"])
	assert.Equal(t, "text", read(t, conn)["type"])
}

func TestServiceEdit_ReachesClientAndSurvivesSceneSync(t *testing.T) {
	f := setup(t)
	h := f.open(t)
	conn := f.dial(t, h.ID)

	// The connection is subscribed once it answers.
	send(t, conn, Message{Type: "getText", ID: "abcd1234"})
	require.Equal(t, "text", receive(t, conn)["type"])

	_, err := f.svc.SetText(context.Background(), "board.excalidraw.md", "abcd1234", "from mcp")
	require.NoError(t, err)

	got := read(t, conn)
	require.Equal(t, "edited", got["type"])
	assert.Equal(t, "abcd1234", got["id"])
	assert.Equal(t, "from mcp", got["text"])

	// The client applies the push and sends its scene back.
	scene := json.RawMessage(`{"type":"excalidraw","elements":[` +
		`{"id":"abcd1234","type":"text","text":"from mcp","fontSize":20,"fontFamily":1}]}`)
	send(t, conn, Message{Type: "scene", Scene: scene})
	got = receive(t, conn)
	assert.Equal(t, "synced", got["type"])
	assert.Equal(t, false, got["changed"])

	texts, err := h.Texts()
	require.NoError(t, err)
	require.Len(t, texts, 1)
	assert.Equal(t, "from mcp", texts[0].Raw)

	data, err := os.ReadFile(filepath.Join(f.dir, "board.excalidraw.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "from mcp ^abcd1234\n")
}

func TestSceneAndMode(t *testing.T) {
	f := setup(t)
	h := f.open(t)
	conn := f.dial(t, h.ID)

	blob, err := h.Scene()
	require.NoError(t, err)
	send(t, conn, Message{Type: "scene", Scene: blob})
	got := receive(t, conn)
	assert.Equal(t, "synced", got["type"])
	assert.Equal(t, false, got["changed"])
	assert.Nil(t, got["scene"])

	edited := json.RawMessage(`{"type":"excalidraw","elements":[` +
		`{"id":"abcd1234","type":"text","text":"typed on canvas","fontSize":20,"fontFamily":1}]}`)
	send(t, conn, Message{Type: "scene", Scene: edited})
	got = receive(t, conn)
	assert.Equal(t, true, got["changed"])
	assert.NotNil(t, got["scene"])

	send(t, conn, Message{Type: "mode", Mode: "raw"})
	got = receive(t, conn)
	assert.Equal(t, "synced", got["type"])
	assert.Equal(t, true, got["changed"])
	text, ok, err := h.DisplayText("abcd1234")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "typed on canvas", text)
}

func TestDeleteAndSave(t *testing.T) {
	f := setup(t)
	h := f.open(t)
	conn := f.dial(t, h.ID)

	send(t, conn, Message{Type: "setText", ID: "abcd1234", Text: "saved text"})
	receive(t, conn)

	send(t, conn, Message{Type: "save"})
	got := receive(t, conn)
	assert.Equal(t, "saved", got["type"])
	assert.Equal(t, "board.excalidraw.md", got["path"])
	data, err := os.ReadFile(filepath.Join(f.dir, "board.excalidraw.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "saved text ^abcd1234\n")

	send(t, conn, Message{Type: "deleteText", ID: "abcd1234"})
	got = receive(t, conn)
	assert.Equal(t, "deleted", got["type"])
	assert.Equal(t, true, got["deleted"])

	send(t, conn, Message{Type: "getText", ID: "abcd1234"})
	got = receive(t, conn)
	assert.Equal(t, "error", got["type"])
	assert.Equal(t, "getText", got["request"])
}

func TestUnknownMessage(t *testing.T) {
	f := setup(t)
	h := f.open(t)
	conn := f.dial(t, h.ID)

	send(t, conn, Message{Type: "dance"})
	got := receive(t, conn)
	assert.Equal(t, "error", got["type"])
	assert.Contains(t, got["error"], "dance")

	send(t, conn, Message{Type: "mode", Mode: "sideways"})
	got = receive(t, conn)
	assert.Equal(t, "error", got["type"])
}

func TestUnknownSession(t *testing.T) {
	f := setup(t)
	resp, err := http.Get(f.srv.URL + "/sessions/nope/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClosedSessionEndsConnection(t *testing.T) {
	f := setup(t)
	h := f.open(t)
	conn := f.dial(t, h.ID)
	require.NoError(t, f.svc.CloseSession(h.ID))

	send(t, conn, Message{Type: "getText", ID: "abcd1234"})
	got := receive(t, conn)
	assert.Equal(t, "error", got["type"])
	assert.Equal(t, "session closed", got["error"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
