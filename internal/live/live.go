// Package live serves open drawing sessions over a websocket. Clients send
// scene edits and text changes; the server answers each message and pushes
// every change of displayed element text: "resolved" when a transclusion
// finished in the background, "edited" when the session rewrote the element
// itself, whoever asked for it. Clients apply pushes to their scene before
// sending it back, otherwise the stale text reads as an edit.
//
// Client messages:
//
//	{"type":"scene","scene":{...}}
//	{"type":"setText","id":"abcd1234","text":"..."}
//	{"type":"getText","id":"abcd1234"}
//	{"type":"deleteText","id":"abcd1234"}
//	{"type":"mode","mode":"raw"}
//	{"type":"save"}
//
// Server messages: synced, text, resolved, edited, deleted, saved and error.
// A client's own edits are pushed to it as well, ahead of the reply.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/starford/sketchmark/internal/apperr"
	"github.com/starford/sketchmark/internal/drawingservice"
	"github.com/starford/sketchmark/internal/drawsync"
	"github.com/starford/sketchmark/internal/textstore"
)

const (
	writeWait    = 10 * time.Second
	maxMessage   = 10 << 20
	outboxLength = 64
)

// Message is a client message.
type Message struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Text  string          `json:"text,omitempty"`
	Mode  string          `json:"mode,omitempty"`
	Scene json.RawMessage `json:"scene,omitempty"`
}

// Synced answers a scene or mode message. Scene is set when the client must
// replace its scene.
type Synced struct {
	Type    string          `json:"type"`
	Changed bool            `json:"changed"`
	Scene   json.RawMessage `json:"scene,omitempty"`
}

// Text carries the displayed text of one element.
type Text struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Text    string `json:"text"`
	Pending bool   `json:"pending"`
}

// Update is pushed when the displayed text of an element changed. Type is
// "resolved" or "edited".
type Update struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Deleted answers a deleteText message.
type Deleted struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// Saved answers a save message.
type Saved struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

// Error reports a failed message.
type Error struct {
	Type    string `json:"type"`
	Request string `json:"request,omitempty"`
	Error   string `json:"error"`
}

// Sessions is the part of the drawing service the handler needs.
type Sessions interface {
	Session(id string) (*drawingservice.Handle, error)
	Save(ctx context.Context, id string) (*drawingservice.SaveResult, error)
}

// Handler upgrades GET /sessions/{id}/live requests.
type Handler struct {
	sessions Sessions
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a websocket handler for sessions.
func NewHandler(sessions Sessions, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Authentication happens before the upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP binds the connection to the session named by the {id} route
// parameter. Unknown sessions get 404 before any upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.sessions.Session(id)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}` + "\n"))
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	h.logger.Info("live connected", slog.String("session", id))
	newConn(h, conn, sess).run(r.Context())
	h.logger.Info("live disconnected", slog.String("session", id))
}

// conn is one websocket client bound to a session. All writes go through
// the outbox and a single writer goroutine.
type conn struct {
	h      *Handler
	ws     *websocket.Conn
	sess   *drawingservice.Handle
	outbox chan any
	quit   chan struct{}
	done   chan struct{}
}

func newConn(h *Handler, ws *websocket.Conn, sess *drawingservice.Handle) *conn {
	return &conn{
		h:      h,
		ws:     ws,
		sess:   sess,
		outbox: make(chan any, outboxLength),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (c *conn) run(ctx context.Context) {
	defer c.ws.Close()
	go c.writePump()
	defer func() { <-c.done }()

	// Runs on the session goroutine: never block it on a slow client.
	cancel := c.sess.Subscribe(func(u drawsync.Update) {
		select {
		case c.outbox <- Update{Type: u.Kind.String(), ID: u.ID, Text: u.Text}:
		default:
			c.h.logger.Warn("live outbox full, update dropped",
				slog.String("session", c.sess.ID),
				slog.String("id", u.ID),
				slog.String("kind", u.Kind.String()))
		}
	})
	defer cancel()
	defer close(c.quit)

	c.ws.SetReadLimit(maxMessage)
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.h.logger.Debug("live read failed", slog.String("error", err.Error()))
			}
			return
		}
		reply, closed := c.handle(ctx, msg)
		select {
		case c.outbox <- reply:
		case <-c.done:
			return
		}
		if closed {
			return
		}
	}
}

// writePump sends queued messages. After quit it flushes what is already
// queued and stops.
func (c *conn) writePump() {
	defer close(c.done)
	for {
		select {
		case msg := <-c.outbox:
			if !c.write(msg) {
				return
			}
		case <-c.quit:
			for {
				select {
				case msg := <-c.outbox:
					if !c.write(msg) {
						return
					}
				default:
					_ = c.ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

func (c *conn) write(msg any) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.h.logger.Debug("live write failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// handle executes one client message and returns the reply. closed reports
// that the session is gone and the connection should end.
func (c *conn) handle(ctx context.Context, msg Message) (reply any, closed bool) {
	reply, err := c.dispatch(ctx, msg)
	if err == nil {
		return reply, false
	}
	closed = errors.Is(err, apperr.ErrSessionClosed)
	if closed {
		err = apperr.ErrSessionClosed
	}
	return Error{Type: "error", Request: msg.Type, Error: err.Error()}, closed
}

func (c *conn) dispatch(ctx context.Context, msg Message) (any, error) {
	switch msg.Type {
	case "scene":
		changed, err := c.sess.SyncFromScene(msg.Scene)
		if err != nil {
			return nil, err
		}
		return c.synced(changed)

	case "setText":
		res, err := c.sess.SetText(msg.ID, msg.Text)
		if err != nil {
			return nil, err
		}
		return Text{Type: "text", ID: msg.ID, Text: res.Text(), Pending: res.IsPending()}, nil

	case "getText":
		text, ok, err := c.sess.DisplayText(msg.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("text %s: %w", msg.ID, apperr.ErrNotFound)
		}
		return Text{Type: "text", ID: msg.ID, Text: text}, nil

	case "deleteText":
		ok, err := c.sess.DeleteText(msg.ID)
		if err != nil {
			return nil, err
		}
		return Deleted{Type: "deleted", ID: msg.ID, Deleted: ok}, nil

	case "mode":
		mode, ok := textstore.ParseMode(msg.Mode)
		if !ok {
			return nil, fmt.Errorf("unknown mode %q", msg.Mode)
		}
		if err := c.sess.SetDisplayMode(mode); err != nil {
			return nil, err
		}
		return c.synced(true)

	case "save":
		res, err := c.h.sessions.Save(ctx, c.sess.ID)
		if err != nil {
			return nil, err
		}
		return Saved{Type: "saved", Path: res.Path, Checksum: res.Checksum}, nil

	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (c *conn) synced(changed bool) (any, error) {
	out := Synced{Type: "synced", Changed: changed}
	if !changed {
		return out, nil
	}
	blob, err := c.sess.Scene()
	if err != nil {
		return nil, err
	}
	out.Scene = blob
	return out, nil
}
