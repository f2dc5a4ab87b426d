package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

var errInboundClosed = errors.New("inbound stream closed")

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Client pairs a connection with its registered session and runs the read and write
// duties for it.
type Client struct {
	hub       *Hub
	conn      Conn
	session   *Session
	closeConn sync.Once
	closeOnce sync.Once
}

func NewClient(h *Hub, conn Conn, session *Session) *Client {
	return &Client{
		hub:     h,
		conn:    conn,
		session: session,
	}
}

// Run blocks until the session ends. Whichever duty stops first takes the other one
// down; both have returned by the time Run does. A normal remote close yields nil.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.WritePump(gctx) })
	g.Go(func() error { return c.ReadPump(gctx) })

	// ReadMessage does not watch the context; closing the socket unblocks it.
	go func() {
		<-gctx.Done()
		c.shutdownConn()
	}()

	err := g.Wait()
	c.Close()

	switch {
	case errors.Is(err, errInboundClosed), errors.Is(err, ErrQueueClosed), errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

func (c *Client) ReadPump(ctx context.Context) error {
	c.conn.SetReadLimit(c.hub.readLimit)
	for {
		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			// If the loop is ending because the other duty stopped, this is expected.
			if ctx.Err() != nil {
				return errInboundClosed
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				slog.Warn("inbound frame exceeds read limit", "session_id", c.session.ID(), "limit", c.hub.readLimit)
				return errInboundClosed
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Error("websocket read error", "session_id", c.session.ID(), "error", err)
			}
			return errInboundClosed
		}
		if msgType != websocket.TextMessage {
			slog.Warn("ignoring non-text frame", "session_id", c.session.ID(), "type", msgType)
			continue
		}
		c.handle(frame)
	}
}

func (c *Client) WritePump(ctx context.Context) error {
	for {
		frame, err := c.session.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			}
			return err
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			slog.Warn("websocket write failed", "session_id", c.session.ID(), "error", err)
			return fmt.Errorf("write frame: %w", err)
		}
	}
}

// handle relays one inbound frame. Frames that do not decode, or that claim another
// identity, are dropped without closing the session.
func (c *Client) handle(frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		slog.Warn("invalid sync payload", "session_id", c.session.ID(), "error", err)
		return
	}

	switch env.Message.(type) {
	case Ping:
		c.hub.pong(c.session)
		return
	case Pong:
		return
	case Init:
		slog.Warn("dropping client-sent init", "session_id", c.session.ID())
		return
	}

	if env.SenderID != c.session.ID() {
		slog.Warn("dropping envelope with foreign sender", "session_id", c.session.ID(), "sender_id", env.SenderID)
		return
	}
	if sessionID, userID, ok := Identity(env.Message); ok {
		if sessionID != c.session.ID() || userID != c.session.UserID() {
			slog.Warn("dropping envelope with mismatched identity",
				"session_id", c.session.ID(),
				"claimed_session_id", sessionID,
				"claimed_user_id", userID,
			)
			return
		}
	}

	slog.Debug("relaying message", "session_id", c.session.ID(), "type", env.Message.Type())
	c.hub.registry.BroadcastToUser(c.session.UserID(), c.session.ID(), frame)
}

// Close unregisters the session and closes the connection. Safe to call repeatedly.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.hub.registry.Unregister(c.session.ID())
		c.session.Close()
		c.shutdownConn()
		slog.Info("websocket closed", "session_id", c.session.ID(), "email", c.session.Email())
	})
}

func (c *Client) shutdownConn() {
	c.closeConn.Do(func() {
		if err := c.conn.Close(); err != nil {
			slog.Debug("failed to close websocket connection", "error", err)
		}
	})
}
