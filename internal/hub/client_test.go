package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.URL.Query().Get("user"))
		if err != nil {
			http.Error(w, "bad user", http.StatusBadRequest)
			return
		}
		clientID, _ := uuid.Parse(r.URL.Query().Get("client"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = h.Serve(context.Background(), conn, Peer{UserID: userID, Email: "test@example.com", ClientID: clientID})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testClient struct {
	t         *testing.T
	conn      *websocket.Conn
	userID    uuid.UUID
	sessionID uuid.UUID
}

// connect dials the server and consumes the Init envelope.
func connect(t *testing.T, srv *httptest.Server, h *Hub, userID, clientID uuid.UUID) *testClient {
	t.Helper()
	query := url.Values{"user": {userID.String()}}
	if clientID != uuid.Nil {
		query.Set("client", clientID.String())
	}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &testClient{t: t, conn: conn, userID: userID}
	env := c.read()
	require.Equal(t, h.ServerID(), env.SenderID)
	init, ok := env.Message.(Init)
	require.True(t, ok, "first message must be Init, got %s", env.Message.Type())
	c.sessionID = init.SessionID

	require.Eventually(t, func() bool {
		return h.Registry().Contains(c.sessionID)
	}, 2*time.Second, 5*time.Millisecond)
	return c
}

func (c *testClient) read() Envelope {
	c.t.Helper()
	_, frame, err := c.readRaw()
	require.NoError(c.t, err)
	env, err := DecodeEnvelope(frame)
	require.NoError(c.t, err)
	return env
}

func (c *testClient) readRaw() (int, []byte, error) {
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return c.conn.ReadMessage()
}

func (c *testClient) send(msg Message) []byte {
	c.t.Helper()
	frame, err := EncodeEnvelope(Envelope{SenderID: c.sessionID, Message: msg})
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
	return frame
}

// expectPong proves nothing else is queued ahead of the server's reply.
func (c *testClient) expectPong(h *Hub) {
	c.t.Helper()
	c.send(Ping{})
	env := c.read()
	assert.Equal(c.t, h.ServerID(), env.SenderID)
	assert.Equal(c.t, Pong{}, env.Message)
}

func TestRelayBetweenSessionsOfOneUser(t *testing.T) {
	h := newTestHub(t)
	srv := newWSServer(t, h)
	u1, u2 := uuid.New(), uuid.New()

	a := connect(t, srv, h, u1, uuid.Nil)
	b := connect(t, srv, h, u1, uuid.Nil)
	stranger := connect(t, srv, h, u2, uuid.Nil)
	assert.NotEqual(t, a.sessionID, b.sessionID)

	sent := a.send(FileChanged{
		Path:      "x.ttf",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Source:    SourceClient,
		SessionID: a.sessionID,
		UserID:    u1,
	})

	_, frame, err := b.readRaw()
	require.NoError(t, err)
	assert.Equal(t, string(sent), string(frame), "payload must be relayed verbatim")
	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, a.sessionID, env.SenderID)

	a.expectPong(h)
	b.expectPong(h)
	stranger.expectPong(h)
}

func TestSessionDropsMismatchedIdentity(t *testing.T) {
	h := newTestHub(t)
	srv := newWSServer(t, h)
	user := uuid.New()

	a := connect(t, srv, h, user, uuid.Nil)
	b := connect(t, srv, h, user, uuid.Nil)

	a.send(FileDeleted{Path: "x.ttf", Source: SourceClient, SessionID: a.sessionID, UserID: uuid.New()})
	a.send(FileDeleted{Path: "x.ttf", Source: SourceClient, SessionID: b.sessionID, UserID: user})
	frame, err := EncodeEnvelope(Envelope{SenderID: b.sessionID, Message: FolderCreated{Path: "x", SessionID: b.sessionID, UserID: user}})
	require.NoError(t, err)
	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, frame))

	// a's frames are handled in order, so once a has its pong nothing more can reach b.
	a.expectPong(h)
	b.expectPong(h)
}

func TestSessionSurvivesInvalidPayload(t *testing.T) {
	h := newTestHub(t)
	srv := newWSServer(t, h)
	a := connect(t, srv, h, uuid.New(), uuid.Nil)

	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte(`{"senderId": 42`)))
	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte(`{"senderId":"`+a.sessionID.String()+`","message":{"type":"Teleport"}}`)))

	a.expectPong(h)
	assert.True(t, h.Registry().Contains(a.sessionID))
}

func TestDisconnectedSessionIsRemoved(t *testing.T) {
	h := newTestHub(t)
	srv := newWSServer(t, h)
	user := uuid.New()

	a := connect(t, srv, h, user, uuid.Nil)
	c := connect(t, srv, h, user, uuid.Nil)
	require.NoError(t, c.conn.Close())

	require.Eventually(t, func() bool {
		return !h.Registry().Contains(c.sessionID)
	}, 2*time.Second, 5*time.Millisecond)

	h.Registry().BroadcastToUser(user, uuid.Nil, []byte(`after`))
	_, frame, err := a.readRaw()
	require.NoError(t, err)
	assert.Equal(t, "after", string(frame))
	assert.Equal(t, 1, h.Registry().Len())
}

func TestClientIDHint(t *testing.T) {
	h := newTestHub(t)
	srv := newWSServer(t, h)
	user := uuid.New()
	hint := uuid.New()

	first := connect(t, srv, h, user, hint)
	assert.Equal(t, hint, first.sessionID)

	second := connect(t, srv, h, user, hint)
	assert.NotEqual(t, hint, second.sessionID)

	server := connect(t, srv, h, user, h.ServerID())
	assert.NotEqual(t, h.ServerID(), server.sessionID)
}

func TestHubCloseEndsSessions(t *testing.T) {
	h, err := New(Options{})
	require.NoError(t, err)
	srv := newWSServer(t, h)
	a := connect(t, srv, h, uuid.New(), uuid.Nil)

	h.Close()

	_, _, err = a.readRaw()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, 0, h.Registry().Len())
}

func TestOversizedFrameClosesSession(t *testing.T) {
	h, err := New(Options{MaxMessageBytes: 512})
	require.NoError(t, err)
	t.Cleanup(h.Close)
	srv := newWSServer(t, h)
	user := uuid.New()

	a := connect(t, srv, h, user, uuid.Nil)
	b := connect(t, srv, h, user, uuid.Nil)
	a.expectPong(h)

	big := FileCreated{
		Path:      strings.Repeat("a", 1024) + ".ttf",
		Source:    SourceClient,
		SessionID: a.sessionID,
		UserID:    user,
	}
	a.send(big)

	_, _, err = a.readRaw()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig), "got %v", err)
	require.Eventually(t, func() bool {
		return !h.Registry().Contains(a.sessionID)
	}, 2*time.Second, 5*time.Millisecond)

	// Nothing from the oversized frame reached the other session.
	b.expectPong(h)
}

// brokenConn refuses every write. Reads block until the connection is closed.
type brokenConn struct {
	closed    chan struct{}
	closeOnce sync.Once
	readLimit int64
}

func newBrokenConn() *brokenConn {
	return &brokenConn{closed: make(chan struct{})}
}

func (c *brokenConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("use of closed network connection")
}

func (c *brokenConn) WriteMessage(int, []byte) error {
	return errors.New("broken pipe")
}

func (c *brokenConn) SetWriteDeadline(time.Time) error { return nil }

func (c *brokenConn) SetReadLimit(limit int64) { c.readLimit = limit }

func (c *brokenConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func TestWriteFailureEndsSession(t *testing.T) {
	h := newTestHub(t)
	conn := newBrokenConn()

	done := make(chan error, 1)
	go func() {
		done <- h.Serve(context.Background(), conn, Peer{UserID: uuid.New(), Email: "test@example.com"})
	}()

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "broken pipe")
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after a failed write")
	}

	assert.Equal(t, 0, h.Registry().Len())
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection left open")
	}
	assert.Equal(t, int64(defaultMaxMessageBytes), conn.readLimit)
}
