package hub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	defaultWriteTimeout    = 10 * time.Second
	defaultMaxMessageBytes = 1 << 20
)

// Peer is the pre-verified identity of a connecting client.
type Peer struct {
	UserID uuid.UUID
	Email  string
	// ClientID is the identity the client asked for. It is adopted as the session ID
	// when free, and never used for authorization.
	ClientID uuid.UUID
}

type Options struct {
	// WriteTimeout bounds a single frame write. Zero means 10s.
	WriteTimeout time.Duration

	// MaxMessageBytes caps an inbound frame. A larger frame closes the session.
	// Zero means 1 MiB.
	MaxMessageBytes int64
}

// Hub owns the server identity and the session registry. One Hub exists per process
// and is handed explicitly to everything that needs it.
type Hub struct {
	serverID     uuid.UUID
	registry     *Registry
	writeTimeout time.Duration
	readLimit    int64
	pongFrame    []byte
}

func New(opts Options) (*Hub, error) {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}
	serverID := uuid.New()
	pong, err := EncodeEnvelope(Envelope{SenderID: serverID, Message: Pong{}})
	if err != nil {
		return nil, fmt.Errorf("encode pong: %w", err)
	}
	slog.Info("sync hub created", "server_id", serverID)
	return &Hub{
		serverID:     serverID,
		registry:     NewRegistry(serverID),
		writeTimeout: opts.WriteTimeout,
		readLimit:    opts.MaxMessageBytes,
		pongFrame:    pong,
	}, nil
}

func (h *Hub) ServerID() uuid.UUID {
	return h.serverID
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Serve runs the session for conn until either side closes it. The connection is
// closed and the session unregistered when Serve returns.
func (h *Hub) Serve(ctx context.Context, conn Conn, peer Peer) error {
	session, err := h.attach(peer)
	if err != nil {
		_ = conn.Close()
		return err
	}
	return NewClient(h, conn, session).Run(ctx)
}

// Close stops the hub: every session is closed and new ones are refused.
func (h *Hub) Close() {
	h.registry.CloseAll()
	slog.Info("sync hub closed")
}

func (h *Hub) attach(peer Peer) (*Session, error) {
	var session *Session
	if peer.ClientID != uuid.Nil {
		session = NewSession(peer.ClientID, peer.UserID, peer.Email)
		if err := h.greet(session); err != nil {
			return nil, err
		}
		if !h.registry.TryRegister(session) {
			slog.Debug("client id already in use, assigning a new one", "client_id", peer.ClientID)
			session = nil
		}
	}
	if session == nil {
		session = NewSession(uuid.New(), peer.UserID, peer.Email)
		if err := h.greet(session); err != nil {
			return nil, err
		}
		h.registry.Register(session)
	}
	slog.Info("assigned session", "session_id", session.ID(), "email", peer.Email)
	return session, nil
}

// greet queues the Init envelope. It runs before registration so nothing can be
// queued ahead of it.
func (h *Hub) greet(s *Session) error {
	frame, err := EncodeEnvelope(Envelope{SenderID: h.serverID, Message: Init{SessionID: s.ID()}})
	if err != nil {
		return fmt.Errorf("encode init: %w", err)
	}
	return s.Deliver(frame)
}

func (h *Hub) pong(s *Session) {
	if err := h.registry.Send(s.ID(), h.pongFrame); err != nil {
		slog.Warn("failed to answer ping", "session_id", s.ID(), "error", err)
	}
}
