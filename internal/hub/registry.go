package hub

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

// Registry holds the live sessions of the process. Every operation runs inside a
// single critical section; delivery only enqueues, so no network I/O happens under
// the lock.
type Registry struct {
	serverID uuid.UUID
	mutex    sync.Mutex
	sessions []*Session
	closed   bool
}

func NewRegistry(serverID uuid.UUID) *Registry {
	return &Registry{serverID: serverID}
}

// Register adds s. An existing entry with the same ID is replaced and closed. After
// CloseAll, sessions are closed on arrival instead.
func (r *Registry) Register(s *Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		s.Close()
		return
	}
	r.removeLocked(s.ID())
	r.sessions = append(r.sessions, s)
	slog.Info("session registered", "session_id", s.ID(), "user_id", s.UserID(), "total_sessions", len(r.sessions))
}

// TryRegister adds s only when its ID is not in use.
func (r *Registry) TryRegister(s *Session) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if s.ID() == r.serverID || r.indexLocked(s.ID()) >= 0 {
		return false
	}
	if r.closed {
		s.Close()
		return true
	}
	r.sessions = append(r.sessions, s)
	slog.Info("session registered", "session_id", s.ID(), "user_id", s.UserID(), "total_sessions", len(r.sessions))
	return true
}

// Unregister removes every entry with the given ID. Unknown IDs are ignored.
func (r *Registry) Unregister(id uuid.UUID) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.removeLocked(id) > 0 {
		slog.Info("session unregistered", "session_id", id, "total_sessions", len(r.sessions))
	}
}

// Send delivers payload to a single session. A failed delivery evicts it.
func (r *Registry) Send(id uuid.UUID, payload []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return ErrSessionNotFound
	}
	if err := r.sessions[i].Deliver(payload); err != nil {
		r.removeLocked(id)
		return err
	}
	return nil
}

// BroadcastToUser delivers payload to every session of userID except exclude.
func (r *Registry) BroadcastToUser(userID, exclude uuid.UUID, payload []byte) {
	r.broadcast(payload, func(s *Session) bool {
		return s.UserID() == userID && s.ID() != exclude
	})
}

// BroadcastAll delivers payload to every session except exclude, whatever its user.
func (r *Registry) BroadcastAll(exclude uuid.UUID, payload []byte) {
	r.broadcast(payload, func(s *Session) bool {
		return s.ID() != exclude
	})
}

func (r *Registry) broadcast(payload []byte, match func(*Session) bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	kept := r.sessions[:0]
	for _, s := range r.sessions {
		if s.ID() == r.serverID || !match(s) {
			kept = append(kept, s)
			continue
		}
		if err := s.Deliver(payload); err != nil {
			slog.Warn("evicting session after failed delivery", "session_id", s.ID(), "user_id", s.UserID(), "error", err)
			s.Close()
			continue
		}
		kept = append(kept, s)
	}
	clear(r.sessions[len(kept):])
	r.sessions = kept
}

func (r *Registry) Contains(id uuid.UUID) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.indexLocked(id) >= 0
}

func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of the registered sessions.
func (r *Registry) Sessions() []*Session {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]*Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// CloseAll closes and removes every session and refuses later registrations. Used on
// shutdown.
func (r *Registry) CloseAll() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.closed = true
	for _, s := range r.sessions {
		s.Close()
	}
	clear(r.sessions)
	r.sessions = nil
}

func (r *Registry) indexLocked(id uuid.UUID) int {
	for i, s := range r.sessions {
		if s.ID() == id {
			return i
		}
	}
	return -1
}

func (r *Registry) removeLocked(id uuid.UUID) int {
	removed := 0
	kept := r.sessions[:0]
	for _, s := range r.sessions {
		if s.ID() == id {
			s.Close()
			removed++
			continue
		}
		kept = append(kept, s)
	}
	clear(r.sessions[len(kept):])
	r.sessions = kept
	return removed
}
