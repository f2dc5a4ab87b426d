package hub

import (
	"context"

	"github.com/google/uuid"
)

// Session is one live connection as the registry sees it: who owns it and where its
// frames go.
type Session struct {
	id     uuid.UUID
	userID uuid.UUID
	email  string
	queue  *Queue
}

func NewSession(id, userID uuid.UUID, email string) *Session {
	return &Session{
		id:     id,
		userID: userID,
		email:  email,
		queue:  NewQueue(),
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) UserID() uuid.UUID {
	return s.userID
}

func (s *Session) Email() string {
	return s.email
}

// Deliver enqueues a serialized envelope. It fails only when the session is closed.
func (s *Session) Deliver(frame []byte) error {
	return s.queue.Push(frame)
}

// Next blocks until the next frame for this session is available.
func (s *Session) Next(ctx context.Context) ([]byte, error) {
	return s.queue.Pop(ctx)
}

func (s *Session) Pending() int {
	return s.queue.Len()
}

func (s *Session) Close() {
	s.queue.Close()
}

func (s *Session) Closed() bool {
	return s.queue.Closed()
}
